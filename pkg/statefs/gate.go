package statefs

import (
	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
)

// Authorizer is the narrow policyd surface Gate needs.
type Authorizer interface {
	Check(subject ipc.ServiceID, action string, fields map[string]string) (types.Decision, string)
}

// Gate wraps a Store, adding the policy check every write outside the
// shared subtree must pass. Reads are never gated — §4.7 makes statefs.write
// the sole capability, covering Put and Delete only.
type Gate struct {
	store  Store
	policy Authorizer
}

// NewGate wraps store with policy-checked writes.
func NewGate(store Store, policy Authorizer) *Gate {
	return &Gate{store: store, policy: policy}
}

func (g *Gate) authorizeWrite(caller ipc.ServiceID, key string) error {
	if !RequiresPolicy(key) {
		return nil
	}
	if d, _ := g.policy.Check(caller, "statefs.write", map[string]string{"key": key}); d == types.Deny {
		return errs.New(errs.PermissionDenied, "statefs.write", nil)
	}
	return nil
}

// Put enforces policy before delegating to the wrapped Store.
func (g *Gate) Put(caller ipc.ServiceID, key string, value []byte) error {
	if err := g.authorizeWrite(caller, key); err != nil {
		return err
	}
	return g.store.Put(key, value)
}

// Delete enforces policy before delegating to the wrapped Store.
func (g *Gate) Delete(caller ipc.ServiceID, key string) error {
	if err := g.authorizeWrite(caller, key); err != nil {
		return err
	}
	return g.store.Delete(key)
}

// Get reads are ungated.
func (g *Gate) Get(key string) ([]byte, error) { return g.store.Get(key) }

// List reads are ungated.
func (g *Gate) List(prefix string) ([]Entry, error) { return g.store.List(prefix) }

// Sync delegates to the wrapped Store.
func (g *Gate) Sync() error { return g.store.Sync() }

// Persistent reports the wrapped Store's durability.
func (g *Gate) Persistent() bool { return g.store.Persistent() }
