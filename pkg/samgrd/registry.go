// Package samgrd is the single authority mapping service names to endpoint
// capabilities. Every other service resolves its peers through samgrd
// instead of holding direct references — the service graph's cycles live
// here, as runtime lookups, never as compile-time pointers between packages.
package samgrd

import (
	"context"
	"sync"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
)

// Authorizer gates Register against the startup policy. samgrd does not
// implement its own allowlist; it asks policyd.
type Authorizer interface {
	Check(subject ipc.ServiceID, action string, fields map[string]string) (types.Decision, string)
}

// Registry is samgrd's table. It is single-writer: only Registry's own
// methods ever mutate records, readers only ever go through Resolve, which
// never blocks.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*types.ServiceRecord
	kernel  *ipc.Kernel
	policy  Authorizer
}

// New constructs an empty Registry. policy may be nil during the narrow boot
// window before policyd is up; samgrd itself starts before policyd in the
// boot order, so its own bootstrap registration is unconditionally allowed.
// While policy is nil, every Register call is allowed without a check.
func New(k *ipc.Kernel, policy Authorizer) *Registry {
	return &Registry{
		byName: make(map[string]*types.ServiceRecord),
		kernel: k,
		policy: policy,
	}
}

// SetAuthorizer wires policyd in once it becomes available, since samgrd is
// constructed before policyd in the boot order.
func (r *Registry) SetAuthorizer(a Authorizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = a
}

// Register records name under caller's identity. First-registered-wins: a
// second Register for a name already held by a live record fails with
// CONFLICT regardless of who asks.
func (r *Registry) Register(caller ipc.ServiceID, name string, endpoint ipc.Capability) error {
	if r.policy != nil {
		if d, reason := r.policy.Check(caller, "samgr.register", map[string]string{"name": name}); d == types.Deny {
			return errs.New(errs.PermissionDenied, "samgrd.Register", errStr(reason))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok && existing.State != types.StateFailed {
		return errs.New(errs.Conflict, "samgrd.Register", nil)
	}

	r.byName[name] = &types.ServiceRecord{
		Name:      name,
		ServiceID: caller,
		Endpoint:  endpoint,
		State:     types.StateRegistered,
	}

	go r.releaseOnExit(caller, name)
	return nil
}

// releaseOnExit waits for the kernel's task-exit signal and drops the
// record if it is still owned by the task that exited.
func (r *Registry) releaseOnExit(owner ipc.ServiceID, name string) {
	<-r.kernel.WaitFor(owner)
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byName[name]; ok && rec.ServiceID == owner {
		delete(r.byName, name)
	}
}

// Ready transitions caller's own record to Ready. Only the owning ServiceID
// may do this for its own name.
func (r *Registry) Ready(caller ipc.ServiceID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byName[name]
	if !ok {
		return errs.New(errs.NotFound, "samgrd.Ready", nil)
	}
	if rec.ServiceID != caller {
		return errs.New(errs.PermissionDenied, "samgrd.Ready", nil)
	}
	rec.State = types.StateReady
	return nil
}

// Resolve returns the endpoint capability for name if it exists and is
// Ready. Never blocks.
func (r *Registry) Resolve(name string) (ipc.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byName[name]
	if !ok {
		return ipc.Capability{}, errs.New(errs.NotFound, "samgrd.Resolve", nil)
	}
	if rec.State != types.StateReady {
		return ipc.Capability{}, errs.New(errs.NotReady, "samgrd.Resolve", nil)
	}
	return rec.Endpoint, nil
}

// ResolveStatus is the cap-free diagnostic query used by proxies and
// selftests: it reports state without handing out the endpoint capability.
func (r *Registry) ResolveStatus(name string) (types.ServiceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return rec.State, true
}

// MarkFailed transitions a record to Failed, e.g. from execd's crash-report
// path, so a subsequent Register for the same name is accepted.
func (r *Registry) MarkFailed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byName[name]; ok {
		rec.State = types.StateFailed
	}
}

// List returns a snapshot of all records, for diagnostics.
func (r *Registry) List() []types.ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ServiceRecord, 0, len(r.byName))
	for _, rec := range r.byName {
		out = append(out, *rec)
	}
	return out
}

// WaitReady blocks (bounded by ctx) until name reaches Ready, for
// init-style orderers that need readiness, not just existence.
func WaitReady(ctx context.Context, r *Registry, name string, poll func()) error {
	for {
		if state, ok := r.ResolveStatus(name); ok && state == types.StateReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return errs.New(errs.WouldBlock, "samgrd.WaitReady", ctx.Err())
		default:
			poll()
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
func errStr(s string) error {
	if s == "" {
		return nil
	}
	return errString(s)
}
