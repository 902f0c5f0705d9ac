// Package trust is the local, in-process stand-in for the real keystored
// trust boundary: it holds the one Ed25519 keypair that signs and verifies
// bundle manifests and system-set indices. A real keystored client would
// implement the same Signer/Verifier contract over an IPC call instead of
// an in-memory key.
package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"sync"

	"github.com/nexuscore/nexus/pkg/errs"
)

// keyRecord is the serialized form saved to statefs — the same
// marshal-to-bytes idiom the CA uses for its CAData envelope.
type keyRecord struct {
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

// Backend is the narrow statefs surface trust needs to persist its keypair.
type Backend interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
}

const storeKey = "/state/shared/trust/keypair"

// Authority owns the signing keypair, grounded on
// CertAuthority lifecycle: Initialize generates a fresh root of trust,
// LoadFromStore/SaveToStore round-trip it through persistence, and
// IsInitialized gates every signing/verification call.
type Authority struct {
	mu      sync.RWMutex
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	backend Backend
}

// New constructs an uninitialized Authority backed by store.
func New(backend Backend) *Authority {
	return &Authority{backend: backend}
}

// Initialize generates a fresh Ed25519 keypair. Calling it on an
// already-initialized Authority replaces the keypair — callers that want
// persistence across boots should call LoadFromStore first and only fall
// back to Initialize when that returns NOT_FOUND.
func (a *Authority) Initialize() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return errs.New(errs.Internal, "trust.Initialize", err)
	}
	a.mu.Lock()
	a.pub, a.priv = pub, priv
	a.mu.Unlock()
	return nil
}

// LoadFromStore restores a previously saved keypair.
func (a *Authority) LoadFromStore() error {
	data, err := a.backend.Get(storeKey)
	if err != nil {
		return errs.New(errs.NotFound, "trust.LoadFromStore", err)
	}
	var rec keyRecord
	if jsonErr := json.Unmarshal(data, &rec); jsonErr != nil {
		return errs.New(errs.IntegrityError, "trust.LoadFromStore", jsonErr)
	}
	a.mu.Lock()
	a.pub = ed25519.PublicKey(rec.PublicKey)
	a.priv = ed25519.PrivateKey(rec.PrivateKey)
	a.mu.Unlock()
	return nil
}

// SaveToStore persists the current keypair.
func (a *Authority) SaveToStore() error {
	a.mu.RLock()
	if a.pub == nil || a.priv == nil {
		a.mu.RUnlock()
		return errs.New(errs.NotReady, "trust.SaveToStore", nil)
	}
	rec := keyRecord{PublicKey: append([]byte(nil), a.pub...), PrivateKey: append([]byte(nil), a.priv...)}
	a.mu.RUnlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.Internal, "trust.SaveToStore", err)
	}
	return a.backend.Put(storeKey, data)
}

// IsInitialized reports whether a keypair is currently loaded.
func (a *Authority) IsInitialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pub != nil && a.priv != nil
}

// Sign produces an Ed25519 signature over canonical (already-encoded) bytes.
func (a *Authority) Sign(canonical []byte) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.priv == nil {
		return nil, errs.New(errs.NotReady, "trust.Sign", nil)
	}
	return ed25519.Sign(a.priv, canonical), nil
}

// Verify checks sig over canonical bytes against the loaded public key.
func (a *Authority) Verify(canonical, sig []byte) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.pub == nil {
		return errs.New(errs.NotReady, "trust.Verify", nil)
	}
	if !ed25519.Verify(a.pub, canonical, sig) {
		return errs.New(errs.IntegrityError, "trust.Verify", nil)
	}
	return nil
}

// PublicKey returns a copy of the current public key, for embedding in a
// signed SystemSet's metadata or for exporting to an external verifier.
func (a *Authority) PublicKey() ed25519.PublicKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append(ed25519.PublicKey(nil), a.pub...)
}

// DeriveEncryptionKey derives a 32-byte AES-256 key from the loaded keypair,
// the same one-way derivation shape as DeriveKeyFromClusterID:
// a fixed domain-separation label hashed together with secret material so
// the symmetric key never needs its own storage slot or rotation path
// separate from the signing keypair it rides on.
func (a *Authority) DeriveEncryptionKey() ([32]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.priv == nil {
		return [32]byte{}, errs.New(errs.NotReady, "trust.DeriveEncryptionKey", nil)
	}
	h := sha256.New()
	h.Write([]byte("nexus-statefs-encryption-key-v1"))
	h.Write(a.priv)
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key, nil
}
