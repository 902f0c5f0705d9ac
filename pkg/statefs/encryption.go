package statefs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/nexuscore/nexus/pkg/entropy"
	"github.com/nexuscore/nexus/pkg/errs"
)

// EncryptingStore wraps a Store with AES-256-GCM at rest, adapted from the
// SecretsManager.EncryptSecret/DecryptSecret nonce-prepended
// envelope. It is gated by entropy.Check: constructing one over an
// unhealthy CSPRNG would sign every write with a key no better than its
// nonce, so NewEncryptingStore refuses instead.
type EncryptingStore struct {
	inner Store
	key   [32]byte
}

// NewEncryptingStore wraps inner with AES-256-GCM using key (32 bytes,
// typically derived once by trust.Authority and cached by the caller). It
// fails closed if the platform CSPRNG self-test did not pass at boot.
func NewEncryptingStore(inner Store, key [32]byte) (*EncryptingStore, error) {
	if !entropy.Check().Healthy {
		return nil, errs.New(errs.Internal, "statefs.NewEncryptingStore", nil)
	}
	return &EncryptingStore{inner: inner, key: key}, nil
}

func (e *EncryptingStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key[:])
	if err != nil {
		return nil, errs.New(errs.Internal, "statefs.EncryptingStore", err)
	}
	return cipher.NewGCM(block)
}

func (e *EncryptingStore) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.New(errs.Internal, "statefs.EncryptingStore", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *EncryptingStore) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errs.New(errs.IntegrityError, "statefs.EncryptingStore", nil)
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, errs.New(errs.IntegrityError, "statefs.EncryptingStore", err)
	}
	return plaintext, nil
}

// Put encrypts value before delegating to the wrapped Store.
func (e *EncryptingStore) Put(key string, value []byte) error {
	ciphertext, err := e.encrypt(value)
	if err != nil {
		return err
	}
	return e.inner.Put(key, ciphertext)
}

// Get decrypts the wrapped Store's value before returning it.
func (e *EncryptingStore) Get(key string) ([]byte, error) {
	ciphertext, err := e.inner.Get(key)
	if err != nil {
		return nil, err
	}
	return e.decrypt(ciphertext)
}

// Delete passes through unchanged; there is nothing to decrypt about a key's
// absence.
func (e *EncryptingStore) Delete(key string) error { return e.inner.Delete(key) }

// List decrypts every matching entry's value.
func (e *EncryptingStore) List(prefix string) ([]Entry, error) {
	entries, err := e.inner.List(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, ent := range entries {
		plaintext, err := e.decrypt(ent.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: ent.Key, Value: plaintext})
	}
	return out, nil
}

// Sync delegates to the wrapped Store.
func (e *EncryptingStore) Sync() error { return e.inner.Sync() }

// Close delegates to the wrapped Store.
func (e *EncryptingStore) Close() error { return e.inner.Close() }

// Persistent delegates to the wrapped Store.
func (e *EncryptingStore) Persistent() bool { return e.inner.Persistent() }
