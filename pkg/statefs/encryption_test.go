package statefs

import (
	"testing"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) [32]byte {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncryptingStoreRoundTrips(t *testing.T) {
	inner := NewRAMBackend()
	enc, err := NewEncryptingStore(inner, testKey(t))
	require.NoError(t, err)

	require.NoError(t, enc.Put("/state/shared/thing", []byte("plaintext value")))

	got, err := enc.Get("/state/shared/thing")
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext value"), got)
}

func TestEncryptingStoreEncryptsAtRest(t *testing.T) {
	inner := NewRAMBackend()
	enc, err := NewEncryptingStore(inner, testKey(t))
	require.NoError(t, err)

	require.NoError(t, enc.Put("/state/shared/thing", []byte("plaintext value")))

	raw, err := inner.Get("/state/shared/thing")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext value")
}

func TestEncryptingStoreDetectsTamperedCiphertext(t *testing.T) {
	inner := NewRAMBackend()
	enc, err := NewEncryptingStore(inner, testKey(t))
	require.NoError(t, err)
	require.NoError(t, enc.Put("/state/shared/thing", []byte("plaintext value")))

	raw, err := inner.Get("/state/shared/thing")
	require.NoError(t, err)
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xFF
	require.NoError(t, inner.Put("/state/shared/thing", tampered))

	_, err = enc.Get("/state/shared/thing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IntegrityError))
}

func TestEncryptingStoreListDecryptsEveryEntry(t *testing.T) {
	inner := NewRAMBackend()
	enc, err := NewEncryptingStore(inner, testKey(t))
	require.NoError(t, err)

	require.NoError(t, enc.Put("/system/a/bundle/manifest", []byte("manifest bytes")))
	require.NoError(t, enc.Put("/system/a/bundle/payload", []byte("payload bytes")))

	entries, err := enc.List("/system/a/bundle/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEmpty(t, e.Value)
	}
}

func TestEncryptingStorePassesThroughDeleteSyncCloseAndPersistent(t *testing.T) {
	inner := NewRAMBackend()
	enc, err := NewEncryptingStore(inner, testKey(t))
	require.NoError(t, err)

	require.NoError(t, enc.Put("/state/shared/thing", []byte("v")))
	require.NoError(t, enc.Delete("/state/shared/thing"))
	_, err = inner.Get("/state/shared/thing")
	require.Error(t, err)

	assert.NoError(t, enc.Sync())
	assert.Equal(t, inner.Persistent(), enc.Persistent())
	assert.NoError(t, enc.Close())
}
