package trust

import (
	"testing"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/statefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeSignVerify(t *testing.T) {
	a := New(statefs.NewRAMBackend())
	require.NoError(t, a.Initialize())
	assert.True(t, a.IsInitialized())

	msg := []byte("manifest bytes")
	sig, err := a.Sign(msg)
	require.NoError(t, err)

	require.NoError(t, a.Verify(msg, sig))
	assert.Error(t, a.Verify([]byte("tampered"), sig))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	backend := statefs.NewRAMBackend()
	a := New(backend)
	require.NoError(t, a.Initialize())
	require.NoError(t, a.SaveToStore())

	b := New(backend)
	require.NoError(t, b.LoadFromStore())

	msg := []byte("hello")
	sig, err := a.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, b.Verify(msg, sig))
}

func TestOperationsBeforeInitializeAreNotReady(t *testing.T) {
	a := New(statefs.NewRAMBackend())
	_, err := a.Sign([]byte("x"))
	assert.True(t, errs.Is(err, errs.NotReady))

	err = a.SaveToStore()
	assert.True(t, errs.Is(err, errs.NotReady))
}

func TestLoadFromStoreMissingIsNotFound(t *testing.T) {
	a := New(statefs.NewRAMBackend())
	err := a.LoadFromStore()
	assert.True(t, errs.Is(err, errs.NotFound))
}
