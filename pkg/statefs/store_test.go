package statefs

import (
	"testing"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAMBackendPutGetDelete(t *testing.T) {
	s := NewRAMBackend()
	require.NoError(t, s.Put("/state/worker/1", []byte("v1")))

	v, err := s.Get("/state/worker/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete("/state/worker/1"))
	_, err = s.Get("/state/worker/1")
	assert.True(t, errs.Is(err, errs.NotFound))

	assert.False(t, s.Persistent())
}

func TestRAMBackendListPrefix(t *testing.T) {
	s := NewRAMBackend()
	require.NoError(t, s.Put("/state/a/1", []byte("1")))
	require.NoError(t, s.Put("/state/a/2", []byte("2")))
	require.NoError(t, s.Put("/state/b/1", []byte("3")))

	entries, err := s.List("/state/a/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/state/a/1", entries[0].Key)
}

func TestValidateRejectsOversizedKeyAndValue(t *testing.T) {
	s := NewRAMBackend()
	longKey := "/" + string(make([]byte, MaxKeyLen+1))
	err := s.Put(longKey, []byte("v"))
	assert.True(t, errs.Is(err, errs.InvalidArg))

	err = s.Put("/state/x", make([]byte, MaxValueLen+1))
	assert.True(t, errs.Is(err, errs.OverLimit))
}

type denyAllAuthorizer struct{}

func (denyAllAuthorizer) Check(ipc.ServiceID, string, map[string]string) (types.Decision, string) {
	return types.Deny, "no"
}

type allowAllAuthorizer struct{}

func (allowAllAuthorizer) Check(ipc.ServiceID, string, map[string]string) (types.Decision, string) {
	return types.Allow, "yes"
}

func TestGateAllowsSharedSubtreeWithoutPolicy(t *testing.T) {
	g := NewGate(NewRAMBackend(), denyAllAuthorizer{})
	err := g.Put(ipc.ServiceID(1), "/state/shared/common", []byte("v"))
	assert.NoError(t, err)
}

func TestGateRequiresPolicyOutsideSharedSubtree(t *testing.T) {
	g := NewGate(NewRAMBackend(), denyAllAuthorizer{})
	err := g.Put(ipc.ServiceID(1), "/state/private/secret", []byte("v"))
	assert.True(t, errs.Is(err, errs.PermissionDenied))

	g2 := NewGate(NewRAMBackend(), allowAllAuthorizer{})
	err = g2.Put(ipc.ServiceID(1), "/state/private/secret", []byte("v"))
	assert.NoError(t, err)
}
