package samgrd

import (
	"testing"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterReadyResolve(t *testing.T) {
	k := ipc.NewKernel()
	r := New(k, nil)
	id := k.AllocServiceID()
	cap := k.MmioMap()

	require.NoError(t, r.Register(id, "policyd", cap))

	_, err := r.Resolve("policyd")
	assert.True(t, errs.Is(err, errs.NotReady))

	require.NoError(t, r.Ready(id, "policyd"))
	got, err := r.Resolve("policyd")
	require.NoError(t, err)
	assert.Equal(t, cap, got)
}

func TestRegisterDuplicateNameConflicts(t *testing.T) {
	k := ipc.NewKernel()
	r := New(k, nil)
	a := k.AllocServiceID()
	b := k.AllocServiceID()

	require.NoError(t, r.Register(a, "logd", k.MmioMap()))
	err := r.Register(b, "logd", k.MmioMap())
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestReadyRejectsNonOwner(t *testing.T) {
	k := ipc.NewKernel()
	r := New(k, nil)
	a := k.AllocServiceID()
	b := k.AllocServiceID()
	require.NoError(t, r.Register(a, "logd", k.MmioMap()))

	err := r.Ready(b, "logd")
	assert.True(t, errs.Is(err, errs.PermissionDenied))
}

func TestResolveUnknownNameNotFound(t *testing.T) {
	k := ipc.NewKernel()
	r := New(k, nil)
	_, err := r.Resolve("nope")
	assert.True(t, errs.Is(err, errs.NotFound))
}

type denyAllAuthorizer struct{}

func (denyAllAuthorizer) Check(ipc.ServiceID, string, map[string]string) (types.Decision, string) {
	return types.Deny, "no"
}

func TestRegisterDeniedByPolicy(t *testing.T) {
	k := ipc.NewKernel()
	r := New(k, denyAllAuthorizer{})
	id := k.AllocServiceID()

	err := r.Register(id, "worker.1", k.MmioMap())
	assert.True(t, errs.Is(err, errs.PermissionDenied))
}

func TestRecordReleasedOnTaskExit(t *testing.T) {
	k := ipc.NewKernel()
	r := New(k, nil)
	id := k.AllocServiceID()
	require.NoError(t, r.Register(id, "worker.2", k.MmioMap()))

	done := make(chan struct{})
	k.Exit(id, 0)
	go func() { close(done) }()
	<-done

	// releaseOnExit runs in its own goroutine; poll briefly via ResolveStatus.
	for i := 0; i < 1000; i++ {
		if _, ok := r.ResolveStatus("worker.2"); !ok {
			return
		}
	}
	t.Fatal("record was not released after task exit")
}
