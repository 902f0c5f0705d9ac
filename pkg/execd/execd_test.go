package execd

import (
	"context"
	"testing"
	"time"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnWaitExitCode(t *testing.T) {
	k := ipc.NewKernel()
	sup := New(k, Release(false), nil, nil)

	id, err := sup.Spawn(ProfileDefault, func(ctx context.Context, self ipc.ServiceID) int {
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := sup.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Code)

	state, ok := sup.State(id)
	require.True(t, ok)
	assert.Equal(t, StateExited, state)
}

func TestSpawnDebugAllowAllDeniedInRelease(t *testing.T) {
	k := ipc.NewKernel()
	sup := New(k, Release(true), nil, nil)

	_, err := sup.Spawn(ProfileDebugAllowAll, func(ctx context.Context, self ipc.ServiceID) int { return 0 })
	assert.True(t, errs.Is(err, errs.PermissionDenied))
}

type fakeLogQuerier struct {
	lines []LogLine
}

func (f fakeLogQuerier) QueryBySender(sender ipc.ServiceID, limit int) []LogLine {
	return f.lines
}

func (f fakeLogQuerier) Append(sender ipc.ServiceID, level types.LogLevel, scope, message string, fieldsBlob []byte) error {
	return nil
}

func TestCrashReportPullsLogLines(t *testing.T) {
	k := ipc.NewKernel()
	logs := fakeLogQuerier{lines: []LogLine{{Level: "error", Message: "boom"}}}
	sup := New(k, Release(true), logs, nil)

	id, err := sup.Spawn(ProfileDefault, func(ctx context.Context, self ipc.ServiceID) int { return 1 })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sup.Wait(ctx, id)
	require.NoError(t, err)

	report, err := sup.CrashReport(id)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExitCode)
	require.Len(t, report.LastLogs, 1)
	assert.Equal(t, "boom", report.LastLogs[0].Message)
}

func TestWaitUnknownTaskNotFoundAfterClose(t *testing.T) {
	k := ipc.NewKernel()
	sup := New(k, Release(false), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sup.Wait(ctx, ipc.ServiceID(12345))
	assert.True(t, errs.Is(err, errs.NotFound))
}
