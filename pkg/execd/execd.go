// Package execd supervises every task spawned on top of pkg/ipc's Kernel: it
// is the only service allowed to call Kernel.Spawn, and the only service
// that observes a task's exit and turns it into a structured crash report.
package execd

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/nexuscore/nexus/pkg/uart"
)

// State is a supervised task's lifecycle state.
type State string

const (
	StateSpawned State = "spawned"
	StateRunning State = "running"
	StateExited  State = "exited"
)

// LogQuerier is the narrow logd surface CrashReport needs: the last N
// records tagged with a given sender, called directly through this
// interface so execd never depends on logd's internals. It also appends the
// crash report's own structured record, so CrashReport's side effects live
// in one place instead of being reproduced by every caller.
type LogQuerier interface {
	QueryBySender(sender ipc.ServiceID, limit int) []LogLine
	Append(sender ipc.ServiceID, level types.LogLevel, scope, message string, fieldsBlob []byte) error
}

// LogLine is a minimal projection of a logd record, enough for a crash
// report without pulling in pkg/types/pkg/logd as a hard dependency.
type LogLine struct {
	Level   string
	Message string
}

// CrashReport summarizes why a supervised task stopped.
type CrashReport struct {
	ServiceID ipc.ServiceID
	ExitCode  int
	State     State
	LastLogs  []LogLine
}

type taskRecord struct {
	mu      sync.Mutex
	state   State
	profile Profile
	exit    ipc.ExitInfo
}

// Supervisor owns the spawn/wait/crash-report lifecycle for every task it
// starts. Grounded on the worker task map plus the health-monitor
// poll loop, here driven by the kernel's own exit notification instead of a
// periodic health-check tick.
type Supervisor struct {
	kernel  *ipc.Kernel
	release Release
	logs    LogQuerier
	mirror  *uart.Sink

	mu    sync.RWMutex
	tasks map[ipc.ServiceID]*taskRecord
}

// New constructs a Supervisor bound to kernel. release controls whether
// debug-allow-all spawns are permitted. mirror may be nil to suppress the
// crash report's UART marker (unit tests that only assert on the returned
// CrashReport).
func New(kernel *ipc.Kernel, release Release, logs LogQuerier, mirror *uart.Sink) *Supervisor {
	return &Supervisor{
		kernel:  kernel,
		release: release,
		logs:    logs,
		mirror:  mirror,
		tasks:   make(map[ipc.ServiceID]*taskRecord),
	}
}

// Spawn allocates a new task under profile and starts tracking its
// lifecycle. run is the task's body; it executes on its own goroutine and
// its return value becomes the task's exit code (0 success, nonzero
// failure) delivered to the kernel's exit fanout.
func (s *Supervisor) Spawn(profile Profile, run func(ctx context.Context, self ipc.ServiceID) int) (ipc.ServiceID, error) {
	if !s.release.Allowed(profile) {
		return 0, errs.New(errs.PermissionDenied, "execd.Spawn", nil)
	}

	id := s.kernel.Spawn()
	rec := &taskRecord{state: StateSpawned, profile: profile}

	s.mu.Lock()
	s.tasks[id] = rec
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	rec.mu.Lock()
	rec.state = StateRunning
	rec.mu.Unlock()

	go func() {
		defer cancel()
		code := run(ctx, id)
		rec.mu.Lock()
		rec.state = StateExited
		rec.exit = ipc.ExitInfo{ServiceID: id, Code: code}
		rec.mu.Unlock()
		s.kernel.Exit(id, code)
	}()

	return id, nil
}

// Wait blocks (bounded by ctx) until id exits, returning its exit info.
func (s *Supervisor) Wait(ctx context.Context, id ipc.ServiceID) (ipc.ExitInfo, error) {
	ch := s.kernel.WaitFor(id)
	select {
	case info, ok := <-ch:
		if !ok {
			return s.lastKnownExit(id)
		}
		return info, nil
	case <-ctx.Done():
		return ipc.ExitInfo{}, errs.New(errs.WouldBlock, "execd.Wait", ctx.Err())
	}
}

func (s *Supervisor) lastKnownExit(id ipc.ServiceID) (ipc.ExitInfo, error) {
	s.mu.RLock()
	rec, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return ipc.ExitInfo{}, errs.New(errs.NotFound, "execd.Wait", nil)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state != StateExited {
		return ipc.ExitInfo{}, errs.New(errs.NotFound, "execd.Wait", nil)
	}
	return rec.exit, nil
}

// CrashReport builds a CrashReport for id, pulling its last log lines from
// logd over the IPC-shaped LogQuerier rather than reading logd's table
// directly. It also emits the crash's own structured log record and UART
// marker, so every caller's report is backed by a real audit trail instead
// of reconstructing one.
func (s *Supervisor) CrashReport(id ipc.ServiceID) (CrashReport, error) {
	s.mu.RLock()
	rec, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return CrashReport{}, errs.New(errs.NotFound, "execd.CrashReport", nil)
	}

	rec.mu.Lock()
	state := rec.state
	exit := rec.exit
	rec.mu.Unlock()

	if s.logs != nil {
		_ = s.logs.Append(id, types.LevelError, "execd", fmt.Sprintf("crash code=%d", exit.Code), nil)
	}
	if s.mirror != nil {
		s.mirror.WriteLine(fmt.Sprintf("execd: crash report %d pid=%d code=%d", id, id, exit.Code))
	}

	var lines []LogLine
	if s.logs != nil {
		lines = s.logs.QueryBySender(id, 20)
	}

	return CrashReport{
		ServiceID: id,
		ExitCode:  exit.Code,
		State:     state,
		LastLogs:  lines,
	}, nil
}

// State reports a supervised task's current lifecycle state.
func (s *Supervisor) State(id ipc.ServiceID) (State, bool) {
	s.mu.RLock()
	rec, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, true
}
