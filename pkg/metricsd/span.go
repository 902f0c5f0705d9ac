package metricsd

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
)

// LogAppender is the narrow logd surface metricsd needs to emit span-end and
// snapshot-export records, read over the same append signature logd itself
// exposes rather than a hard package dependency.
type LogAppender interface {
	Append(sender ipc.ServiceID, level types.LogLevel, scope, message string, fieldsBlob []byte) error
}

// SpanTracker assigns deterministic span/trace ids from a per-sender
// monotonic counter. It never calls into a random or clock-seeded id
// generator — the same sequence of SpanStart calls from a given sender
// always yields the same ids, so traces are reproducible across runs.
type SpanTracker struct {
	mu      sync.Mutex
	counter map[ipc.ServiceID]uint64
	open    map[string]openSpan
	started time.Time
	journal LogAppender
}

type openSpan struct {
	rec    types.SpanRecord
	start  time.Time
	sender ipc.ServiceID
}

// NewSpanTracker constructs a SpanTracker whose monotonic offsets are
// relative to started (normally the process boot time). journal may be nil
// to suppress span-end log emission (unit tests that only assert on the
// returned SpanRecord).
func NewSpanTracker(started time.Time, journal LogAppender) *SpanTracker {
	return &SpanTracker{
		counter: make(map[ipc.ServiceID]uint64),
		open:    make(map[string]openSpan),
		started: started,
		journal: journal,
	}
}

// nextID returns the next deterministic (sender, counter) id pair as a
// formatted "sender-counter" string.
func (s *SpanTracker) nextID(sender ipc.ServiceID) string {
	s.counter[sender]++
	return fmt.Sprintf("%d-%d", sender, s.counter[sender])
}

// SpanStart opens a span under sender, returning its deterministic span id.
// parentID is empty for a root span.
func (s *SpanTracker) SpanStart(sender ipc.ServiceID, name, parentID string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID(sender)
	traceID := id
	if parentID != "" {
		if parent, ok := s.open[parentID]; ok {
			traceID = parent.rec.TraceID
		}
	}
	s.open[id] = openSpan{
		rec: types.SpanRecord{
			TraceID:  traceID,
			SpanID:   id,
			ParentID: parentID,
			Name:     name,
			Start:    now.Sub(s.started),
			Attrs:    map[string]string{},
		},
		start:  now,
		sender: sender,
	}
	return id
}

// SpanEnd closes an open span, recording its status and end offset, and
// emits a structured record to logd carrying the span's duration and
// status.
func (s *SpanTracker) SpanEnd(spanID string, status types.SpanStatus, now time.Time) (types.SpanRecord, error) {
	s.mu.Lock()
	os, ok := s.open[spanID]
	if !ok {
		s.mu.Unlock()
		return types.SpanRecord{}, errs.New(errs.NotFound, "metricsd.SpanEnd", nil)
	}
	os.rec.End = now.Sub(s.started)
	os.rec.Status = status
	delete(s.open, spanID)
	s.mu.Unlock()

	if s.journal != nil {
		duration := os.rec.End - os.rec.Start
		msg := fmt.Sprintf("span %s %q duration=%s status=%s", os.rec.SpanID, os.rec.Name, duration, status)
		_ = s.journal.Append(os.sender, levelForStatus(status), "metricsd", msg, nil)
	}
	return os.rec, nil
}

func levelForStatus(status types.SpanStatus) types.LogLevel {
	if status == types.SpanError {
		return types.LevelError
	}
	return types.LevelInfo
}

// OpenCount reports how many spans are currently open, for leak detection
// in selftests.
func (s *SpanTracker) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}
