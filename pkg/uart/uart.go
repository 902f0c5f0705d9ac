// Package uart is the single-writer sink for deterministic, single-line
// boot and selftest markers — the stand-in for a serial console a real boot
// environment would expose. Every writer competing for the console funnels
// through one Sink so lines never interleave mid-write.
package uart

import (
	"fmt"
	"io"
	"sync"
)

// Sink serializes writes to an underlying io.Writer one line at a time.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New wraps w as a Sink. w is typically os.Stdout for a real boot, or a
// bytes.Buffer in tests that assert on exact marker text.
func New(w io.Writer) *Sink {
	return &Sink{w: w}
}

// WriteLine writes msg followed by a single newline, holding the lock for
// the duration so concurrent callers never interleave partial lines.
func (s *Sink) WriteLine(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, msg)
}

// Markf formats and writes a marker line, the shape every boot-stage and
// selftest marker in the system uses ("logd: ready", "SELFTEST: log query ok").
func (s *Sink) Markf(format string, args ...any) {
	s.WriteLine(fmt.Sprintf(format, args...))
}
