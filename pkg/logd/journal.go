// Package logd is the bounded, queryable journal every service's log lines
// land in. It is a domain object, not a logging backend: ambient
// process-diagnostic logging goes through pkg/corelog, independent of this
// package.
package logd

import (
	"sort"
	"sync"
	"time"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/execd"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/nexuscore/nexus/pkg/uart"
)

// Config bounds the journal's ring and its per-sender rate limit.
type Config struct {
	MaxRecords      int
	MaxBytes        int
	RateCapacity    float64
	RateRefillPerSec float64
	// MirrorLevel is the minimum level echoed to the UART sink. Empty
	// (zero value) disables mirroring.
	MirrorLevel types.LogLevel
}

// DefaultConfig mirrors the event broker's buffer-of-100 scale,
// generalized to a byte budget as well as a record-count budget.
func DefaultConfig() Config {
	return Config{
		MaxRecords:       4096,
		MaxBytes:         4 << 20,
		RateCapacity:     200,
		RateRefillPerSec: 50,
		MirrorLevel:      types.LevelInfo,
	}
}

// Journal is the ring buffer itself: single-writer, bounded by record count
// and total byte size, dropping the oldest record on overflow and counting
// every drop.
type Journal struct {
	cfg   Config
	mirror *uart.Sink

	mu      sync.RWMutex
	records []types.LogRecord
	bytes   int
	nextSeq uint64
	dropped uint64

	limMu    sync.Mutex
	limiters map[ipc.ServiceID]*tokenBucket

	now func() time.Time
}

// New constructs a Journal. mirror may be nil to disable UART mirroring
// entirely (e.g. in unit tests that only assert on Query/Stats).
func New(cfg Config, mirror *uart.Sink) *Journal {
	return &Journal{
		cfg:      cfg,
		mirror:   mirror,
		limiters: make(map[ipc.ServiceID]*tokenBucket),
		now:      time.Now,
	}
}

func levelRank(l types.LogLevel) int {
	switch l {
	case types.LevelDebug:
		return 0
	case types.LevelInfo:
		return 1
	case types.LevelWarn:
		return 2
	case types.LevelError:
		return 3
	default:
		return 1
	}
}

// approxSize is the byte cost charged against MaxBytes for one record.
func approxSize(r types.LogRecord) int {
	return len(r.Message) + len(r.FieldsBlob) + len(r.Scope) + 64
}

// Append admits one record from sender, subject to the per-sender token
// bucket. RATE_LIMITED is returned (not silently dropped) so the caller can
// distinguish "your own burst was throttled" from "the journal dropped
// something of yours due to global pressure".
func (j *Journal) Append(sender ipc.ServiceID, level types.LogLevel, scope, message string, fieldsBlob []byte) error {
	if err := validateMessage(message); err != nil {
		return err
	}
	if err := validateFieldsBlob(fieldsBlob); err != nil {
		return err
	}

	now := j.now()

	j.limMu.Lock()
	lim, ok := j.limiters[sender]
	if !ok {
		lim = newTokenBucket(j.cfg.RateCapacity, j.cfg.RateRefillPerSec, now)
		j.limiters[sender] = lim
	}
	j.limMu.Unlock()

	if !lim.Allow(now) {
		return errs.New(errs.RateLimited, "logd.Append", nil)
	}

	j.mu.Lock()
	j.nextSeq++
	rec := types.LogRecord{
		Seq:             j.nextSeq,
		SenderServiceID: sender,
		Level:           level,
		Scope:           scope,
		Message:         message,
		FieldsBlob:      fieldsBlob,
		Timestamp:       now,
	}
	j.records = append(j.records, rec)
	j.bytes += approxSize(rec)

	for (len(j.records) > j.cfg.MaxRecords || j.bytes > j.cfg.MaxBytes) && len(j.records) > 0 {
		oldest := j.records[0]
		j.records = j.records[1:]
		j.bytes -= approxSize(oldest)
		j.dropped++
	}
	j.mu.Unlock()

	if j.mirror != nil && j.cfg.MirrorLevel != "" && levelRank(level) >= levelRank(j.cfg.MirrorLevel) {
		j.mirror.Markf("[%s] svc=%d %s: %s", level, sender, scope, message)
	}
	return nil
}

// QueryOptions filters a Query call. Zero values mean "no filter" for that
// field; Limit of 0 means "no limit".
type QueryOptions struct {
	Sender ipc.ServiceID
	HasSender bool
	MinLevel  types.LogLevel
	Scope     string
	SinceSeq  uint64
	Limit     int
}

// Query returns matching records, newest last, honoring Limit by taking the
// most recent matches.
func (j *Journal) Query(opts QueryOptions) []types.LogRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []types.LogRecord
	for _, r := range j.records {
		if r.Seq <= opts.SinceSeq {
			continue
		}
		if opts.HasSender && r.SenderServiceID != opts.Sender {
			continue
		}
		if opts.MinLevel != "" && levelRank(r.Level) < levelRank(opts.MinLevel) {
			continue
		}
		if opts.Scope != "" && r.Scope != opts.Scope {
			continue
		}
		out = append(out, r)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out
}

// QueryBySender implements execd.LogQuerier: execd pulls a crashed task's
// recent log lines through this narrow projection instead of depending on
// Journal's full record shape.
func (j *Journal) QueryBySender(sender ipc.ServiceID, limit int) []execd.LogLine {
	recs := j.Query(QueryOptions{Sender: sender, HasSender: true, Limit: limit})
	out := make([]execd.LogLine, len(recs))
	for i, r := range recs {
		out[i] = execd.LogLine{Level: string(r.Level), Message: r.Message}
	}
	return out
}

// Stats summarizes journal occupancy for diagnostics and selftests.
type Stats struct {
	Records   int
	Bytes     int
	Dropped   uint64
	OldestSeq uint64
	NewestSeq uint64
}

// Stats reports the journal's current occupancy.
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Stats{Records: len(j.records), Bytes: j.bytes, Dropped: j.dropped}
	if len(j.records) > 0 {
		s.OldestSeq = j.records[0].Seq
		s.NewestSeq = j.records[len(j.records)-1].Seq
	}
	return s
}

// Scopes returns the distinct scopes currently represented in the journal,
// sorted, for operator tooling that wants to narrow a Query.
func (j *Journal) Scopes() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range j.records {
		seen[r.Scope] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
