// Package metricsd is the bounded metric and span registry every service
// reports through. Series are registered once and then updated by name+
// label key; span ids are derived deterministically from the reporting
// service's identity, never from randomness, so two runs of the same trace
// produce identical ids.
package metricsd

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
)

// DefaultExportCadence is the fixed interval StartSnapshotExport uses when
// boot wires it in: frequent enough to catch a stuck series within a few
// boot cycles, sparse enough that a quiescent fabric produces no log noise.
const DefaultExportCadence = 30 * time.Second

// Limits bounds the registry's cardinality, mirroring the journal's
// bounded-by-construction shape in pkg/logd.
type Limits struct {
	MaxSeriesPerName int
	MaxSeriesTotal   int
}

// DefaultLimits is generous enough for the service fabric's own self-reported
// metrics without letting a misbehaving label value explode memory.
func DefaultLimits() Limits {
	return Limits{MaxSeriesPerName: 64, MaxSeriesTotal: 4096}
}

type seriesState struct {
	def types.MetricSeries

	mu          sync.Mutex
	counter     float64
	gauge       float64
	histCounts  []uint64
	histSum     float64
	histObs     uint64
	bucketsSet  bool
}

// Registry is the domain registry: RegisterSeries/Inc/Set/Observe plus span
// tracking. promexport.go, in this same package, mirrors every non-quarantined
// series into a real Prometheus collector.
type Registry struct {
	limits Limits

	mu           sync.RWMutex
	byKey        map[string]*seriesState
	byName       map[string][]string // name -> keys, for per-name cardinality
	nextSeriesID types.SeriesID
	quarantined  map[string]bool

	// Spans is the deterministic span/trace tracker sharing this registry's
	// journal; exported so a caller that needs the full SpanTracker surface
	// (e.g. a custom started-time) isn't forced through Registry's forwarders.
	Spans *SpanTracker

	journal    LogAppender
	exportMu   sync.Mutex
	lastExport map[string]Snapshot
	exportOnce sync.Once
	stopExport chan struct{}
	exportDone chan struct{}
}

// New constructs an empty Registry. journal may be nil, in which case
// SpanEnd and StartSnapshotExport are no-ops with respect to logd.
func New(limits Limits, journal LogAppender) *Registry {
	return &Registry{
		limits:      limits,
		byKey:       make(map[string]*seriesState),
		byName:      make(map[string][]string),
		quarantined: make(map[string]bool),
		Spans:       NewSpanTracker(time.Now(), journal),
		journal:     journal,
		lastExport:  make(map[string]Snapshot),
	}
}

// SpanStart forwards to the registry's SpanTracker.
func (r *Registry) SpanStart(sender ipc.ServiceID, name, parentID string, now time.Time) string {
	return r.Spans.SpanStart(sender, name, parentID, now)
}

// SpanEnd forwards to the registry's SpanTracker.
func (r *Registry) SpanEnd(spanID string, status types.SpanStatus, now time.Time) (types.SpanRecord, error) {
	return r.Spans.SpanEnd(spanID, status, now)
}

// OpenSpanCount forwards to the registry's SpanTracker.
func (r *Registry) OpenSpanCount() int {
	return r.Spans.OpenCount()
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, ",%s=%s", k, labels[k])
	}
	return b.String()
}

// RegisterSeries creates a new series or returns the existing one for an
// identical name+labels+kind registration (idempotent re-registration is
// allowed; a kind or bucket mismatch on an existing key is a CONFLICT).
func (r *Registry) RegisterSeries(name string, labels map[string]string, kind types.MetricKind, buckets []float64) (types.SeriesID, error) {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quarantined[key] {
		return 0, errs.New(errs.OverLimit, "metricsd.RegisterSeries", nil)
	}
	if existing, ok := r.byKey[key]; ok {
		if existing.def.Kind != kind || !slices.Equal(existing.def.Buckets, buckets) {
			return 0, errs.New(errs.Conflict, "metricsd.RegisterSeries", nil)
		}
		return existing.def.ID, nil
	}

	if len(r.byKey) >= r.limits.MaxSeriesTotal {
		r.quarantined[key] = true
		return 0, errs.New(errs.OverLimit, "metricsd.RegisterSeries", nil)
	}
	if len(r.byName[name]) >= r.limits.MaxSeriesPerName {
		r.quarantined[key] = true
		return 0, errs.New(errs.OverLimit, "metricsd.RegisterSeries", nil)
	}

	r.nextSeriesID++
	st := &seriesState{
		def: types.MetricSeries{ID: r.nextSeriesID, Name: name, Labels: labels, Kind: kind, Buckets: buckets},
	}
	if kind == types.KindHistogram {
		st.histCounts = make([]uint64, len(buckets)+1) // +1 for the +Inf overflow bucket
	}
	r.byKey[key] = st
	r.byName[name] = append(r.byName[name], key)
	return st.def.ID, nil
}

func (r *Registry) lookup(name string, labels map[string]string) (*seriesState, error) {
	key := seriesKey(name, labels)
	r.mu.RLock()
	st, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "metricsd", nil)
	}
	return st, nil
}

// Inc adds delta to a counter series.
func (r *Registry) Inc(name string, labels map[string]string, delta float64) error {
	st, err := r.lookup(name, labels)
	if err != nil {
		return err
	}
	if st.def.Kind != types.KindCounter {
		return errs.New(errs.InvalidArg, "metricsd.Inc", nil)
	}
	st.mu.Lock()
	st.counter += delta
	st.mu.Unlock()
	return nil
}

// Set overwrites a gauge series's current value.
func (r *Registry) Set(name string, labels map[string]string, value float64) error {
	st, err := r.lookup(name, labels)
	if err != nil {
		return err
	}
	if st.def.Kind != types.KindGauge {
		return errs.New(errs.InvalidArg, "metricsd.Set", nil)
	}
	st.mu.Lock()
	st.gauge = value
	st.mu.Unlock()
	return nil
}

// Observe records value into a histogram series. The bucket boundaries are
// fixed at first observation (mirroring RegisterSeries's Buckets) and never
// change afterward.
func (r *Registry) Observe(name string, labels map[string]string, value float64) error {
	st, err := r.lookup(name, labels)
	if err != nil {
		return err
	}
	if st.def.Kind != types.KindHistogram {
		return errs.New(errs.InvalidArg, "metricsd.Observe", nil)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.bucketsSet = true
	st.histSum += value
	st.histObs++
	placed := false
	for i, b := range st.def.Buckets {
		if value <= b {
			st.histCounts[i]++
			placed = true
			break
		}
	}
	if !placed {
		st.histCounts[len(st.histCounts)-1]++
	}
	return nil
}

// Snapshot is a point-in-time read of one series, used by the export pass
// logd/promexport pull from.
type Snapshot struct {
	Series  types.MetricSeries
	Counter float64
	Gauge   float64
	HistSum float64
	HistObs uint64
	HistCounts []uint64
}

// Snapshot returns a copy of every non-quarantined series's current value.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.byKey))
	for _, st := range r.byKey {
		st.mu.Lock()
		out = append(out, Snapshot{
			Series:     st.def,
			Counter:    st.counter,
			Gauge:      st.gauge,
			HistSum:    st.histSum,
			HistObs:    st.histObs,
			HistCounts: append([]uint64(nil), st.histCounts...),
		})
		st.mu.Unlock()
	}
	return out
}

// QuarantinedCount reports how many series keys were rejected for exceeding
// a cardinality cap, for selftests and operator diagnostics.
func (r *Registry) QuarantinedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.quarantined)
}

// StartSnapshotExport begins exporting one structured log record per
// non-quiescent series, at a fixed cadence, under sender's identity. A
// series whose counter/gauge/histogram values are unchanged since the last
// export is skipped, so a quiescent fabric produces no ongoing log growth.
// It is a no-op if journal is nil or cadence is non-positive, and starts at
// most once per Registry.
func (r *Registry) StartSnapshotExport(sender ipc.ServiceID, cadence time.Duration) {
	if r.journal == nil || cadence <= 0 {
		return
	}
	r.exportOnce.Do(func() {
		r.stopExport = make(chan struct{})
		r.exportDone = make(chan struct{})
		go r.runSnapshotExport(sender, cadence)
	})
}

func (r *Registry) runSnapshotExport(sender ipc.ServiceID, cadence time.Duration) {
	defer close(r.exportDone)
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.exportSnapshot(sender)
		case <-r.stopExport:
			return
		}
	}
}

func (r *Registry) exportSnapshot(sender ipc.ServiceID) {
	r.exportMu.Lock()
	defer r.exportMu.Unlock()

	for _, snap := range r.Snapshot() {
		key := seriesKey(snap.Series.Name, snap.Series.Labels)
		if prev, ok := r.lastExport[key]; ok && snapshotUnchanged(prev, snap) {
			continue
		}
		r.lastExport[key] = snap
		msg := fmt.Sprintf("series %s kind=%s counter=%g gauge=%g hist_obs=%d hist_sum=%g",
			snap.Series.Name, snap.Series.Kind, snap.Counter, snap.Gauge, snap.HistObs, snap.HistSum)
		_ = r.journal.Append(sender, types.LevelInfo, "metricsd", msg, nil)
	}
}

func snapshotUnchanged(a, b Snapshot) bool {
	return a.Counter == b.Counter && a.Gauge == b.Gauge && a.HistSum == b.HistSum && a.HistObs == b.HistObs
}

// Close stops the periodic snapshot-export goroutine, if one was started.
// Idempotent with respect to a Registry that never called
// StartSnapshotExport.
func (r *Registry) Close() {
	if r.stopExport == nil {
		return
	}
	select {
	case <-r.stopExport:
	default:
		close(r.stopExport)
	}
	<-r.exportDone
}
