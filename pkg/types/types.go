// Package types holds the core entities shared across the service fabric,
// independent of any one service's storage or wire representation.
package types

import (
	"time"

	"github.com/nexuscore/nexus/pkg/ipc"
)

// ServiceState is a ServiceRecord's lifecycle state in samgrd's table.
type ServiceState string

const (
	StateRegistered ServiceState = "registered"
	StateReady      ServiceState = "ready"
	StateFailed     ServiceState = "failed"
)

// ServiceRecord is samgrd's row for one named service.
type ServiceRecord struct {
	Name      string
	ServiceID ipc.ServiceID
	Endpoint  ipc.Capability
	State     ServiceState
}

// Decision is policyd's verdict for one Check call.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// PolicyRule is one row of the immutable recipe policyd loads at boot.
type PolicyRule struct {
	Subject  string // ServiceID literal ("42") or a name glob ("worker.*")
	Action   string
	Decision Decision
	Gate     string // optional named boolean predicate, empty if unconditional
}

// AuditRecord is emitted for every policyd.Check call, success or failure.
type AuditRecord struct {
	SubjectID ipc.ServiceID
	Action    string
	Decision  Decision
	Reason    string
	Timestamp time.Time
}

// LogLevel mirrors the ambient logger's levels so LogRecord can carry one
// without importing corelog, so this package depends on no logging library.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogRecord is one entry in logd's journal.
type LogRecord struct {
	Seq             uint64
	SenderServiceID ipc.ServiceID
	Level           LogLevel
	Scope           string
	Message         string
	FieldsBlob      []byte // deterministic, sorted "key=value" lines
	Timestamp       time.Time
}

// MetricKind discriminates a MetricSeries's shape.
type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
)

// SeriesID identifies one registered MetricSeries.
type SeriesID uint64

// MetricSeries is one named, labeled time series in metricsd's registry.
type MetricSeries struct {
	ID     SeriesID
	Name   string
	Labels map[string]string
	Kind   MetricKind
	// Buckets is fixed at registration for KindHistogram and immutable
	// thereafter.
	Buckets []float64
}

// SpanStatus is the terminal state of a SpanRecord.
type SpanStatus string

const (
	SpanOK    SpanStatus = "ok"
	SpanError SpanStatus = "error"
)

// SpanRecord is a start/end pair tracked by metricsd. IDs are deterministic:
// TraceID/SpanID are derived from (sender_service_id, per-sender counter),
// never from randomness.
type SpanRecord struct {
	TraceID  string
	SpanID   string
	ParentID string
	Name     string
	Start    time.Duration // monotonic offset, not wall clock
	End      time.Duration
	Status   SpanStatus
	Attrs    map[string]string
}

// StateEntry is one key/value row in statefs.
type StateEntry struct {
	Key   string
	Value []byte
}

// Slot names the two A/B publication roots.
type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// UpdatePhase is one state of updated's A/B state machine:
// Idle -> Staged -> Pending -> BootedPending -> Healthy, with a deterministic
// rollback to Idle when Pending/BootedPending exhausts TriesLeft without a
// HealthOk.
type UpdatePhase string

const (
	PhaseIdle          UpdatePhase = "idle"
	PhaseStaged        UpdatePhase = "staged"
	PhasePending       UpdatePhase = "pending"
	PhaseBootedPending UpdatePhase = "booted_pending"
	PhaseHealthy       UpdatePhase = "healthy"
)

// BootCtl drives updated's A/B state machine.
type BootCtl struct {
	ActiveSlot  Slot
	StandbySlot Slot
	Phase       UpdatePhase
	TriesLeft   int
	// Persistent reports whether this BootCtl is backed by statefs; when
	// false it is RAM-only and must be labeled as such at every readiness
	// marker that mentions it.
	Persistent bool
}

// Bundle is the decoded form of a .nxb manifest plus a reference to its
// payload bytes (the payload itself lives in statefs/staging, not in this
// struct, to keep manifests small and cheap to pass around by value).
type Bundle struct {
	FormatVersion uint8
	BundleID      string
	SemVer        string
	PayloadDigest [32]byte // SHA-256
	PayloadSize   uint64
	DeclaredCaps  []string
	EntryPoint    string
	Signature     []byte // empty if unsigned
}

// SystemSetEntry is one row of a .nxs system-set index.
type SystemSetEntry struct {
	BundleID string
	Digest   [32]byte
	Size     uint64
}

// SystemSet is the signed index of bundles that make up one slot's contents.
type SystemSet struct {
	Name      string
	Entries   []SystemSetEntry
	Signature []byte
}
