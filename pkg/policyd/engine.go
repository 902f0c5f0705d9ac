// Package policyd is the single decision authority every privileged
// operation in the service fabric calls through. It answers one question —
// may subject S perform action A — as a pure function of the recipe loaded
// once at boot, never consulting any other source of truth. Grounded on the
// certificate authority (pkg/security.CertAuthority): one object
// instantiated once, holding the sole root of trust, with every other
// service asking it rather than keeping its own copy.
package policyd

import (
	"sync"
	"time"

	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
)

const (
	maxActionLen = 128
	maxFields    = 32
	maxFieldLen  = 256
)

// AuditSink receives every decision policyd makes, success or failure.
// Normally logd.Journal. When the sink is nil, decisions are not recorded
// anywhere; there is no UART fallback.
type AuditSink interface {
	Append(sender ipc.ServiceID, level types.LogLevel, scope, message string, fieldsBlob []byte) error
}

// Engine evaluates Check calls against a compiled, immutable rule set. It
// carries no mutable policy state after construction — Reload requires a
// fresh Engine and, in production, a reboot.
type Engine struct {
	rules []compiledRule
	audit AuditSink
	clock func() time.Time

	limMu    sync.Mutex
	limiters map[ipc.ServiceID]*bucket
}

// bucket is policyd's own token bucket, identical in shape to logd's — both
// grew from the same rate-limiting idiom, kept as separate small types
// rather than a shared package so each service owns its own audit/log
// wiring independently.
type bucket struct {
	capacity, tokens, rate float64
	last                   time.Time
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// New constructs an Engine from a compiled rule set. audit may be nil; Check
// then falls back to returning decisions without recording them (the caller
// is expected to wire a UART-backed AuditSink before that ever happens in a
// real boot).
func New(rules []compiledRule, audit AuditSink) *Engine {
	return &Engine{
		rules:    rules,
		audit:    audit,
		clock:    time.Now,
		limiters: make(map[ipc.ServiceID]*bucket),
	}
}

func validQuery(action string, fields map[string]string) bool {
	if action == "" || len(action) > maxActionLen {
		return false
	}
	if len(fields) > maxFields {
		return false
	}
	for k, v := range fields {
		if len(k) > maxFieldLen || len(v) > maxFieldLen {
			return false
		}
	}
	return true
}

// Check evaluates subject's right to perform action given context fields.
// Deny rules take precedence over allow rules for the same (subject,
// action); the first matching deny wins, and only if no deny matches does
// the first matching allow win. An unmatched pair denies by default with
// reason "unlisted".
func (e *Engine) Check(subject ipc.ServiceID, action string, fields map[string]string) (types.Decision, string) {
	if !validQuery(action, fields) {
		e.recordAudit(subject, action, types.Deny, "invalid_arg")
		return types.Deny, "invalid_arg"
	}

	if !e.rateAllow(subject) {
		e.recordAudit(subject, action, types.Deny, "rate_limited")
		return types.Deny, "rate_limited"
	}

	var matchedAllow *compiledRule
	for i := range e.rules {
		r := &e.rules[i]
		if r.action != action || !r.subjects[subject] {
			continue
		}
		if r.gate != "" && fields[r.gate] != "true" {
			continue
		}
		if r.decision == types.Deny {
			e.recordAudit(subject, action, types.Deny, "rule")
			return types.Deny, "rule"
		}
		if matchedAllow == nil {
			matchedAllow = r
		}
	}

	if matchedAllow != nil {
		e.recordAudit(subject, action, types.Allow, "rule")
		return types.Allow, "rule"
	}

	e.recordAudit(subject, action, types.Deny, "unlisted")
	return types.Deny, "unlisted"
}

func (e *Engine) rateAllow(subject ipc.ServiceID) bool {
	now := e.clock()
	e.limMu.Lock()
	defer e.limMu.Unlock()
	b, ok := e.limiters[subject]
	if !ok {
		b = &bucket{capacity: 100, tokens: 100, rate: 20, last: now}
		e.limiters[subject] = b
	}
	return b.allow(now)
}

func (e *Engine) recordAudit(subject ipc.ServiceID, action string, decision types.Decision, reason string) {
	if e.audit == nil {
		return
	}
	level := types.LevelInfo
	if decision == types.Deny {
		level = types.LevelWarn
	}
	_ = e.audit.Append(subject, level, "policyd", action+": "+string(decision)+" ("+reason+")", nil)
}
