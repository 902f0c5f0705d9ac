// Package ipc is the in-process stand-in for the kernel's IPC and capability
// contract. Every service in this repository reaches every other service
// exclusively through a Capability obtained from a Kernel; there is no
// ambient way to name another service's Channel. A later port to real
// isolated address spaces only needs to replace the Channel transport below
// — callers never see past the Capability/Channel interface.
package ipc

import (
	"sync/atomic"
)

// ServiceID is the kernel-assigned identity stamped on every message a task
// sends. It is never forgeable by the task itself: Endpoint.Send stamps it
// on an Envelope from the endpoint's own identity, and a task can read but
// never write its own field.
type ServiceID uint64

// KernelID is reserved for messages the kernel itself originates (readiness
// probes, synthetic task-exit notifications).
const KernelID ServiceID = 0

// Rights is a bitmask subset of {SEND, RECV, MAP, READ, WRITE, EXEC, GRANT}.
type Rights uint8

const (
	RightSend Rights = 1 << iota
	RightRecv
	RightMap
	RightRead
	RightWrite
	RightExec
	RightGrant
)

// Has reports whether r contains every bit set in subset.
func (r Rights) Has(subset Rights) bool { return r&subset == subset }

// Subset reports whether r is a subset of other — the sole legal direction
// for any capability transfer or mapping downgrade.
func (r Rights) Subset(other Rights) bool { return r&^other == 0 }

func (r Rights) String() string {
	names := []struct {
		bit  Rights
		name string
	}{
		{RightSend, "SEND"}, {RightRecv, "RECV"}, {RightMap, "MAP"},
		{RightRead, "READ"}, {RightWrite, "WRITE"}, {RightExec, "EXEC"},
		{RightGrant, "GRANT"},
	}
	out := ""
	for _, n := range names {
		if r.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// ObjectKind discriminates what a Capability ultimately names.
type ObjectKind int

const (
	ObjectChannel ObjectKind = iota
	ObjectMapping
	ObjectMMIO
	ObjectTask
)

// capCounter is a process-wide monotonic counter for capability identity, used
// only for logging/debugging — it carries no rights of its own.
var capCounter uint64

func nextCapID() uint64 { return atomic.AddUint64(&capCounter, 1) }

// Capability is an unforgeable, opaque reference to an object plus the
// rights mask the holder may exercise over it. Capabilities are values:
// copying one does not copy the rights to act on the original holder's
// behalf, it copies a ticket with the same or lesser rights.
type Capability struct {
	id     uint64
	kind   ObjectKind
	object any // *channelObject, or struct{}{} for mapping and MMIO caps
	rights Rights
}

// ID returns the capability's debug identity (not a security boundary).
func (c Capability) ID() uint64 { return c.id }

// Kind reports what the capability names.
func (c Capability) Kind() ObjectKind { return c.kind }

// Rights returns the capability's rights mask.
func (c Capability) Rights() Rights { return c.rights }

// IsZero reports whether c is the zero Capability (never issued by a Kernel).
func (c Capability) IsZero() bool { return c.object == nil }

// restrict returns a copy of c with rights intersected with mask, failing if
// mask is not a subset of c.rights (restriction-only, no escalation).
func (c Capability) restrict(mask Rights) (Capability, bool) {
	if !mask.Subset(c.rights) {
		return Capability{}, false
	}
	return Capability{id: nextCapID(), kind: c.kind, object: c.object, rights: mask}, true
}
