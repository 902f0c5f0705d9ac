package ipc

import (
	"context"

	"github.com/nexuscore/nexus/pkg/errs"
)

// Envelope is what Recv hands back: the kernel-stamped sender identity, the
// opaque payload bytes, and any capabilities the sender attached. No field
// here is writable by the remote peer after delivery.
type Envelope struct {
	SenderServiceID ServiceID
	Payload         []byte
	AttachedCaps    []Capability
}

// maxPayload and maxAttachedCaps bound a single send, matching the kernel
// contract's "payload length and attached-cap count bounded" clause.
const (
	maxPayload      = 1 << 20 // 1 MiB
	maxAttachedCaps = 16
)

type wireMsg struct {
	sender ServiceID
	env    Envelope
}

// channelObject is the shared state behind a bidirectional Channel. Two
// Capability holders — one per side — each get an *endpoint view onto it.
// Messages on a single channel are delivered in send order; a buffered Go
// channel gives that ordering for free.
type channelObject struct {
	aToB chan wireMsg
	bToA chan wireMsg
	done chan struct{}
}

func newChannelObject(bufSize int) *channelObject {
	return &channelObject{
		aToB: make(chan wireMsg, bufSize),
		bToA: make(chan wireMsg, bufSize),
		done: make(chan struct{}),
	}
}

// Endpoint is one side of a Channel, bound to the ServiceID that will be
// stamped as sender on every message it sends.
type Endpoint struct {
	self ServiceID
	out  chan<- wireMsg
	in   <-chan wireMsg
	done chan struct{}
	cap  Capability
}

// Cap returns the capability backing this endpoint, for attaching to a
// bootstrap message or for ResolveStatus-style introspection.
func (e *Endpoint) Cap() Capability { return e.cap }

// Send delivers payload and any attached capabilities to the peer endpoint.
// The kernel — not the caller — determines the sender identity baked into
// the Envelope the peer receives; Send cannot be used to forge it.
func (e *Endpoint) Send(payload []byte, attached ...Capability) error {
	if !e.cap.rights.Has(RightSend) {
		return errs.New(errs.PermissionDenied, "ipc.Send", nil)
	}
	if len(payload) > maxPayload {
		return errs.New(errs.OverLimit, "ipc.Send", nil)
	}
	if len(attached) > maxAttachedCaps {
		return errs.New(errs.OverLimit, "ipc.Send", nil)
	}
	env := Envelope{SenderServiceID: e.self, Payload: payload, AttachedCaps: append([]Capability(nil), attached...)}
	select {
	case e.out <- wireMsg{sender: e.self, env: env}:
		return nil
	case <-e.done:
		return errs.New(errs.NotFound, "ipc.Send", nil)
	}
}

// Recv blocks until a message arrives, ctx is done, or the channel is torn
// down. Every blocking receive in the system carries a bounded deadline;
// callers are expected to pass a context with one.
func (e *Endpoint) Recv(ctx context.Context) (Envelope, error) {
	if !e.cap.rights.Has(RightRecv) {
		return Envelope{}, errs.New(errs.PermissionDenied, "ipc.Recv", nil)
	}
	select {
	case m := <-e.in:
		return m.env, nil
	case <-ctx.Done():
		return Envelope{}, errs.New(errs.WouldBlock, "ipc.Recv", ctx.Err())
	case <-e.done:
		return Envelope{}, errs.New(errs.NotFound, "ipc.Recv", nil)
	}
}

// TryRecv is the non-blocking form used by Resolve-style callers that must
// never block.
func (e *Endpoint) TryRecv() (Envelope, bool) {
	select {
	case m := <-e.in:
		return m.env, true
	default:
		return Envelope{}, false
	}
}
