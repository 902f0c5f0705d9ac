package ipc

import (
	"sync"
	"sync/atomic"

	"github.com/nexuscore/nexus/pkg/errs"
)

// Kernel is the in-process stand-in for the microkernel's IPC and capability
// primitives: Send/Recv/CapTransfer/AsMap/MmioMap/Spawn. It owns ServiceID
// allocation and the per-task exit-notification fanout that samgrd and execd
// both depend on.
type Kernel struct {
	nextID uint64 // atomic, monotonically increasing, never reused while alive

	mu    sync.Mutex
	tasks map[ServiceID]*taskEntry
}

type taskEntry struct {
	alive   bool
	waiters []chan ExitInfo
}

// ExitInfo describes how a task terminated, for execd.Wait and samgrd's
// registration-release-on-exit hook.
type ExitInfo struct {
	ServiceID ServiceID
	Code      int
}

// NewKernel constructs an empty Kernel. ServiceID 0 (KernelID) is reserved
// and never handed out by AllocServiceID.
func NewKernel() *Kernel {
	return &Kernel{
		nextID: uint64(KernelID),
		tasks:  make(map[ServiceID]*taskEntry),
	}
}

// AllocServiceID hands out the next monotonic identity and registers it as a
// live task. Only execd.Spawn (and boot, for statically-started services)
// should call this.
func (k *Kernel) AllocServiceID() ServiceID {
	id := ServiceID(atomic.AddUint64(&k.nextID, 1))
	k.mu.Lock()
	k.tasks[id] = &taskEntry{alive: true}
	k.mu.Unlock()
	return id
}

// NewChannel creates a bidirectional Channel between a and b and returns one
// send+recv-capable Endpoint per side. Both sides get full rights over their
// own endpoint; transport-level restriction happens via Transfer.
func (k *Kernel) NewChannel(a, b ServiceID) (*Endpoint, *Endpoint) {
	obj := newChannelObject(64)
	capA := Capability{id: nextCapID(), kind: ObjectChannel, object: obj, rights: RightSend | RightRecv | RightGrant}
	capB := Capability{id: nextCapID(), kind: ObjectChannel, object: obj, rights: RightSend | RightRecv | RightGrant}
	ea := &Endpoint{self: a, out: obj.aToB, in: obj.bToA, done: obj.done, cap: capA}
	eb := &Endpoint{self: b, out: obj.bToA, in: obj.aToB, done: obj.done, cap: capB}
	return ea, eb
}

// EndpointFromCap rebinds a channel Capability into a usable Endpoint for
// self, the way a task would after receiving the capability in a bootstrap
// message or via Transfer. It fails if cap does not name a channel or
// carries neither SEND nor RECV.
func (k *Kernel) EndpointFromCap(self ServiceID, cap Capability) (*Endpoint, error) {
	if cap.kind != ObjectChannel {
		return nil, errs.New(errs.InvalidArg, "ipc.EndpointFromCap", nil)
	}
	if !cap.rights.Has(RightSend) && !cap.rights.Has(RightRecv) {
		return nil, errs.New(errs.PermissionDenied, "ipc.EndpointFromCap", nil)
	}
	obj, ok := cap.object.(*channelObject)
	if !ok {
		return nil, errs.New(errs.InvalidArg, "ipc.EndpointFromCap", nil)
	}
	// A rebound endpoint only has directional access to the leg its rights
	// allow; which physical leg (aToB/bToA) is "out" for it depends on which
	// original side issued the capability, encoded by rights symmetry here
	// since both original sides hold equivalent rights by construction.
	return &Endpoint{self: self, out: obj.aToB, in: obj.bToA, done: obj.done, cap: cap}, nil
}

// Transfer implements cap_transfer: the resulting capability's rights must
// be a subset of src's rights (restriction-only, no escalation ever).
func (k *Kernel) Transfer(src Capability, mask Rights) (Capability, error) {
	out, ok := src.restrict(mask)
	if !ok {
		return Capability{}, errs.New(errs.PermissionDenied, "ipc.Transfer", nil)
	}
	return out, nil
}

// AsMap records a memory-mapping capability, enforcing W⊕X: a mapping can
// never carry both WRITE and EXEC.
func (k *Kernel) AsMap(rights Rights) (Capability, error) {
	if rights.Has(RightWrite) && rights.Has(RightExec) {
		return Capability{}, errs.New(errs.InvalidArg, "ipc.AsMap", nil)
	}
	return Capability{id: nextCapID(), kind: ObjectMapping, object: struct{}{}, rights: rights}, nil
}

// MmioMap records an MMIO mapping capability. Per spec, MMIO mappings are
// always USER|RW and never EXEC regardless of what the caller asked for.
func (k *Kernel) MmioMap() Capability {
	return Capability{id: nextCapID(), kind: ObjectMMIO, object: struct{}{}, rights: RightRead | RightWrite}
}

// Spawn allocates a ServiceID for a new task and records the task as alive.
// It takes no image and no capabilities, and delivers no bootstrap message
// or capability set to the new task. execd.Spawn builds on this to validate
// the image and the requested profile.
func (k *Kernel) Spawn() ServiceID {
	return k.AllocServiceID()
}

// Exit marks a task dead and fans the exit code out to every Wait call
// registered via WaitFor, then to samgrd's release-on-exit watcher.
func (k *Kernel) Exit(id ServiceID, code int) {
	k.mu.Lock()
	t, ok := k.tasks[id]
	if !ok {
		k.mu.Unlock()
		return
	}
	t.alive = false
	waiters := t.waiters
	t.waiters = nil
	k.mu.Unlock()

	info := ExitInfo{ServiceID: id, Code: code}
	for _, w := range waiters {
		select {
		case w <- info:
		default:
		}
		close(w)
	}
}

// WaitFor returns a channel that receives exactly one ExitInfo when id
// exits, or is already closed if id is unknown or already dead (exit
// history is not retained past the fanout — execd's crash report must be
// registered before the child can exit, which Spawn's ordering guarantees).
func (k *Kernel) WaitFor(id ServiceID) <-chan ExitInfo {
	ch := make(chan ExitInfo, 1)
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[id]
	if !ok || !t.alive {
		close(ch)
		return ch
	}
	t.waiters = append(t.waiters, ch)
	return ch
}

// Alive reports whether id is a live task.
func (k *Kernel) Alive(id ServiceID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[id]
	return ok && t.alive
}
