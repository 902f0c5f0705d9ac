// Package updated drives the stage -> switch -> health -> rollback state
// machine for A/B system updates. It never triggers a real reboot: v1's
// Switch is an explicit "soft switch" that republishes bundlemgrd's active
// slot in place.
package updated

import (
	"encoding/json"
	"sync"

	"github.com/nexuscore/nexus/pkg/bundle"
	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/statefs"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/nexuscore/nexus/pkg/uart"
)

// startingTries is the number of boot attempts granted to a pending switch
// before it is rolled back.
const startingTries = 2

const bootCtlKey = "/state/shared/updated/bootctl"

// Installer is the narrow bundlemgrd surface updated needs.
type Installer interface {
	Install(caller ipc.ServiceID, manifestBytes, payload []byte, standby types.Slot) (types.Bundle, error)
	SetActiveSlot(slot types.Slot)
}

// Authorizer is the narrow policyd surface updated needs.
type Authorizer interface {
	Check(subject ipc.ServiceID, action string, fields map[string]string) (types.Decision, string)
}

// BundleSource resolves a bundle id named in a system-set index to its
// manifest and payload bytes, standing in for the real fetch-and-verify
// transport (out of scope for this module).
type BundleSource func(bundleID string) (manifestBytes, payload []byte, err error)

// Orchestrator owns BootCtl. Grounded on pkg/manager/fsm.go
// Command-dispatch Apply method, restructured from a Raft-log apply
// function into a plain directly-invoked transition function — spec's core
// is single-node, so the consensus wrapper has no job here.
type Orchestrator struct {
	mu      sync.Mutex
	ctl     types.BootCtl
	store   statefs.Store // nil => RAM-only
	bundles Installer
	policy  Authorizer
	mirror  *uart.Sink
}

// New constructs an Orchestrator starting at Idle on slot a. If store is
// non-nil, BootCtl is persisted there; otherwise state is RAM-only and does
// not survive a restart.
func New(store statefs.Store, bundles Installer, policy Authorizer, mirror *uart.Sink) *Orchestrator {
	o := &Orchestrator{
		ctl: types.BootCtl{
			ActiveSlot:  types.SlotA,
			StandbySlot: types.SlotB,
			Phase:       types.PhaseIdle,
			Persistent:  store != nil && store.Persistent(),
		},
		store:   store,
		bundles: bundles,
		policy:  policy,
		mirror:  mirror,
	}
	if store != nil {
		if data, err := store.Get(bootCtlKey); err == nil {
			_ = json.Unmarshal(data, &o.ctl)
		}
	}
	return o
}

func (o *Orchestrator) persist() {
	if o.store == nil {
		return
	}
	data, err := json.Marshal(o.ctl)
	if err != nil {
		return
	}
	_ = o.store.Put(bootCtlKey, data)
}

// Snapshot returns the current BootCtl by value.
func (o *Orchestrator) Snapshot() types.BootCtl {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctl
}

// StageSystem decodes a system-set index and installs every constituent
// bundle into the standby slot through bundlemgrd, which checks each
// payload digest and manifest signature. The index's own signature and its
// per-entry digests are not checked. It stops at the first bundle that
// fails; bundles installed before it stay staged in the standby slot, and
// the phase becomes Staged only when every bundle installed.
func (o *Orchestrator) StageSystem(caller ipc.ServiceID, systemSetBytes []byte, source BundleSource) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.policy != nil {
		if d, _ := o.policy.Check(caller, "updated.stage", nil); d == types.Deny {
			return errs.New(errs.PermissionDenied, "updated.StageSystem", nil)
		}
	}

	set, err := bundle.DecodeSystemSet(systemSetBytes)
	if err != nil {
		o.mark("updated: stage rejected (decode)")
		return errs.New(errs.InvalidArg, "updated.StageSystem", err)
	}

	for _, entry := range set.Entries {
		manifestBytes, payload, err := source(entry.BundleID)
		if err != nil {
			o.mark("updated: stage rejected (fetch)")
			return errs.New(errs.NotFound, "updated.StageSystem", err)
		}
		if _, err := o.bundles.Install(caller, manifestBytes, payload, o.ctl.StandbySlot); err != nil {
			if errs.Is(err, errs.IntegrityError) {
				o.mark("updated: stage rejected (digest)")
			}
			return err
		}
	}

	o.ctl.Phase = types.PhaseStaged
	o.persist()
	return nil
}

// Switch transitions BootCtl to Pending with a fresh tries budget and issues
// a soft switch: bundlemgrd republishes from the standby slot immediately,
// with no real boot-chain involvement in v1.
func (o *Orchestrator) Switch() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctl.Phase != types.PhaseStaged {
		return errs.New(errs.Conflict, "updated.Switch", nil)
	}

	o.ctl.ActiveSlot, o.ctl.StandbySlot = o.ctl.StandbySlot, o.ctl.ActiveSlot
	o.ctl.Phase = types.PhasePending
	o.ctl.TriesLeft = startingTries
	o.bundles.SetActiveSlot(o.ctl.ActiveSlot)
	o.persist()
	return nil
}

// BootEvaluate is invoked by init once per boot attempt. While Pending or
// BootedPending it decrements TriesLeft; on exhaustion without HealthOk it
// rolls back to the previous slot deterministically.
func (o *Orchestrator) BootEvaluate() {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.ctl.Phase {
	case types.PhasePending, types.PhaseBootedPending:
		o.ctl.Phase = types.PhaseBootedPending
		o.ctl.TriesLeft--
		if o.ctl.TriesLeft <= 0 {
			o.ctl.ActiveSlot, o.ctl.StandbySlot = o.ctl.StandbySlot, o.ctl.ActiveSlot
			o.ctl.Phase = types.PhaseIdle
			o.ctl.TriesLeft = 0
			o.bundles.SetActiveSlot(o.ctl.ActiveSlot)
			o.mark("updated: rollback to slot " + string(o.ctl.ActiveSlot))
		}
	}
	o.persist()
}

// HealthOk clears Pending/BootedPending and commits the active slot as
// Healthy. A no-op when already Healthy. Callable only once the system has
// reached a defined post-boot stable point (Pending, BootedPending, or
// already Healthy) — calling it from Idle or Staged is a state-machine
// precondition violation, e.g. the worked "HealthOk while Idle" example.
func (o *Orchestrator) HealthOk() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctl.Phase == types.PhaseHealthy {
		return nil
	}
	if o.ctl.Phase != types.PhasePending && o.ctl.Phase != types.PhaseBootedPending {
		return errs.New(errs.Conflict, "updated.HealthOk", nil)
	}
	o.ctl.Phase = types.PhaseHealthy
	o.ctl.TriesLeft = 0
	o.persist()
	return nil
}

func (o *Orchestrator) mark(msg string) {
	if o.mirror != nil {
		o.mirror.WriteLine(msg)
	}
}

// Persistent reports whether BootCtl survives a restart.
func (o *Orchestrator) Persistent() bool {
	return o.store != nil && o.store.Persistent()
}
