// Package boot brings up the service fabric in a fixed, minimal sequence
// and evaluates BootCtl before publishing the active slot. Grounded on the
// cmd/warren/main.go and pkg/manager/manager.go ordered
// construction shape (store -> FSM -> CA -> DNS -> ...), kept as a plain
// sequence of constructor calls whose results are held as System fields;
// only samgrd itself is registered in samgrd's table.
package boot

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/nexuscore/nexus/pkg/bundlemgrd"
	"github.com/nexuscore/nexus/pkg/entropy"
	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/execd"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/logd"
	"github.com/nexuscore/nexus/pkg/metricsd"
	"github.com/nexuscore/nexus/pkg/policyd"
	"github.com/nexuscore/nexus/pkg/samgrd"
	"github.com/nexuscore/nexus/pkg/statefs"
	"github.com/nexuscore/nexus/pkg/trust"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/nexuscore/nexus/pkg/uart"
	"github.com/nexuscore/nexus/pkg/updated"
)

// Config controls where boot gets its durable backing and recipe from.
type Config struct {
	// DataDir, if non-empty, backs statefs with a bbolt database at
	// <DataDir>/state.db. Empty means RAM-only, labeled as such at every
	// readiness marker that mentions persistence.
	DataDir string
	// PolicyRecipe is the YAML policy document evaluated at boot. A nil or
	// empty document compiles to zero rules, which is safe: policyd denies
	// by default.
	PolicyRecipe []byte
	// Release gates execd's debug-allow-all profile; production boots pass
	// true.
	Release bool
	// Out receives every UART marker line. Boot does not substitute a
	// default writer for a nil Out, so the caller must always set it.
	Out io.Writer
}

// System is every booted component, wired and ready to be driven by
// cmd/nexus-init or pkg/selftest.
type System struct {
	Kernel    *ipc.Kernel
	Mirror    *uart.Sink
	Log       *logd.Journal
	Registry  *samgrd.Registry
	Exec      *execd.Supervisor
	Store     statefs.Store
	Trust     *trust.Authority
	Policy    *policyd.Engine
	Bundles   *bundlemgrd.Manager
	Updated   *updated.Orchestrator
	Metrics   *metricsd.Registry
	LastBoot  LastBootAttempt
}

// LastBootAttempt is the record RecordFailure and EvaluateHealth leave
// under /state/shared/boot/last_attempt.
type LastBootAttempt struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

const lastBootKey = "/state/shared/boot/last_attempt"

// criticalDeadline bounds how long WaitReady waits for a service to reach
// Ready. Boot itself constructs services synchronously and does not use it.
const criticalDeadline = 5 * time.Second

// Boot constructs every service in spec order: kernel -> logd -> samgrd ->
// execd -> statefs (if backing available) -> policyd -> bundlemgrd ->
// updated -> remaining services. Each step is gated on the prior step
// actually existing before the next is constructed; a UART readiness
// marker is written as each service comes up.
func Boot(cfg Config) (*System, error) {
	sys := &System{}
	sys.Kernel = ipc.NewKernel()
	sys.Mirror = uart.New(cfg.Out)

	sys.Log = logd.New(logd.DefaultConfig(), sys.Mirror)
	sys.Mirror.WriteLine("logd: ready")

	sys.Registry = samgrd.New(sys.Kernel, nil)
	selfID := sys.Kernel.AllocServiceID()
	if err := sys.Registry.Register(selfID, "samgrd", ipc.Capability{}); err != nil {
		return nil, errs.New(errs.Internal, "boot.Boot", err)
	}
	if err := sys.Registry.Ready(selfID, "samgrd"); err != nil {
		return nil, errs.New(errs.Internal, "boot.Boot", err)
	}
	sys.Mirror.WriteLine("samgrd: ready")

	sys.Exec = execd.New(sys.Kernel, execd.Release(cfg.Release), sys.Log, sys.Mirror)
	sys.Mirror.WriteLine("execd: ready")

	store, persistent, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	sys.Store = store
	if persistent {
		sys.Mirror.WriteLine("statefs: ready")
	} else {
		sys.Mirror.WriteLine("statefs: ready (non-persistent)")
	}

	ent := entropy.Check()
	sys.Trust = trust.New(sys.Store)
	if err := sys.Trust.LoadFromStore(); err != nil {
		if !ent.Healthy {
			sys.Mirror.WriteLine("trust: disabled" + entropy.MarkerSuffix())
		} else if err := sys.Trust.Initialize(); err != nil {
			return nil, errs.New(errs.Internal, "boot.Boot", err)
		} else if err := sys.Trust.SaveToStore(); err != nil {
			return nil, errs.New(errs.Internal, "boot.Boot", err)
		}
	}

	// Everything after trust's own keypair round-trip writes through an
	// encrypted view when persistent and the CSPRNG self-test passed; trust
	// itself had to use the raw store above since its keypair is the
	// encryption key's source material.
	if persistent && ent.Healthy && sys.Trust.IsInitialized() {
		encKey, err := sys.Trust.DeriveEncryptionKey()
		if err != nil {
			return nil, errs.New(errs.Internal, "boot.Boot", err)
		}
		encStore, err := statefs.NewEncryptingStore(sys.Store, encKey)
		if err != nil {
			return nil, errs.New(errs.Internal, "boot.Boot", err)
		}
		sys.Store = encStore
		sys.Mirror.WriteLine("statefs: encrypted at rest")
	}

	recipe, err := policyd.ParseRecipe(cfg.PolicyRecipe)
	if err != nil {
		return nil, errs.New(errs.InvalidArg, "boot.Boot", err)
	}
	names := map[string]ipc.ServiceID{"samgrd": selfID}
	rules, err := policyd.Compile(recipe, names)
	if err != nil {
		return nil, errs.New(errs.InvalidArg, "boot.Boot", err)
	}
	sys.Policy = policyd.New(rules, sys.Log)
	sys.Registry.SetAuthorizer(sys.Policy)
	sys.Mirror.WriteLine("policyd: ready" + entropy.MarkerSuffix())

	sys.Bundles = bundlemgrd.New(sys.Store, sys.Trust, sys.Policy, sys.Log, sys.Mirror)
	sys.Mirror.WriteLine("bundlemgrd: ready")

	sys.Updated = updated.New(sys.Store, sys.Bundles, sys.Policy, sys.Mirror)
	ctl := sys.Updated.Snapshot()
	sys.Bundles.SetActiveSlot(ctl.ActiveSlot)
	if sys.Updated.Persistent() {
		sys.Mirror.WriteLine("updated: ready")
	} else {
		sys.Mirror.WriteLine("updated: ready (non-persistent)")
	}

	sys.Metrics = metricsd.New(metricsd.DefaultLimits(), sys.Log)
	metricsID := sys.Kernel.AllocServiceID()
	sys.Metrics.StartSnapshotExport(metricsID, metricsd.DefaultExportCadence)
	sys.Mirror.WriteLine("metricsd: ready")

	return sys, nil
}

func marshalLastBoot(a LastBootAttempt) ([]byte, error) {
	return json.Marshal(a)
}

func openStore(dataDir string) (statefs.Store, bool, error) {
	if dataDir == "" {
		return statefs.NewRAMBackend(), false, nil
	}
	backend, err := statefs.OpenBoltBackend(dataDir + "/state.db")
	if err != nil {
		return nil, false, errs.New(errs.Internal, "boot.openStore", err)
	}
	return backend, true, nil
}

// RecordFailure persists a non-healthy boot attempt under
// /state/shared/boot/last_attempt and leaves rollback to updated's next-boot path.
func (s *System) RecordFailure(reason string) {
	s.LastBoot = LastBootAttempt{Healthy: false, Reason: reason}
	if s.Store != nil {
		if data, err := marshalLastBoot(s.LastBoot); err == nil {
			_ = s.Store.Put(lastBootKey, data)
		}
	}
	s.Mirror.WriteLine("init: boot attempt non-healthy (" + reason + ")")
}

// EvaluateHealth asks updated's boot-time evaluator to decrement
// triesLeft/roll back as needed, then records this attempt as healthy.
func (s *System) EvaluateHealth(slot types.Slot) {
	s.Updated.BootEvaluate()
	s.LastBoot = LastBootAttempt{Healthy: true}
	if s.Store != nil {
		if data, err := marshalLastBoot(s.LastBoot); err == nil {
			_ = s.Store.Put(lastBootKey, data)
		}
	}
	s.Mirror.WriteLine("init: health ok (slot " + string(slot) + ")")
}

// WaitReady blocks, bounded by criticalDeadline, until name reaches Ready in
// samgrd's table.
func (s *System) WaitReady(ctx context.Context, name string) error {
	deadline, cancel := context.WithTimeout(ctx, criticalDeadline)
	defer cancel()
	return samgrd.WaitReady(deadline, s.Registry, name, func() {
		time.Sleep(time.Millisecond)
	})
}
