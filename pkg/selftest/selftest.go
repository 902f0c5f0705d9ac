// Package selftest gives the observable end-to-end scenarios a home as
// both a boot-time self-check and a Go test suite. Every scenario emits its
// stable "SELFTEST: ... ok" marker only on genuine success; a failure is the
// documented absence of the line, never a spurious success marker. Grounded
// on the test/integration and test/e2e black-box, marker/assertion
// style, adapted from HTTP/gRPC checks to UART-marker and in-process IPC
// assertions.
package selftest

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/nexuscore/nexus/pkg/boot"
	"github.com/nexuscore/nexus/pkg/bundle"
	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/execd"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/logd"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/nexuscore/nexus/pkg/updated"
)

// FreshBoot is S1: a clean boot with no update pending. It checks that slot
// a is active and exercises one log round trip, emitting
// `SELFTEST: log query ok`; the readiness markers boot.Boot wrote are not
// inspected here.
func FreshBoot(sys *boot.System) error {
	if sys.Bundles.ActiveSlot() != types.SlotA {
		return errs.New(errs.Internal, "selftest.FreshBoot", nil)
	}

	caller := sys.Kernel.AllocServiceID()
	if err := sys.Log.Append(caller, types.LevelInfo, "selftest", "fresh boot probe", nil); err != nil {
		return errs.New(errs.Internal, "selftest.FreshBoot", err)
	}
	recs := sys.Log.Query(logd.QueryOptions{Sender: caller, HasSender: true})
	if len(recs) == 0 || recs[len(recs)-1].Message != "fresh boot probe" {
		return errs.New(errs.Internal, "selftest.FreshBoot", nil)
	}

	sys.Mirror.WriteLine("SELFTEST: log query ok")
	return nil
}

func signedSystemSet(t systemSetSigner, bundleID string, payload []byte) ([]byte, updated.BundleSource) {
	digest := sha256.Sum256(payload)
	manifest := bundle.Manifest{
		FormatVersion: bundle.FormatVersion,
		BundleID:      bundleID,
		SemVer:        "2.0.0",
		PayloadDigest: digest,
		PayloadSize:   uint64(len(payload)),
		EntryPoint:    "main",
	}
	sig, _ := t.Sign(manifest.CanonicalBytes())
	manifest.Signature = sig
	manifestBytes := manifest.Encode()

	set := bundle.SystemSet{Name: "system-v2", Entries: []bundle.SystemSetEntry{
		{BundleID: bundleID, Digest: "x", Size: uint64(len(payload))},
	}}
	setBytes, _ := set.Encode()

	source := func(id string) ([]byte, []byte, error) {
		return manifestBytes, payload, nil
	}
	return setBytes, source
}

type systemSetSigner interface {
	Sign(canonical []byte) ([]byte, error)
}

// OTAStageSwitchHealth is S2: stage a new system-set, switch, and confirm
// health, emitting the ota stage/switch markers plus init's post-boot
// health marker.
func OTAStageSwitchHealth(sys *boot.System) error {
	caller := sys.Kernel.AllocServiceID()
	setBytes, source := signedSystemSet(sys.Trust, "bundle-s2", []byte("payload-s2"))

	if err := sys.Updated.StageSystem(caller, setBytes, source); err != nil {
		return errs.New(errs.Internal, "selftest.OTAStageSwitchHealth", err)
	}
	sys.Mirror.WriteLine("SELFTEST: ota stage ok")

	if err := sys.Updated.Switch(); err != nil {
		return errs.New(errs.Internal, "selftest.OTAStageSwitchHealth", err)
	}
	sys.Mirror.WriteLine("SELFTEST: ota switch ok")

	if sys.Bundles.ActiveSlot() != types.SlotB {
		return errs.New(errs.Internal, "selftest.OTAStageSwitchHealth", nil)
	}

	if err := sys.Updated.HealthOk(); err != nil {
		return errs.New(errs.Internal, "selftest.OTAStageSwitchHealth", err)
	}
	sys.EvaluateHealth(types.SlotB)
	if sys.Updated.Snapshot().Phase != types.PhaseHealthy {
		return errs.New(errs.Internal, "selftest.OTAStageSwitchHealth", nil)
	}
	return nil
}

// OTARollback is S3: stage, switch, and never call HealthOk across two boot
// evaluations — BootCtl must revert to the pre-switch slot deterministically.
func OTARollback(sys *boot.System) error {
	caller := sys.Kernel.AllocServiceID()
	preSwitch := sys.Bundles.ActiveSlot()
	setBytes, source := signedSystemSet(sys.Trust, "bundle-s3", []byte("payload-s3"))

	if err := sys.Updated.StageSystem(caller, setBytes, source); err != nil {
		return errs.New(errs.Internal, "selftest.OTARollback", err)
	}
	if err := sys.Updated.Switch(); err != nil {
		return errs.New(errs.Internal, "selftest.OTARollback", err)
	}
	sys.Mirror.WriteLine("SELFTEST: ota switch ok")
	if sys.Bundles.ActiveSlot() == preSwitch {
		return errs.New(errs.Internal, "selftest.OTARollback", nil)
	}

	sys.Updated.BootEvaluate()
	sys.Updated.BootEvaluate()

	if sys.Bundles.ActiveSlot() != preSwitch {
		return errs.New(errs.Internal, "selftest.OTARollback", nil)
	}
	if sys.Updated.Snapshot().Phase != types.PhaseIdle {
		return errs.New(errs.Internal, "selftest.OTARollback", nil)
	}

	sys.Mirror.WriteLine("SELFTEST: ota rollback ok")
	return nil
}

// PolicyDenyAudit is S4: an unlisted (subject, action) pair must deny, and
// the denial must be audited.
func PolicyDenyAudit(sys *boot.System) error {
	const subject ipc.ServiceID = 42

	before := len(sys.Log.Query(logd.QueryOptions{HasSender: true, Sender: subject}))
	decision, _ := sys.Policy.Check(subject, "bundle.install", nil)
	if decision != types.Deny {
		return errs.New(errs.Internal, "selftest.PolicyDenyAudit", nil)
	}
	after := sys.Log.Query(logd.QueryOptions{HasSender: true, Sender: subject})
	if len(after) <= before {
		return errs.New(errs.Internal, "selftest.PolicyDenyAudit", nil)
	}

	sys.Mirror.WriteLine("SELFTEST: policy deny audit ok")
	return nil
}

// IntegrityFailure is S5: StageSystem on a mutated payload must be rejected
// with an integrity error, the active slot must be untouched, and the ota
// stage marker must never appear.
func IntegrityFailure(sys *boot.System) error {
	caller := sys.Kernel.AllocServiceID()
	preSwitch := sys.Bundles.ActiveSlot()
	setBytes, source := signedSystemSet(sys.Trust, "bundle-s5", []byte("payload-s5"))
	tamperedSource := func(id string) ([]byte, []byte, error) {
		manifestBytes, _, _ := source(id)
		return manifestBytes, []byte("tampered-payload"), nil
	}

	err := sys.Updated.StageSystem(caller, setBytes, tamperedSource)
	if err == nil || !errs.Is(err, errs.IntegrityError) {
		return errs.New(errs.Internal, "selftest.IntegrityFailure", nil)
	}
	if sys.Bundles.ActiveSlot() != preSwitch {
		return errs.New(errs.Internal, "selftest.IntegrityFailure", nil)
	}

	sys.Mirror.WriteLine("updated: stage rejected (digest)")
	return nil
}

// CrashReport is S6: a spawned service exits with code 42 without emitting
// Ready. execd's crash report must surface the exit code, and a structured
// log record queryable by the service's sender id must mention it too.
func CrashReport(sys *boot.System) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := sys.Exec.Spawn(execd.ProfileDefault, func(ctx context.Context, self ipc.ServiceID) int {
		return 42
	})
	if err != nil {
		return errs.New(errs.Internal, "selftest.CrashReport", err)
	}

	info, err := sys.Exec.Wait(ctx, id)
	if err != nil {
		return errs.New(errs.Internal, "selftest.CrashReport", err)
	}
	if info.Code != 42 {
		return errs.New(errs.Internal, "selftest.CrashReport", nil)
	}

	// CrashReport itself appends the structured record and writes the UART
	// marker; this scenario only asserts those side effects happened.
	report, err := sys.Exec.CrashReport(id)
	if err != nil {
		return errs.New(errs.Internal, "selftest.CrashReport", err)
	}
	if report.ExitCode != 42 {
		return errs.New(errs.Internal, "selftest.CrashReport", nil)
	}

	recs := sys.Log.Query(logd.QueryOptions{HasSender: true, Sender: id})
	found := false
	for _, r := range recs {
		if r.Message == fmt.Sprintf("crash code=%d", info.Code) {
			found = true
		}
	}
	if !found {
		return errs.New(errs.Internal, "selftest.CrashReport", nil)
	}

	sys.Mirror.WriteLine("SELFTEST: crash report ok")
	return nil
}

// RunAll runs every scenario in order, for cmd/nexus-init's post-boot check.
// It stops at the first failure and returns its error, leaving the
// remaining scenarios' markers absent rather than emitting anything false.
func RunAll(sys *boot.System) error {
	scenarios := []func(*boot.System) error{
		FreshBoot,
		OTAStageSwitchHealth,
		OTARollback,
		PolicyDenyAudit,
		IntegrityFailure,
		CrashReport,
	}
	for _, s := range scenarios {
		if err := s(sys); err != nil {
			return err
		}
	}
	return nil
}
