package updated

import (
	"crypto/sha256"
	"testing"

	"github.com/nexuscore/nexus/pkg/bundle"
	"github.com/nexuscore/nexus/pkg/bundlemgrd"
	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/statefs"
	"github.com/nexuscore/nexus/pkg/trust"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const caller ipc.ServiceID = 1

type allowAll struct{}

func (allowAll) Check(ipc.ServiceID, string, map[string]string) (types.Decision, string) {
	return types.Allow, "ok"
}

func newHarness(t *testing.T) (*Orchestrator, *bundlemgrd.Manager, *trust.Authority) {
	t.Helper()
	auth := trust.New(statefs.NewRAMBackend())
	require.NoError(t, auth.Initialize())
	mgr := bundlemgrd.New(statefs.NewRAMBackend(), auth, allowAll{}, nil, nil)
	o := New(nil, mgr, allowAll{}, nil)
	return o, mgr, auth
}

func systemSetWith(t *testing.T, auth *trust.Authority, bundleID string, payload []byte) ([]byte, BundleSource) {
	t.Helper()
	digest := sha256.Sum256(payload)
	manifest := bundle.Manifest{
		FormatVersion: bundle.FormatVersion,
		BundleID:      bundleID,
		SemVer:        "2.0.0",
		PayloadDigest: digest,
		PayloadSize:   uint64(len(payload)),
		EntryPoint:    "main",
	}
	sig, err := auth.Sign(manifest.CanonicalBytes())
	require.NoError(t, err)
	manifest.Signature = sig
	manifestBytes := manifest.Encode()

	set := bundle.SystemSet{Name: "system-v2", Entries: []bundle.SystemSetEntry{
		{BundleID: bundleID, Digest: "x", Size: uint64(len(payload))},
	}}
	setBytes, err := set.Encode()
	require.NoError(t, err)

	source := func(id string) ([]byte, []byte, error) {
		return manifestBytes, payload, nil
	}
	return setBytes, source
}

func TestStageSwitchHealthHappyPath(t *testing.T) {
	o, mgr, auth := newHarness(t)
	setBytes, source := systemSetWith(t, auth, "b1", []byte("v2 payload"))

	require.NoError(t, o.StageSystem(caller, setBytes, source))
	assert.Equal(t, types.PhaseStaged, o.Snapshot().Phase)

	require.NoError(t, o.Switch())
	snap := o.Snapshot()
	assert.Equal(t, types.PhasePending, snap.Phase)
	assert.Equal(t, types.SlotB, snap.ActiveSlot)
	assert.Equal(t, types.SlotB, mgr.ActiveSlot())

	require.NoError(t, o.HealthOk())
	assert.Equal(t, types.PhaseHealthy, o.Snapshot().Phase)

	// idempotent on Healthy
	require.NoError(t, o.HealthOk())
	assert.Equal(t, types.PhaseHealthy, o.Snapshot().Phase)
}

func TestHealthOkWhileIdleIsConflict(t *testing.T) {
	o, _, _ := newHarness(t)
	assert.Equal(t, types.PhaseIdle, o.Snapshot().Phase)

	err := o.HealthOk()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestSwitchOnNonStagedPhaseIsConflict(t *testing.T) {
	o, _, _ := newHarness(t)
	err := o.Switch()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestRollbackAfterTwoEvaluationsWithoutHealth(t *testing.T) {
	o, mgr, auth := newHarness(t)
	setBytes, source := systemSetWith(t, auth, "b1", []byte("v2 payload"))

	require.NoError(t, o.StageSystem(caller, setBytes, source))
	require.NoError(t, o.Switch())
	assert.Equal(t, types.SlotB, o.Snapshot().ActiveSlot)

	o.BootEvaluate() // triesLeft 2 -> 1
	assert.Equal(t, types.SlotB, o.Snapshot().ActiveSlot)

	o.BootEvaluate() // triesLeft 1 -> 0, rollback
	snap := o.Snapshot()
	assert.Equal(t, types.SlotA, snap.ActiveSlot)
	assert.Equal(t, types.PhaseIdle, snap.Phase)
	assert.Equal(t, types.SlotA, mgr.ActiveSlot())
}

func TestStageRejectsBadDigest(t *testing.T) {
	o, _, auth := newHarness(t)
	setBytes, _ := systemSetWith(t, auth, "b1", []byte("v2 payload"))
	badSource := func(id string) ([]byte, []byte, error) {
		_, src := systemSetWith(t, auth, "b1", []byte("v2 payload"))
		mb, _, _ := src(id)
		return mb, []byte("tampered"), nil
	}
	err := o.StageSystem(caller, setBytes, badSource)
	assert.Error(t, err)
	assert.Equal(t, types.PhaseIdle, o.Snapshot().Phase)
}

func TestSwitchRequiresStagedPhase(t *testing.T) {
	o, _, _ := newHarness(t)
	assert.Error(t, o.Switch())
}

func TestPersistsAcrossOrchestratorsWhenStoreProvided(t *testing.T) {
	store := statefs.NewRAMBackend()
	auth := trust.New(statefs.NewRAMBackend())
	require.NoError(t, auth.Initialize())
	mgr := bundlemgrd.New(statefs.NewRAMBackend(), auth, allowAll{}, nil, nil)

	o1 := New(store, mgr, allowAll{}, nil)
	setBytes, source := systemSetWith(t, auth, "b1", []byte("payload"))
	require.NoError(t, o1.StageSystem(caller, setBytes, source))

	o2 := New(store, mgr, allowAll{}, nil)
	assert.Equal(t, types.PhaseStaged, o2.Snapshot().Phase)
	assert.False(t, o2.Persistent())
}
