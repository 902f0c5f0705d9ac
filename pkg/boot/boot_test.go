package boot

import (
	"bytes"
	"testing"

	"github.com/nexuscore/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootWithDataDirEncryptsStateAtRest(t *testing.T) {
	dataDir := t.TempDir()
	var out bytes.Buffer
	sys, err := Boot(Config{Out: &out, Release: true, DataDir: dataDir})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "statefs: ready")
	assert.Contains(t, out.String(), "statefs: encrypted at rest")
	assert.True(t, sys.Store.Persistent())

	require.NoError(t, sys.Store.Put("/state/shared/probe", []byte("hello")))
	got, err := sys.Store.Get("/state/shared/probe")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestBootRAMOnlyEmitsReadinessMarkers(t *testing.T) {
	var out bytes.Buffer
	sys, err := Boot(Config{Out: &out, Release: true})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "logd: ready")
	assert.Contains(t, text, "samgrd: ready")
	assert.Contains(t, text, "execd: ready")
	assert.Contains(t, text, "statefs: ready (non-persistent)")
	assert.Contains(t, text, "policyd: ready")
	assert.Contains(t, text, "bundlemgrd: ready")
	assert.Contains(t, text, "bundlemgrd: slot a active")
	assert.Contains(t, text, "updated: ready")
	assert.Contains(t, text, "metricsd: ready")

	assert.Equal(t, types.SlotA, sys.Bundles.ActiveSlot())
	assert.False(t, sys.Updated.Persistent())
}

func TestBootLoadsPolicyRecipe(t *testing.T) {
	var out bytes.Buffer
	recipe := []byte("rules:\n  - subject: \"1\"\n    action: \"test.action\"\n    decision: allow\n")
	sys, err := Boot(Config{Out: &out, Release: true, PolicyRecipe: recipe})
	require.NoError(t, err)

	decision, _ := sys.Policy.Check(1, "test.action", nil)
	assert.Equal(t, types.Allow, decision)
}

func TestEvaluateHealthRecordsAttempt(t *testing.T) {
	var out bytes.Buffer
	sys, err := Boot(Config{Out: &out, Release: true})
	require.NoError(t, err)

	sys.EvaluateHealth(types.SlotA)
	assert.True(t, sys.LastBoot.Healthy)
	assert.Contains(t, out.String(), "init: health ok (slot a)")
}

func TestRecordFailureMarksNonHealthy(t *testing.T) {
	var out bytes.Buffer
	sys, err := Boot(Config{Out: &out, Release: true})
	require.NoError(t, err)

	sys.RecordFailure("policyd timeout")
	assert.False(t, sys.LastBoot.Healthy)
	assert.Contains(t, out.String(), "init: boot attempt non-healthy (policyd timeout)")
}
