package logd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/nexuscore/nexus/pkg/uart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndQuery(t *testing.T) {
	j := New(DefaultConfig(), nil)
	sender := ipc.ServiceID(1)

	require.NoError(t, j.Append(sender, types.LevelInfo, "boot", "started", nil))
	require.NoError(t, j.Append(sender, types.LevelError, "boot", "failed", nil))

	recs := j.Query(QueryOptions{Sender: sender, HasSender: true})
	require.Len(t, recs, 2)
	assert.Equal(t, "started", recs[0].Message)

	errOnly := j.Query(QueryOptions{MinLevel: types.LevelError})
	require.Len(t, errOnly, 1)
	assert.Equal(t, "failed", errOnly[0].Message)
}

func TestAppendDropsOldestOnOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecords = 2
	cfg.RateCapacity = 1000
	cfg.RateRefillPerSec = 1000
	j := New(cfg, nil)
	sender := ipc.ServiceID(1)

	require.NoError(t, j.Append(sender, types.LevelInfo, "s", "one", nil))
	require.NoError(t, j.Append(sender, types.LevelInfo, "s", "two", nil))
	require.NoError(t, j.Append(sender, types.LevelInfo, "s", "three", nil))

	stats := j.Stats()
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, uint64(1), stats.Dropped)

	recs := j.Query(QueryOptions{})
	require.Len(t, recs, 2)
	assert.Equal(t, "two", recs[0].Message)
	assert.Equal(t, "three", recs[1].Message)
}

func TestAppendRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateCapacity = 1
	cfg.RateRefillPerSec = 0
	j := New(cfg, nil)
	sender := ipc.ServiceID(1)

	require.NoError(t, j.Append(sender, types.LevelInfo, "s", "one", nil))
	err := j.Append(sender, types.LevelInfo, "s", "two", nil)
	assert.Error(t, err)
}

func TestMirrorWritesOnlyAtOrAboveMinLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.MirrorLevel = types.LevelWarn
	j := New(cfg, uart.New(&buf))

	require.NoError(t, j.Append(1, types.LevelInfo, "s", "quiet", nil))
	require.NoError(t, j.Append(1, types.LevelError, "s", "loud", nil))

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestAppendRejectsOversizedMessage(t *testing.T) {
	j := New(DefaultConfig(), nil)
	err := j.Append(1, types.LevelInfo, "s", strings.Repeat("x", MaxMessageLen+1), nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OverLimit))
}

func TestAppendRejectsOversizedFieldsBlob(t *testing.T) {
	j := New(DefaultConfig(), nil)
	err := j.Append(1, types.LevelInfo, "s", "m", bytes.Repeat([]byte("a"), MaxFieldsBlobLen+1))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OverLimit))
}

func TestAppendRejectsTooManyFields(t *testing.T) {
	j := New(DefaultConfig(), nil)
	lines := make([]string, MaxFieldCount+1)
	for i := range lines {
		lines[i] = "k=v"
	}
	err := j.Append(1, types.LevelInfo, "s", "m", []byte(strings.Join(lines, "\n")))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OverLimit))
}

func TestAppendRejectsMalformedField(t *testing.T) {
	j := New(DefaultConfig(), nil)
	err := j.Append(1, types.LevelInfo, "s", "m", []byte("not-a-key-value-pair"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArg))
}

func TestAppendRejectsOversizedFieldValue(t *testing.T) {
	j := New(DefaultConfig(), nil)
	err := j.Append(1, types.LevelInfo, "s", "m", []byte("k="+strings.Repeat("v", MaxFieldValueLen+1)))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OverLimit))
}

func TestQueryBySenderForCrashReport(t *testing.T) {
	j := New(DefaultConfig(), nil)
	require.NoError(t, j.Append(5, types.LevelError, "exec", "died", nil))

	lines := j.QueryBySender(5, 10)
	require.Len(t, lines, 1)
	assert.Equal(t, "died", lines[0].Message)
}
