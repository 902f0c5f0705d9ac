package policyd

import (
	"testing"

	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, yamlDoc string, names map[string]ipc.ServiceID) []compiledRule {
	t.Helper()
	r, err := ParseRecipe([]byte(yamlDoc))
	require.NoError(t, err)
	c, err := Compile(r, names)
	require.NoError(t, err)
	return c
}

func TestUnlistedPairDeniesByDefault(t *testing.T) {
	e := New(mustCompile(t, "rules: []", nil), nil)
	d, reason := e.Check(ipc.ServiceID(1), "samgr.register", nil)
	assert.Equal(t, types.Deny, d)
	assert.Equal(t, "unlisted", reason)
}

func TestAllowRuleMatchesLiteralSubject(t *testing.T) {
	doc := `
rules:
  - subject: "5"
    action: samgr.register
    decision: allow
`
	e := New(mustCompile(t, doc, nil), nil)
	d, _ := e.Check(ipc.ServiceID(5), "samgr.register", nil)
	assert.Equal(t, types.Allow, d)

	d2, _ := e.Check(ipc.ServiceID(6), "samgr.register", nil)
	assert.Equal(t, types.Deny, d2)
}

func TestDenyTakesPrecedenceOverAllow(t *testing.T) {
	doc := `
rules:
  - subject: "worker.*"
    action: statefs.write
    decision: allow
  - subject: "worker.bad"
    action: statefs.write
    decision: deny
`
	names := map[string]ipc.ServiceID{"worker.bad": 10, "worker.good": 11}
	e := New(mustCompile(t, doc, names), nil)

	d, reason := e.Check(ipc.ServiceID(10), "statefs.write", nil)
	assert.Equal(t, types.Deny, d)
	assert.Equal(t, "rule", reason)

	d2, _ := e.Check(ipc.ServiceID(11), "statefs.write", nil)
	assert.Equal(t, types.Allow, d2)
}

func TestGateRequiresContextField(t *testing.T) {
	doc := `
rules:
  - subject: "1"
    action: logd.debug_dump
    decision: allow
    gate: foreground
`
	e := New(mustCompile(t, doc, nil), nil)

	d, _ := e.Check(ipc.ServiceID(1), "logd.debug_dump", nil)
	assert.Equal(t, types.Deny, d)

	d2, _ := e.Check(ipc.ServiceID(1), "logd.debug_dump", map[string]string{"foreground": "true"})
	assert.Equal(t, types.Allow, d2)
}

func TestInvalidArgOnOversizedAction(t *testing.T) {
	e := New(mustCompile(t, "rules: []", nil), nil)
	longAction := make([]byte, 200)
	for i := range longAction {
		longAction[i] = 'a'
	}
	d, reason := e.Check(ipc.ServiceID(1), string(longAction), nil)
	assert.Equal(t, types.Deny, d)
	assert.Equal(t, "invalid_arg", reason)
}

type fakeAudit struct {
	calls int
}

func (f *fakeAudit) Append(sender ipc.ServiceID, level types.LogLevel, scope, message string, fieldsBlob []byte) error {
	f.calls++
	return nil
}

func TestEveryCheckEmitsAudit(t *testing.T) {
	audit := &fakeAudit{}
	e := New(mustCompile(t, "rules: []", nil), audit)
	e.Check(ipc.ServiceID(1), "x", nil)
	e.Check(ipc.ServiceID(1), "y", nil)
	assert.Equal(t, 2, audit.calls)
}
