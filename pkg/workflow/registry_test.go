package workflow

import (
	"testing"
	"time"

	"epichat-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDeclarations(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)
	assert.Equal(t, []string{"test_positivity", "risk_scoring", "resource_allocation"}, r.Names())

	succ := r.Successors()
	assert.Equal(t, Handoff{Successor: "risk_scoring", AutoStart: true}, succ["test_positivity"])
	assert.Equal(t, Handoff{Successor: "resource_allocation"}, succ["risk_scoring"])
	_, ok := succ["resource_allocation"]
	assert.False(t, ok)
}

func TestResolveAndFind(t *testing.T) {
	r := MustBuiltin()

	d, ok := r.Resolve("Test-Positivity")
	require.True(t, ok)
	assert.Equal(t, "test_positivity", d.Name)

	d, ok = r.Resolve("risk scorng")
	require.True(t, ok)
	assert.Equal(t, "risk_scoring", d.Name)

	d, ok = r.Find("please start test-positivity workflow")
	require.True(t, ok)
	assert.Equal(t, "test_positivity", d.Name)

	_, ok = r.Find("what is the weather")
	assert.False(t, ok)
}

func TestMentioned(t *testing.T) {
	r := MustBuiltin()

	name, ok := r.Mentioned("Risk Scoring")
	require.True(t, ok)
	assert.Equal(t, "risk_scoring", name)

	name, ok = r.Mentioned("let's begin the allocation")
	require.True(t, ok)
	assert.Equal(t, "resource_allocation", name)

	_, ok = r.Mentioned("")
	assert.False(t, ok)
}

func TestLegal(t *testing.T) {
	r := MustBuiltin()
	now := time.Now()

	s := store.NewState("a", now)
	assert.NoError(t, r.Legal(s))

	s.Stage = "period"
	assert.ErrorIs(t, r.Legal(s), ErrIllegalStage)

	s.Workflow = "risk_scoring"
	assert.ErrorIs(t, r.Legal(s), ErrIllegalStage)

	s.Workflow = "nope"
	assert.ErrorIs(t, r.Legal(s), ErrUnknownWorkflow)

	s.Workflow = "test_positivity"
	assert.NoError(t, r.Legal(s))
}

func TestParseRejectsBadDeclarations(t *testing.T) {
	cases := map[string]string{
		"unknown successor": `
workflows:
  - name: a
    handoff: {successor: b}
    stages:
      - name: x
        options: [{value: "1"}]
`,
		"auto-start loop": `
workflows:
  - name: a
    handoff: {successor: b, auto_start: true}
    stages:
      - name: x
        options: [{value: "1"}]
  - name: b
    handoff: {successor: a, auto_start: true}
    stages:
      - name: y
        options: [{value: "1"}]
`,
		"reserved stage": `
workflows:
  - name: a
    stages:
      - name: complete
        options: [{value: "1"}]
`,
		"open stage": `
workflows:
  - name: a
    stages:
      - name: x
`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParseAllowsManualCycle(t *testing.T) {
	raw := `
workflows:
  - name: a
    handoff: {successor: b}
    stages:
      - name: x
        options: [{value: "1"}]
  - name: b
    handoff: {successor: a}
    stages:
      - name: y
        options: [{value: "1"}]
`
	_, err := Parse([]byte(raw))
	assert.NoError(t, err)
}
