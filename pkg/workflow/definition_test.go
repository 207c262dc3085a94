package workflow

import (
	"testing"
	"time"

	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func positivity(t *testing.T) (*Registry, *Definition) {
	t.Helper()
	r := MustBuiltin()
	d, ok := r.Lookup("test_positivity")
	require.True(t, ok)
	return r, d
}

func enter(d *Definition) *store.State {
	s := store.NewState("s-1", time.Now())
	s.Workflow = d.Name
	s.Stage = d.InitialStage()
	return s
}

func selectOption(v string) intent.Intent {
	return intent.Intent{Type: intent.SelectOption, Value: v, Confidence: 1}
}

func TestApplyAdvancesThroughStages(t *testing.T) {
	r, d := positivity(t)
	s := enter(d)

	out := d.Apply(s, selectOption("County"), time.Now())
	assert.Equal(t, Advanced, out.Kind)
	assert.Equal(t, "period", s.Stage)
	assert.Contains(t, out.Reply, "weekly")

	out = d.Apply(s, selectOption("monthly"), time.Now())
	assert.Equal(t, "threshold", out.Stage)

	out = d.Apply(s, selectOption("10%"), time.Now())
	assert.Equal(t, "confirm", out.Stage)
	require.NoError(t, r.Legal(s))

	out = d.Apply(s, selectOption("yes"), time.Now())
	assert.Equal(t, Completed, out.Kind)
	assert.True(t, d.IsTerminal(s.Stage))
	require.NoError(t, r.Legal(s))

	assert.Equal(t, "geography=county; period=monthly; threshold=10; confirm=yes", Summary(s.Selections))
}

func TestApplyInvalidValueStaysAndClarifies(t *testing.T) {
	_, d := positivity(t)
	s := enter(d)

	out := d.Apply(s, selectOption("planet"), time.Now())
	assert.Equal(t, Stayed, out.Kind)
	assert.Equal(t, "geography", s.Stage)
	assert.Empty(t, s.Selections)
	assert.Contains(t, out.Reply, "county, zip, tract")
}

func TestApplyAskInfoKeepsStageAndSelections(t *testing.T) {
	_, d := positivity(t)
	s := enter(d)
	d.Apply(s, selectOption("zip"), time.Now())
	before := append([]store.Selection(nil), s.Selections...)

	out := d.Apply(s, intent.Intent{Type: intent.AskInfo, Confidence: 0.9}, time.Now())
	assert.Equal(t, Informed, out.Kind)
	assert.Equal(t, "period", s.Stage)
	assert.Equal(t, before, s.Selections)
	assert.Contains(t, out.Reply, "Weekly periods")
}

func TestApplyRestartClearsSelections(t *testing.T) {
	_, d := positivity(t)
	s := enter(d)
	d.Apply(s, selectOption("tract"), time.Now())

	out := d.Apply(s, intent.Intent{Type: intent.RestartWorkflow, Confidence: 1}, time.Now())
	assert.Equal(t, Restarted, out.Kind)
	assert.Equal(t, "geography", s.Stage)
	assert.Empty(t, s.Selections)
}

func TestApplyConfirmNoRestarts(t *testing.T) {
	_, d := positivity(t)
	s := enter(d)
	for _, v := range []string{"county", "weekly", "5"} {
		d.Apply(s, selectOption(v), time.Now())
	}

	out := d.Apply(s, selectOption("nope"), time.Now())
	assert.Equal(t, Restarted, out.Kind)
	assert.Equal(t, d.InitialStage(), s.Stage)
	assert.Empty(t, s.Selections)
}

func TestApplyExitLeavesClearingToCaller(t *testing.T) {
	_, d := positivity(t)
	s := enter(d)

	out := d.Apply(s, intent.Intent{Type: intent.ExitWorkflow, Confidence: 1}, time.Now())
	assert.Equal(t, Exited, out.Kind)
	assert.Equal(t, d.Name, s.Workflow)
}

func TestApplyUnrecognisedIntentNeverFails(t *testing.T) {
	_, d := positivity(t)
	s := enter(d)

	for _, typ := range []intent.Type{intent.Analyze, intent.Help, intent.Unclear, intent.Type("bogus")} {
		out := d.Apply(s, intent.Intent{Type: typ, Confidence: 1}, time.Now())
		assert.Equal(t, Stayed, out.Kind, typ)
		assert.Equal(t, "geography", s.Stage)
	}
}

func TestHandles(t *testing.T) {
	_, d := positivity(t)
	assert.True(t, d.Handles(intent.SelectOption))
	assert.True(t, d.Handles(intent.AskInfo))
	assert.False(t, d.Handles(intent.Analyze))
	assert.False(t, d.Handles(intent.StartWorkflow))
}
