package transition

import (
	"context"
	"errors"
	"testing"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/artifact"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRunner struct{}

func (failingRunner) Run(context.Context, string, []store.Selection, []string) (*RunResult, error) {
	return nil, errors.New("analysis backend down")
}

func runTo(t *testing.T, m *Manager, name string, values ...string) *store.State {
	t.Helper()
	s := store.NewState("sess", time.Now())
	d, err := m.Enter(s, name)
	require.NoError(t, err)
	for _, v := range values {
		d.Apply(s, intent.Intent{Type: intent.SelectOption, Value: v, Confidence: 1}, time.Now())
	}
	require.Equal(t, workflow.StageComplete, s.Stage)
	return s
}

func TestCompleteAutoStartsSuccessor(t *testing.T) {
	reg := workflow.MustBuiltin()
	m := NewManager(reg, nil, store.DefaultLimits, logger.NewNopLogger())
	s := runTo(t, m, "test_positivity", "county", "weekly", "10", "yes")

	h := m.Complete(context.Background(), "test_positivity", s)

	assert.True(t, h.Started)
	assert.Equal(t, "risk_scoring", h.Successor)
	assert.Equal(t, "risk_scoring", s.Workflow)
	assert.Equal(t, "indicators", s.Stage)
	assert.Empty(t, s.Selections)
	require.NoError(t, reg.Legal(s))

	summary, ok := s.Fact(FactKey("test_positivity"))
	require.True(t, ok)
	assert.Contains(t, summary, "geography=county")
	sel, ok := s.Fact(SelectionsFactKey("test_positivity"))
	require.True(t, ok)
	assert.Equal(t, "geography=county; period=weekly; threshold=10; confirm=yes", sel)

	require.Len(t, h.Artifacts, 1)
	assert.Equal(t, artifact.KindPlan, h.Artifacts[0].Kind)
	assert.Contains(t, h.Reply, "Risk scoring")
}

func TestCompleteSuggestsManualSuccessor(t *testing.T) {
	reg := workflow.MustBuiltin()
	m := NewManager(reg, nil, store.DefaultLimits, logger.NewNopLogger())
	s := runTo(t, m, "risk_scoring", "vulnerability", "ranked", "yes")

	h := m.Complete(context.Background(), "risk_scoring", s)

	assert.False(t, h.Started)
	assert.Equal(t, "resource_allocation", h.Successor)
	assert.False(t, s.InWorkflow())
	assert.Empty(t, s.Stage)
	assert.Contains(t, h.Reply, "start resource_allocation")
}

func TestCompleteLastWorkflowFallsBackToFreeForm(t *testing.T) {
	reg := workflow.MustBuiltin()
	m := NewManager(reg, nil, store.DefaultLimits, logger.NewNopLogger())
	s := runTo(t, m, "resource_allocation", "vaccines", "greedy", "yes")

	h := m.Complete(context.Background(), "resource_allocation", s)

	assert.Empty(t, h.Successor)
	assert.False(t, s.InWorkflow())
	assert.Empty(t, s.Selections)
	require.NoError(t, reg.Legal(s))
}

func TestCompleteRunnerFailureStillClears(t *testing.T) {
	reg := workflow.MustBuiltin()
	m := NewManager(reg, failingRunner{}, store.DefaultLimits, logger.NewNopLogger())
	s := runTo(t, m, "resource_allocation", "vaccines", "greedy", "yes")

	h := m.Complete(context.Background(), "resource_allocation", s)

	assert.False(t, s.InWorkflow())
	assert.Empty(t, h.Artifacts)
	assert.Contains(t, h.Reply, "could not run")
	_, ok := s.Fact(SelectionsFactKey("resource_allocation"))
	assert.True(t, ok)
}

func TestEnterAndExit(t *testing.T) {
	reg := workflow.MustBuiltin()
	m := NewManager(reg, nil, store.DefaultLimits, logger.NewNopLogger())
	s := store.NewState("sess", time.Now())

	_, err := m.Enter(s, "nope")
	assert.ErrorIs(t, err, workflow.ErrUnknownWorkflow)
	assert.False(t, s.InWorkflow())

	_, err = m.Enter(s, "risk_scoring")
	require.NoError(t, err)
	s.Select("indicators", "access", time.Now())

	_, err = m.Enter(s, "test_positivity")
	require.NoError(t, err)
	assert.Empty(t, s.Selections, "entering discards the previous run")
	assert.Equal(t, "geography", s.Stage)

	reply := m.Exit(s, "user request")
	assert.Contains(t, reply, "Test positivity")
	assert.False(t, s.InWorkflow())
	require.NoError(t, reg.Legal(s))
}
