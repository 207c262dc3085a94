package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/capability"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"
	"epichat-be/pkg/workflow/transition"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCapability struct {
	desc  capability.Descriptor
	calls *atomic.Int32
	fn    func(req *capability.Request) (*capability.Result, error)
}

func (c countingCapability) Descriptor() capability.Descriptor { return c.desc }

func (c countingCapability) Handle(_ context.Context, req *capability.Request) (*capability.Result, error) {
	c.calls.Add(1)
	if c.fn != nil {
		return c.fn(req)
	}
	return &capability.Result{Reply: c.desc.Name}, nil
}

type fixture struct {
	d         *Dispatcher
	calls     *atomic.Int32
	workflows *workflow.Registry
}

func newFixture(t *testing.T, extra ...capability.Capability) *fixture {
	t.Helper()
	workflows := workflow.MustBuiltin()
	manager := transition.NewManager(workflows, nil, store.DefaultLimits, logger.NewNopLogger())
	calls := &atomic.Int32{}

	registry := capability.NewRegistry()
	for _, c := range extra {
		require.NoError(t, registry.Register(c))
	}
	for _, desc := range []capability.Descriptor{
		{Name: "list_workflows", Intent: intent.ListWorkflows},
		{Name: "help", Intent: intent.Help},
	} {
		if _, taken := registry.Route(desc.Intent); !taken {
			require.NoError(t, registry.Register(countingCapability{desc: desc, calls: calls}))
		}
	}
	registry.SetFallback(countingCapability{
		desc:  capability.Descriptor{Name: "execution_tool", Intent: intent.Analyze, Operations: []string{"mean", "ttest"}},
		calls: calls,
	})

	d := NewDispatcher(registry, workflows, manager, Config{Threshold: 0.6}, nil, logger.NewNopLogger())
	return &fixture{d: d, calls: calls, workflows: workflows}
}

func inWorkflow(t *testing.T, f *fixture, stage string, selections ...store.Selection) *store.State {
	t.Helper()
	s := store.NewState("s-1", time.Now())
	s.Workflow = "test_positivity"
	s.Stage = stage
	s.Selections = selections
	require.NoError(t, f.workflows.Legal(s))
	return s
}

func TestPlanPriority(t *testing.T) {
	f := newFixture(t)
	free := store.NewState("s-1", time.Now())
	guided := inWorkflow(t, f, "geography")

	cases := []struct {
		name    string
		in      intent.Intent
		state   *store.State
		route   Route
		handler string
	}{
		{"low confidence beats everything", intent.Intent{Type: intent.Help, Confidence: 0.59}, guided, RouteClarification, ""},
		{"unclear is always ambiguous", intent.Intent{Type: intent.Unclear, Confidence: 1}, free, RouteClarification, ""},
		{"workflow transition", intent.Intent{Type: intent.SelectOption, Value: "zip", Confidence: 1}, guided, RouteWorkflow, "test_positivity"},
		{"capability inside workflow", intent.Intent{Type: intent.Help, Confidence: 0.9}, guided, RouteCapability, "help"},
		{"capability in free form", intent.Intent{Type: intent.ListWorkflows, Confidence: 0.9}, free, RouteCapability, "list_workflows"},
		{"unclaimed intent goes to tool", intent.Intent{Type: intent.Analyze, Confidence: 0.9}, guided, RouteExecution, "execution_tool"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			route, handler := f.d.Plan(tc.in, tc.state)
			assert.Equal(t, tc.route, route)
			assert.Equal(t, tc.handler, handler)
		})
	}
}

func TestAtMostOneHandlerPerMessage(t *testing.T) {
	for _, in := range []intent.Intent{
		{Type: intent.Help, Confidence: 0.9},
		{Type: intent.ListWorkflows, Confidence: 0.9},
		{Type: intent.Analyze, Confidence: 0.9},
		{Type: intent.DescribeData, Confidence: 0.9},
	} {
		f := newFixture(t)
		resp := f.d.Dispatch(context.Background(), in, store.NewState("s-1", time.Now()), "msg")
		assert.Equal(t, int32(1), f.calls.Load(), in.Type)
		assert.False(t, resp.Failed)
	}

	f := newFixture(t)
	resp := f.d.Dispatch(context.Background(), intent.Intent{Type: intent.Unclear}, store.NewState("s-1", time.Now()), "hmm")
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, RouteClarification, resp.Route)
}

func TestLowConfidenceNeverMutates(t *testing.T) {
	f := newFixture(t)
	before := inWorkflow(t, f, "geography")

	resp := f.d.Dispatch(context.Background(), intent.Intent{Type: intent.SelectOption, Value: "zip", Confidence: 0.3}, before, "zip maybe")

	assert.Equal(t, RouteClarification, resp.Route)
	assert.Contains(t, resp.Reply, "pick one of the options")
	assert.Contains(t, resp.Reply, "county, zip, tract")
	assert.Equal(t, "geography", resp.State.Stage)
	assert.Empty(t, resp.State.Selections)
	assert.Len(t, resp.State.History, 2)
	assert.Empty(t, before.History)
}

func TestAskInfoKeepsStage(t *testing.T) {
	f := newFixture(t)
	sel := store.Selection{Stage: "geography", Value: "county", At: time.Now()}
	before := inWorkflow(t, f, "period", sel)

	resp := f.d.Dispatch(context.Background(), intent.Intent{Type: intent.AskInfo, Confidence: 0.9}, before, "why does this matter?")

	assert.Equal(t, RouteWorkflow, resp.Route)
	assert.Equal(t, workflow.Informed, resp.Outcome)
	assert.Equal(t, "period", resp.State.Stage)
	assert.Equal(t, []store.Selection{sel}, resp.State.Selections)
	assert.Contains(t, resp.Reply, "Options: weekly, monthly")
}

func TestCompletionHandsOffThroughManager(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	before := inWorkflow(t, f, "confirm",
		store.Selection{Stage: "geography", Value: "county", At: now},
		store.Selection{Stage: "period", Value: "weekly", At: now},
		store.Selection{Stage: "threshold", Value: "10", At: now},
	)

	resp := f.d.Dispatch(context.Background(), intent.Intent{Type: intent.SelectOption, Value: "yes", Confidence: 1}, before, "yes")

	assert.Equal(t, workflow.Completed, resp.Outcome)
	require.NotNil(t, resp.Handoff)
	assert.True(t, resp.Handoff.Started)
	assert.Equal(t, "risk_scoring", resp.State.Workflow)
	assert.Equal(t, "indicators", resp.State.Stage)
	assert.NotEmpty(t, resp.Artifacts)
	_, ok := resp.State.Fact(transition.FactKey("test_positivity"))
	assert.True(t, ok)
}

func TestExitReturnsToFreeForm(t *testing.T) {
	f := newFixture(t)
	before := inWorkflow(t, f, "period", store.Selection{Stage: "geography", Value: "zip", At: time.Now()})

	resp := f.d.Dispatch(context.Background(), intent.Intent{Type: intent.ExitWorkflow, Confidence: 1}, before, "exit")

	assert.Equal(t, workflow.Exited, resp.Outcome)
	assert.False(t, resp.State.InWorkflow())
	assert.Empty(t, resp.State.Stage)
	assert.Empty(t, resp.State.Selections)
	assert.Contains(t, resp.Reply, "Left Test positivity")
}

func TestHandlerFailureRollsBack(t *testing.T) {
	calls := &atomic.Int32{}
	failing := countingCapability{
		desc:  capability.Descriptor{Name: "describe_data", Intent: intent.DescribeData},
		calls: calls,
		fn: func(req *capability.Request) (*capability.Result, error) {
			req.State.PutFact("partial", "write", time.Now(), 0)
			req.State.AttachData("half.csv")
			return nil, errors.New("catalog offline")
		},
	}
	panicking := countingCapability{
		desc:  capability.Descriptor{Name: "summary", Intent: intent.ConversationSummary},
		calls: calls,
		fn: func(req *capability.Request) (*capability.Result, error) {
			req.State.Workflow = "risk_scoring"
			panic("nil map")
		},
	}

	for _, in := range []intent.Intent{
		{Type: intent.DescribeData, Confidence: 0.9},
		{Type: intent.ConversationSummary, Confidence: 0.9},
	} {
		t.Run(string(in.Type), func(t *testing.T) {
			f := newFixture(t, failing, panicking)
			before := inWorkflow(t, f, "period", store.Selection{Stage: "geography", Value: "zip", At: time.Now()})
			snapshot := before.Clone()

			resp := f.d.Dispatch(context.Background(), in, before, "what now")

			assert.True(t, resp.Failed)
			assert.Equal(t, FailureReply, resp.Reply)
			ignoreHistory := cmpopts.IgnoreFields(store.State{}, "History", "UpdatedAt")
			assert.Empty(t, cmp.Diff(snapshot, resp.State, ignoreHistory))
			assert.Empty(t, cmp.Diff(snapshot, before))
			require.Len(t, resp.State.History, 2)
			assert.Equal(t, "what now", resp.State.History[0].Content)
		})
	}
}

func TestHistoryOrderAcrossTurns(t *testing.T) {
	f := newFixture(t)
	s := store.NewState("s-1", time.Now())
	for _, msg := range []string{"one", "two", "three"} {
		s = f.d.Dispatch(context.Background(), intent.Intent{Type: intent.Help, Confidence: 1}, s, msg).State
	}
	require.Len(t, s.History, 6)
	assert.Equal(t, "one", s.History[0].Content)
	assert.Equal(t, "two", s.History[2].Content)
	assert.Equal(t, "three", s.History[4].Content)
	assert.Equal(t, store.RoleAssistant, s.History[5].Role)
}
