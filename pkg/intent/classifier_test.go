package intent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/llm"
	"epichat-be/pkg/metrics"
	"epichat-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply  string
	err    error
	hang   chan struct{}
	calls  atomic.Int32
	prompt atomic.Value
}

func (f *fakeProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return f.Generate(ctx, history[len(history)-1].Content, options...)
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, _ ...llm.Option) (string, error) {
	f.calls.Add(1)
	f.prompt.Store(prompt)
	if f.hang != nil {
		// Ignores ctx on purpose: the classifier must not depend on the provider honouring it.
		<-f.hang
		return "", errors.New("released")
	}
	return f.reply, f.err
}

type failureCounter struct {
	metrics.Nop
	failures atomic.Int32
	reason   atomic.Value
}

func (f *failureCounter) IncClassificationFailure(reason string) {
	f.failures.Add(1)
	f.reason.Store(reason)
}

var geography = StageContext{
	SessionID: "s-1",
	Workflow:  "test_positivity",
	Stage:     "geography",
	Choices: []Choice{
		{Value: "county", Aliases: []string{"counties"}},
		{Value: "zip", Aliases: []string{"zip code"}},
		{Value: "tract", Aliases: []string{"census tract"}},
	},
}

func workflowsFinder(text string) (string, bool) {
	if strings.Contains(Normalize(text), "positivity") {
		return "test_positivity", true
	}
	return "", false
}

func TestFastPathSkipsModel(t *testing.T) {
	p := &fakeProvider{reply: `{"intent":"analyze","confidence":0.9}`}
	c := NewClassifier(p, Options{})

	for msg, want := range map[string]Intent{
		"County":       {Type: SelectOption, Value: "county"},
		"countyy":      {Type: SelectOption, Value: "county"},
		"census tract": {Type: SelectOption, Value: "tract"},
		"exit":         {Type: ExitWorkflow},
		"start over":   {Type: RestartWorkflow},
	} {
		got := c.Classify(context.Background(), msg, geography)
		assert.Equal(t, want.Type, got.Type, msg)
		assert.Equal(t, want.Value, got.Value, msg)
		assert.Equal(t, 1.0, got.Confidence, msg)
		assert.Equal(t, SourceFastPath, got.Source, msg)
	}
	assert.Zero(t, p.calls.Load())
}

func TestModelPathParsesWrappedJSON(t *testing.T) {
	p := &fakeProvider{reply: "Sure!\n```json\n{\"intent\":\"ask_info\",\"confidence\":0.92,\"rationale\":\"asks why\"}\n```"}
	c := NewClassifier(p, Options{})

	got := c.Classify(context.Background(), "why does this matter?", geography)
	assert.Equal(t, AskInfo, got.Type)
	assert.Equal(t, SourceModel, got.Source)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)

	prompt := p.prompt.Load().(string)
	assert.Contains(t, prompt, "CURRENT_STAGE: geography")
	assert.Contains(t, prompt, TaxonomyVersion)
	assert.Contains(t, prompt, "- tract")
}

func TestModelLabelsAreCoerced(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		sc    StageContext
		want  Type
	}{
		{"unknown label", `{"intent":"book_flight","confidence":0.99}`, StageContext{}, Unclear},
		{"scoped outside workflow", `{"intent":"select_option","value":"county","confidence":0.95}`, StageContext{}, Unclear},
		{"scoped inside workflow", `{"intent":"select_option","value":"Counties","confidence":0.95}`, geography, SelectOption},
		{"label casing", `{"intent":"Describe-Data","confidence":0.8}`, StageContext{}, DescribeData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClassifier(&fakeProvider{reply: tc.reply}, Options{})
			got := c.Classify(context.Background(), "let me think about it", tc.sc)
			assert.Equal(t, tc.want, got.Type)
			if got.Type == SelectOption {
				assert.Equal(t, "county", got.Value)
			}
		})
	}
}

func TestConfidenceIsClamped(t *testing.T) {
	c := NewClassifier(&fakeProvider{reply: `{"intent":"analyze","confidence":7}`}, Options{})
	got := c.Classify(context.Background(), "compare the rates", StageContext{})
	assert.Equal(t, 1.0, got.Confidence)
}

func TestModelTimeoutFallsBackWithinBound(t *testing.T) {
	p := &fakeProvider{hang: make(chan struct{})}
	t.Cleanup(func() { close(p.hang) })

	log, logs := logger.NewObservedLogger()
	rec := &failureCounter{}
	c := NewClassifier(p, Options{Timeout: 50 * time.Millisecond, Logger: log, Recorder: rec})

	start := time.Now()
	got := c.Classify(context.Background(), "why does this matter?", geography)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, SourceHeuristic, got.Source)
	assert.Equal(t, AskInfo, got.Type)
	assert.Equal(t, int32(1), rec.failures.Load())
	assert.Equal(t, "timeout", rec.reason.Load())
	assert.Equal(t, 1, logs.FilterMessage("ClassificationFailure").Len())
}

func TestModelErrorAndGarbageFallBack(t *testing.T) {
	for name, p := range map[string]*fakeProvider{
		"error":   {err: errors.New("connection refused")},
		"garbage": {reply: "I think the user wants analysis"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := &failureCounter{}
			c := NewClassifier(p, Options{Recorder: rec, Workflows: workflowsFinder})
			got := c.Classify(context.Background(), "start test-positivity workflow", StageContext{})
			assert.Equal(t, StartWorkflow, got.Type)
			assert.Equal(t, "test_positivity", got.Value)
			assert.Equal(t, SourceHeuristic, got.Source)
			assert.Equal(t, int32(1), rec.failures.Load())
		})
	}
}

func TestStartWorkflowValueResolved(t *testing.T) {
	p := &fakeProvider{reply: `{"intent":"start_workflow","value":"Test Positivity","confidence":0.9}`}
	c := NewClassifier(p, Options{Workflows: workflowsFinder})
	got := c.Classify(context.Background(), "let's do positivity", StageContext{})
	assert.Equal(t, StartWorkflow, got.Type)
	assert.Equal(t, "test_positivity", got.Value)
}

func TestBaselineHeuristics(t *testing.T) {
	free := StageContext{}
	cases := []struct {
		msg  string
		sc   StageContext
		want Type
	}{
		{"which workflows are available?", free, ListWorkflows},
		{"can you summarize our conversation so far", free, ConversationSummary},
		{"what columns are in my dataset", free, DescribeData},
		{"help", free, Help},
		{"begin positivity", free, StartWorkflow},
		{"what is the mean positivity by county", free, Analyze},
		{"run a t test between the two groups", free, Analyze},
		{"hello there", free, Unclear},
		{"", free, Unclear},
		{"why does this matter?", geography, AskInfo},
		{"I'd like to stop now", geography, ExitWorkflow},
		{"let's reset", geography, RestartWorkflow},
		{"let's go with census tract please", geography, SelectOption},
	}
	for _, tc := range cases {
		got := baseline(tc.msg, tc.sc, workflowsFinder)
		assert.Equal(t, tc.want, got.Type, tc.msg)
		assert.Equal(t, SourceHeuristic, got.Source)
	}
}

func TestDigestStaysWithinBudget(t *testing.T) {
	d, err := NewDigester(60)
	require.NoError(t, err)

	var history []store.Message
	for i := 0; i < 40; i++ {
		history = append(history, store.Message{Role: store.RoleUser, Content: "please compute the weekly positivity for every county in the state"})
	}
	facts := []store.Fact{{Key: "workflow:test_positivity", Value: "geography=county"}}

	digest := d.Digest(facts, history)
	assert.Contains(t, digest, "workflow:test_positivity")
	assert.LessOrEqual(t, d.Count(digest), 60+10)
	assert.Less(t, strings.Count(digest, "please compute"), 40)
	assert.Greater(t, strings.Count(digest, "please compute"), 0)
}
