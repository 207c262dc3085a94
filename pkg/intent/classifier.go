package intent

import (
	"context"
	"errors"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/llm"
	"epichat-be/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const module = "INTENT"

// Options configures a Classifier
type Options struct {
	// Timeout bounds the model path. Zero means 3s.
	Timeout  time.Duration
	Digester *Digester
	Recorder metrics.Recorder
	Logger   logger.ILogger
	// Workflows resolves a workflow named in free text, used for start_workflow values
	Workflows func(text string) (string, bool)
}

// Classifier turns a message and its stage context into an Intent. Classify never
// returns an error: every failure degrades to the keyword baseline.
type Classifier struct {
	provider  llm.LLMProvider
	timeout   time.Duration
	digester  *Digester
	recorder  metrics.Recorder
	logger    logger.ILogger
	workflows func(string) (string, bool)
}

func NewClassifier(provider llm.LLMProvider, opts Options) *Classifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Classifier{
		provider:  provider,
		timeout:   opts.Timeout,
		digester:  opts.Digester,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		workflows: opts.Workflows,
	}
}

var errNoJSON = errors.New("model reply carried no usable intent")

// Classify runs the fast path, then the model path, then the baseline
func (c *Classifier) Classify(ctx context.Context, message string, sc StageContext) Intent {
	ctx, span := otel.Tracer("epichat/intent").Start(ctx, "intent.Classify")
	defer span.End()

	in := c.classify(ctx, message, sc)
	in = c.coerce(in, message, sc)

	span.SetAttributes(
		attribute.String("intent.type", string(in.Type)),
		attribute.String("intent.source", string(in.Source)),
		attribute.Float64("intent.confidence", in.Confidence),
	)
	c.recorder.ObserveClassification(string(in.Source), string(in.Type))
	c.logger.Debug(module, "Message classified", map[string]interface{}{
		"session_id": sc.SessionID,
		"type":       in.Type,
		"source":     in.Source,
		"confidence": in.Confidence,
		"value":      in.Value,
		"stage":      sc.Stage,
		"taxonomy":   TaxonomyVersion,
	})
	return in
}

func (c *Classifier) classify(ctx context.Context, message string, sc StageContext) Intent {
	if in, ok := fastPath(message, sc); ok {
		return in
	}
	if c.provider == nil {
		return baseline(message, sc, c.workflows)
	}

	in, err := c.modelPath(ctx, message, sc)
	if err == nil {
		return in
	}

	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		reason = "timeout"
	} else if errors.Is(err, errNoJSON) {
		reason = "invalid_reply"
	}
	c.recorder.IncClassificationFailure(reason)
	c.logger.Warn(module, "ClassificationFailure", map[string]interface{}{
		"session_id": sc.SessionID,
		"reason":     reason,
		"stage":      sc.Stage,
		"error":      err.Error(),
	})
	return baseline(message, sc, c.workflows)
}

// modelPath calls the provider in its own goroutine so a provider that ignores
// cancellation cannot hold the turn past the timeout.
func (c *Classifier) modelPath(ctx context.Context, message string, sc StageContext) (Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	digest := ""
	if c.digester != nil {
		digest = c.digester.Digest(sc.Facts, sc.History)
	}
	prompt := buildPrompt(message, sc, digest)

	type result struct {
		raw string
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := c.provider.Generate(callCtx, prompt, llm.WithTemperature(0.0))
		done <- result{raw: raw, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-callCtx.Done():
		return Intent{}, callCtx.Err()
	}
	if r.err != nil {
		return Intent{}, r.err
	}

	reply, err := parseReply(r.raw)
	if err != nil {
		return Intent{}, errors.Join(errNoJSON, err)
	}
	return Intent{
		Type:       Parse(reply.Intent),
		Confidence: reply.Confidence,
		Value:      reply.Value,
		Rationale:  reply.Rationale,
		Source:     SourceModel,
	}, nil
}

// coerce enforces the closed taxonomy at the boundary regardless of which tier answered
func (c *Classifier) coerce(in Intent, message string, sc StageContext) Intent {
	if !in.Type.Valid() {
		in.Type = Unclear
	}
	if in.Confidence < 0 {
		in.Confidence = 0
	}
	if in.Confidence > 1 {
		in.Confidence = 1
	}

	if in.Type.WorkflowScoped() && !sc.InWorkflow() {
		in.Rationale = "workflow intent outside a workflow: " + string(in.Type)
		in.Type = Unclear
		return in
	}

	switch in.Type {
	case SelectOption:
		if value, ok := Match(sc.Choices, in.Value); ok {
			in.Value = value
		} else if value, ok := Match(sc.Choices, message); ok {
			in.Value = value
		}
	case StartWorkflow:
		if c.workflows == nil {
			break
		}
		if name, ok := c.workflows(in.Value); ok && in.Value != "" {
			in.Value = name
		} else if name, ok := c.workflows(message); ok {
			in.Value = name
		}
	}
	return in
}
