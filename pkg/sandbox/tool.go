package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/artifact"
	"epichat-be/pkg/capability"
	"epichat-be/pkg/dataset"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/llm"
	"epichat-be/pkg/metrics"
)

const module = "SANDBOX"

// ToolName is the name the execution tool is registered and routed under
const ToolName = "execution_tool"

// Status of an execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind classifies a failed execution
type ErrorKind string

const (
	KindViolation  ErrorKind = "violation"
	KindTimeout    ErrorKind = "timeout"
	KindRuntime    ErrorKind = "runtime"
	KindGeneration ErrorKind = "generation"
	KindData       ErrorKind = "data"
	KindResource   ErrorKind = "resource_limit"
)

// TimeoutReply is the degraded answer when an execution exceeds its bound
const TimeoutReply = "This is taking too long. Try a narrower request, for example one column, one group or a shorter period."

// Result is the classified outcome of one request
type Result struct {
	Status    Status
	Output    string
	Artifacts []artifact.Artifact
	ErrorKind ErrorKind
	// Violation names the denied class when ErrorKind is KindViolation
	Violation string
	Code      string
	Attempts  int
}

// Config bounds an execution
type Config struct {
	// Timeout caps generation plus interpretation. Zero means 10s.
	Timeout time.Duration
	// Overhead is kept back from the caller's deadline for persisting and replying
	Overhead  time.Duration
	Attempts  int
	MaxOutput int
	// MaxMemory caps each worker's memory growth in bytes. Zero means DefaultMemoryBytes.
	MaxMemory uint64
}

// Tool is the general-purpose fallback: it writes an analysis program for the request
// and runs it under the Policy.
type Tool struct {
	policy    *Policy
	generator *Generator
	executor  *Executor
	catalog   dataset.Catalog
	cfg       Config
	recorder  metrics.Recorder
	logger    logger.ILogger
}

var _ capability.Capability = (*Tool)(nil)

func NewTool(policy *Policy, provider llm.LLMProvider, catalog dataset.Catalog, cfg Config, recorder metrics.Recorder, log logger.ILogger) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Tool{
		policy:    policy,
		generator: NewGenerator(provider, policy),
		executor:  NewExecutor(policy, Limits{MaxOutput: cfg.MaxOutput, MemoryBytes: cfg.MaxMemory}),
		catalog:   catalog,
		cfg:       cfg,
		recorder:  recorder,
		logger:    log,
	}
}

// Policy returns the allow-list the tool enforces
func (t *Tool) Policy() *Policy {
	return t.policy
}

// Descriptor advertises exactly what the Policy allows
func (t *Tool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        ToolName,
		Intent:      intent.Analyze,
		Description: "Writes and runs a short sandboxed analysis over the attached data. " + t.policy.Summary(),
		Operations:  t.policy.Operations(),
	}
}

// Budget is the time an execution may take under ctx
func (t *Tool) Budget(ctx context.Context) time.Duration {
	budget := t.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline) - t.cfg.Overhead; remaining < budget {
			budget = remaining
		}
	}
	return budget
}

// Execute generates and runs an analysis. It always returns a Result; a program that
// never finishes yields a timeout Result within the budget.
func (t *Tool) Execute(ctx context.Context, request string, schemas []*dataset.Schema, dataRef string) *Result {
	start := time.Now()
	budget := t.Budget(ctx)

	res := t.execute(ctx, request, schemas, dataRef, budget)

	t.recorder.ObserveSandbox(string(res.Status), string(res.ErrorKind), time.Since(start))
	fields := map[string]interface{}{
		"status":     res.Status,
		"error_kind": res.ErrorKind,
		"violation":  res.Violation,
		"attempts":   res.Attempts,
		"data_ref":   dataRef,
		"budget_ms":  budget.Milliseconds(),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	switch res.ErrorKind {
	case KindViolation:
		t.logger.Warn(module, "SandboxViolation", fields)
	case "":
		t.logger.Info(module, "Analysis executed", fields)
	default:
		t.logger.Warn(module, "Analysis failed", fields)
	}
	return res
}

func (t *Tool) execute(ctx context.Context, request string, schemas []*dataset.Schema, dataRef string, budget time.Duration) *Result {
	if budget <= 0 {
		return &Result{Status: StatusError, ErrorKind: KindTimeout, Output: TimeoutReply}
	}
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		done <- t.attempt(execCtx, request, schemas, dataRef)
	}()

	select {
	case res := <-done:
		return res
	case <-execCtx.Done():
		return &Result{Status: StatusError, ErrorKind: KindTimeout, Output: TimeoutReply}
	}
}

func (t *Tool) attempt(ctx context.Context, request string, schemas []*dataset.Schema, dataRef string) *Result {
	var frame *dataset.Frame
	if dataRef != "" {
		f, err := t.catalog.Load(ctx, dataRef)
		if err != nil {
			return &Result{Status: StatusError, ErrorKind: KindData, Output: fmt.Sprintf("I couldn't load the attached data (%s).", dataRef)}
		}
		frame = f
	}

	described := make([]string, 0, len(schemas))
	for _, s := range schemas {
		described = append(described, s.Describe())
	}

	var (
		feedback string
		res      = &Result{Status: StatusError}
	)
	for res.Attempts < t.cfg.Attempts {
		res.Attempts++
		code, err := t.generator.Generate(ctx, request, described, feedback)
		if err != nil {
			return t.classify(ctx, res, err)
		}
		res.Code = code

		exec, err := t.executor.Run(ctx, code, frame)
		if err == nil {
			res.Status = StatusSuccess
			res.Output = exec.Output
			res.Artifacts = exec.Artifacts
			return res
		}

		var violation *ViolationError
		retryable := (errors.Is(err, ErrInvalidProgram) || errors.Is(err, ErrRuntime)) && !errors.As(err, &violation)
		if !retryable || ctx.Err() != nil || res.Attempts >= t.cfg.Attempts {
			return t.classify(ctx, res, err)
		}
		feedback = err.Error()
	}
	return res
}

func (t *Tool) classify(ctx context.Context, res *Result, err error) *Result {
	res.Status = StatusError
	var violation *ViolationError
	switch {
	case errors.As(err, &violation):
		res.ErrorKind = KindViolation
		res.Violation = violation.Class.Name
		res.Output = fmt.Sprintf("I can't run that analysis: it needs %s (%s), which the analysis sandbox does not allow. Try rephrasing it in terms of the attached data and statistics.",
			violation.Class.Name, violation.Class.Reason)
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		res.ErrorKind = KindTimeout
		res.Output = TimeoutReply
	case errors.Is(err, ErrNoGenerator):
		res.ErrorKind = KindGeneration
		res.Output = "Free-form analysis is not available because no language model is configured. You can still describe your data or run a guided workflow."
	case errors.Is(err, ErrResourceLimit):
		res.ErrorKind = KindResource
		res.Output = "The analysis was stopped because it used more memory or CPU than the sandbox allows. Try a narrower request, for example one column or one group."
	case errors.Is(err, ErrRuntime):
		res.ErrorKind = KindRuntime
		res.Output = "The analysis failed: " + strings.TrimPrefix(err.Error(), ErrRuntime.Error()+": ")
	default:
		res.ErrorKind = KindGeneration
		res.Output = "I couldn't write an analysis for that request. Try rephrasing it."
	}
	return res
}

// Handle runs the tool as the dispatcher's fallback capability. Only schemas are passed
// to the generator; values are read by the bridge at run time.
func (t *Tool) Handle(ctx context.Context, req *capability.Request) (*capability.Result, error) {
	var (
		schemas []*dataset.Schema
		dataRef string
	)
	for _, ref := range req.State.DataRefs {
		s, err := t.catalog.Describe(ctx, ref)
		if errors.Is(err, dataset.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", ref, err)
		}
		schemas = append(schemas, s)
		dataRef = ref
	}

	res := t.Execute(ctx, req.Message, schemas, dataRef)
	reply := res.Output
	if res.Status == StatusSuccess && reply == "" {
		reply = "The analysis ran but produced no output."
	}
	return &capability.Result{Reply: reply, Artifacts: res.Artifacts}, nil
}
