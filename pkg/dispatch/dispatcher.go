// Package dispatch routes one classified message to exactly one handler path and keeps
// handler failures from reaching the session record.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/artifact"
	"epichat-be/pkg/capability"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/metrics"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"
	"epichat-be/pkg/workflow/transition"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const module = "DISPATCH"

// Route names the handler path a message took
type Route string

const (
	RouteClarification Route = "clarification"
	RouteWorkflow      Route = "workflow_stage"
	RouteCapability    Route = "capability"
	RouteExecution     Route = "execution_tool"
)

// DefaultThreshold is the confidence below which an intent is treated as ambiguous
const DefaultThreshold = 0.6

// FailureReply is shown when a handler failed. The session is left as it was.
const FailureReply = "Something went wrong while handling that request. Nothing was changed, please try again."

// Response is the outcome of one dispatch. State is the record to persist.
type Response struct {
	Route     Route
	Handler   string
	Reply     string
	Artifacts []artifact.Artifact
	State     *store.State
	Failed    bool
	Outcome   workflow.OutcomeKind
	Handoff   *transition.Handoff
}

// Config holds the dispatcher policy values
type Config struct {
	Threshold float64
	Limits    store.Limits
}

type Dispatcher struct {
	capabilities *capability.Registry
	workflows    *workflow.Registry
	manager      *transition.Manager
	cfg          Config
	recorder     metrics.Recorder
	logger       logger.ILogger
	now          func() time.Time
}

func NewDispatcher(
	capabilities *capability.Registry,
	workflows *workflow.Registry,
	manager *transition.Manager,
	cfg Config,
	recorder metrics.Recorder,
	log logger.ILogger,
) *Dispatcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Dispatcher{
		capabilities: capabilities,
		workflows:    workflows,
		manager:      manager,
		cfg:          cfg,
		recorder:     recorder,
		logger:       log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Threshold returns the configured ambiguity threshold
func (d *Dispatcher) Threshold() float64 {
	return d.cfg.Threshold
}

// Plan picks the handler path for an intent without running it. First match wins:
// ambiguity, active workflow transition, exact structured capability, execution tool.
func (d *Dispatcher) Plan(in intent.Intent, state *store.State) (Route, string) {
	if in.Ambiguous(d.cfg.Threshold) {
		return RouteClarification, ""
	}
	if state.InWorkflow() {
		if def, ok := d.workflows.Lookup(state.Workflow); ok && def.Handles(in.Type) {
			return RouteWorkflow, def.Name
		}
	}
	if c, ok := d.capabilities.Route(in.Type); ok {
		return RouteCapability, c.Descriptor().Name
	}
	if fb, ok := d.capabilities.Fallback(); ok {
		return RouteExecution, fb.Descriptor().Name
	}
	return RouteClarification, ""
}

// Dispatch runs exactly one handler path for the message. The input state is never
// mutated; the returned Response carries the state to persist.
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent, state *store.State, message string) *Response {
	ctx, span := otel.Tracer("epichat/dispatch").Start(ctx, "dispatch.Dispatch")
	defer span.End()

	route, handler := d.Plan(in, state)
	span.SetAttributes(
		attribute.String("dispatch.route", string(route)),
		attribute.String("dispatch.handler", handler),
	)

	resp := &Response{Route: route, Handler: handler}
	working := state.Clone()
	at := d.now()

	err := d.guard(func() error {
		switch route {
		case RouteClarification:
			resp.Reply = d.clarification(in, working)
			return nil
		case RouteWorkflow:
			return d.runWorkflow(ctx, in, working, at, resp)
		default:
			return d.runCapability(ctx, in, working, message, at, resp)
		}
	})

	if err != nil {
		d.recorder.IncHandlerFailure(string(route))
		d.logger.Error(module, "HandlerFailure", map[string]interface{}{
			"session_id": state.SessionID,
			"intent":     in.Type,
			"route":      route,
			"handler":    handler,
			"workflow":   state.Workflow,
			"stage":      state.Stage,
			"error":      err.Error(),
		})
		working = state.Clone()
		resp.Failed = true
		resp.Reply = FailureReply
		resp.Artifacts = nil
		resp.Handoff = nil
		resp.Outcome = ""
	}

	working.AppendMessage(store.RoleUser, message, at, d.cfg.Limits.History)
	working.AppendMessage(store.RoleAssistant, resp.Reply, at, d.cfg.Limits.History)
	working.UpdatedAt = at
	resp.State = working

	d.recorder.ObserveRoute(string(route))
	d.logger.Debug(module, "Message dispatched", map[string]interface{}{
		"session_id": state.SessionID,
		"intent":     in.Type,
		"route":      route,
		"handler":    handler,
		"failed":     resp.Failed,
	})
	return resp
}

// guard converts a handler panic into an error so the caller can roll back
func (d *Dispatcher) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func (d *Dispatcher) runWorkflow(ctx context.Context, in intent.Intent, state *store.State, at time.Time, resp *Response) error {
	def, ok := d.workflows.Lookup(state.Workflow)
	if !ok {
		return fmt.Errorf("%w: %q", workflow.ErrUnknownWorkflow, state.Workflow)
	}

	outcome := def.Apply(state, in, at)
	resp.Outcome = outcome.Kind

	switch outcome.Kind {
	case workflow.Completed:
		h := d.manager.Complete(ctx, def.Name, state)
		resp.Handoff = h
		resp.Reply = h.Reply
		resp.Artifacts = h.Artifacts
	case workflow.Exited:
		resp.Reply = d.manager.Exit(state, "user request")
	default:
		resp.Reply = outcome.Reply
	}
	return d.workflows.Legal(state)
}

func (d *Dispatcher) runCapability(ctx context.Context, in intent.Intent, state *store.State, message string, at time.Time, resp *Response) error {
	c, ok := d.capabilities.Lookup(resp.Handler)
	if !ok {
		return fmt.Errorf("capability %q is not registered", resp.Handler)
	}

	res, err := c.Handle(ctx, &capability.Request{Intent: in, Message: message, State: state, At: at})
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("capability %q returned no result", resp.Handler)
	}
	resp.Reply = res.Reply
	resp.Artifacts = res.Artifacts
	return d.workflows.Legal(state)
}

func (d *Dispatcher) clarification(in intent.Intent, state *store.State) string {
	var b strings.Builder
	if suggestion, ok := suggestions[in.Type]; ok {
		fmt.Fprintf(&b, "I'm not sure I understood. Did you want to %s?", suggestion)
	} else {
		b.WriteString("I'm not sure what you'd like to do.")
	}

	if def, ok := d.workflows.Lookup(state.Workflow); ok && state.InWorkflow() {
		fmt.Fprintf(&b, "\n%s\nYou can also ask why this step matters, say \"restart\" or \"exit\".", def.Prompt(state.Stage))
		return b.String()
	}
	fmt.Fprintf(&b, " You can ask a question about your data, start a workflow (%s), or ask for help.",
		strings.Join(d.workflows.Names(), ", "))
	return b.String()
}

var suggestions = map[intent.Type]string{
	intent.StartWorkflow:       "start a guided workflow",
	intent.SelectOption:        "pick one of the options",
	intent.AskInfo:             "know more about this step",
	intent.ExitWorkflow:        "leave the workflow",
	intent.RestartWorkflow:     "start the workflow over",
	intent.DescribeData:        "see which data is attached",
	intent.ListWorkflows:       "see the available workflows",
	intent.ConversationSummary: "get a recap of our conversation",
	intent.Help:                "know what I can do",
	intent.Analyze:             "run an analysis on your data",
}
