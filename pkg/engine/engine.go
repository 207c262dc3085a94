// Package engine is the single inbound entry point. One call handles one message for one
// session: it serializes the turn on the session lease, classifies, dispatches and
// commits, and is the only layer that talks to the Session Store.
package engine

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
	"epichat-be/pkg/dispatch"
	"epichat-be/pkg/events"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/metrics"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"
	"epichat-be/pkg/workflow/transition"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const module = "ENGINE"

// DigestFactKey holds the rolling, token-bounded summary of the conversation
const DigestFactKey = "digest"

// SupersededReply is returned for a turn whose result was discarded
const SupersededReply = "A newer message for this conversation arrived first, so this one was skipped."

// ErrInvalidInput rejects requests that cannot name a session
var ErrInvalidInput = errors.New("invalid engine input")

// ModeHint lets a client force the conversation mode before classification
type ModeHint string

const (
	ModeAuto     ModeHint = ""
	ModeFreeform ModeHint = "freeform"
	ModeGuided   ModeHint = "guided"
)

// ParseModeHint accepts "", "freeform"/"free-form" and "guided"
func ParseModeHint(s string) (ModeHint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "freeform", "free-form", "free_form":
		return ModeFreeform, nil
	case "guided":
		return ModeGuided, nil
	}
	return ModeAuto, fmt.Errorf("%w: unknown mode hint %q", ErrInvalidInput, s)
}

type Inbound struct {
	SessionID string
	Text      string
	ModeHint  ModeHint
}

// StageInfo is what a client needs to render the current step
type StageInfo struct {
	Workflow   string            `json:"workflow,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	Prompt     string            `json:"prompt,omitempty"`
	Options    []string          `json:"options,omitempty"`
	Selections []store.Selection `json:"selections,omitempty"`
}

type Outbound struct {
	SessionID  string
	Turn       int64
	Reply      string
	Artifacts  []artifact.Artifact
	Stage      StageInfo
	Route      dispatch.Route
	Handler    string
	Intent     intent.Intent
	Superseded bool
}

type Config struct {
	Limits store.Limits
	// LockWait bounds how long a turn waits for the session lease. Zero means 5s.
	LockWait time.Duration
	// RequestTimeout bounds a whole turn. Zero leaves the caller's deadline alone.
	RequestTimeout time.Duration
}

// Deps are the collaborators of an Engine. Backend, Classifier, Dispatcher, Workflows,
// Capabilities and Manager are required.
type Deps struct {
	Backend      store.Backend
	Classifier   *intent.Classifier
	Dispatcher   *dispatch.Dispatcher
	Workflows    *workflow.Registry
	Capabilities *capability.Registry
	Manager      *transition.Manager
	Catalog      dataset.Catalog
	Digester     *intent.Digester
	Publisher    events.Publisher
	Recorder     metrics.Recorder
	Logger       logger.ILogger
}

type Engine struct {
	backend      store.Backend
	classifier   *intent.Classifier
	dispatcher   *dispatch.Dispatcher
	workflows    *workflow.Registry
	capabilities *capability.Registry
	manager      *transition.Manager
	catalog      dataset.Catalog
	digester     *intent.Digester
	publisher    events.Publisher
	recorder     metrics.Recorder
	logger       logger.ILogger
	cfg          Config
	now          func() time.Time
}

func New(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.Backend == nil:
		return nil, errors.New("engine: session backend is required")
	case deps.Classifier == nil:
		return nil, errors.New("engine: classifier is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	case deps.Workflows == nil || deps.Manager == nil:
		return nil, errors.New("engine: workflow registry and transition manager are required")
	case deps.Capabilities == nil:
		return nil, errors.New("engine: capability registry is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.Limits.History <= 0 {
		cfg.Limits.History = store.DefaultLimits.History
	}
	if cfg.Limits.Facts <= 0 {
		cfg.Limits.Facts = store.DefaultLimits.Facts
	}

	return &Engine{
		backend:      deps.Backend,
		classifier:   deps.Classifier,
		dispatcher:   deps.Dispatcher,
		workflows:    deps.Workflows,
		capabilities: deps.Capabilities,
		manager:      deps.Manager,
		catalog:      deps.Catalog,
		digester:     deps.Digester,
		publisher:    deps.Publisher,
		recorder:     deps.Recorder,
		logger:       deps.Logger,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Backend returns the session backend, for diagnostics and the sweeper
func (e *Engine) Backend() store.Backend {
	return e.backend
}

// Workflows is the registry the engine validates stages against
func (e *Engine) Workflows() *workflow.Registry {
	return e.workflows
}

// HandleMessage runs one turn. Only storage failures (including lock timeouts) are
// returned as errors; everything else is answered inside the Outbound.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) (*Outbound, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	ctx, span := otel.Tracer("epichat/engine").Start(ctx, "engine.HandleMessage")
	defer span.End()
	started := time.Now()
	id := in.SessionID

	turn, err := e.backend.NextTurn(ctx, id)
	if err != nil {
		return nil, e.storageError("next turn", id, err)
	}
	span.SetAttributes(attribute.String("session.id", id), attribute.Int64("session.turn", turn))

	lease, err := e.acquire(ctx, id)
	if err != nil {
		return nil, e.storageError("acquire lease", id, err)
	}
	defer e.release(ctx, id, lease)

	state, err := e.backend.Load(ctx, id)
	if err != nil {
		return nil, e.storageError("load", id, err)
	}
	committed := state.Clone()
	e.repair(state)

	if in.ModeHint == ModeFreeform && state.InWorkflow() {
		e.manager.Exit(state, "freeform mode hint")
	}

	sc := e.stageContext(ctx, state)
	classified := e.classifier.Classify(ctx, in.Text, sc)
	if in.ModeHint == ModeGuided && !state.InWorkflow() && classified.Type != intent.StartWorkflow {
		classified = intent.Intent{
			Type:       intent.ListWorkflows,
			Confidence: 1.0,
			Rationale:  "guided mode requested without an active workflow",
			Source:     intent.SourceHint,
		}
	}

	resp := e.dispatcher.Dispatch(ctx, classified, state, in.Text)
	next := resp.State
	e.updateDigest(next)

	out := &Outbound{
		SessionID: id,
		Turn:      turn,
		Route:     resp.Route,
		Handler:   resp.Handler,
		Intent:    classified,
	}

	if reason := e.supersededBy(ctx, id, turn); reason != "" {
		return e.discard(out, committed, reason, started), nil
	}
	if err := e.backend.Save(ctx, next); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return e.discard(out, committed, "version_conflict", started), nil
		}
		if ctx.Err() != nil && !errors.Is(err, store.ErrStorageUnavailable) {
			return e.discard(out, committed, "cancelled", started), nil
		}
		return nil, e.storageError("save", id, err)
	}

	out.Reply = resp.Reply
	out.Artifacts = resp.Artifacts
	out.Stage = e.stageInfo(next)

	e.publish(ctx, events.New(events.TopicSessionTurn, map[string]interface{}{
		"session_id": id,
		"turn":       turn,
		"intent":     string(classified.Type),
		"source":     string(classified.Source),
		"route":      string(resp.Route),
		"handler":    resp.Handler,
		"failed":     resp.Failed,
		"workflow":   next.Workflow,
		"stage":      next.Stage,
	}))
	if resp.Handoff != nil {
		e.publish(ctx, events.New(events.TopicWorkflowCompleted, map[string]interface{}{
			"session_id": id,
			"workflow":   resp.Handoff.Completed,
			"successor":  resp.Handoff.Successor,
			"started":    resp.Handoff.Started,
		}))
	}

	e.recorder.ObserveTurn(string(resp.Route), time.Since(started))
	e.logger.Info(module, "Turn committed", map[string]interface{}{
		"session_id": id,
		"turn":       turn,
		"version":    next.Version,
		"route":      resp.Route,
		"intent":     classified.Type,
		"workflow":   next.Workflow,
		"stage":      next.Stage,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	return out, nil
}

// AttachData validates a dataset reference with the data collaborator and records it
// on the session under the lease.
func (e *Engine) AttachData(ctx context.Context, sessionID, ref string) (*dataset.Schema, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if e.catalog == nil {
		return nil, fmt.Errorf("%w: no data catalog is configured", ErrInvalidInput)
	}
	schema, err := e.catalog.Describe(ctx, ref)
	if err != nil {
		return nil, err
	}

	lease, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, e.storageError("acquire lease", sessionID, err)
	}
	defer e.release(ctx, sessionID, lease)

	state, err := e.backend.Load(ctx, sessionID)
	if err != nil {
		return nil, e.storageError("load", sessionID, err)
	}
	state.AttachData(schema.Reference)
	state.UpdatedAt = e.now()
	if err := e.backend.Save(ctx, state); err != nil {
		return nil, e.storageError("save", sessionID, err)
	}

	e.logger.Info(module, "Data attached", map[string]interface{}{
		"session_id": sessionID,
		"reference":  schema.Reference,
		"rows":       schema.Rows,
		"columns":    len(schema.Columns),
	})
	return schema, nil
}

// Snapshot returns the committed state of a session without taking the lease
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*store.State, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	state, err := e.backend.Load(ctx, sessionID)
	if err != nil {
		return nil, e.storageError("load", sessionID, err)
	}
	return state, nil
}

// StageOf renders the stage info of a state
func (e *Engine) StageOf(state *store.State) StageInfo {
	return e.stageInfo(state)
}

// Reset destroys a session record; the next message starts from the default state
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	lease, err := e.acquire(ctx, sessionID)
	if err != nil {
		return e.storageError("acquire lease", sessionID, err)
	}
	defer e.release(ctx, sessionID, lease)

	if err := e.backend.Delete(ctx, sessionID); err != nil {
		return e.storageError("delete", sessionID, err)
	}
	e.publish(ctx, events.New(events.TopicSessionReset, map[string]interface{}{"session_id": sessionID}))
	e.logger.Info(module, "Session reset", map[string]interface{}{"session_id": sessionID})
	return nil
}

func (e *Engine) acquire(ctx context.Context, sessionID string) (store.Lease, error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockWait)
	defer cancel()
	return e.backend.Acquire(lockCtx, sessionID)
}

// release runs even when the request context is already cancelled
func (e *Engine) release(ctx context.Context, sessionID string, lease store.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		e.logger.Warn(module, "Lease release failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// repair returns a state with an undeclared workflow or stage to free-form mode
func (e *Engine) repair(state *store.State) {
	err := e.workflows.Legal(state)
	if err == nil {
		return
	}
	e.logger.Warn(module, "Illegal stored stage cleared", map[string]interface{}{
		"session_id": state.SessionID,
		"workflow":   state.Workflow,
		"stage":      state.Stage,
		"error":      err.Error(),
	})
	state.ClearWorkflow()
}

// supersededBy names why a finished turn must not be committed, or returns ""
func (e *Engine) supersededBy(ctx context.Context, sessionID string, turn int64) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	latest, err := e.backend.LatestTurn(ctx, sessionID)
	if err != nil {
		// Save's version check still guards the commit
		e.logger.Warn(module, "Latest turn unavailable", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return ""
	}
	if latest > turn {
		return "newer_request"
	}
	return ""
}

func (e *Engine) discard(out *Outbound, committed *store.State, reason string, started time.Time) *Outbound {
	e.recorder.IncSuperseded(reason)
	e.recorder.ObserveTurn(string(out.Route), time.Since(started))
	e.logger.Warn(module, "Turn discarded", map[string]interface{}{
		"session_id": out.SessionID,
		"turn":       out.Turn,
		"reason":     reason,
		"route":      out.Route,
	})
	out.Superseded = true
	out.Reply = SupersededReply
	out.Artifacts = nil
	out.Stage = e.stageInfo(committed)
	return out
}

func (e *Engine) stageContext(ctx context.Context, state *store.State) intent.StageContext {
	sc := intent.StageContext{
		SessionID:    state.SessionID,
		Workflows:    e.workflows.Choices(),
		Capabilities: e.capabilities.Infos(),
		Schemas:      e.schemas(ctx, state),
		Facts:        withoutDigest(state.Facts),
		History:      state.History,
	}
	if def, ok := e.workflows.Lookup(state.Workflow); ok && state.InWorkflow() {
		sc.Workflow = def.Name
		sc.Stage = state.Stage
		sc.StagePrompt = def.Prompt(state.Stage)
		sc.Choices = def.Choices(state.Stage)
	}
	return sc
}

// schemas describes the attached data; references the catalog no longer knows are skipped
func (e *Engine) schemas(ctx context.Context, state *store.State) []string {
	if e.catalog == nil {
		return nil
	}
	var out []string
	for _, ref := range state.DataRefs {
		s, err := e.catalog.Describe(ctx, ref)
		if err != nil {
			e.logger.Debug(module, "Attached data not described", map[string]interface{}{
				"session_id": state.SessionID,
				"reference":  ref,
				"error":      err.Error(),
			})
			continue
		}
		out = append(out, s.Describe())
	}
	return out
}

func (e *Engine) updateDigest(state *store.State) {
	if e.digester == nil {
		return
	}
	digest := e.digester.Digest(withoutDigest(state.Facts), state.History)
	if digest == "" {
		return
	}
	state.PutFact(DigestFactKey, digest, e.now(), e.cfg.Limits.Facts)
}

func (e *Engine) stageInfo(state *store.State) StageInfo {
	info := StageInfo{Workflow: state.Workflow, Stage: state.Stage}
	if def, ok := e.workflows.Lookup(state.Workflow); ok && state.InWorkflow() {
		info.Prompt = def.Prompt(state.Stage)
		info.Options = def.Options(state.Stage)
	}
	if len(state.Selections) > 0 {
		info.Selections = append([]store.Selection(nil), state.Selections...)
	}
	return info
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if err := e.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn(module, "Event publish failed", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
	}
}

// storageError keeps the storage sentinels visible to errors.Is and logs the failure
func (e *Engine) storageError(op, sessionID string, err error) error {
	if !errors.Is(err, store.ErrStorageUnavailable) && !errors.Is(err, store.ErrLockTimeout) {
		err = store.Unavailable(op, err)
	}
	e.logger.Error(module, "StorageUnavailable", map[string]interface{}{
		"session_id": sessionID,
		"op":         op,
		"error":      err.Error(),
	})
	return err
}

func withoutDigest(facts []store.Fact) []store.Fact {
	out := make([]store.Fact, 0, len(facts))
	for _, f := range facts {
		if f.Key != DigestFactKey {
			out = append(out, f)
		}
	}
	return out
}
