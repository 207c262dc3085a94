// Package transition owns everything that happens when a guided workflow is entered,
// left, or finished. Stage handlers never decide what follows a run themselves.
package transition

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/artifact"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"
)

const module = "WORKFLOW"

// FactKey is where the summary of a completed run is kept
func FactKey(workflowName string) string {
	return "workflow:" + workflowName
}

// SelectionsFactKey is where the selections of a completed run are kept
func SelectionsFactKey(workflowName string) string {
	return "workflow:" + workflowName + ":selections"
}

// RunResult is what the analysis collaborator produced for a finished run
type RunResult struct {
	Summary   string
	Artifacts []artifact.Artifact
}

// Runner executes the analysis behind a completed workflow. The formulas live outside the
// engine; the manager only records what the runner reports.
type Runner interface {
	Run(ctx context.Context, workflowName string, selections []store.Selection, dataRefs []string) (*RunResult, error)
}

// Handoff describes what the manager decided after a run ended
type Handoff struct {
	Completed string
	Successor string
	Started   bool
	Reply     string
	Artifacts []artifact.Artifact
}

// Manager is the single policy point for workflow entry, exit and completion
type Manager struct {
	registry *workflow.Registry
	policy   map[string]workflow.Handoff
	runner   Runner
	limits   store.Limits
	logger   logger.ILogger
	now      func() time.Time
}

func NewManager(registry *workflow.Registry, runner Runner, limits store.Limits, log logger.ILogger) *Manager {
	if runner == nil {
		runner = PlanRunner{}
	}
	return &Manager{
		registry: registry,
		policy:   registry.Successors(),
		runner:   runner,
		limits:   limits,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enter starts a workflow at its initial stage, discarding any run in progress
func (m *Manager) Enter(state *store.State, name string) (*workflow.Definition, error) {
	d, ok := m.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", workflow.ErrUnknownWorkflow, name)
	}

	state.ClearWorkflow()
	state.Workflow = d.Name
	state.Stage = d.InitialStage()

	m.logger.Info(module, "Workflow entered", map[string]interface{}{
		"session_id": state.SessionID,
		"workflow":   d.Name,
		"stage":      state.Stage,
	})
	return d, nil
}

// Exit leaves guided mode without completing the run
func (m *Manager) Exit(state *store.State, reason string) string {
	name := state.Workflow
	if name == "" {
		return "There is no guided workflow running."
	}
	stage := state.Stage
	state.ClearWorkflow()

	m.logger.Info(module, "Workflow exited", map[string]interface{}{
		"session_id": state.SessionID,
		"workflow":   name,
		"stage":      stage,
		"reason":     reason,
	})

	title := name
	if d, ok := m.registry.Lookup(name); ok {
		title = d.Title
	}
	return fmt.Sprintf("Left %s. Ask me anything about your data, or start another workflow.", title)
}

// Complete records a finished run in facts, runs the analysis collaborator and applies
// the handoff policy. Workflow fields are always cleared before a successor is entered.
func (m *Manager) Complete(ctx context.Context, name string, state *store.State) *Handoff {
	at := m.now()
	selections := append([]store.Selection(nil), state.Selections...)
	h := &Handoff{Completed: name}

	summary := workflow.Summary(selections)
	res, err := m.runner.Run(ctx, name, selections, state.DataRefs)
	if err != nil {
		m.logger.Error(module, "Workflow runner failed", map[string]interface{}{
			"session_id": state.SessionID,
			"workflow":   name,
			"error":      err.Error(),
		})
	} else if res != nil {
		if res.Summary != "" {
			summary = res.Summary
		}
		h.Artifacts = res.Artifacts
	}

	state.PutFact(FactKey(name), summary, at, m.limits.Facts)
	state.PutFact(SelectionsFactKey(name), workflow.Summary(selections), at, m.limits.Facts)
	state.ClearWorkflow()

	title := name
	if d, ok := m.registry.Lookup(name); ok {
		title = d.Title
	}
	h.Reply = fmt.Sprintf("%s complete: %s.", title, summary)
	if err != nil {
		h.Reply = fmt.Sprintf("%s complete. Your choices were saved (%s) but the analysis could not run right now.", title, workflow.Summary(selections))
	}

	next, ok := m.policy[name]
	switch {
	case !ok:
		h.Reply += "\nYou're back in free-form mode. Ask me anything about your data."
	case next.AutoStart:
		d, enterErr := m.Enter(state, next.Successor)
		if enterErr != nil {
			h.Reply += "\nYou're back in free-form mode."
			break
		}
		h.Successor, h.Started = d.Name, true
		h.Reply += fmt.Sprintf("\nNext up: %s.\n%s", d.Title, d.Prompt(state.Stage))
	default:
		h.Successor = next.Successor
		if d, found := m.registry.Lookup(next.Successor); found {
			h.Reply += fmt.Sprintf("\nWhen you're ready, say \"start %s\" to continue with %s.", d.Name, d.Title)
		}
	}

	m.logger.Info(module, "Workflow completed", map[string]interface{}{
		"session_id": state.SessionID,
		"workflow":   name,
		"successor":  h.Successor,
		"started":    h.Started,
		"artifacts":  len(h.Artifacts),
	})
	return h
}

// PlanRunner is the default collaborator. It emits the chosen parameters as a plan
// artifact for the presentation layer and leaves the formulas to downstream services.
type PlanRunner struct{}

func (PlanRunner) Run(_ context.Context, name string, selections []store.Selection, dataRefs []string) (*RunResult, error) {
	params := make(map[string]string, len(selections))
	for _, s := range selections {
		params[s.Stage] = s.Value
	}
	payload, err := json.Marshal(map[string]interface{}{
		"workflow":   name,
		"parameters": params,
		"data_refs":  dataRefs,
	})
	if err != nil {
		return nil, err
	}
	return &RunResult{
		Summary: workflow.Summary(selections),
		Artifacts: []artifact.Artifact{{
			Kind:    artifact.KindPlan,
			Title:   name,
			MIME:    artifact.MIMEPlan,
			Payload: payload,
		}},
	}, nil
}
