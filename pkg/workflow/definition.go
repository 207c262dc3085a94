package workflow

import (
	"fmt"
	"strings"
	"time"

	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"
)

// StageComplete is the terminal stage every workflow ends in
const StageComplete = "complete"

// Option is one answer a stage accepts
type Option struct {
	Value   string   `yaml:"value"`
	Aliases []string `yaml:"aliases"`
	// Restarts sends the run back to the initial stage instead of advancing
	Restarts bool `yaml:"restarts"`
}

// Stage is one step of a guided workflow with a closed answer set
type Stage struct {
	Name    string   `yaml:"name"`
	Prompt  string   `yaml:"prompt"`
	Info    string   `yaml:"info"`
	Options []Option `yaml:"options"`
}

// Handoff declares what follows a completed run
type Handoff struct {
	Successor string `yaml:"successor"`
	AutoStart bool   `yaml:"auto_start"`
}

// Definition is a declared guided workflow
type Definition struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Aliases     []string `yaml:"aliases"`
	Description string   `yaml:"description"`
	Handoff     Handoff  `yaml:"handoff"`
	Stages      []Stage  `yaml:"stages"`
}

// OutcomeKind classifies what a transition did
type OutcomeKind string

const (
	Advanced  OutcomeKind = "advanced"
	Stayed    OutcomeKind = "stayed"
	Informed  OutcomeKind = "informed"
	Restarted OutcomeKind = "restarted"
	Exited    OutcomeKind = "exited"
	Completed OutcomeKind = "completed"
)

// Outcome is the side effect of one Apply call
type Outcome struct {
	Kind  OutcomeKind
	Stage string
	Reply string
}

// InitialStage returns the first declared stage
func (d *Definition) InitialStage() string {
	return d.Stages[0].Name
}

// Stage returns the named stage. The terminal stage is not a declared Stage.
func (d *Definition) Stage(name string) (*Stage, bool) {
	for i := range d.Stages {
		if d.Stages[i].Name == name {
			return &d.Stages[i], true
		}
	}
	return nil, false
}

// CurrentStage returns the stage the session is at. ok is false when the session is not
// running this workflow or sits at the terminal stage.
func (d *Definition) CurrentStage(state *store.State) (*Stage, bool) {
	if state.Workflow != d.Name {
		return nil, false
	}
	return d.Stage(state.Stage)
}

// IsTerminal reports whether stage ends the workflow
func (d *Definition) IsTerminal(stage string) bool {
	return stage == StageComplete
}

// HasStage reports whether stage belongs to this workflow's stage set
func (d *Definition) HasStage(stage string) bool {
	if d.IsTerminal(stage) {
		return true
	}
	_, ok := d.Stage(stage)
	return ok
}

// Handles reports whether intent type t has a transition in this workflow
func (d *Definition) Handles(t intent.Type) bool {
	switch t {
	case intent.SelectOption, intent.AskInfo, intent.ExitWorkflow, intent.RestartWorkflow:
		return true
	}
	return false
}

// Choices returns the closed vocabulary of a stage
func (d *Definition) Choices(stage string) []intent.Choice {
	s, ok := d.Stage(stage)
	if !ok {
		return nil
	}
	out := make([]intent.Choice, 0, len(s.Options))
	for _, o := range s.Options {
		out = append(out, intent.Choice{Value: o.Value, Aliases: o.Aliases})
	}
	return out
}

// Options returns the option values of a stage in declared order
func (d *Definition) Options(stage string) []string {
	s, ok := d.Stage(stage)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.Options))
	for _, o := range s.Options {
		out = append(out, o.Value)
	}
	return out
}

// Prompt renders the question of a stage together with its valid choices
func (d *Definition) Prompt(stage string) string {
	s, ok := d.Stage(stage)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s\nOptions: %s", s.Prompt, strings.Join(d.Options(stage), ", "))
}

// Apply runs one transition on state in place. Unrecognised intents and values keep the
// session at its stage and ask again; Apply never fails. Completed and Exited outcomes
// leave clearing the workflow fields to the transition manager.
func (d *Definition) Apply(state *store.State, in intent.Intent, at time.Time) Outcome {
	stage, ok := d.CurrentStage(state)
	if !ok {
		state.Workflow = d.Name
		state.Stage = d.InitialStage()
		state.Selections = nil
		return Outcome{
			Kind:  Restarted,
			Stage: state.Stage,
			Reply: fmt.Sprintf("Let's start %s from the beginning.\n%s", d.Title, d.Prompt(state.Stage)),
		}
	}

	switch in.Type {
	case intent.SelectOption:
		value, ok := intent.Match(d.Choices(stage.Name), in.Value)
		if !ok {
			return d.clarify(stage, in.Value)
		}
		if d.restarts(stage, value) {
			return d.restart(state)
		}

		state.Select(stage.Name, value, at)
		next := d.next(stage.Name)
		state.Stage = next
		if d.IsTerminal(next) {
			return Outcome{Kind: Completed, Stage: next}
		}
		return Outcome{
			Kind:  Advanced,
			Stage: next,
			Reply: fmt.Sprintf("Got it, %s: %s.\n%s", stage.Name, value, d.Prompt(next)),
		}

	case intent.AskInfo:
		return Outcome{
			Kind:  Informed,
			Stage: stage.Name,
			Reply: fmt.Sprintf("%s\n\n%s", stage.Info, d.Prompt(stage.Name)),
		}

	case intent.RestartWorkflow:
		return d.restart(state)

	case intent.ExitWorkflow:
		return Outcome{Kind: Exited, Stage: stage.Name}
	}

	return d.clarify(stage, "")
}

func (d *Definition) clarify(stage *Stage, value string) Outcome {
	reply := "I didn't catch which option you meant."
	if value != "" {
		reply = fmt.Sprintf("%q is not one of the options for %s.", value, stage.Name)
	}
	return Outcome{
		Kind:  Stayed,
		Stage: stage.Name,
		Reply: fmt.Sprintf("%s\n%s", reply, d.Prompt(stage.Name)),
	}
}

func (d *Definition) restart(state *store.State) Outcome {
	state.Selections = nil
	state.Stage = d.InitialStage()
	return Outcome{
		Kind:  Restarted,
		Stage: state.Stage,
		Reply: fmt.Sprintf("Starting %s over.\n%s", d.Title, d.Prompt(state.Stage)),
	}
}

func (d *Definition) restarts(stage *Stage, value string) bool {
	for _, o := range stage.Options {
		if o.Value == value {
			return o.Restarts
		}
	}
	return false
}

func (d *Definition) next(stage string) string {
	for i, s := range d.Stages {
		if s.Name == stage && i+1 < len(d.Stages) {
			return d.Stages[i+1].Name
		}
	}
	return StageComplete
}

// Summary renders the selections of a run as "stage=value" pairs
func Summary(selections []store.Selection) string {
	parts := make([]string, 0, len(selections))
	for _, s := range selections {
		parts = append(parts, s.Stage+"="+s.Value)
	}
	return strings.Join(parts, "; ")
}
