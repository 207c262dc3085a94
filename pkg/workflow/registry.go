package workflow

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"

	"gopkg.in/yaml.v3"
)

//go:embed workflows.yaml
var builtin []byte

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrIllegalStage    = errors.New("stage is not part of the active workflow")
)

type document struct {
	Version   int          `yaml:"version"`
	Workflows []Definition `yaml:"workflows"`
}

// Registry holds every declared workflow. It is immutable after load and safe to share.
type Registry struct {
	byName map[string]*Definition
	order  []string
}

// Builtin loads the embedded workflow declarations
func Builtin() (*Registry, error) {
	return Parse(builtin)
}

// MustBuiltin is Builtin for package-level wiring and tests
func MustBuiltin() *Registry {
	r, err := Builtin()
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile reads declarations from a YAML file, replacing the embedded set
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML workflow declarations
func Parse(raw []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse workflows: %w", err)
	}

	r := &Registry{byName: make(map[string]*Definition, len(doc.Workflows))}
	for i := range doc.Workflows {
		d := &doc.Workflows[i]
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("workflow %q declared twice", d.Name)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}

	for _, name := range r.order {
		if err := r.checkHandoff(name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func validate(d *Definition) error {
	if d.Name == "" {
		return errors.New("workflow without a name")
	}
	if d.Title == "" {
		d.Title = d.Name
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("workflow %q has no stages", d.Name)
	}

	seen := make(map[string]bool, len(d.Stages))
	for _, s := range d.Stages {
		switch {
		case s.Name == "":
			return fmt.Errorf("workflow %q has an unnamed stage", d.Name)
		case s.Name == StageComplete:
			return fmt.Errorf("workflow %q declares reserved stage %q", d.Name, StageComplete)
		case seen[s.Name]:
			return fmt.Errorf("workflow %q declares stage %q twice", d.Name, s.Name)
		case len(s.Options) == 0:
			return fmt.Errorf("workflow %q stage %q has no options", d.Name, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// checkHandoff rejects unknown successors and auto-start chains that loop forever
func (r *Registry) checkHandoff(name string) error {
	visited := map[string]bool{name: true}
	current := r.byName[name]
	for current.Handoff.Successor != "" {
		next, ok := r.byName[current.Handoff.Successor]
		if !ok {
			return fmt.Errorf("workflow %q hands off to unknown workflow %q", current.Name, current.Handoff.Successor)
		}
		if !current.Handoff.AutoStart {
			return nil
		}
		if visited[next.Name] {
			return fmt.Errorf("workflow %q auto-starts itself through %q", name, current.Name)
		}
		visited[next.Name] = true
		current = next
	}
	return nil
}

// Lookup returns a workflow by its exact name
func (r *Registry) Lookup(name string) (*Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Resolve matches a name or alias, tolerating case, separators and one typo
func (r *Registry) Resolve(text string) (*Definition, bool) {
	if d, ok := r.byName[text]; ok {
		return d, true
	}
	name, ok := intent.Match(r.Choices(), text)
	if !ok {
		return nil, false
	}
	return r.byName[name], true
}

// Find looks for a workflow mentioned anywhere in free text, preferring the longest
// matching name or alias.
func (r *Registry) Find(text string) (*Definition, bool) {
	haystack := " " + intent.Normalize(text) + " "
	var (
		best    *Definition
		bestLen int
	)
	for _, c := range r.Choices() {
		terms := append([]string{c.Value}, c.Aliases...)
		for _, term := range terms {
			t := intent.Normalize(term)
			if t == "" || len(t) <= bestLen {
				continue
			}
			if strings.Contains(haystack, " "+t+" ") {
				best, bestLen = r.byName[c.Value], len(t)
			}
		}
	}
	return best, best != nil
}

// Mentioned resolves a workflow named in a value or in free text. It is the lookup the
// classifier uses for start_workflow values.
func (r *Registry) Mentioned(text string) (string, bool) {
	if d, ok := r.Resolve(text); ok {
		return d.Name, true
	}
	if d, ok := r.Find(text); ok {
		return d.Name, true
	}
	return "", false
}

// Names returns workflow names in declaration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// All returns every definition in declaration order
func (r *Registry) All() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Choices exposes workflow names and aliases as a vocabulary
func (r *Registry) Choices() []intent.Choice {
	out := make([]intent.Choice, 0, len(r.order))
	for _, name := range r.order {
		d := r.byName[name]
		out = append(out, intent.Choice{Value: d.Name, Aliases: d.Aliases})
	}
	return out
}

// Legal checks the stage legality invariant: either no workflow and no stage, or a known
// workflow with a stage from its declared set.
func (r *Registry) Legal(state *store.State) error {
	if state.Workflow == "" {
		if state.Stage != "" || len(state.Selections) > 0 {
			return fmt.Errorf("%w: stage %q without a workflow", ErrIllegalStage, state.Stage)
		}
		return nil
	}
	d, ok := r.byName[state.Workflow]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorkflow, state.Workflow)
	}
	if !d.HasStage(state.Stage) {
		return fmt.Errorf("%w: %q in %q", ErrIllegalStage, state.Stage, state.Workflow)
	}
	return nil
}

// Successors returns the handoff table keyed by workflow name
func (r *Registry) Successors() map[string]Handoff {
	out := make(map[string]Handoff, len(r.byName))
	for name, d := range r.byName {
		if d.Handoff.Successor != "" {
			out[name] = d.Handoff
		}
	}
	return out
}

// Describe renders a short listing of every workflow
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.order {
		d := r.byName[name]
		fmt.Fprintf(&b, "- %s (%s): %s\n", d.Title, d.Name, d.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
