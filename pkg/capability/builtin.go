package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"epichat-be/pkg/dataset"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"
	"epichat-be/pkg/workflow/transition"
)

// RegisterBuiltins wires the structured capabilities every deployment carries
func RegisterBuiltins(r *Registry, workflows *workflow.Registry, manager *transition.Manager, catalog dataset.Catalog) error {
	for _, c := range []Capability{
		&StartWorkflow{workflows: workflows, manager: manager},
		&DescribeData{catalog: catalog},
		&ListWorkflows{workflows: workflows},
		&ConversationSummary{RecentTurns: 6},
		&Help{registry: r, workflows: workflows},
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// StartWorkflow enters guided mode through the transition manager
type StartWorkflow struct {
	workflows *workflow.Registry
	manager   *transition.Manager
}

func (c *StartWorkflow) Descriptor() Descriptor {
	return Descriptor{
		Name:        "start_workflow",
		Intent:      intent.StartWorkflow,
		Description: "Starts a guided step-by-step workflow by name.",
	}
}

func (c *StartWorkflow) Handle(_ context.Context, req *Request) (*Result, error) {
	d, ok := c.workflows.Resolve(req.Intent.Value)
	if !ok {
		d, ok = c.workflows.Find(req.Message)
	}
	if !ok {
		return &Result{Reply: "I couldn't tell which workflow you meant. These are available:\n" + c.workflows.Describe()}, nil
	}

	previous := req.State.Workflow
	if _, err := c.manager.Enter(req.State, d.Name); err != nil {
		return nil, err
	}

	reply := fmt.Sprintf("Starting %s.\n%s", d.Title, d.Prompt(req.State.Stage))
	if previous != "" && previous != d.Name {
		reply = fmt.Sprintf("Leaving %s. %s", previous, reply)
	}
	return &Result{Reply: reply}, nil
}

// DescribeData lists the schema of every attached dataset
type DescribeData struct {
	catalog dataset.Catalog
}

func (c *DescribeData) Descriptor() Descriptor {
	return Descriptor{
		Name:        "describe_data",
		Intent:      intent.DescribeData,
		Description: "Lists the columns, types and distinct counts of the attached datasets. It does not compute statistics.",
		Operations:  []string{"schema", "columns"},
	}
}

func (c *DescribeData) Handle(ctx context.Context, req *Request) (*Result, error) {
	if len(req.State.DataRefs) == 0 {
		return &Result{Reply: "No data is attached to this session yet. Attach a dataset and I can describe it."}, nil
	}

	var b strings.Builder
	b.WriteString("Attached data:\n")
	for _, ref := range req.State.DataRefs {
		schema, err := c.catalog.Describe(ctx, ref)
		if errors.Is(err, dataset.ErrNotFound) {
			fmt.Fprintf(&b, "- %s: no longer available\n", ref)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", ref, err)
		}
		fmt.Fprintf(&b, "- %s\n", schema.Describe())
	}
	return &Result{Reply: strings.TrimRight(b.String(), "\n")}, nil
}

// ListWorkflows answers with the declared guided workflows
type ListWorkflows struct {
	workflows *workflow.Registry
}

func (c *ListWorkflows) Descriptor() Descriptor {
	return Descriptor{
		Name:        "list_workflows",
		Intent:      intent.ListWorkflows,
		Description: "Lists the guided workflows that can be started.",
	}
}

func (c *ListWorkflows) Handle(_ context.Context, req *Request) (*Result, error) {
	reply := "Guided workflows:\n" + c.workflows.Describe()
	if req.State.InWorkflow() {
		reply += fmt.Sprintf("\nYou are currently in %s at stage %s.", req.State.Workflow, req.State.Stage)
	}
	return &Result{Reply: reply}, nil
}

// ConversationSummary recaps completed workflows, attached data and recent requests
type ConversationSummary struct {
	RecentTurns int
}

func (c *ConversationSummary) Descriptor() Descriptor {
	return Descriptor{
		Name:        "conversation_summary",
		Intent:      intent.ConversationSummary,
		Description: "Summarizes what this session has covered so far.",
	}
}

func (c *ConversationSummary) Handle(_ context.Context, req *Request) (*Result, error) {
	s := req.State
	var b strings.Builder

	for _, f := range s.Facts {
		if !strings.HasPrefix(f.Key, "workflow:") || strings.HasSuffix(f.Key, ":selections") {
			continue
		}
		fmt.Fprintf(&b, "- Completed %s: %s\n", strings.TrimPrefix(f.Key, "workflow:"), f.Value)
	}
	if s.InWorkflow() {
		fmt.Fprintf(&b, "- In progress: %s at stage %s", s.Workflow, s.Stage)
		if len(s.Selections) > 0 {
			fmt.Fprintf(&b, " (%s)", workflow.Summary(s.Selections))
		}
		b.WriteString("\n")
	}
	if len(s.DataRefs) > 0 {
		fmt.Fprintf(&b, "- Data attached: %s\n", strings.Join(s.DataRefs, ", "))
	}

	var asked []string
	for i := len(s.History) - 1; i >= 0 && len(asked) < c.RecentTurns; i-- {
		if s.History[i].Role == store.RoleUser {
			asked = append([]string{s.History[i].Content}, asked...)
		}
	}
	if len(asked) > 0 {
		b.WriteString("- Recent requests:\n")
		for _, a := range asked {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}

	if b.Len() == 0 {
		return &Result{Reply: "We haven't covered anything yet."}, nil
	}
	return &Result{Reply: "So far:\n" + strings.TrimRight(b.String(), "\n")}, nil
}

// Help explains what the assistant can do, read from the live catalog
type Help struct {
	registry  *Registry
	workflows *workflow.Registry
}

func (c *Help) Descriptor() Descriptor {
	return Descriptor{
		Name:        "help",
		Intent:      intent.Help,
		Description: "Explains what the assistant can do.",
	}
}

func (c *Help) Handle(_ context.Context, req *Request) (*Result, error) {
	var b strings.Builder
	b.WriteString("I can help with:\n")
	for _, d := range c.registry.Catalog() {
		if d.Name == "help" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if len(d.Operations) > 0 && d.Intent == intent.Analyze {
			fmt.Fprintf(&b, " Supported analyses: %s.", strings.Join(d.Operations, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("Guided workflows:\n")
	b.WriteString(c.workflows.Describe())
	if req.State.InWorkflow() {
		b.WriteString("\nYou're in a guided workflow. Answer the current question, ask why it matters, say \"restart\" or \"exit\".")
	}
	return &Result{Reply: b.String()}, nil
}
