package intent

import (
	"strings"
)

// TaxonomyVersion identifies the closed set of intent types below. Bump it whenever a
// type is added or removed so prompts and logs can be correlated.
const TaxonomyVersion = "2026.10"

// Type is a member of the closed intent taxonomy
type Type string

const (
	StartWorkflow       Type = "start_workflow"
	SelectOption        Type = "select_option"
	AskInfo             Type = "ask_info"
	ExitWorkflow        Type = "exit_workflow"
	RestartWorkflow     Type = "restart_workflow"
	DescribeData        Type = "describe_data"
	ListWorkflows       Type = "list_workflows"
	ConversationSummary Type = "conversation_summary"
	Help                Type = "help"
	Analyze             Type = "analyze"
	Unclear             Type = "unclear"
)

// Definition describes one taxonomy member for classifier prompts
type Definition struct {
	Type        Type
	Description string
	// WorkflowScoped types only make sense while a guided workflow is active
	WorkflowScoped bool
}

var taxonomy = []Definition{
	{StartWorkflow, "user wants to begin one of the guided workflows; value is the workflow name", false},
	{SelectOption, "user answers the current stage with one of its options; value is the option", true},
	{AskInfo, "user asks what the current stage means or why it matters", true},
	{ExitWorkflow, "user wants to leave the guided workflow", true},
	{RestartWorkflow, "user wants to start the current workflow over", true},
	{DescribeData, "user asks which datasets or columns are available", false},
	{ListWorkflows, "user asks which guided workflows exist", false},
	{ConversationSummary, "user asks for a recap of the conversation so far", false},
	{Help, "user asks what the assistant can do", false},
	{Analyze, "user asks a free-form analytical question about their data", false},
	{Unclear, "none of the above, or the message is ambiguous", false},
}

var byLabel = func() map[string]Definition {
	m := make(map[string]Definition, len(taxonomy))
	for _, d := range taxonomy {
		m[string(d.Type)] = d
	}
	return m
}()

// Taxonomy returns the closed set of intent definitions in prompt order
func Taxonomy() []Definition {
	out := make([]Definition, len(taxonomy))
	copy(out, taxonomy)
	return out
}

// Parse maps a label to its Type. Anything outside the taxonomy becomes Unclear.
func Parse(label string) Type {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.ReplaceAll(label, "-", "_")
	label = strings.ReplaceAll(label, " ", "_")
	if d, ok := byLabel[label]; ok {
		return d.Type
	}
	return Unclear
}

// Valid reports whether t is a taxonomy member
func (t Type) Valid() bool {
	_, ok := byLabel[string(t)]
	return ok
}

// WorkflowScoped reports whether t only applies inside a guided workflow
func (t Type) WorkflowScoped() bool {
	return byLabel[string(t)].WorkflowScoped
}

// Source records which classifier tier produced an intent
type Source string

const (
	SourceFastPath  Source = "fast_path"
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
	SourceHint      Source = "mode_hint"
)

// Intent is the classified purpose of one inbound message
type Intent struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	Value      string  `json:"value,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
	Source     Source  `json:"source"`
}

// Ambiguous reports whether the intent falls below the confidence threshold
func (i Intent) Ambiguous(threshold float64) bool {
	return i.Type == Unclear || i.Confidence < threshold
}
