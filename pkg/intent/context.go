package intent

import "epichat-be/pkg/store"

// CapabilityInfo is the routing self-description of one capability
type CapabilityInfo struct {
	Name        string
	Intent      Type
	Description string
	Operations  []string
}

// StageContext is everything the classifier may know about the session. It is built
// per turn from the loaded State and never cached.
type StageContext struct {
	SessionID string

	// Active guided workflow; empty in free-form mode
	Workflow    string
	Stage       string
	StagePrompt string
	Choices     []Choice

	// Known workflows, used for start_workflow values
	Workflows []Choice

	Capabilities []CapabilityInfo

	// Schema descriptions of attached data, never the data itself
	Schemas []string

	Facts   []store.Fact
	History []store.Message
}

// InWorkflow reports whether a guided workflow is active
func (c StageContext) InWorkflow() bool {
	return c.Workflow != ""
}
