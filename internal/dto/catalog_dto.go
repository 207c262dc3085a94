package dto

type WorkflowStageResponse struct {
	Name    string   `json:"name"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type WorkflowResponse struct {
	Name        string                  `json:"name"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Aliases     []string                `json:"aliases,omitempty"`
	Stages      []WorkflowStageResponse `json:"stages"`
	Successor   string                  `json:"successor,omitempty"`
	AutoStart   bool                    `json:"auto_start,omitempty"`
}

type CapabilityResponse struct {
	Name        string   `json:"name"`
	Intent      string   `json:"intent"`
	Description string   `json:"description"`
	Operations  []string `json:"operations,omitempty"`
	Fallback    bool     `json:"fallback,omitempty"`
}

type IntentDefinitionResponse struct {
	Type           string `json:"type"`
	Description    string `json:"description"`
	WorkflowScoped bool   `json:"workflow_scoped"`
}

type TaxonomyResponse struct {
	Version string                     `json:"version"`
	Intents []IntentDefinitionResponse `json:"intents"`
}
