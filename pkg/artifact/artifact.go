// Package artifact defines the opaque outputs handlers hand to the presentation layer.
package artifact

import "encoding/json"

// Kinds produced in-tree. Renderers may receive others.
const (
	KindChart = "chart"
	KindTable = "table"
	KindPlan  = "workflow_plan"
)

const (
	MIMEChart = "application/vnd.epichat.chart+json"
	MIMETable = "application/vnd.epichat.table+json"
	MIMEPlan  = "application/vnd.epichat.plan+json"
)

// Artifact is passed through the engine unmodified. Payload is whatever the producer
// chose to emit; only the presentation layer interprets it.
type Artifact struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title,omitempty"`
	MIME    string          `json:"mime,omitempty"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
