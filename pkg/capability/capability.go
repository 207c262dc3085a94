// Package capability holds the named structured handlers the dispatcher can route to and
// the catalog that describes them to the classifier.
package capability

import (
	"context"
	"time"

	"epichat-be/pkg/artifact"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"
)

// Descriptor is how a capability advertises itself. The classifier prompt, help text and
// routing checks all read this one value.
type Descriptor struct {
	Name        string      `json:"name"`
	Intent      intent.Type `json:"intent"`
	Description string      `json:"description"`
	Operations  []string    `json:"operations,omitempty"`
}

// Info converts the descriptor into the classifier's view of it
func (d Descriptor) Info() intent.CapabilityInfo {
	return intent.CapabilityInfo{
		Name:        d.Name,
		Intent:      d.Intent,
		Description: d.Description,
		Operations:  d.Operations,
	}
}

// Request is one routed message. State is a working copy owned by the dispatcher; a
// handler may mutate it and the dispatcher decides whether the changes are kept.
type Request struct {
	Intent  intent.Intent
	Message string
	State   *store.State
	At      time.Time
}

// Result is what a handler produced for the user
type Result struct {
	Reply     string
	Artifacts []artifact.Artifact
}

// Capability is a unit of work the dispatcher can invoke
type Capability interface {
	Descriptor() Descriptor
	Handle(ctx context.Context, req *Request) (*Result, error)
}
