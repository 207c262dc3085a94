package capability

import (
	"errors"
	"fmt"
	"strings"

	"epichat-be/pkg/intent"
)

var (
	ErrDuplicateIntent = errors.New("intent already claimed by another capability")
	ErrDuplicateName   = errors.New("capability name already registered")
	ErrInvalidIntent   = errors.New("capability intent is not routable")
)

// Registry partitions the taxonomy between structured capabilities. At most one capability
// may claim an intent type; a second claim is a registration error, never a runtime choice.
type Registry struct {
	byIntent map[intent.Type]Capability
	byName   map[string]Capability
	order    []Capability
	fallback Capability
}

func NewRegistry() *Registry {
	return &Registry{
		byIntent: make(map[intent.Type]Capability),
		byName:   make(map[string]Capability),
	}
}

// Register adds a structured capability
func (r *Registry) Register(c Capability) error {
	d := c.Descriptor()
	switch {
	case d.Name == "":
		return fmt.Errorf("capability without a name")
	case !d.Intent.Valid() || d.Intent == intent.Unclear || d.Intent.WorkflowScoped():
		return fmt.Errorf("%w: %s claims %q", ErrInvalidIntent, d.Name, d.Intent)
	}
	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
	}
	if owner, ok := r.byIntent[d.Intent]; ok {
		return fmt.Errorf("%w: %s and %s both claim %q", ErrDuplicateIntent, owner.Descriptor().Name, d.Name, d.Intent)
	}
	r.byIntent[d.Intent] = c
	r.byName[d.Name] = c
	r.order = append(r.order, c)
	return nil
}

// MustRegister panics on a registration error. Used while wiring fixed built-ins.
func (r *Registry) MustRegister(cs ...Capability) {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// SetFallback installs the general-purpose handler for intents no structured capability
// claims. It appears in the catalog but never wins exact routing.
func (r *Registry) SetFallback(c Capability) {
	r.fallback = c
}

// Fallback returns the general-purpose handler, if any
func (r *Registry) Fallback() (Capability, bool) {
	return r.fallback, r.fallback != nil
}

// Route returns the structured capability that claims the intent type exactly
func (r *Registry) Route(t intent.Type) (Capability, bool) {
	c, ok := r.byIntent[t]
	return c, ok
}

// Lookup finds a capability by descriptor name, the fallback included
func (r *Registry) Lookup(name string) (Capability, bool) {
	if c, ok := r.byName[name]; ok {
		return c, true
	}
	if r.fallback != nil && r.fallback.Descriptor().Name == name {
		return r.fallback, true
	}
	return nil, false
}

// Catalog lists every descriptor in registration order, fallback last
func (r *Registry) Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(r.order)+1)
	for _, c := range r.order {
		out = append(out, c.Descriptor())
	}
	if r.fallback != nil {
		out = append(out, r.fallback.Descriptor())
	}
	return out
}

// Infos is the catalog in the form the classifier prompt consumes
func (r *Registry) Infos() []intent.CapabilityInfo {
	catalog := r.Catalog()
	out := make([]intent.CapabilityInfo, len(catalog))
	for i, d := range catalog {
		out[i] = d.Info()
	}
	return out
}

// Supporting returns the descriptors that advertise an analysis operation
func (r *Registry) Supporting(operation string) []Descriptor {
	op := strings.ToLower(strings.TrimSpace(operation))
	var out []Descriptor
	for _, d := range r.Catalog() {
		for _, o := range d.Operations {
			if strings.ToLower(o) == op {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
