// Package dataset is the data-loading collaborator. The engine only ever sees a Schema;
// raw values are handed to the sandbox through a Frame and never stored in a session.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound         = errors.New("dataset not found")
	ErrInvalidReference = errors.New("invalid dataset reference")
)

// Column types
const (
	Numeric = "numeric"
	Text    = "text"
)

// Column describes one attribute without carrying its values
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Cardinality int    `json:"cardinality"`
}

// Schema is the read-only description of a dataset
type Schema struct {
	Reference string   `json:"reference"`
	Rows      int      `json:"rows"`
	Columns   []Column `json:"columns"`
}

// Describe renders the schema on one line for prompts and replies
func (s *Schema) Describe() string {
	cols := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		cols = append(cols, fmt.Sprintf("%s (%s, %d distinct)", c.Name, c.Type, c.Cardinality))
	}
	return fmt.Sprintf("%s: %d rows; columns: %s", s.Reference, s.Rows, strings.Join(cols, ", "))
}

// Column returns the named column
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Frame holds loaded values split by column type
type Frame struct {
	Reference string
	Columns   []string
	Numeric   map[string][]float64
	Text      map[string][]string
	Rows      int
}

// NumericColumns returns the numeric column names in sorted order
func (f *Frame) NumericColumns() []string {
	out := make([]string, 0, len(f.Numeric))
	for name := range f.Numeric {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Catalog resolves opaque data references
type Catalog interface {
	Describe(ctx context.Context, ref string) (*Schema, error)
	Load(ctx context.Context, ref string) (*Frame, error)
}
