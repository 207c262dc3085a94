package store

import (
	"time"
)

// Message roles recorded in the session history
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Selection is the value a user chose at one workflow stage
type Selection struct {
	Stage string    `json:"stage"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// Message is one entry of the bounded conversation history
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Fact is a named derived summary kept across turns
type Fact struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the unit of isolation. It is only ever looked up or mutated by SessionID.
type State struct {
	SessionID string `json:"session_id"`

	// Version is the compare-and-swap token. Backends bump it on every successful Save.
	Version int64 `json:"version"`

	// Guided workflow (empty Workflow means free-form mode)
	Workflow   string      `json:"workflow,omitempty"`
	Stage      string      `json:"stage,omitempty"`
	Selections []Selection `json:"selections,omitempty"`

	// Opaque handles to uploaded datasets, never the data itself
	DataRefs []string `json:"data_refs,omitempty"`

	History []Message `json:"history,omitempty"`
	Facts   []Fact    `json:"facts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Limits bounds the history and facts kept per session
type Limits struct {
	History int
	Facts   int
}

// DefaultLimits is used when a caller passes zero values
var DefaultLimits = Limits{History: 50, Facts: 20}

// NewState returns the default record for a session seen for the first time
func NewState(sessionID string, now time.Time) *State {
	return &State{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InWorkflow reports whether a guided workflow is active
func (s *State) InWorkflow() bool {
	return s.Workflow != ""
}

// Clone returns a deep copy so a handler can mutate it without touching the original
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.Selections != nil {
		c.Selections = append([]Selection(nil), s.Selections...)
	}
	if s.DataRefs != nil {
		c.DataRefs = append([]string(nil), s.DataRefs...)
	}
	if s.History != nil {
		c.History = append([]Message(nil), s.History...)
	}
	if s.Facts != nil {
		c.Facts = append([]Fact(nil), s.Facts...)
	}
	return &c
}

// AppendMessage appends to the history, evicting the oldest entries past the limit
func (s *State) AppendMessage(role, content string, at time.Time, limit int) {
	if limit <= 0 {
		limit = DefaultLimits.History
	}
	s.History = append(s.History, Message{Role: role, Content: content, At: at})
	if over := len(s.History) - limit; over > 0 {
		s.History = append([]Message(nil), s.History[over:]...)
	}
}

// Select records the value chosen at a stage. Selections are append-only within a run.
func (s *State) Select(stage, value string, at time.Time) {
	s.Selections = append(s.Selections, Selection{Stage: stage, Value: value, At: at})
}

// Selection returns the value chosen at a stage, if any
func (s *State) Selection(stage string) (string, bool) {
	for _, sel := range s.Selections {
		if sel.Stage == stage {
			return sel.Value, true
		}
	}
	return "", false
}

// ClearWorkflow drops every workflow-scoped field, returning the session to free-form mode
func (s *State) ClearWorkflow() {
	s.Workflow = ""
	s.Stage = ""
	s.Selections = nil
}

// PutFact upserts a fact. New keys go to the end; the oldest fact is evicted past the limit.
func (s *State) PutFact(key, value string, at time.Time, limit int) {
	if limit <= 0 {
		limit = DefaultLimits.Facts
	}
	for i := range s.Facts {
		if s.Facts[i].Key == key {
			s.Facts = append(s.Facts[:i:i], s.Facts[i+1:]...)
			break
		}
	}
	s.Facts = append(s.Facts, Fact{Key: key, Value: value, UpdatedAt: at})
	if over := len(s.Facts) - limit; over > 0 {
		s.Facts = append([]Fact(nil), s.Facts[over:]...)
	}
}

// Fact returns the value stored under key
func (s *State) Fact(key string) (string, bool) {
	for _, f := range s.Facts {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// AttachData adds a dataset reference if it is not already attached
func (s *State) AttachData(ref string) {
	for _, r := range s.DataRefs {
		if r == ref {
			return
		}
	}
	s.DataRefs = append(s.DataRefs, ref)
}

// LastUserMessage returns the most recent user utterance
func (s *State) LastUserMessage() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleUser {
			return s.History[i].Content
		}
	}
	return ""
}
