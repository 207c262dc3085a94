package dto

import (
	"time"

	"epichat-be/pkg/artifact"
)

type SendMessageRequest struct {
	SessionId string `json:"session_id" validate:"required,max=128"`
	Message   string `json:"message" validate:"required,max=4000"`
	Mode      string `json:"mode,omitempty" validate:"omitempty,oneof=auto freeform free-form guided"`
}

type StageResponse struct {
	Workflow   string              `json:"workflow,omitempty"`
	Stage      string              `json:"stage,omitempty"`
	Prompt     string              `json:"prompt,omitempty"`
	Options    []string            `json:"options,omitempty"`
	Selections []SelectionResponse `json:"selections,omitempty"`
}

type SelectionResponse struct {
	Stage string    `json:"stage"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

type IntentResponse struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Value      string  `json:"value,omitempty"`
	Source     string  `json:"source"`
}

type SendMessageResponse struct {
	SessionId  string              `json:"session_id"`
	Turn       int64               `json:"turn"`
	Reply      string              `json:"reply"`
	Artifacts  []artifact.Artifact `json:"artifacts"`
	Stage      StageResponse       `json:"stage"`
	Mode       string              `json:"mode"` // "guided" | "freeform"
	Route      string              `json:"route"`
	Handler    string              `json:"handler,omitempty"`
	Intent     IntentResponse      `json:"intent"`
	Superseded bool                `json:"superseded,omitempty"`
}

type HistoryMessageResponse struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type FactResponse struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SessionResponse struct {
	SessionId string                   `json:"session_id"`
	Version   int64                    `json:"version"`
	Mode      string                   `json:"mode"`
	Stage     StageResponse            `json:"stage"`
	DataRefs  []string                 `json:"data_refs"`
	History   []HistoryMessageResponse `json:"history"`
	Facts     []FactResponse           `json:"facts"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

type AttachDataRequest struct {
	Reference string `json:"reference" validate:"required,max=512"`
}

type ColumnResponse struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Cardinality int    `json:"cardinality"`
}

type SchemaResponse struct {
	Reference string           `json:"reference"`
	Rows      int              `json:"rows"`
	Columns   []ColumnResponse `json:"columns"`
}
