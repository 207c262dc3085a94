package mapper

import (
	"epichat-be/internal/dto"
	"epichat-be/pkg/artifact"
	"epichat-be/pkg/capability"
	"epichat-be/pkg/dataset"
	"epichat-be/pkg/engine"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"
)

const (
	modeGuided   = "guided"
	modeFreeform = "freeform"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Turn Mappers

func (m *ChatMapper) OutboundToResponse(out *engine.Outbound) *dto.SendMessageResponse {
	if out == nil {
		return nil
	}

	artifacts := out.Artifacts
	if artifacts == nil {
		artifacts = []artifact.Artifact{}
	}

	return &dto.SendMessageResponse{
		SessionId:  out.SessionID,
		Turn:       out.Turn,
		Reply:      out.Reply,
		Artifacts:  artifacts,
		Stage:      m.StageToResponse(out.Stage),
		Mode:       modeOf(out.Stage.Workflow),
		Route:      string(out.Route),
		Handler:    out.Handler,
		Intent:     m.IntentToResponse(out.Intent),
		Superseded: out.Superseded,
	}
}

func (m *ChatMapper) StageToResponse(s engine.StageInfo) dto.StageResponse {
	selections := make([]dto.SelectionResponse, len(s.Selections))
	for i, sel := range s.Selections {
		selections[i] = dto.SelectionResponse{Stage: sel.Stage, Value: sel.Value, At: sel.At}
	}
	return dto.StageResponse{
		Workflow:   s.Workflow,
		Stage:      s.Stage,
		Prompt:     s.Prompt,
		Options:    s.Options,
		Selections: selections,
	}
}

func (m *ChatMapper) IntentToResponse(in intent.Intent) dto.IntentResponse {
	return dto.IntentResponse{
		Type:       string(in.Type),
		Confidence: in.Confidence,
		Value:      in.Value,
		Source:     string(in.Source),
	}
}

// Session Mappers

func (m *ChatMapper) StateToResponse(state *store.State, stage engine.StageInfo) *dto.SessionResponse {
	if state == nil {
		return nil
	}

	history := make([]dto.HistoryMessageResponse, len(state.History))
	for i, msg := range state.History {
		history[i] = dto.HistoryMessageResponse{Role: msg.Role, Content: msg.Content, At: msg.At}
	}

	facts := make([]dto.FactResponse, len(state.Facts))
	for i, f := range state.Facts {
		facts[i] = dto.FactResponse{Key: f.Key, Value: f.Value, UpdatedAt: f.UpdatedAt}
	}

	refs := state.DataRefs
	if refs == nil {
		refs = []string{}
	}

	return &dto.SessionResponse{
		SessionId: state.SessionID,
		Version:   state.Version,
		Mode:      modeOf(state.Workflow),
		Stage:     m.StageToResponse(stage),
		DataRefs:  refs,
		History:   history,
		Facts:     facts,
		CreatedAt: state.CreatedAt,
		UpdatedAt: state.UpdatedAt,
	}
}

func (m *ChatMapper) SchemaToResponse(s *dataset.Schema) *dto.SchemaResponse {
	if s == nil {
		return nil
	}

	columns := make([]dto.ColumnResponse, len(s.Columns))
	for i, c := range s.Columns {
		columns[i] = dto.ColumnResponse{Name: c.Name, Type: c.Type, Cardinality: c.Cardinality}
	}

	return &dto.SchemaResponse{
		Reference: s.Reference,
		Rows:      s.Rows,
		Columns:   columns,
	}
}

// Catalog Mappers

func (m *ChatMapper) WorkflowToResponse(d *workflow.Definition) dto.WorkflowResponse {
	stages := make([]dto.WorkflowStageResponse, len(d.Stages))
	for i, s := range d.Stages {
		stages[i] = dto.WorkflowStageResponse{
			Name:    s.Name,
			Prompt:  s.Prompt,
			Options: d.Options(s.Name),
		}
	}

	return dto.WorkflowResponse{
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
		Aliases:     d.Aliases,
		Stages:      stages,
		Successor:   d.Handoff.Successor,
		AutoStart:   d.Handoff.AutoStart,
	}
}

func (m *ChatMapper) WorkflowsToResponse(defs []*workflow.Definition) []dto.WorkflowResponse {
	out := make([]dto.WorkflowResponse, len(defs))
	for i, d := range defs {
		out[i] = m.WorkflowToResponse(d)
	}
	return out
}

func (m *ChatMapper) CapabilitiesToResponse(descs []capability.Descriptor, fallback string) []dto.CapabilityResponse {
	out := make([]dto.CapabilityResponse, len(descs))
	for i, d := range descs {
		out[i] = dto.CapabilityResponse{
			Name:        d.Name,
			Intent:      string(d.Intent),
			Description: d.Description,
			Operations:  d.Operations,
			Fallback:    d.Name == fallback,
		}
	}
	return out
}

func (m *ChatMapper) TaxonomyToResponse(defs []intent.Definition) dto.TaxonomyResponse {
	out := make([]dto.IntentDefinitionResponse, len(defs))
	for i, d := range defs {
		out[i] = dto.IntentDefinitionResponse{
			Type:           string(d.Type),
			Description:    d.Description,
			WorkflowScoped: d.WorkflowScoped,
		}
	}
	return dto.TaxonomyResponse{Version: intent.TaxonomyVersion, Intents: out}
}

func modeOf(workflowName string) string {
	if workflowName != "" {
		return modeGuided
	}
	return modeFreeform
}
