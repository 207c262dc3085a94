package service

import (
	"context"
	"fmt"

	"epichat-be/internal/dto"
	"epichat-be/internal/mapper"
	"epichat-be/pkg/capability"
	"epichat-be/pkg/engine"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/workflow"
)

// IChatService is the transport-facing view of the conversation engine
type IChatService interface {
	SendMessage(ctx context.Context, request *dto.SendMessageRequest) (*dto.SendMessageResponse, error)
	GetSession(ctx context.Context, sessionId string) (*dto.SessionResponse, error)
	ResetSession(ctx context.Context, sessionId string) error
	AttachData(ctx context.Context, sessionId string, request *dto.AttachDataRequest) (*dto.SchemaResponse, error)
	GetWorkflows(ctx context.Context) ([]dto.WorkflowResponse, error)
	GetCapabilities(ctx context.Context) ([]dto.CapabilityResponse, error)
	GetTaxonomy(ctx context.Context) (*dto.TaxonomyResponse, error)
}

type chatService struct {
	engine       *engine.Engine
	workflows    *workflow.Registry
	capabilities *capability.Registry
	mapper       *mapper.ChatMapper
}

func NewChatService(e *engine.Engine, workflows *workflow.Registry, capabilities *capability.Registry) IChatService {
	return &chatService{
		engine:       e,
		workflows:    workflows,
		capabilities: capabilities,
		mapper:       mapper.NewChatMapper(),
	}
}

func (s *chatService) SendMessage(ctx context.Context, request *dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	hint, err := engine.ParseModeHint(request.Mode)
	if err != nil {
		return nil, err
	}

	out, err := s.engine.HandleMessage(ctx, engine.Inbound{
		SessionID: request.SessionId,
		Text:      request.Message,
		ModeHint:  hint,
	})
	if err != nil {
		return nil, err
	}
	return s.mapper.OutboundToResponse(out), nil
}

func (s *chatService) GetSession(ctx context.Context, sessionId string) (*dto.SessionResponse, error) {
	state, err := s.engine.Snapshot(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return s.mapper.StateToResponse(state, s.engine.StageOf(state)), nil
}

func (s *chatService) ResetSession(ctx context.Context, sessionId string) error {
	return s.engine.Reset(ctx, sessionId)
}

func (s *chatService) AttachData(ctx context.Context, sessionId string, request *dto.AttachDataRequest) (*dto.SchemaResponse, error) {
	schema, err := s.engine.AttachData(ctx, sessionId, request.Reference)
	if err != nil {
		return nil, fmt.Errorf("attach %q: %w", request.Reference, err)
	}
	return s.mapper.SchemaToResponse(schema), nil
}

func (s *chatService) GetWorkflows(ctx context.Context) ([]dto.WorkflowResponse, error) {
	return s.mapper.WorkflowsToResponse(s.workflows.All()), nil
}

func (s *chatService) GetCapabilities(ctx context.Context) ([]dto.CapabilityResponse, error) {
	fallback := ""
	if c, ok := s.capabilities.Fallback(); ok {
		fallback = c.Descriptor().Name
	}
	return s.mapper.CapabilitiesToResponse(s.capabilities.Catalog(), fallback), nil
}

func (s *chatService) GetTaxonomy(ctx context.Context) (*dto.TaxonomyResponse, error) {
	res := s.mapper.TaxonomyToResponse(intent.Taxonomy())
	return &res, nil
}
