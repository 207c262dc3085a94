package service

import (
	"context"
	"time"

	"epichat-be/internal/dto"
	"epichat-be/internal/pkg/logger"
)

// zap's ISO8601 encoder layout
const logTimeLayout = "2006-01-02T15:04:05.000Z0700"

type ILogService interface {
	GetLogs(ctx context.Context, request *dto.GetLogsRequest) ([]*dto.LogListResponse, error)
	GetLogDetail(ctx context.Context, logId string) (*dto.LogDetailResponse, error)
}

type logService struct {
	logger logger.ILogger
}

func NewLogService(log logger.ILogger) ILogService {
	return &logService{logger: log}
}

func (s *logService) GetLogs(ctx context.Context, request *dto.GetLogsRequest) ([]*dto.LogListResponse, error) {
	page, limit := request.Page, request.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	logs, err := s.logger.GetLogs(logger.LogFilter{
		Level:     request.Level,
		Module:    request.Module,
		SessionID: request.SessionId,
	}, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.LogListResponse, 0, len(logs))
	for _, l := range logs {
		item := toLogListResponse(l)
		res = append(res, &item)
	}
	return res, nil
}

func (s *logService) GetLogDetail(ctx context.Context, logId string) (*dto.LogDetailResponse, error) {
	l, err := s.logger.GetLogById(logId)
	if err != nil {
		return nil, err
	}

	return &dto.LogDetailResponse{
		LogListResponse: toLogListResponse(*l),
		Details:         l.Details,
	}, nil
}

func toLogListResponse(l logger.LogEntry) dto.LogListResponse {
	ts, err := time.Parse(logTimeLayout, l.Timestamp)
	if err != nil {
		ts, _ = time.Parse(time.RFC3339, l.Timestamp)
	}
	sessionId, _ := l.Details["session_id"].(string)
	return dto.LogListResponse{
		Id:        l.Id,
		Level:     l.Level,
		Module:    l.Module,
		Message:   l.Message,
		SessionId: sessionId,
		CreatedAt: ts,
	}
}
