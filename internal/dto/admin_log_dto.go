package dto

import "time"

// Note: LogListResponse uses string for Id because log IDs are MD5 hashes, not UUIDs

type LogListResponse struct {
	Id        string    `json:"id"`
	Level     string    `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	SessionId string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type LogDetailResponse struct {
	LogListResponse
	Details map[string]interface{} `json:"details"`
}

type GetLogsRequest struct {
	Level     string `query:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
	Module    string `query:"module" validate:"omitempty,max=32"`
	SessionId string `query:"session_id" validate:"omitempty,max=128"`
	Page      int    `query:"page" validate:"omitempty,min=1"`
	Limit     int    `query:"limit" validate:"omitempty,min=1,max=500"`
}
