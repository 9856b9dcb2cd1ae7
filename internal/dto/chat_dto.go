package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ChatMessageRequest struct {
	Id        string          `json:"id" validate:"required,max=128"`
	Role      string          `json:"role" validate:"required,oneof=user assistant system"`
	Content   string          `json:"content"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	Model     string          `json:"model" validate:"max=255"`
	Timestamp time.Time       `json:"timestamp" validate:"required"`
}

// SaveChatRequest replaces the whole history of a record.
type SaveChatRequest struct {
	RecordId uuid.UUID            `json:"record_id"`
	Messages []ChatMessageRequest `json:"messages" validate:"max=2000,dive"`
}

type ChatMessageResponse struct {
	Id        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	Model     string          `json:"model,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type ChatHistoryResponse struct {
	RecordId uuid.UUID             `json:"record_id"`
	Messages []ChatMessageResponse `json:"messages"`
}
