package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateRecordRequest struct {
	Name           string `json:"name" validate:"required,max=255"`
	Description    string `json:"description" validate:"max=2000"`
	ChatModel      string `json:"chat_model" validate:"max=255"`
	EmbeddingModel string `json:"embedding_model" validate:"max=255"`
}

type CreateRecordResponse struct {
	Id uuid.UUID `json:"id"`
}

type UpdateRecordRequest struct {
	Id          uuid.UUID
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	ChatModel   string `json:"chat_model" validate:"max=255"`
}

type RecordResponse struct {
	Id             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	ChatModel      string     `json:"chat_model"`
	EmbeddingModel string     `json:"embedding_model"`
	DocumentCount  int64      `json:"document_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

type DocumentResponse struct {
	Id             uuid.UUID  `json:"id"`
	RecordId       uuid.UUID  `json:"record_id"`
	Filename       string     `json:"filename"`
	MimeType       string     `json:"mime_type"`
	SizeBytes      int64      `json:"size_bytes"`
	Status         string     `json:"status"`
	FailedStage    string     `json:"failed_stage,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	Attempts       int        `json:"attempts"`
	PageCount      int        `json:"page_count"`
	ChunkCount     int        `json:"chunk_count"`
	TokenCount     int        `json:"token_count"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	IndexedAt      *time.Time `json:"indexed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type ReindexRecordRequest struct {
	EmbeddingModel string `json:"embedding_model" validate:"max=255"`
}

type ReindexRecordResponse struct {
	RecordId       uuid.UUID   `json:"record_id"`
	EmbeddingModel string      `json:"embedding_model"`
	Documents      []uuid.UUID `json:"documents"`
}
