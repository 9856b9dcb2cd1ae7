package dto

import (
	"github.com/google/uuid"
)

// PublishIngestionMessage is the queued job. It never carries document content.
type PublishIngestionMessage struct {
	DocumentId uuid.UUID `json:"document_id"`
	UserId     uuid.UUID `json:"user_id"`
}

type UploadDocumentResponse struct {
	DocumentId uuid.UUID `json:"document_id"`
	Status     string    `json:"status"`
	Duplicate  bool      `json:"duplicate"`
}

// IngestionProgressEvent is pushed to the owner's websocket clients.
type IngestionProgressEvent struct {
	Type        string    `json:"type"`
	DocumentId  uuid.UUID `json:"document_id"`
	RecordId    uuid.UUID `json:"record_id"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ChunkCount  int       `json:"chunk_count,omitempty"`
	Embedded    int       `json:"embedded,omitempty"`
}
