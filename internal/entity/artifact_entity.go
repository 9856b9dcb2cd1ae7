package entity

import (
	"time"

	"github.com/google/uuid"
)

type ArtifactStatus string

const (
	ArtifactStatusRunning  ArtifactStatus = "running"
	ArtifactStatusComplete ArtifactStatus = "complete"
	ArtifactStatusPartial  ArtifactStatus = "partial"
	ArtifactStatusFailed   ArtifactStatus = "failed"
)

type PageStatus string

const (
	PageStatusPending   PageStatus = "pending"
	PageStatusSucceeded PageStatus = "succeeded"
	PageStatusFailed    PageStatus = "failed"
)

// PageRef is one group of a paginated export. ChunkIds are fixed on the first run.
type PageRef struct {
	Index    int         `json:"index"`
	ChunkIds []uuid.UUID `json:"chunk_ids"`
	Status   PageStatus  `json:"status"`
	BlobKey  string      `json:"blob_key,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Attempts int         `json:"attempts"`
}

type GeneratedArtifact struct {
	Id             uuid.UUID
	RecordId       uuid.UUID
	UserId         uuid.UUID
	Kind           string
	Status         ArtifactStatus
	ModelId        string
	Pages          []PageRef
	OutputBlobKey  string
	SucceededPages int
	FailedPages    int
	ChunkCount     int
	Params         map[string]string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}
