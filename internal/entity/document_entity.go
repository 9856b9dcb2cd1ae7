package entity

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentStatusReceived DocumentStatus = "received"
	DocumentStatusHashed   DocumentStatus = "hashed"
	DocumentStatusStored   DocumentStatus = "stored"
	DocumentStatusParsed   DocumentStatus = "parsed"
	DocumentStatusChunked  DocumentStatus = "chunked"
	DocumentStatusEmbedded DocumentStatus = "embedded"
	DocumentStatusIndexed  DocumentStatus = "indexed"
	DocumentStatusComplete DocumentStatus = "complete"
	DocumentStatusFailed   DocumentStatus = "failed"
)

// Rank orders the non-terminal states. Failed has no rank.
func (s DocumentStatus) Rank() int {
	switch s {
	case DocumentStatusReceived:
		return 0
	case DocumentStatusHashed:
		return 1
	case DocumentStatusStored:
		return 2
	case DocumentStatusParsed:
		return 3
	case DocumentStatusChunked:
		return 4
	case DocumentStatusEmbedded:
		return 5
	case DocumentStatusIndexed:
		return 6
	case DocumentStatusComplete:
		return 7
	}
	return -1
}

type Document struct {
	Id             uuid.UUID
	RecordId       uuid.UUID
	Filename       string
	MimeType       string
	SizeBytes      int64
	ContentHash    string
	BlobKey        string
	Status         DocumentStatus
	FailedStage    string
	FailureReason  string
	Attempts       int
	PageCount      int
	ChunkCount     int
	TokenCount     int
	EmbeddingModel string
	IndexedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

func (d *Document) IsSearchable() bool {
	return d.Status == DocumentStatusComplete
}
