package entity

import (
	"time"

	"github.com/google/uuid"
)

// Record is the unit of isolation for documents and retrieval.
type Record struct {
	Id             uuid.UUID
	UserId         uuid.UUID
	Name           string
	Description    string
	ChatModel      string
	EmbeddingModel string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}
