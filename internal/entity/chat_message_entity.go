package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessage struct {
	Id         uuid.UUID
	RecordId   uuid.UUID
	Position   int
	MessageId  string
	Role       string
	Model      string
	Ciphertext []byte
	SentAt     time.Time
	CreatedAt  time.Time
}
