package entity

import (
	"time"

	"github.com/google/uuid"
)

type ReferenceStatus string

const (
	ReferenceStatusPending ReferenceStatus = "pending"
	ReferenceStatusStored  ReferenceStatus = "stored"
	ReferenceStatusError   ReferenceStatus = "error"
)

type Reference struct {
	Id           uuid.UUID
	RecordId     uuid.UUID
	UrlHash      string
	Ciphertext   []byte
	Status       ReferenceStatus
	DocumentId   *uuid.UUID
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}
