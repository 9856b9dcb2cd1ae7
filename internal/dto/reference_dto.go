package dto

import (
	"time"

	"github.com/google/uuid"
)

type AddReferenceRequest struct {
	RecordId uuid.UUID `json:"record_id" validate:"required"`
	Url      string    `json:"url" validate:"required,url,max=2048"`
}

type ReferenceResponse struct {
	Id           uuid.UUID  `json:"id"`
	RecordId     uuid.UUID  `json:"record_id"`
	Url          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	Status       string     `json:"status"`
	DocumentId   *uuid.UUID `json:"document_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
