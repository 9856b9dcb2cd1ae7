package events

import (
	"context"
	"time"
)

const (
	TypeDocumentIndexed = "document.indexed"
	TypeDocumentFailed  = "document.failed"
	TypeDocumentDeleted = "document.deleted"
	TypeExportCompleted = "export.completed"
)

// Event defines the contract for all domain events. Payloads carry ids and
// counts only.
type Event interface {
	EventType() string
	Payload() map[string]interface{}
	Timestamp() time.Time
}

// Publisher delivers events to the bus. A nil Publisher is valid and drops events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func DocumentIndexed(recordID, documentID string, chunks int) BaseEvent {
	return New(TypeDocumentIndexed, map[string]interface{}{
		"record_id":   recordID,
		"document_id": documentID,
		"chunk_count": chunks,
	})
}

func DocumentFailed(recordID, documentID, stage string) BaseEvent {
	return New(TypeDocumentFailed, map[string]interface{}{
		"record_id":    recordID,
		"document_id":  documentID,
		"failed_stage": stage,
	})
}

func DocumentDeleted(recordID, documentID string) BaseEvent {
	return New(TypeDocumentDeleted, map[string]interface{}{
		"record_id":   recordID,
		"document_id": documentID,
	})
}

func ExportCompleted(recordID, artifactID, status string, succeeded, failed int) BaseEvent {
	return New(TypeExportCompleted, map[string]interface{}{
		"record_id":       recordID,
		"artifact_id":     artifactID,
		"status":          status,
		"succeeded_pages": succeeded,
		"failed_pages":    failed,
	})
}
