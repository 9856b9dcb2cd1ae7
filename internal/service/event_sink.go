package service

import (
	"context"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/pkg/events"

	"github.com/google/uuid"
)

// IProgressNotifier pushes ingestion progress to a user's live connections.
type IProgressNotifier interface {
	NotifyIngestion(userId uuid.UUID, event dto.IngestionProgressEvent)
}

// EventSink fans domain events out to the bus and to live clients. Both
// outlets are optional and failures only log.
type EventSink struct {
	publisher events.Publisher
	notifier  IProgressNotifier
	logger    logger.ILogger
}

func NewEventSink(publisher events.Publisher, notifier IProgressNotifier, log logger.ILogger) *EventSink {
	return &EventSink{publisher: publisher, notifier: notifier, logger: log}
}

func (s *EventSink) publish(ctx context.Context, event events.Event) {
	if s == nil || s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("EventSink", "Failed to publish event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
	}
}

func (s *EventSink) progress(userId uuid.UUID, event dto.IngestionProgressEvent) {
	if s == nil || s.notifier == nil {
		return
	}
	event.Type = "ingestion.progress"
	s.notifier.NotifyIngestion(userId, event)
}

func (s *EventSink) documentIndexed(ctx context.Context, recordId, documentId uuid.UUID, chunks int) {
	s.publish(ctx, events.DocumentIndexed(recordId.String(), documentId.String(), chunks))
}

func (s *EventSink) documentFailed(ctx context.Context, recordId, documentId uuid.UUID, stage string) {
	s.publish(ctx, events.DocumentFailed(recordId.String(), documentId.String(), stage))
}

func (s *EventSink) documentDeleted(ctx context.Context, recordId, documentId uuid.UUID) {
	s.publish(ctx, events.DocumentDeleted(recordId.String(), documentId.String()))
}

func (s *EventSink) exportCompleted(ctx context.Context, recordId, artifactId uuid.UUID, status string, succeeded, failed int) {
	s.publish(ctx, events.ExportCompleted(recordId.String(), artifactId.String(), status, succeeded, failed))
}
