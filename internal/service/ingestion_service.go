package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"openrecords-be/internal/cache"
	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/embedding"
	"openrecords-be/pkg/parser"
	"openrecords-be/pkg/utils"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var ingestionStages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openrecords_ingestion_stage_total",
	Help: "Ingestion stage transitions by outcome",
}, []string{"stage", "outcome"})

type IngestionOptions struct {
	// EmbeddingModel is used for records that do not name one.
	EmbeddingModel     string
	MaxUploadBytes     int64
	ChunkSizeTokens    int
	ChunkOverlapTokens int
	EmbedBatchSize     int
	Retry              embedding.RetryPolicy
}

type UploadResult struct {
	DocumentId uuid.UUID
	Status     entity.DocumentStatus
	Duplicate  bool
}

type IngestionResult struct {
	DocumentId  uuid.UUID
	Status      entity.DocumentStatus
	FailedStage string
	Reason      string
	ChunkCount  int
	// EmbeddedNow counts vectors written by this run only.
	EmbeddedNow int
	// Deleted is set when the document was deleted while the run was in
	// flight; the run stops without error.
	Deleted bool
}

type ReindexResult struct {
	RecordId       uuid.UUID
	EmbeddingModel string
	Documents      []uuid.UUID
	// Queued is false when there is no job queue and the caller must run
	// Process for each document.
	Queued bool
}

type IIngestionService interface {
	Upload(ctx context.Context, userId, recordId uuid.UUID, filename string, content []byte) (*UploadResult, error)
	Process(ctx context.Context, userId, documentId uuid.UUID) (*IngestionResult, error)
	Ingest(ctx context.Context, userId, recordId uuid.UUID, filename string, content []byte) (*IngestionResult, error)
	Retry(ctx context.Context, userId, documentId uuid.UUID) (*IngestionResult, error)
	Reindex(ctx context.Context, userId, recordId uuid.UUID, embeddingModel string) (*ReindexResult, error)
	ResumePending(ctx context.Context) (int, error)
}

type ingestionService struct {
	uowFactory unitofwork.RepositoryFactory
	chunkStore IChunkStore
	index      IVectorIndex
	vault      *keyvault.Vault
	embedder   embedding.EmbeddingProvider
	publisher  IPublisherService
	cache      *cache.Layer
	events     *EventSink
	logger     logger.ILogger
	opts       IngestionOptions
}

// NewIngestionService wires the pipeline. With a nil publisher Upload does
// not queue a job and callers run Process themselves.
func NewIngestionService(
	uowFactory unitofwork.RepositoryFactory,
	chunkStore IChunkStore,
	index IVectorIndex,
	vault *keyvault.Vault,
	embedder embedding.EmbeddingProvider,
	publisher IPublisherService,
	cacheLayer *cache.Layer,
	events *EventSink,
	log logger.ILogger,
	opts IngestionOptions,
) IIngestionService {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 32
	}
	return &ingestionService{
		uowFactory: uowFactory,
		chunkStore: chunkStore,
		index:      index,
		vault:      vault,
		embedder:   embedder,
		publisher:  publisher,
		cache:      cacheLayer,
		events:     events,
		logger:     log,
		opts:       opts,
	}
}

// stageError is an expected failure recorded on the document.
type stageError struct {
	stage  entity.DocumentStatus
	reason string
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %s", e.stage, e.reason)
}

func fail(stage entity.DocumentStatus, format string, args ...interface{}) error {
	return &stageError{stage: stage, reason: fmt.Sprintf(format, args...)}
}

func (s *ingestionService) validate(filename string, content []byte) error {
	if filename == "" {
		return apperror.Validation("filename is required")
	}
	if !parser.Supported(filename) {
		return apperror.Validation("unsupported file type; allowed: .pdf .txt .md .markdown .docx")
	}
	if len(content) == 0 {
		return apperror.Validation("file is empty")
	}
	if int64(len(content)) > s.opts.MaxUploadBytes {
		return apperror.Validation(fmt.Sprintf("file exceeds the %d byte limit", s.opts.MaxUploadBytes))
	}
	return nil
}

func (s *ingestionService) Upload(ctx context.Context, userId, recordId uuid.UUID, filename string, content []byte) (*UploadResult, error) {
	if err := s.validate(filename, content); err != nil {
		return nil, err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, recordId); err != nil {
		return nil, err
	}

	doc, created, err := s.chunkStore.PutDocument(ctx, recordId, filename, parser.MimeType(filename), content)
	if err != nil {
		return nil, err
	}
	s.stage(entity.DocumentStatusHashed, "ok")

	if !created {
		s.logger.Info("IngestionService", "Duplicate upload", map[string]interface{}{
			"document_id": doc.Id,
			"status":      doc.Status,
		})
		// A blob-less duplicate never got past hashing; store it now.
		if doc.BlobKey == "" {
			if err := s.storeBlob(ctx, userId, doc, content); err != nil {
				return nil, err
			}
			doc.Status = entity.DocumentStatusStored
		}
		if doc.Status == entity.DocumentStatusFailed || doc.Status == entity.DocumentStatusStored {
			if err := s.enqueue(ctx, userId, doc.Id); err != nil {
				return nil, err
			}
		}
		return &UploadResult{DocumentId: doc.Id, Status: doc.Status, Duplicate: true}, nil
	}

	if err := s.storeBlob(ctx, userId, doc, content); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, userId, doc.Id); err != nil {
		return nil, err
	}

	s.logger.Info("IngestionService", "Document accepted", map[string]interface{}{
		"document_id": doc.Id,
		"record_id":   recordId,
		"size_bytes":  len(content),
	})
	return &UploadResult{DocumentId: doc.Id, Status: entity.DocumentStatusStored}, nil
}

func (s *ingestionService) storeBlob(ctx context.Context, userId uuid.UUID, doc *entity.Document, content []byte) error {
	err := s.vault.WithMasterKey(ctx, userId, func(key []byte) error {
		return s.chunkStore.StoreBlob(ctx, doc.Id, key, content)
	})
	if err != nil {
		return err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, entity.DocumentStatusStored, "", ""); err != nil {
		return err
	}
	s.stage(entity.DocumentStatusStored, "ok")
	s.events.progress(userId, dto.IngestionProgressEvent{
		DocumentId: doc.Id,
		RecordId:   doc.RecordId,
		Status:     string(entity.DocumentStatusStored),
	})
	return nil
}

func (s *ingestionService) enqueue(ctx context.Context, userId, documentId uuid.UUID) error {
	if s.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(dto.PublishIngestionMessage{DocumentId: documentId, UserId: userId})
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, payload)
}

func (s *ingestionService) Ingest(ctx context.Context, userId, recordId uuid.UUID, filename string, content []byte) (*IngestionResult, error) {
	upload, err := s.Upload(ctx, userId, recordId, filename, content)
	if err != nil {
		return nil, err
	}
	return s.Process(ctx, userId, upload.DocumentId)
}

func (s *ingestionService) Retry(ctx context.Context, userId, documentId uuid.UUID) (*IngestionResult, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, _, err := ownedDocument(ctx, uow, userId, documentId)
	if err != nil {
		return nil, err
	}
	if doc.IsSearchable() {
		return &IngestionResult{DocumentId: doc.Id, Status: doc.Status, ChunkCount: doc.ChunkCount}, nil
	}
	return s.Process(ctx, userId, documentId)
}

// Process drives a document from its persisted state to complete. Every
// step is idempotent, so a failed or interrupted run can simply be repeated.
// The master key is unwrapped per step and never held across provider calls.
func (s *ingestionService) Process(ctx context.Context, userId, documentId uuid.UUID) (*IngestionResult, error) {
	ctx, span := otel.Tracer("openrecords/ingestion").Start(ctx, "ingestion.process")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentId.String()))

	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, record, err := ownedDocument(ctx, uow, userId, documentId)
	if err != nil {
		return nil, err
	}
	if doc.IsSearchable() {
		return &IngestionResult{DocumentId: doc.Id, Status: doc.Status, ChunkCount: doc.ChunkCount}, nil
	}
	if doc.BlobKey == "" {
		return nil, apperror.Validation("document has no stored content; upload it again")
	}
	if err := uow.DocumentRepository().IncrementAttempts(ctx, doc.Id); err != nil {
		return nil, err
	}

	result := &IngestionResult{DocumentId: doc.Id}
	err = s.run(ctx, userId, doc, record, s.vault.For(ctx, userId), result)
	if err == nil {
		return result, nil
	}

	if s.vanished(ctx, doc.Id) {
		s.logger.Info("IngestionService", "Document deleted during ingestion", map[string]interface{}{
			"document_id": doc.Id,
		})
		return &IngestionResult{DocumentId: doc.Id, Deleted: true, EmbeddedNow: result.EmbeddedNow}, nil
	}

	var se *stageError
	if errors.As(err, &se) {
		return s.recordFailure(ctx, userId, doc, se, result)
	}
	s.logger.Error("IngestionService", "Ingestion interrupted", map[string]interface{}{
		"document_id": doc.Id,
		"error":       err.Error(),
	})
	return nil, err
}

// vanished reports whether the document row is gone. It ignores
// cancellation of ctx so an interrupted run can still tell.
func (s *ingestionService) vanished(ctx context.Context, documentId uuid.UUID) bool {
	ctx = context.WithoutCancel(ctx)
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: documentId})
	return err == nil && doc == nil
}

func (s *ingestionService) run(ctx context.Context, userId uuid.UUID, doc *entity.Document, record *entity.Record, withKey keyvault.KeyFunc, result *IngestionResult) error {
	model := embeddingModelOf(record, s.opts.EmbeddingModel)

	chunkIds, err := s.ensureChunks(ctx, userId, doc, withKey)
	if err != nil {
		return err
	}
	result.ChunkCount = len(chunkIds)

	embedded, err := s.embedMissing(ctx, userId, doc, model, withKey)
	result.EmbeddedNow = embedded
	if err != nil {
		return err
	}
	if err := s.advance(ctx, userId, doc, entity.DocumentStatusEmbedded); err != nil {
		return err
	}

	count, err := s.index.CountForDocument(ctx, doc.Id, model)
	if err != nil {
		return err
	}
	if int(count) != len(chunkIds) {
		return fail(entity.DocumentStatusIndexed, "%d of %d chunks have vectors", count, len(chunkIds))
	}
	if err := s.advance(ctx, userId, doc, entity.DocumentStatusIndexed); err != nil {
		return err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.DocumentRepository().MarkComplete(ctx, doc.Id, model, time.Now()); err != nil {
		return err
	}
	doc.Status = entity.DocumentStatusComplete
	result.Status = entity.DocumentStatusComplete
	s.stage(entity.DocumentStatusComplete, "ok")

	// A new source can change any cached answer of the record.
	s.cache.InvalidatePrefix(cache.KindAnswer, doc.RecordId.String())
	s.events.documentIndexed(ctx, doc.RecordId, doc.Id, len(chunkIds))
	s.events.progress(userId, dto.IngestionProgressEvent{
		DocumentId: doc.Id,
		RecordId:   doc.RecordId,
		Status:     string(entity.DocumentStatusComplete),
		ChunkCount: len(chunkIds),
	})

	s.logger.Info("IngestionService", "Document indexed", map[string]interface{}{
		"document_id":  doc.Id,
		"chunks":       len(chunkIds),
		"embedded_now": embedded,
		"model":        model,
	})
	return nil
}

// ensureChunks returns the chunk ids, reusing stored chunks when a previous
// run already wrote all of them.
func (s *ingestionService) ensureChunks(ctx context.Context, userId uuid.UUID, doc *entity.Document, withKey keyvault.KeyFunc) ([]uuid.UUID, error) {
	if doc.ChunkCount > 0 {
		existing, err := s.chunkStore.ListChunks(ctx, doc.Id)
		if err != nil {
			return nil, err
		}
		if len(existing) == doc.ChunkCount {
			ids := make([]uuid.UUID, len(existing))
			for i, c := range existing {
				ids[i] = c.Id
			}
			return ids, nil
		}
	}

	var plaintext []byte
	err := withKey(func(key []byte) error {
		var readErr error
		plaintext, readErr = s.chunkStore.ReadBlob(ctx, doc.Id, key)
		return readErr
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return nil, fail(entity.DocumentStatusStored, "stored content is missing")
		}
		return nil, err
	}

	sections, err := parser.Parse(doc.Filename, plaintext)
	if err != nil {
		return nil, fail(entity.DocumentStatusParsed, "%v", err)
	}
	if err := s.advance(ctx, userId, doc, entity.DocumentStatusParsed); err != nil {
		return nil, err
	}

	text, offsets := parser.Join(sections)
	windows := utils.SplitText(text, s.opts.ChunkSizeTokens, s.opts.ChunkOverlapTokens)
	if len(windows) == 0 {
		return nil, fail(entity.DocumentStatusParsed, "%v", parser.ErrNoText)
	}

	inputs := make([]ChunkInput, len(windows))
	tokens := 0
	for i, w := range windows {
		page := parser.PageAt(sections, offsets, w.Offset)
		inputs[i] = ChunkInput{
			Text:         w.Text,
			TokenCount:   w.Tokens,
			OverlapBytes: w.OverlapBytes,
			PageNumber:   &page,
		}
		tokens += w.Tokens
	}

	var ids []uuid.UUID
	err = withKey(func(key []byte) error {
		var putErr error
		ids, putErr = s.chunkStore.PutChunks(ctx, doc.Id, inputs, key)
		return putErr
	})
	if err != nil {
		return nil, err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	pages := sections[len(sections)-1].Page
	if err := uow.DocumentRepository().UpdateCounters(ctx, doc.Id, pages, len(ids), tokens); err != nil {
		return nil, err
	}
	doc.ChunkCount = len(ids)

	if err := s.advance(ctx, userId, doc, entity.DocumentStatusChunked); err != nil {
		return nil, err
	}
	return ids, nil
}

// embedMissing embeds only chunks without a vector for model. Vectors are
// committed per batch, so a failure keeps earlier batches. Each batch is
// decrypted under its own unwrap; the provider call runs without the key.
func (s *ingestionService) embedMissing(ctx context.Context, userId uuid.UUID, doc *entity.Document, model string, withKey keyvault.KeyFunc) (int, error) {
	missing, err := s.index.MissingOrdinals(ctx, doc.Id, model)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}

	chunks, err := s.chunkStore.ListChunks(ctx, doc.Id)
	if err != nil {
		return 0, err
	}
	byOrdinal := make(map[int]*entity.Chunk, len(chunks))
	for _, c := range chunks {
		byOrdinal[c.Ordinal] = c
	}

	embedded := 0
	for start := 0; start < len(missing); start += s.opts.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return embedded, err
		}
		end := start + s.opts.EmbedBatchSize
		if end > len(missing) {
			end = len(missing)
		}

		batch := make([]*entity.Chunk, 0, end-start)
		texts := make([]string, 0, end-start)
		for _, ordinal := range missing[start:end] {
			c, ok := byOrdinal[ordinal]
			if !ok {
				return embedded, apperror.NotFound("chunk")
			}
			batch = append(batch, c)
		}
		err := withKey(func(key []byte) error {
			for _, c := range batch {
				text, err := s.chunkStore.GetChunkText(ctx, c.Id, key)
				if err != nil {
					return err
				}
				texts = append(texts, text)
			}
			return nil
		})
		if err != nil {
			return embedded, err
		}

		var vectors [][]float32
		err = s.opts.Retry.Do(ctx, func() error {
			var callErr error
			vectors, callErr = s.embedder.EmbedBatch(ctx, texts, model)
			return callErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return embedded, ctx.Err()
			}
			return embedded, fail(entity.DocumentStatusEmbedded, "embedding provider: %v", err)
		}
		if len(vectors) != len(batch) {
			return embedded, fail(entity.DocumentStatusEmbedded, "provider returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, c := range batch {
			if err := s.index.Upsert(ctx, c.Id, vectors[i], model); err != nil {
				return embedded, err
			}
			embedded++
		}

		s.events.progress(userId, dto.IngestionProgressEvent{
			DocumentId: doc.Id,
			RecordId:   doc.RecordId,
			Status:     string(entity.DocumentStatusChunked),
			ChunkCount: len(chunks),
			Embedded:   len(chunks) - len(missing) + embedded,
		})
	}
	return embedded, nil
}

// pendingStatuses are the states a document can be left in when the process
// stops mid-run. Received documents have no content to resume from.
var pendingStatuses = []string{
	string(entity.DocumentStatusHashed),
	string(entity.DocumentStatusStored),
	string(entity.DocumentStatusParsed),
	string(entity.DocumentStatusChunked),
	string(entity.DocumentStatusEmbedded),
	string(entity.DocumentStatusIndexed),
}

// ResumePending queues a job for every document an earlier process left
// mid-pipeline. The in-memory queue loses jobs on restart, so this runs once
// the consumer is subscribed.
func (s *ingestionService) ResumePending(ctx context.Context) (int, error) {
	if s.publisher == nil {
		return 0, nil
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	docs, err := uow.DocumentRepository().FindAll(ctx,
		specification.ByStatusIn{Statuses: pendingStatuses},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return 0, err
	}

	owners := make(map[uuid.UUID]uuid.UUID)
	queued := 0
	for _, doc := range docs {
		if doc.BlobKey == "" {
			continue
		}
		owner, ok := owners[doc.RecordId]
		if !ok {
			record, err := uow.RecordRepository().FindOne(ctx, specification.ByID{ID: doc.RecordId})
			if err != nil {
				return queued, err
			}
			if record == nil {
				continue
			}
			owner = record.UserId
			owners[doc.RecordId] = owner
		}
		if err := s.enqueue(ctx, owner, doc.Id); err != nil {
			return queued, err
		}
		queued++
	}

	if queued > 0 {
		s.logger.Info("IngestionService", "Resumed pending documents", map[string]interface{}{
			"queued": queued,
		})
	}
	return queued, nil
}

// Reindex drops every vector of the record and sends its documents back
// through embedding, optionally under a new embedding model. Chunks are kept.
func (s *ingestionService) Reindex(ctx context.Context, userId, recordId uuid.UUID, embeddingModel string) (*ReindexResult, error) {
	if len(embeddingModel) > 255 {
		return nil, apperror.Validation("embedding model name is too long")
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	record, err := ownedRecord(ctx, uow, userId, recordId)
	if err != nil {
		return nil, err
	}
	docs, err := uow.DocumentRepository().FindAll(ctx, specification.ByRecordID{RecordID: recordId})
	if err != nil {
		return nil, err
	}

	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	if embeddingModel != "" && embeddingModel != record.EmbeddingModel {
		now := time.Now()
		record.EmbeddingModel = embeddingModel
		record.UpdatedAt = &now
		if err := uow.RecordRepository().Update(ctx, record); err != nil {
			return nil, err
		}
	}

	result := &ReindexResult{
		RecordId:       recordId,
		EmbeddingModel: embeddingModelOf(record, s.opts.EmbeddingModel),
		Queued:         s.publisher != nil,
	}
	for _, doc := range docs {
		if doc.BlobKey == "" {
			continue
		}
		if err := uow.ChunkEmbeddingRepository().DeleteByDocumentId(ctx, doc.Id); err != nil {
			return nil, err
		}
		status := entity.DocumentStatusStored
		if doc.ChunkCount > 0 {
			status = entity.DocumentStatusChunked
		}
		if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, status, "", ""); err != nil {
			return nil, err
		}
		result.Documents = append(result.Documents, doc.Id)
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}
	s.cache.InvalidatePrefix(cache.KindAnswer, recordId.String())

	for _, id := range result.Documents {
		if err := s.enqueue(ctx, userId, id); err != nil {
			return nil, err
		}
	}

	s.logger.Info("IngestionService", "Record reindex started", map[string]interface{}{
		"record_id": recordId,
		"documents": len(result.Documents),
		"model":     result.EmbeddingModel,
	})
	return result, nil
}

// advance moves the document forward to status; it never moves it back.
func (s *ingestionService) advance(ctx context.Context, userId uuid.UUID, doc *entity.Document, status entity.DocumentStatus) error {
	if doc.Status != entity.DocumentStatusFailed && doc.Status.Rank() >= status.Rank() {
		return nil
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, status, "", ""); err != nil {
		return err
	}
	doc.Status = status
	s.stage(status, "ok")
	s.events.progress(userId, dto.IngestionProgressEvent{
		DocumentId: doc.Id,
		RecordId:   doc.RecordId,
		Status:     string(status),
		ChunkCount: doc.ChunkCount,
	})
	return nil
}

func (s *ingestionService) recordFailure(ctx context.Context, userId uuid.UUID, doc *entity.Document, se *stageError, result *IngestionResult) (*IngestionResult, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, entity.DocumentStatusFailed, string(se.stage), se.reason); err != nil {
		return nil, err
	}
	s.stage(se.stage, "failed")

	s.logger.Warn("IngestionService", "Ingestion stage failed", map[string]interface{}{
		"document_id": doc.Id,
		"stage":       se.stage,
	})
	s.events.documentFailed(ctx, doc.RecordId, doc.Id, string(se.stage))
	s.events.progress(userId, dto.IngestionProgressEvent{
		DocumentId:  doc.Id,
		RecordId:    doc.RecordId,
		Status:      string(entity.DocumentStatusFailed),
		FailedStage: string(se.stage),
		Reason:      se.reason,
	})

	result.Status = entity.DocumentStatusFailed
	result.FailedStage = string(se.stage)
	result.Reason = se.reason
	return result, nil
}

func (s *ingestionService) stage(status entity.DocumentStatus, outcome string) {
	ingestionStages.WithLabelValues(string(status), outcome).Inc()
}
