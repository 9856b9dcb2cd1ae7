package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/model"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/pkg/embedding"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressRecorder struct {
	mu     sync.Mutex
	events []dto.IngestionProgressEvent
}

func (p *progressRecorder) NotifyIngestion(_ uuid.UUID, event dto.IngestionProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *progressRecorder) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if len(out) == 0 || out[len(out)-1] != e.Status {
			out = append(out, e.Status)
		}
	}
	return out
}

func (h *harness) loadDocument(t *testing.T, id uuid.UUID) *entity.Document {
	t.Helper()
	uow := h.uowFactory.NewUnitOfWork(context.Background())
	doc, err := uow.DocumentRepository().FindOne(context.Background(), specification.ByID{ID: id})
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func TestUploadRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"unsupported type", "payload.exe", []byte("MZ binary")},
		{"no filename", "", []byte("text")},
		{"empty file", "empty.txt", nil},
		{"too large", "large.txt", make([]byte, (1<<20)+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			userId := h.user(t)
			record := h.record(t, userId)

			_, err := h.ingestion(newFakeEmbedder()).Upload(context.Background(), userId, record.Id, tt.filename, tt.content)
			require.Error(t, err)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

			var documents int64
			require.NoError(t, h.db.Model(&model.Document{}).Count(&documents).Error)
			assert.Zero(t, documents)
		})
	}
}

func TestUploadToForeignRecord(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t)
	stranger := h.user(t)
	record := h.record(t, owner)

	_, err := h.ingestion(newFakeEmbedder()).Upload(context.Background(), stranger, record.Id, "a.txt", []byte("hello there"))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestIngestRunsToComplete(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	embedder := newFakeEmbedder()
	progress := &progressRecorder{}
	svc := NewIngestionService(h.uowFactory, h.chunks, h.index, h.vault, embedder, nil, h.cache,
		NewEventSink(nil, progress, h.log), h.log, IngestionOptions{
			MaxUploadBytes:     1 << 20,
			ChunkSizeTokens:    40,
			ChunkOverlapTokens: 5,
			EmbedBatchSize:     4,
		})

	result, err := svc.Ingest(context.Background(), userId, record.Id, "notes.md", []byte("# Notes\n\n"+paragraph("ledger", 20)))
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusComplete, result.Status)
	assert.Greater(t, result.ChunkCount, 1)
	assert.Equal(t, result.ChunkCount, result.EmbeddedNow)
	assert.Equal(t, result.ChunkCount, embedder.embeddedTexts())

	doc := h.loadDocument(t, result.DocumentId)
	assert.Equal(t, testEmbeddingModel, doc.EmbeddingModel)
	assert.NotNil(t, doc.IndexedAt)
	assert.Equal(t, 1, doc.Attempts)

	assert.Equal(t, []string{"stored", "parsed", "chunked", "embedded", "indexed", "complete"}, progress.statuses())
}

func TestDuplicateUploadIsNotReprocessed(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	content := []byte(paragraph("duplicate", 6))

	first := h.ingest(t, userId, record.Id, "a.txt", string(content))

	embedder := newFakeEmbedder()
	svc := h.ingestion(embedder)
	upload, err := svc.Upload(context.Background(), userId, record.Id, "copy.txt", content)
	require.NoError(t, err)
	assert.True(t, upload.Duplicate)
	assert.Equal(t, first, upload.DocumentId)
	assert.Equal(t, entity.DocumentStatusComplete, upload.Status)

	result, err := svc.Process(context.Background(), userId, upload.DocumentId)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusComplete, result.Status)
	assert.Zero(t, embedder.calls)
}

func TestResumeEmbedsOnlyMissingChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)

	failing := newFakeEmbedder()
	failing.fail = func(call int) error {
		if call == 2 {
			return errPermanent
		}
		return nil
	}

	result, err := h.ingestion(failing).Ingest(ctx, userId, record.Id, "long.txt", []byte(paragraph("resume", 30)))
	require.NoError(t, err)
	require.Greater(t, result.ChunkCount, 8)
	assert.Equal(t, entity.DocumentStatusFailed, result.Status)
	assert.Equal(t, string(entity.DocumentStatusEmbedded), result.FailedStage)
	assert.Contains(t, result.Reason, "embedding provider")
	assert.Equal(t, 4, result.EmbeddedNow)

	doc := h.loadDocument(t, result.DocumentId)
	assert.Equal(t, entity.DocumentStatusFailed, doc.Status)
	assert.Equal(t, string(entity.DocumentStatusEmbedded), doc.FailedStage)

	missing, err := h.index.MissingOrdinals(ctx, result.DocumentId, testEmbeddingModel)
	require.NoError(t, err)
	assert.Len(t, missing, result.ChunkCount-4)

	chunksBefore, err := h.chunks.ListChunks(ctx, result.DocumentId)
	require.NoError(t, err)

	healthy := newFakeEmbedder()
	retried, err := h.ingestion(healthy).Retry(ctx, userId, result.DocumentId)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusComplete, retried.Status)
	assert.Equal(t, result.ChunkCount-4, healthy.embeddedTexts())
	assert.Equal(t, result.ChunkCount-4, retried.EmbeddedNow)

	chunksAfter, err := h.chunks.ListChunks(ctx, result.DocumentId)
	require.NoError(t, err)
	require.Len(t, chunksAfter, len(chunksBefore))
	for i := range chunksBefore {
		assert.Equal(t, chunksBefore[i].Id, chunksAfter[i].Id)
	}

	doc = h.loadDocument(t, result.DocumentId)
	assert.Equal(t, entity.DocumentStatusComplete, doc.Status)
	assert.Empty(t, doc.FailedStage)
	assert.Equal(t, 2, doc.Attempts)
}

func TestTransientEmbeddingFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)

	flaky := newFakeEmbedder()
	flaky.fail = func(call int) error {
		if call == 1 {
			return &embedding.ProviderError{Provider: "fake", StatusCode: 503, Transient: true, Err: errors.New("busy")}
		}
		return nil
	}

	result, err := h.ingestion(flaky).Ingest(context.Background(), userId, record.Id, "a.txt", []byte(paragraph("flaky", 4)))
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusComplete, result.Status)
}

func TestParseFailureIsRecorded(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"malformed pdf", "broken.pdf", []byte("%PDF-1.4 this is not really a pdf")},
		{"whitespace only", "blank.txt", []byte("   \n\t  ")},
		{"malformed docx", "broken.docx", []byte("not a zip archive")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			userId := h.user(t)
			record := h.record(t, userId)
			embedder := newFakeEmbedder()

			result, err := h.ingestion(embedder).Ingest(context.Background(), userId, record.Id, tt.filename, tt.content)
			require.NoError(t, err)
			assert.Equal(t, entity.DocumentStatusFailed, result.Status)
			assert.Equal(t, string(entity.DocumentStatusParsed), result.FailedStage)
			assert.NotEmpty(t, result.Reason)
			assert.Zero(t, embedder.calls)

			doc := h.loadDocument(t, result.DocumentId)
			assert.Zero(t, doc.ChunkCount)
		})
	}
}

func TestCancelledIngestionResumes(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := newFakeEmbedder()
	interrupted.fail = func(call int) error {
		if call == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}

	svc := h.ingestion(interrupted)
	upload, err := svc.Upload(context.Background(), userId, record.Id, "a.txt", []byte(paragraph("cancel", 30)))
	require.NoError(t, err)

	_, err = svc.Process(ctx, userId, upload.DocumentId)
	require.ErrorIs(t, err, context.Canceled)

	doc := h.loadDocument(t, upload.DocumentId)
	assert.Equal(t, entity.DocumentStatusChunked, doc.Status, "an interrupted run is not a failure")
	assert.Empty(t, doc.FailedStage)

	healthy := newFakeEmbedder()
	result, err := h.ingestion(healthy).Process(context.Background(), userId, upload.DocumentId)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusComplete, result.Status)
	assert.Equal(t, result.ChunkCount-4, healthy.embeddedTexts())
}

func TestIngestionInvalidatesAnswers(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	key := "answer:" + record.Id.String() + ":fingerprint"
	h.cache.Put(key, "stale", time.Minute)

	h.ingest(t, userId, record.Id, "a.txt", paragraph("fresh", 3))

	_, ok := h.cache.Get(key)
	assert.False(t, ok)
}

func TestProcessForeignDocument(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t)
	record := h.record(t, owner)
	docId := h.ingest(t, owner, record.Id, "a.txt", paragraph("private", 3))

	_, err := h.ingestion(newFakeEmbedder()).Retry(context.Background(), h.user(t), docId)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestDocumentDeletedDuringEmbeddingStopsCleanly(t *testing.T) {
	tests := []struct {
		name     string
		deleteAt int
	}{
		{"before any vector is written", 1},
		{"after earlier batches committed", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			userId := h.user(t)
			record := h.record(t, userId)

			var docId uuid.UUID
			embedder := newFakeEmbedder()
			embedder.fail = func(call int) error {
				if call == tt.deleteAt {
					_, err := h.chunks.DeleteDocument(ctx, docId)
					require.NoError(t, err)
				}
				return nil
			}

			svc := h.ingestion(embedder)
			upload, err := svc.Upload(ctx, userId, record.Id, "doomed.txt", []byte(paragraph("doomed", 30)))
			require.NoError(t, err)
			docId = upload.DocumentId

			result, err := svc.Process(ctx, userId, docId)
			require.NoError(t, err)
			assert.True(t, result.Deleted)
			assert.Equal(t, docId, result.DocumentId)

			for _, table := range []interface{}{&model.ChunkEmbedding{}, &model.Chunk{}, &model.Document{}} {
				var n int64
				require.NoError(t, h.db.Model(table).Count(&n).Error)
				assert.Zero(t, n, "%T rows survived the delete", table)
			}
		})
	}
}

func TestMasterKeyIsNotHeldDuringEmbedding(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)

	var live []int64
	embedder := newFakeEmbedder()
	embedder.fail = func(int) error {
		live = append(live, h.vault.Live())
		return nil
	}

	result, err := h.ingestion(embedder).Ingest(context.Background(), userId, record.Id, "a.txt", []byte(paragraph("scope", 30)))
	require.NoError(t, err)
	require.Equal(t, entity.DocumentStatusComplete, result.Status)
	require.NotEmpty(t, live)
	for _, n := range live {
		assert.Zero(t, n)
	}
	assert.Zero(t, h.vault.Live())
}

func TestRecordWithoutModelUsesServerDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)
	record.EmbeddingModel = ""
	uow := h.uowFactory.NewUnitOfWork(ctx)
	require.NoError(t, uow.RecordRepository().Update(ctx, record))

	docId := h.ingest(t, userId, record.Id, "fallback.txt", paragraph("fallback", 10))
	assert.Equal(t, testEmbeddingModel, h.loadDocument(t, docId).EmbeddingModel)

	result, err := h.retrieval(newFakeEmbedder(), &fakeChat{}, h.cache, testRetrievalOptions()).
		Query(ctx, userId, record.Id, QueryInput{Text: "fallback practice", TopK: 3})
	require.NoError(t, err)
	assert.False(t, result.NoSources)
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, docId, result.Citations[0].DocumentId)
}

func TestConcurrentIngestionIntoOneRecord(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)

	inputs := []struct {
		filename string
		text     string
	}{
		{"alpha.txt", paragraph("alpha", 25)},
		{"beta.txt", paragraph("beta", 35)},
	}

	results := make([]*IngestionResult, len(inputs))
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, filename, text string) {
			defer wg.Done()
			results[i], errs[i] = h.ingestion(newFakeEmbedder()).
				Ingest(context.Background(), userId, record.Id, filename, []byte(text))
		}(i, in.filename, in.text)
	}
	wg.Wait()

	for i := range inputs {
		require.NoError(t, errs[i])
		require.Equal(t, entity.DocumentStatusComplete, results[i].Status, results[i].Reason)
		docId := results[i].DocumentId

		chunks, err := h.chunks.ListChunks(context.Background(), docId)
		require.NoError(t, err)
		require.Len(t, chunks, results[i].ChunkCount)
		for ordinal, c := range chunks {
			assert.Equal(t, ordinal, c.Ordinal)
			assert.Equal(t, docId, c.DocumentId)
		}

		count, err := h.index.CountForDocument(context.Background(), docId, testEmbeddingModel)
		require.NoError(t, err)
		assert.Equal(t, int64(results[i].ChunkCount), count)
	}
	assert.NotEqual(t, results[0].DocumentId, results[1].DocumentId)
}

func TestResumePendingQueuesInterruptedDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)

	h.ingest(t, userId, record.Id, "done.txt", paragraph("done", 4))
	failed, err := h.ingestion(newFakeEmbedder()).Ingest(ctx, userId, record.Id, "blank.txt", []byte("   "))
	require.NoError(t, err)
	require.Equal(t, entity.DocumentStatusFailed, failed.Status)
	stored, err := h.ingestion(newFakeEmbedder()).Upload(ctx, userId, record.Id, "stored.txt", []byte(paragraph("stored", 4)))
	require.NoError(t, err)

	queued, err := h.ingestion(newFakeEmbedder()).ResumePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued, "nothing is queued without a publisher")

	pub := &recordingPublisher{}
	queued, err = h.ingestionWith(newFakeEmbedder(), pub).ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.Equal(t, []uuid.UUID{stored.DocumentId}, pub.documents())
	assert.Equal(t, userId, pub.jobs[0].UserId)
}

func TestReindexReembedsUnderNewModel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)
	docId := h.ingest(t, userId, record.Id, "a.txt", paragraph("reindex", 20))
	chunkCount := h.loadDocument(t, docId).ChunkCount
	h.cache.Put("answer:"+record.Id.String()+":q", "stale", time.Minute)

	svc := h.ingestion(newFakeEmbedder())
	result, err := svc.Reindex(ctx, userId, record.Id, "next-embed")
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, "next-embed", result.EmbeddingModel)
	assert.Equal(t, []uuid.UUID{docId}, result.Documents)

	_, ok := h.cache.Get("answer:" + record.Id.String() + ":q")
	assert.False(t, ok)

	doc := h.loadDocument(t, docId)
	assert.Equal(t, entity.DocumentStatusChunked, doc.Status)
	var vectors int64
	require.NoError(t, h.db.Model(&model.ChunkEmbedding{}).Count(&vectors).Error)
	assert.Zero(t, vectors)

	processed, err := svc.Process(ctx, userId, docId)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusComplete, processed.Status)
	assert.Equal(t, chunkCount, processed.EmbeddedNow)

	doc = h.loadDocument(t, docId)
	assert.Equal(t, "next-embed", doc.EmbeddingModel)
	count, err := h.index.CountForDocument(ctx, docId, "next-embed")
	require.NoError(t, err)
	assert.Equal(t, int64(chunkCount), count)
}

func TestReindexQueuesJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)
	first := h.ingest(t, userId, record.Id, "a.txt", paragraph("first", 6))
	second := h.ingest(t, userId, record.Id, "b.txt", paragraph("second", 6))

	pub := &recordingPublisher{}
	result, err := h.ingestionWith(newFakeEmbedder(), pub).Reindex(ctx, userId, record.Id, "")
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, testEmbeddingModel, result.EmbeddingModel)
	assert.ElementsMatch(t, []uuid.UUID{first, second}, pub.documents())

	_, err = h.ingestionWith(newFakeEmbedder(), pub).Reindex(ctx, h.user(t), record.Id, "")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
