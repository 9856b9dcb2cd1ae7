package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"openrecords-be/internal/cache"
	"openrecords-be/internal/config"
	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/model"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/blobstore"
	"openrecords-be/pkg/database"
	"openrecords-be/pkg/embedding"
	"openrecords-be/pkg/llm"
	"openrecords-be/pkg/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testEmbeddingModel = "test-embed"

type harness struct {
	db         *gorm.DB
	uowFactory unitofwork.RepositoryFactory
	vault      *keyvault.Vault
	blobs      blobstore.BlobStore
	cache      *cache.Layer
	chunks     IChunkStore
	index      IVectorIndex
	log        logger.ILogger
}

func testCacheConfig(enabled bool) config.CacheConfig {
	return config.CacheConfig{
		Enabled:         enabled,
		DefaultTTL:      time.Minute,
		ChunkTextTTL:    time.Minute,
		AnswerTTL:       time.Minute,
		ProviderListTTL: time.Hour,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	db, err := database.NewSQLiteDB(filepath.Join(dir, "openrecords.db"), gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, model.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	log := logger.NewNopLogger()
	uowFactory := unitofwork.NewRepositoryFactory(db)

	vault, err := keyvault.New("test-server-secret", keyvault.NewRepositoryKeyStore(uowFactory), log)
	require.NoError(t, err)

	blobs, err := blobstore.NewVaultStore(filepath.Join(dir, "vault"))
	require.NoError(t, err)

	layer := cache.New(log)
	layer.Init(testCacheConfig(true))
	t.Cleanup(layer.Shutdown)

	return &harness{
		db:         db,
		uowFactory: uowFactory,
		vault:      vault,
		blobs:      blobs,
		cache:      layer,
		chunks:     NewChunkStore(uowFactory, blobs, layer, log),
		index:      NewVectorIndex(uowFactory),
		log:        log,
	}
}

func (h *harness) user(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	wrapped, err := h.vault.NewWrappedKey(id)
	require.NoError(t, err)

	uow := h.uowFactory.NewUnitOfWork(context.Background())
	require.NoError(t, uow.UserRepository().Create(context.Background(), &entity.User{
		Id:               id,
		Username:         "user-" + id.String()[:8],
		Email:            id.String()[:8] + "@example.com",
		PasswordHash:     "x",
		WrappedMasterKey: wrapped,
		CreatedAt:        time.Now(),
	}))
	return id
}

func (h *harness) record(t *testing.T, userId uuid.UUID) *entity.Record {
	t.Helper()
	record := &entity.Record{
		Id:             uuid.New(),
		UserId:         userId,
		Name:           "record",
		ChatModel:      "test-chat",
		EmbeddingModel: testEmbeddingModel,
		CreatedAt:      time.Now(),
	}
	uow := h.uowFactory.NewUnitOfWork(context.Background())
	require.NoError(t, uow.RecordRepository().Create(context.Background(), record))
	return record
}

func (h *harness) withKey(t *testing.T, userId uuid.UUID, fn func(key []byte)) {
	t.Helper()
	require.NoError(t, h.vault.WithMasterKey(context.Background(), userId, func(key []byte) error {
		fn(key)
		return nil
	}))
}

func (h *harness) ingestion(embedder embedding.EmbeddingProvider) IIngestionService {
	return h.ingestionWith(embedder, nil)
}

func (h *harness) ingestionWith(embedder embedding.EmbeddingProvider, publisher IPublisherService) IIngestionService {
	return NewIngestionService(h.uowFactory, h.chunks, h.index, h.vault, embedder, publisher, h.cache, nil, h.log, IngestionOptions{
		EmbeddingModel:     testEmbeddingModel,
		MaxUploadBytes:     1 << 20,
		ChunkSizeTokens:    40,
		ChunkOverlapTokens: 5,
		EmbedBatchSize:     4,
		Retry:              embedding.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond},
	})
}

// ingest stores a text document and runs it to complete.
func (h *harness) ingest(t *testing.T, userId, recordId uuid.UUID, filename, text string) uuid.UUID {
	t.Helper()
	result, err := h.ingestion(newFakeEmbedder()).Ingest(context.Background(), userId, recordId, filename, []byte(text))
	require.NoError(t, err)
	require.Equal(t, entity.DocumentStatusComplete, result.Status, result.Reason)
	return result.DocumentId
}

// fakeEmbedder hashes words into a small bag-of-words vector, so texts that
// share words are similar.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	// fail, when set, decides per batch call whether to fail.
	fail func(call int) error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{}
}

func bagOfWords(text string) []float32 {
	v := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%64]++
	}
	if utils.CosineSimilarity(v, v) == 0 {
		v[0] = 1
	}
	return utils.Normalize(v)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	vs, err := f.EmbedBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.texts += len(texts)
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagOfWords(t)
	}
	return out, nil
}

func (f *fakeEmbedder) embeddedTexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

// recordingPublisher keeps published jobs instead of queueing them.
type recordingPublisher struct {
	mu   sync.Mutex
	jobs []dto.PublishIngestionMessage
}

func (p *recordingPublisher) Publish(_ context.Context, payload []byte) error {
	var job dto.PublishIngestionMessage
	if err := json.Unmarshal(payload, &job); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) documents() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uuid.UUID, len(p.jobs))
	for i, j := range p.jobs {
		out[i] = j.DocumentId
	}
	return out
}

var errPermanent = &embedding.ProviderError{Provider: "fake", StatusCode: 400, Err: errors.New("bad request")}

// fakeChat answers with a digest of the prompt, so equal prompts give equal
// answers.
type fakeChat struct {
	mu       sync.Mutex
	calls    int
	prompts  []string
	options  []llm.Options
	err      error
	response func(prompt string) string
}

func (f *fakeChat) Chat(_ context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Role + ":" + m.Content + "\n")
	}
	f.prompts = append(f.prompts, b.String())
	f.options = append(f.options, llm.Apply(llm.Options{}, options...))
	if f.err != nil {
		return "", f.err
	}
	if f.response != nil {
		return f.response(b.String()), nil
	}
	return fmt.Sprintf("answer-%x", sha256.Sum256([]byte(b.String()))), nil
}

func (f *fakeChat) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, options...)
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeImages returns a small PNG unless fail says otherwise.
type fakeImages struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fail    func(call int, prompt string) error
}

func (f *fakeImages) GenerateImage(_ context.Context, prompt, _ string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(call, prompt); err != nil {
			return nil, err
		}
	}
	return testPNG(), nil
}

func (f *fakeImages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	for x := 0; x < 4; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// paragraph builds distinct, chunkable text about topic.
func paragraph(topic string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "The %s section %d explains how %s behaves in practice. ", topic, i, topic)
	}
	return b.String()
}
