package service

import (
	"context"
	"errors"
	"strings"

	"openrecords-be/internal/cache"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/contract"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/embedding"
	"openrecords-be/pkg/llm"
	"openrecords-be/pkg/rag"
	"openrecords-be/pkg/rag/prompt"
	"openrecords-be/pkg/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const noSourcesAnswer = "No relevant sources found for your query. Try uploading more documents or rephrasing your question."

const (
	answerTemperature = 0.3
	answerMaxTokens   = 4096
	snippetChars      = 500
)

type QueryInput struct {
	Text  string
	TopK  int
	Model string
}

type Citation struct {
	DocumentId uuid.UUID
	Filename   string
	ChunkId    uuid.UUID
	Ordinal    int
	PageNumber *int
	Score      float64
	Snippet    string
}

type QueryResult struct {
	Answer    string
	Citations []Citation
	NoSources bool
	Cached    bool
	Model     string
}

type RetrievalOptions struct {
	DefaultTopK         int
	MaxTopK             int
	MinSimilarity       float64
	ContextBudgetTokens int
	ChatModel           string
	EmbeddingModel      string
	// KeywordFusion reorders hits by Reciprocal Rank Fusion with keyword
	// matches; off keeps the pure similarity order.
	KeywordFusion bool
}

type IRetrievalService interface {
	Query(ctx context.Context, userId, recordId uuid.UUID, input QueryInput) (*QueryResult, error)
}

type retrievalService struct {
	uowFactory unitofwork.RepositoryFactory
	chunkStore IChunkStore
	index      IVectorIndex
	vault      *keyvault.Vault
	embedder   embedding.EmbeddingProvider
	chat       llm.LLMProvider
	cache      *cache.Layer
	logger     logger.ILogger
	opts       RetrievalOptions
	tracer     trace.Tracer
}

func NewRetrievalService(
	uowFactory unitofwork.RepositoryFactory,
	chunkStore IChunkStore,
	index IVectorIndex,
	vault *keyvault.Vault,
	embedder embedding.EmbeddingProvider,
	chat llm.LLMProvider,
	cacheLayer *cache.Layer,
	log logger.ILogger,
	opts RetrievalOptions,
) IRetrievalService {
	return &retrievalService{
		uowFactory: uowFactory,
		chunkStore: chunkStore,
		index:      index,
		vault:      vault,
		embedder:   embedder,
		chat:       chat,
		cache:      cacheLayer,
		logger:     log,
		opts:       opts,
		tracer:     otel.Tracer("openrecords/retrieval"),
	}
}

// passage is a ranked candidate with what the prompt and citation need.
type passage struct {
	hit  *contract.ScoredChunk
	text string
}

func (s *retrievalService) Query(ctx context.Context, userId, recordId uuid.UUID, input QueryInput) (*QueryResult, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.query")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", recordId.String()))

	uow := s.uowFactory.NewUnitOfWork(ctx)
	record, err := ownedRecord(ctx, uow, userId, recordId)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(input.Text)
	if query == "" {
		return nil, apperror.Validation("query must not be empty")
	}
	topK := input.TopK
	if topK == 0 {
		topK = s.opts.DefaultTopK
	}
	if topK < 1 || topK > s.opts.MaxTopK {
		return nil, apperror.Validation("top_k must be between 1 and 20")
	}

	chatModel := firstNonEmpty(input.Model, record.ChatModel, s.opts.ChatModel)
	embeddingModel := embeddingModelOf(record, s.opts.EmbeddingModel)
	span.SetAttributes(attribute.Int("top_k", topK), attribute.String("chat_model", chatModel))

	answerKey := cache.AnswerKey(recordId, cache.Fingerprint(query, topK, chatModel, embeddingModel))
	if cached, ok := s.cache.Get(answerKey); ok {
		if result, ok := cached.(QueryResult); ok {
			result.Cached = true
			return &result, nil
		}
	}

	vector, err := s.embedQuery(ctx, query, embeddingModel)
	if err != nil {
		return nil, err
	}

	hits, err := s.search(ctx, recordId, vector, embeddingModel, topK*3)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &QueryResult{Answer: noSourcesAnswer, NoSources: true, Citations: []Citation{}}, nil
	}

	texts, err := s.chunkTexts(ctx, userId, recordId, hits)
	if err != nil {
		return nil, err
	}

	passages := s.rank(query, hits, texts, topK)
	if len(passages) == 0 {
		return &QueryResult{Answer: noSourcesAnswer, NoSources: true, Citations: []Citation{}}, nil
	}

	answer, err := s.complete(ctx, query, passages, chatModel)
	if err != nil {
		return nil, err
	}

	result := QueryResult{
		Answer:    answer,
		Citations: citations(passages),
		Model:     chatModel,
	}
	s.cache.Put(answerKey, result, 0)

	s.logger.Info("RetrievalService", "Query answered", map[string]interface{}{
		"record_id":  recordId,
		"candidates": len(hits),
		"sources":    len(passages),
		"model":      chatModel,
	})
	return &result, nil
}

func (s *retrievalService) embedQuery(ctx context.Context, query, model string) ([]float32, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.embed")
	defer span.End()

	vector, err := s.embedder.Embed(ctx, query, model)
	if err == nil && len(vector) == 0 {
		err = errors.New("empty query embedding")
	}
	if err != nil {
		s.logger.Error("RetrievalService", "Query embedding failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return nil, apperror.RetrievalUnavailable(err)
	}
	return vector, nil
}

// search returns candidates at or above the similarity floor.
func (s *retrievalService) search(ctx context.Context, recordId uuid.UUID, vector []float32, model string, candidates int) ([]*contract.ScoredChunk, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.search")
	defer span.End()

	hits, err := s.index.Search(ctx, recordId, vector, model, candidates)
	if err != nil {
		return nil, err
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.Similarity >= s.opts.MinSimilarity {
			kept = append(kept, h)
		}
	}
	span.SetAttributes(attribute.Int("hits", len(hits)), attribute.Int("kept", len(kept)))
	return kept, nil
}

// chunkTexts serves chunk plaintext from the cache and decrypts the misses
// under a single key unwrap.
func (s *retrievalService) chunkTexts(ctx context.Context, userId, recordId uuid.UUID, hits []*contract.ScoredChunk) (map[uuid.UUID]string, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.decrypt")
	defer span.End()

	texts := make(map[uuid.UUID]string, len(hits))
	var missing []uuid.UUID
	for _, h := range hits {
		if v, ok := s.cache.Get(cache.ChunkTextKey(recordId, h.ChunkId)); ok {
			if text, ok := v.(string); ok {
				texts[h.ChunkId] = text
				continue
			}
		}
		missing = append(missing, h.ChunkId)
	}
	span.SetAttributes(attribute.Int("cache_hits", len(texts)), attribute.Int("decrypted", len(missing)))
	if len(missing) == 0 {
		return texts, nil
	}

	err := s.vault.WithMasterKey(ctx, userId, func(key []byte) error {
		chunks, err := s.chunkStore.ReadChunks(ctx, recordId, missing, key)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			texts[c.ChunkId] = c.Text
			s.cache.Put(cache.ChunkTextKey(recordId, c.ChunkId), c.Text, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return texts, nil
}

func (s *retrievalService) rank(query string, hits []*contract.ScoredChunk, texts map[uuid.UUID]string, topK int) []passage {
	byId := make(map[string]*contract.ScoredChunk, len(hits))
	candidates := make([]rag.Candidate, 0, len(hits))
	for _, h := range hits {
		text, ok := texts[h.ChunkId]
		if !ok {
			// Deleted between search and decrypt.
			continue
		}
		byId[h.ChunkId.String()] = h
		candidates = append(candidates, rag.Candidate{
			ID:         h.ChunkId.String(),
			Text:       text,
			Similarity: h.Similarity,
		})
	}

	var ranked []rag.Candidate
	if s.opts.KeywordFusion {
		ranked = rag.Rank(query, candidates, topK)
	} else {
		ranked = rag.RankBySimilarity(candidates, topK)
	}
	if len(ranked) == 0 {
		return nil
	}

	tokens := make([]int, len(ranked))
	for i, c := range ranked {
		tokens[i] = utils.EstimateTokens(c.Text)
	}

	var passages []passage
	for _, i := range rag.WithinBudget(tokens, s.opts.ContextBudgetTokens) {
		hit := *byId[ranked[i].ID]
		hit.Similarity = ranked[i].Score
		text := ranked[i].Text
		if tokens[i] > s.opts.ContextBudgetTokens {
			text = utils.TruncateTokens(text, s.opts.ContextBudgetTokens)
		}
		passages = append(passages, passage{hit: &hit, text: text})
	}
	return passages
}

func (s *retrievalService) complete(ctx context.Context, query string, passages []passage, model string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.complete")
	defer span.End()

	sources := make([]prompt.Source, len(passages))
	for i, p := range passages {
		sources[i] = prompt.Source{Filename: p.hit.Filename, Page: p.hit.PageNumber, Text: p.text}
	}

	answer, err := s.chat.Chat(ctx, prompt.NewAnswerBuilder(query, sources).Messages(),
		llm.WithModel(model),
		llm.WithTemperature(answerTemperature),
		llm.WithMaxTokens(answerMaxTokens),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Error("RetrievalService", "Chat completion failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return "", apperror.ProviderUnavailable(err)
	}
	return answer, nil
}

func citations(passages []passage) []Citation {
	out := make([]Citation, len(passages))
	for i, p := range passages {
		out[i] = Citation{
			DocumentId: p.hit.DocumentId,
			Filename:   p.hit.Filename,
			ChunkId:    p.hit.ChunkId,
			Ordinal:    p.hit.Ordinal,
			PageNumber: p.hit.PageNumber,
			Score:      p.hit.Similarity,
			Snippet:    snippet(p.text, snippetChars),
		}
	}
	return out
}

// snippet keeps the first n characters on a single line.
func snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) > n {
		runes = runes[:n]
	}
	return strings.ReplaceAll(strings.TrimSpace(string(runes)), "\n", " ")
}
