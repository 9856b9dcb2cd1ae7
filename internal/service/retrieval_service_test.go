package service

import (
	"context"
	"errors"
	"testing"

	"openrecords-be/internal/cache"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/pkg/embedding"
	"openrecords-be/pkg/llm"
	"openrecords-be/pkg/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		DefaultTopK:         5,
		MaxTopK:             20,
		MinSimilarity:       0.25,
		ContextBudgetTokens: 3000,
		ChatModel:           "default-chat",
		EmbeddingModel:      testEmbeddingModel,
		KeywordFusion:       true,
	}
}

func (h *harness) retrieval(embedder embedding.EmbeddingProvider, chat *fakeChat, layer *cache.Layer, opts RetrievalOptions) IRetrievalService {
	return NewRetrievalService(h.uowFactory, h.chunks, h.index, h.vault, embedder, chat, layer, h.log, opts)
}

func TestQueryAnswersWithCitations(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	docId := h.ingest(t, userId, record.Id, "isolation.txt", paragraph("isolation", 30))

	chat := &fakeChat{}
	result, err := h.retrieval(newFakeEmbedder(), chat, h.cache, testRetrievalOptions()).
		Query(context.Background(), userId, record.Id, QueryInput{Text: "isolation practice", TopK: 3})
	require.NoError(t, err)

	assert.False(t, result.NoSources)
	assert.False(t, result.Cached)
	assert.Equal(t, "test-chat", result.Model)
	require.Len(t, result.Citations, 3)
	for _, c := range result.Citations {
		assert.Equal(t, docId, c.DocumentId)
		assert.Equal(t, "isolation.txt", c.Filename)
		require.NotNil(t, c.PageNumber)
		assert.Equal(t, 1, *c.PageNumber)
		assert.NotContains(t, c.Snippet, "\n")
		assert.LessOrEqual(t, len([]rune(c.Snippet)), snippetChars)
	}

	require.Equal(t, 1, chat.callCount())
	assert.Contains(t, chat.prompts[0], "[Source 1: isolation.txt (page 1)]")
	assert.Contains(t, chat.prompts[0], "Question: isolation practice")
	assert.Equal(t, "test-chat", chat.options[0].Model)
	assert.Equal(t, answerTemperature, chat.options[0].Temperature)
	assert.Equal(t, answerMaxTokens, chat.options[0].MaxTokens)
}

func TestQueryIsScopedToRecord(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	r1 := h.record(t, userId)
	r2 := h.record(t, userId)

	result, err := h.ingestion(newFakeEmbedder()).Ingest(context.Background(), userId, r1.Id, "r1.txt", []byte(paragraph("isolation", 30)))
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.ChunkCount, 12)
	r2Doc := h.ingest(t, userId, r2.Id, "r2.txt", paragraph("isolation", 31))

	svc := h.retrieval(newFakeEmbedder(), &fakeChat{}, h.cache, testRetrievalOptions())
	answer, err := svc.Query(context.Background(), userId, r1.Id, QueryInput{Text: "isolation practice", TopK: 5})
	require.NoError(t, err)
	require.Len(t, answer.Citations, 5)
	for _, c := range answer.Citations {
		assert.Equal(t, result.DocumentId, c.DocumentId)
		assert.NotEqual(t, r2Doc, c.DocumentId)
	}
}

func TestQueryIdenticalWithCacheDisabled(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	h.ingest(t, userId, record.Id, "a.txt", paragraph("caching", 12))
	h.ingest(t, userId, record.Id, "b.txt", paragraph("storage", 12))

	disabled := cache.New(h.log)
	disabled.Init(testCacheConfig(false))
	t.Cleanup(disabled.Shutdown)

	input := QueryInput{Text: `how does "caching" behave`, TopK: 4}
	cached, err := h.retrieval(newFakeEmbedder(), &fakeChat{}, h.cache, testRetrievalOptions()).
		Query(context.Background(), userId, record.Id, input)
	require.NoError(t, err)

	uncachedChat := &fakeChat{}
	uncachedSvc := h.retrieval(newFakeEmbedder(), uncachedChat, disabled, testRetrievalOptions())
	for i := 0; i < 2; i++ {
		uncached, err := uncachedSvc.Query(context.Background(), userId, record.Id, input)
		require.NoError(t, err)
		assert.False(t, uncached.Cached)
		assert.Equal(t, cached.Answer, uncached.Answer)
		assert.Equal(t, cached.Citations, uncached.Citations)
	}
	assert.Equal(t, 2, uncachedChat.callCount())
	assert.Zero(t, disabled.Len())
}

func TestQueryAnswerCache(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	h.ingest(t, userId, record.Id, "a.txt", paragraph("repeat", 10))

	chat := &fakeChat{}
	svc := h.retrieval(newFakeEmbedder(), chat, h.cache, testRetrievalOptions())
	ctx := context.Background()

	first, err := svc.Query(ctx, userId, record.Id, QueryInput{Text: "repeat practice"})
	require.NoError(t, err)
	second, err := svc.Query(ctx, userId, record.Id, QueryInput{Text: "  repeat practice  "})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, chat.callCount())

	t.Run("model is part of the fingerprint", func(t *testing.T) {
		other, err := svc.Query(ctx, userId, record.Id, QueryInput{Text: "repeat practice", Model: "other-chat"})
		require.NoError(t, err)
		assert.False(t, other.Cached)
		assert.Equal(t, "other-chat", other.Model)
		assert.Equal(t, 2, chat.callCount())
	})

	t.Run("new document invalidates", func(t *testing.T) {
		h.ingest(t, userId, record.Id, "b.txt", paragraph("repeat more", 4))
		again, err := svc.Query(ctx, userId, record.Id, QueryInput{Text: "repeat practice"})
		require.NoError(t, err)
		assert.False(t, again.Cached)
	})
}

func TestQueryWithoutSources(t *testing.T) {
	tests := []struct {
		name   string
		ingest bool
		floor  float64
	}{
		{"empty record", false, 0.25},
		{"nothing above the floor", true, 1.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			userId := h.user(t)
			record := h.record(t, userId)
			if tt.ingest {
				h.ingest(t, userId, record.Id, "a.txt", paragraph("sparse", 4))
			}
			opts := testRetrievalOptions()
			opts.MinSimilarity = tt.floor

			chat := &fakeChat{}
			result, err := h.retrieval(newFakeEmbedder(), chat, h.cache, opts).
				Query(context.Background(), userId, record.Id, QueryInput{Text: "sparse"})
			require.NoError(t, err)
			assert.True(t, result.NoSources)
			assert.Equal(t, noSourcesAnswer, result.Answer)
			assert.NotNil(t, result.Citations)
			assert.Empty(t, result.Citations)
			assert.Zero(t, chat.callCount())
		})
	}
}

func TestQueryProviderFailures(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	h.ingest(t, userId, record.Id, "a.txt", paragraph("outage", 6))
	ctx := context.Background()

	t.Run("embedding provider down", func(t *testing.T) {
		broken := newFakeEmbedder()
		broken.fail = func(int) error { return errPermanent }
		chat := &fakeChat{}

		_, err := h.retrieval(broken, chat, h.cache, testRetrievalOptions()).
			Query(ctx, userId, record.Id, QueryInput{Text: "outage"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrRetrievalUnavailable))
		assert.Zero(t, chat.callCount())
	})

	t.Run("chat provider down", func(t *testing.T) {
		chat := &fakeChat{err: errors.New("connection refused")}
		svc := h.retrieval(newFakeEmbedder(), chat, h.cache, testRetrievalOptions())

		_, err := svc.Query(ctx, userId, record.Id, QueryInput{Text: "outage"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrProviderUnavailable))
		assert.NotContains(t, apperror.PublicMessage(err), "connection refused")

		chat.err = nil
		result, err := svc.Query(ctx, userId, record.Id, QueryInput{Text: "outage"})
		require.NoError(t, err)
		assert.False(t, result.Cached, "failures are not cached")
	})
}

func TestQueryValidation(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	svc := h.retrieval(newFakeEmbedder(), &fakeChat{}, h.cache, testRetrievalOptions())

	tests := []struct {
		name     string
		recordId uuid.UUID
		userId   uuid.UUID
		input    QueryInput
		kind     apperror.Kind
	}{
		{"empty query", record.Id, userId, QueryInput{Text: "   "}, apperror.KindValidation},
		{"top_k too large", record.Id, userId, QueryInput{Text: "q", TopK: 21}, apperror.KindValidation},
		{"negative top_k", record.Id, userId, QueryInput{Text: "q", TopK: -1}, apperror.KindValidation},
		{"unknown record", uuid.New(), userId, QueryInput{Text: "q"}, apperror.KindNotFound},
		{"foreign record", record.Id, h.user(t), QueryInput{Text: "q"}, apperror.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Query(context.Background(), tt.userId, tt.recordId, tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.KindOf(err))
		})
	}
}

func TestQueryCancelledDuringCompletion(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	h.ingest(t, userId, record.Id, "a.txt", paragraph("cancel", 6))

	ctx, cancel := context.WithCancel(context.Background())
	chat := &cancellingChat{fakeChat: &fakeChat{}, cancel: cancel}
	svc := NewRetrievalService(h.uowFactory, h.chunks, h.index, h.vault, newFakeEmbedder(), chat, h.cache, h.log, testRetrievalOptions())

	_, err := svc.Query(ctx, userId, record.Id, QueryInput{Text: "cancel"})
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := h.cache.Get(cache.AnswerKey(record.Id, cache.Fingerprint("cancel", 5, "test-chat", testEmbeddingModel)))
	assert.False(t, ok)
}

// cancellingChat aborts the caller's context mid-request, like a client
// that disconnects while the provider is generating.
type cancellingChat struct {
	*fakeChat
	cancel context.CancelFunc
}

func (c *cancellingChat) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	c.cancel()
	if _, err := c.fakeChat.Chat(ctx, history, options...); err != nil {
		return "", err
	}
	return "", errors.New("request aborted")
}

func TestQueryTruncatesOversizedFirstPassage(t *testing.T) {
	h := newHarness(t)
	userId := h.user(t)
	record := h.record(t, userId)
	h.ingest(t, userId, record.Id, "a.txt", paragraph("budget", 20))

	opts := testRetrievalOptions()
	opts.ContextBudgetTokens = 10

	chat := &fakeChat{}
	result, err := h.retrieval(newFakeEmbedder(), chat, h.cache, opts).
		Query(context.Background(), userId, record.Id, QueryInput{Text: "budget practice", TopK: 3})
	require.NoError(t, err)
	require.Len(t, result.Citations, 1, "later passages do not fit next to a full first one")
	assert.LessOrEqual(t, utils.EstimateTokens(result.Citations[0].Snippet), 10)
	assert.NotEmpty(t, result.Citations[0].Snippet)
	require.Equal(t, 1, chat.callCount())
	assert.Contains(t, chat.prompts[0], result.Citations[0].Snippet)
}

func TestQueryKeywordFusionOption(t *testing.T) {
	tests := []struct {
		name          string
		fusion        bool
		similarityish bool
	}{
		{"fused scores", true, false},
		{"similarity scores", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			userId := h.user(t)
			record := h.record(t, userId)
			h.ingest(t, userId, record.Id, "a.txt", paragraph("fusion", 30))

			opts := testRetrievalOptions()
			opts.KeywordFusion = tt.fusion
			result, err := h.retrieval(newFakeEmbedder(), &fakeChat{}, h.cache, opts).
				Query(context.Background(), userId, record.Id, QueryInput{Text: "fusion practice", TopK: 4})
			require.NoError(t, err)
			require.NotEmpty(t, result.Citations)

			for i, c := range result.Citations {
				if tt.similarityish {
					assert.GreaterOrEqual(t, c.Score, opts.MinSimilarity)
				} else {
					assert.Less(t, c.Score, 0.1, "fused scores are reciprocal ranks")
				}
				if i > 0 {
					assert.LessOrEqual(t, c.Score, result.Citations[i-1].Score)
				}
			}
		})
	}
}
