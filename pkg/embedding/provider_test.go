package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-model", req.Model)

		// reversed order on purpose
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/", "key", time.Second)
	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b"}, "embed-model")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestProviderErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, true},
		{"server error", http.StatusBadGateway, `oops`, true},
		{"bad request", http.StatusBadRequest, `bad`, false},
		{"unauthorized", http.StatusUnauthorized, `no`, false},
		{"malformed body", http.StatusOK, `not json`, false},
		{"count mismatch", http.StatusOK, `{"data":[]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIProvider(srv.URL, "", time.Second).Embed(context.Background(), "x", "m")
			require.Error(t, err)

			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestOllamaProviderNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Write([]byte(`{"embeddings":[[3,4]]}`))
	}))
	defer srv.Close()

	v, err := NewOllamaProvider(srv.URL, time.Second).Embed(context.Background(), "x", "nomic-embed-text")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestRetryPolicy(t *testing.T) {
	transient := &ProviderError{Transient: true, Err: errors.New("busy")}
	permanent := &ProviderError{Err: errors.New("bad")}

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first try", nil, 1, false},
		{"recovers after transient", []error{transient, transient}, 3, false},
		{"gives up after retries", []error{transient, transient, transient, transient}, 3, true},
		{"permanent is not retried", []error{permanent}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}.Do(context.Background(), func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}.Do(ctx, func() error {
		return &ProviderError{Transient: true, Err: errors.New("busy")}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
