package openrouter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"openrecords-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSendsOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "override", req.Model)
		assert.Equal(t, 0.3, req.Temperature)
		assert.Equal(t, 128, req.MaxTokens)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider("secret", srv.URL, "default", time.Second)
	out, err := p.Chat(context.Background(),
		[]llm.Message{{Role: "system", Content: "s"}, {Role: "user", Content: "q"}},
		llm.WithModel("override"), llm.WithTemperature(0.3), llm.WithMaxTokens(128))
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOpenRouterProvider("", srv.URL, "m", time.Second).Generate(context.Background(), "hi")
	var se *llm.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	tests := []struct {
		name    string
		body    string
		want    []byte
		wantErr bool
	}{
		{"data url", `{"choices":[{"message":{"images":[{"image_url":{"url":"` + dataURL + `"}}]}}]}`, png, false},
		{"no image", `{"choices":[{"message":{"content":"sorry"}}]}`, nil, true},
		{"bad scheme", `{"choices":[{"message":{"images":[{"image_url":{"url":"ftp://x"}}]}}]}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req chatRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, []string{"image", "text"}, req.Modalities)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewOpenRouterProvider("", srv.URL, "m", time.Second).GenerateImage(context.Background(), "p", "img")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"a/b","name":"B","context_length":8192,
			"pricing":{"prompt":"0.1","completion":"0.2"},
			"architecture":{"input_modalities":["text","image"],"output_modalities":["text"]}}]}`))
	}))
	defer srv.Close()

	models, err := NewOpenRouterProvider("", srv.URL, "m", time.Second).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "a/b", models[0].ID)
	assert.Equal(t, 8192, models[0].ContextLength)
	assert.Equal(t, []string{"chat", "vision"}, models[0].Categories)
}
