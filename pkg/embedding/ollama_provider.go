package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"openrecords-be/pkg/utils"
)

// OllamaProvider implements EmbeddingProvider for local Ollama models (e.g., nomic-embed-text)
type OllamaProvider struct {
	BaseURL string
	client  *http.Client
}

func NewOllamaProvider(baseURL string, timeout time.Duration) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *OllamaProvider) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	jsonBody, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError("ollama", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("ollama", resp.StatusCode, bodyBytes)
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.Unmarshal(bodyBytes, &ollamaResp); err != nil {
		return nil, malformed("ollama", err)
	}
	if len(ollamaResp.Embeddings) != len(texts) {
		return nil, malformed("ollama", errors.New("embedding count does not match input count"))
	}

	// Cosine distance in pgvector assumes unit vectors.
	for i := range ollamaResp.Embeddings {
		if len(ollamaResp.Embeddings[i]) == 0 {
			return nil, malformed("ollama", errors.New("empty embedding"))
		}
		utils.Normalize(ollamaResp.Embeddings[i])
	}
	return ollamaResp.Embeddings, nil
}
