package embedding

import (
	"fmt"
	"strings"
	"time"
)

func NewProvider(provider, baseURL, apiKey, ollamaBaseURL string, timeout time.Duration) (EmbeddingProvider, error) {
	switch strings.ToLower(provider) {
	case "ollama":
		return NewOllamaProvider(ollamaBaseURL, timeout), nil
	case "openai", "openrouter", "mistral", "jina":
		return NewOpenAIProvider(baseURL, apiKey, timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
