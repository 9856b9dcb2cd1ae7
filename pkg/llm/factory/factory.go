package factory

import (
	"fmt"
	"time"

	"openrecords-be/pkg/llm"
	"openrecords-be/pkg/llm/ollama"
	"openrecords-be/pkg/llm/openrouter"
)

type Providers struct {
	Chat   llm.LLMProvider
	Image  llm.ImageProvider
	Models llm.ModelLister
}

type Config struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	OllamaBaseURL string
	Timeout       time.Duration
}

// NewProviders builds the chat provider and, where the backend has them,
// the image and model-listing clients. Image is nil for ollama.
func NewProviders(cfg Config) (*Providers, error) {
	switch cfg.Provider {
	case "ollama":
		baseURL := cfg.OllamaBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		p := ollama.NewOllamaProvider(baseURL, cfg.Model, cfg.Timeout)
		return &Providers{Chat: p, Models: p}, nil
	case "openrouter", "openai":
		p := openrouter.NewOpenRouterProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout)
		return &Providers{Chat: p, Image: p, Models: p}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
