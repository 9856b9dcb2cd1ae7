package llm

import (
	"context"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// Apply folds options over defaults.
func Apply(defaults Options, options ...Option) Options {
	for _, o := range options {
		o(&defaults)
	}
	return defaults
}

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// Chat sends a chat history to the model and returns the response
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)

	// Generate sends a single prompt to the model (convenience method)
	Generate(ctx context.Context, prompt string, options ...Option) (string, error)
}

// ImageProvider renders a prompt into image bytes (PNG or JPEG).
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string, model string) ([]byte, error)
}

// ModelInfo is provider model metadata, normalised across providers.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	Name              string   `json:"name"`
	ContextLength     int      `json:"context_length"`
	PricingPrompt     string   `json:"pricing_prompt"`
	PricingCompletion string   `json:"pricing_completion"`
	Categories        []string `json:"categories"`
	SupportsStreaming bool     `json:"supports_streaming"`
}

type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
