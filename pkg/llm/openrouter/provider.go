package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"openrecords-be/pkg/llm"
)

// OpenRouterProvider talks to any OpenAI-compatible chat completions API.
// OpenRouter additionally serves image output and a model listing.
type OpenRouterProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var (
	_ llm.LLMProvider   = &OpenRouterProvider{}
	_ llm.ImageProvider = &OpenRouterProvider{}
	_ llm.ModelLister   = &OpenRouterProvider{}
)

// Request Payload Structure (OpenAI Compatible)
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Modalities  []string      `json:"modalities,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
		Architecture struct {
			InputModalities  []string `json:"input_modalities"`
			OutputModalities []string `json:"output_modalities"`
		} `json:"architecture"`
	} `json:"data"`
}

func NewOpenRouterProvider(apiKey, baseURL, model string, timeout time.Duration) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenRouterProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	opts := llm.Apply(llm.Options{Model: p.model, MaxTokens: 4096}, options...)

	reqBody := chatRequest{
		Model:       opts.Model,
		Messages:    history,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	chatResp, err := p.complete(ctx, reqBody)
	if err != nil {
		return "", err
	}
	return chatResp.Choices[0].Message.Content, nil
}

func (p *OpenRouterProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return p.Chat(ctx, messages, options...)
}

// GenerateImage asks an image-capable model for one image and returns its bytes.
func (p *OpenRouterProvider) GenerateImage(ctx context.Context, prompt string, model string) ([]byte, error) {
	reqBody := chatRequest{
		Model:      model,
		Messages:   []llm.Message{{Role: "user", Content: prompt}},
		Modalities: []string{"image", "text"},
	}

	chatResp, err := p.complete(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	images := chatResp.Choices[0].Message.Images
	if len(images) == 0 || images[0].ImageURL.URL == "" {
		return nil, errors.New("no image in response")
	}
	return p.fetchImage(ctx, images[0].ImageURL.URL)
}

func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	p.authorize(req)

	bodyBytes, err := p.send(req)
	if err != nil {
		return nil, err
	}

	var parsed modelsResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}

	models := make([]llm.ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, llm.ModelInfo{
			ID:                m.ID,
			Provider:          "openrouter",
			Name:              m.Name,
			ContextLength:     m.ContextLength,
			PricingPrompt:     m.Pricing.Prompt,
			PricingCompletion: m.Pricing.Completion,
			Categories:        categories(m.Architecture.InputModalities, m.Architecture.OutputModalities),
			SupportsStreaming: true,
		})
	}
	return models, nil
}

func categories(in, out []string) []string {
	cats := []string{}
	for _, m := range out {
		switch m {
		case "image":
			cats = append(cats, "image_generation")
		case "text":
			cats = append(cats, "chat")
		}
	}
	for _, m := range in {
		if m == "image" {
			cats = append(cats, "vision")
		}
	}
	return cats
}

func (p *OpenRouterProvider) complete(ctx context.Context, reqBody chatRequest) (*chatResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	bodyBytes, err := p.send(req)
	if err != nil {
		return nil, err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(bodyBytes, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("openrouter api returned error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errors.New("empty choices from openrouter api")
	}
	return &chatResp, nil
}

func (p *OpenRouterProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *OpenRouterProvider) send(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewStatusError("openrouter", resp.StatusCode, bodyBytes)
	}
	return bodyBytes, nil
}

// fetchImage decodes a data URL or downloads an http(s) URL.
func (p *OpenRouterProvider) fetchImage(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "data:") {
		comma := strings.IndexByte(url, ',')
		if comma < 0 || !strings.Contains(url[:comma], ";base64") {
			return nil, errors.New("unsupported data url")
		}
		return base64.StdEncoding.DecodeString(url[comma+1:])
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, errors.New("unsupported image url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return p.send(req)
}
