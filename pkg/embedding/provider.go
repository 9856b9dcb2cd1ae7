package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// EmbeddingProvider turns text into vectors. The model is chosen per call
// so one provider can serve records configured with different models.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string, model string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// ProviderError is returned for every failed provider call. Transient
// errors (429, 5xx, network) are worth retrying.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedding failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

func statusError(provider string, status int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Transient:  status == http.StatusTooManyRequests || status >= 500,
		Err:        errors.New(msg),
	}
}

func transportError(provider string, err error) *ProviderError {
	var netErr net.Error
	transient := errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
	if errors.Is(err, context.Canceled) {
		transient = false
	}
	return &ProviderError{Provider: provider, Transient: transient, Err: err}
}

func malformed(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: fmt.Errorf("malformed response: %w", err)}
}

// RetryPolicy retries transient failures with exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Do runs fn until it succeeds, fails permanently, runs out of retries or
// ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	delay := p.BaseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsTransient(err) || attempt >= p.MaxRetries {
			return err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}
