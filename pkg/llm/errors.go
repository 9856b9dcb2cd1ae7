package llm

import (
	"fmt"
	"strings"
)

// StatusError is a non-2xx provider response. The body is truncated and
// must not be shown to callers.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

func NewStatusError(provider string, status int, body []byte) *StatusError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &StatusError{Provider: provider, StatusCode: status, Body: msg}
}
