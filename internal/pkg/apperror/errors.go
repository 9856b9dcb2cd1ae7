// Package apperror carries the error kinds that cross the service boundary.
// Messages stay generic; the cause is kept for server-side logging only.
package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindKeyUnavailable       Kind = "key_unavailable"
	KindDecryptionFailed     Kind = "decryption_failed"
	KindNotFound             Kind = "not_found"
	KindUnauthorized         Kind = "unauthorized"
	KindConflict             Kind = "conflict"
	KindProviderUnavailable  Kind = "provider_unavailable"
	KindRetrievalUnavailable Kind = "retrieval_unavailable"
	KindInternal             Kind = "internal"
)

// Error is the typed error returned by services.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation           = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrKeyUnavailable       = &Error{Kind: KindKeyUnavailable, Message: "access denied"}
	ErrDecryptionFailed     = &Error{Kind: KindDecryptionFailed, Message: "access denied"}
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrConflict             = &Error{Kind: KindConflict, Message: "conflict"}
	ErrProviderUnavailable  = &Error{Kind: KindProviderUnavailable, Message: "provider unavailable"}
	ErrRetrievalUnavailable = &Error{Kind: KindRetrievalUnavailable, Message: "query failed"}
)

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func KeyUnavailable(cause error) *Error {
	return &Error{Kind: KindKeyUnavailable, Message: "access denied", cause: cause}
}

func DecryptionFailed(cause error) *Error {
	return &Error{Kind: KindDecryptionFailed, Message: "access denied", cause: cause}
}

func ProviderUnavailable(cause error) *Error {
	return &Error{Kind: KindProviderUnavailable, Message: "provider unavailable", cause: cause}
}

func RetrievalUnavailable(cause error) *Error {
	return &Error{Kind: KindRetrievalUnavailable, Message: "query failed", cause: cause}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage is the message safe to send to a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
