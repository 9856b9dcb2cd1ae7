package serverutils

import (
	"errors"
	"strings"

	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

type Response[T any] struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func SuccessResponse[T any](message string, data T) *Response[T] {
	return &Response[T]{
		Success: true,
		Code:    fiber.StatusOK,
		Message: message,
		Data:    data,
	}
}

var validate = validator.New()

// ValidateRequest checks the `validate` tags of req and reports every failed
// field in one validation error.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return apperror.Validation("invalid request")
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fieldMessage(fe))
	}
	return apperror.Validation(strings.Join(messages, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "alphanum":
		return field + " must be alphanumeric"
	case "uuid":
		return field + " must be a valid id"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	}
	return field + " is invalid"
}

func statusOf(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return fiber.StatusBadRequest
	case apperror.KindUnauthorized:
		return fiber.StatusUnauthorized
	case apperror.KindKeyUnavailable, apperror.KindDecryptionFailed:
		return fiber.StatusForbidden
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindConflict:
		return fiber.StatusConflict
	case apperror.KindProviderUnavailable, apperror.KindRetrievalUnavailable:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// kindOfStatus labels errors raised by fiber itself (unknown routes, body limits).
func kindOfStatus(code int) apperror.Kind {
	switch {
	case code == fiber.StatusUnauthorized:
		return apperror.KindUnauthorized
	case code == fiber.StatusNotFound:
		return apperror.KindNotFound
	case code >= fiber.StatusInternalServerError:
		return apperror.KindInternal
	}
	return apperror.KindValidation
}

// ErrorHandlerMiddleware turns errors returned by handlers into the
// {success, message, kind} body. Causes are logged, never returned.
func ErrorHandlerMiddleware(log logger.ILogger) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorBody{
				Success: false,
				Message: fiberErr.Message,
				Kind:    string(kindOfStatus(fiberErr.Code)),
			})
		}

		kind := apperror.KindOf(err)
		status := statusOf(kind)
		if status >= fiber.StatusInternalServerError {
			log.Error("HTTP", "Request failed", map[string]interface{}{
				"method": ctx.Method(),
				"path":   ctx.Route().Path,
				"kind":   kind,
				"error":  err.Error(),
			})
		}
		return ctx.Status(status).JSON(ErrorBody{
			Success: false,
			Message: apperror.PublicMessage(err),
			Kind:    string(kind),
		})
	}
}
