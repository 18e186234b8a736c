package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashmitsharp/accountant-api/internal/jobs"
	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/rsge"
	"github.com/ashmitsharp/accountant-api/internal/services"
	"github.com/gofiber/fiber/v3"
	fiberutils "github.com/gofiber/utils/v2"
)

type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewBadRequestError(message string, details any) *APIError {
	return &APIError{
		StatusCode: fiber.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		Details:    details,
	}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		StatusCode: fiber.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

func NewNotFoundError(resource string) *APIError {
	return &APIError{
		StatusCode: fiber.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
	}
}

func NewConflictError(message string) *APIError {
	return &APIError{
		StatusCode: fiber.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

func NewUnprocessableError(message string) *APIError {
	return &APIError{
		StatusCode: fiber.StatusUnprocessableEntity,
		Code:       "UNPROCESSABLE_FILE",
		Message:    message,
	}
}

func NewPreconditionError(message string) *APIError {
	return &APIError{
		StatusCode: fiber.StatusPreconditionFailed,
		Code:       "CREDENTIALS_MISSING",
		Message:    message,
	}
}

func NewBadGatewayError(message string) *APIError {
	return &APIError{
		StatusCode: fiber.StatusBadGateway,
		Code:       "GATEWAY_ERROR",
		Message:    message,
	}
}

func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		StatusCode: fiber.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
	}
}

func NewInternalError(err error) *APIError {
	return &APIError{
		StatusCode: fiber.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    "An internal error occurred",
		Details:    err.Error(), // Only in development
	}
}

// FromError maps a domain error to the response the API returns for it.
// resource names the record in not-found messages.
func FromError(err error, resource string) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var parseErr *services.ParseError
	var gatewayErr *rsge.Error
	switch {
	case errors.As(err, &parseErr):
		return NewUnprocessableError(parseErr.Error())
	case errors.Is(err, models.ErrNotFound):
		return NewNotFoundError(resource)
	case errors.Is(err, models.ErrStateConflict):
		return NewConflictError(stripSentinel(err, models.ErrStateConflict))
	case errors.Is(err, models.ErrDuplicate):
		return NewConflictError(fmt.Sprintf("%s already exists", resource))
	case errors.Is(err, models.ErrValidation):
		return NewBadRequestError(stripSentinel(err, models.ErrValidation), nil)
	case errors.Is(err, services.ErrCredentialsMissing):
		return NewPreconditionError(err.Error())
	case errors.As(err, &gatewayErr):
		return NewBadGatewayError(gatewayErr.Error())
	case errors.Is(err, rsge.ErrServiceUnavailable), errors.Is(err, rsge.ErrInvalidCredentials), errors.Is(err, rsge.ErrSubmissionFailed):
		return NewBadGatewayError(err.Error())
	case errors.Is(err, jobs.ErrQueueClosed):
		return NewServiceUnavailableError("server is shutting down")
	}
	return NewInternalError(err)
}

// stripSentinel turns "state conflict: declaration already submitted" into
// "declaration already submitted"
func stripSentinel(err, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != "" {
		return trimmed
	}
	return msg
}

// ErrorHandler is the fiber error handler. Handlers may return domain
// errors directly.
func ErrorHandler(c fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
			"code":  strings.ToUpper(strings.ReplaceAll(fiberutils.StatusMessage(fiberErr.Code), " ", "_")),
		})
	}
	return ErrorResponse(c, err, "resource")
}
