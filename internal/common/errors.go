package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInternal          = errors.New("internal error")
	ErrDatabase          = errors.New("database error")
	ErrAlreadyProcessing = errors.New("essay is already being processed")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrScoringFailed     = errors.New("scoring failed")
	ErrProvider          = errors.New("provider error")
	ErrProviderTimeout   = errors.New("provider timeout")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func InvalidInputf(format string, args ...any) error {
	return NewAppError("INVALID_INPUT", fmt.Sprintf(format, args...), ErrInvalidInput)
}

func NotFoundf(format string, args ...any) error {
	return NewAppError("NOT_FOUND", fmt.Sprintf(format, args...), ErrNotFound)
}

// Stable error kinds reported to callers.
const (
	KindInvalidInput      = "invalid_input"
	KindUnauthorized      = "unauthorized"
	KindNotFound          = "not_found"
	KindAlreadyProcessing = "already_processing"
	KindExtractionFailed  = "extraction_failed"
	KindScoringFailed     = "scoring_failed"
	KindProviderTimeout   = "provider_timeout"
	KindProviderError     = "provider_error"
	KindInternal          = "internal"
)

// Kind classifies err into one stable kind. Stage failures are checked before
// provider failures because they wrap them.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyProcessing):
		return KindAlreadyProcessing
	case errors.Is(err, ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, ErrScoringFailed):
		return KindScoringFailed
	case errors.Is(err, ErrProviderTimeout):
		return KindProviderTimeout
	case errors.Is(err, ErrProvider):
		return KindProviderError
	default:
		return KindInternal
	}
}

// HTTPStatus maps an error kind to the status code the HTTP layer answers with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyProcessing:
		return http.StatusConflict
	case KindExtractionFailed, KindScoringFailed, KindProviderError:
		return http.StatusBadGateway
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
