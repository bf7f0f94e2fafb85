package errors

import (
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"pulse-api/internal/domain"
)

// ErrorType represents different types of application errors
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeInvalidPayload   ErrorType = "invalid_payload"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeQuestionInactive ErrorType = "question_inactive"
	ErrorTypeClaimInvalid     ErrorType = "claim_invalid"
	ErrorTypeRateLimit        ErrorType = "rate_limit"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeUnavailable      ErrorType = "unavailable"
	ErrorTypeInternal         ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code"`
	Retryable  bool                   `json:"retryable"`
	Internal   error                  `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Internal.Error())
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Internal
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// NewInvalidPayloadError is returned when a response does not fit its question
func NewInvalidPayloadError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeInvalidPayload,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Internal:   internal,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewQuestionInactiveError creates a new inactive question error
func NewQuestionInactiveError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeQuestionInactive,
		Message:    message,
		StatusCode: http.StatusGone,
	}
}

// NewClaimInvalidError creates a new claim error
func NewClaimInvalidError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeClaimInvalid,
		Message:    message,
		StatusCode: http.StatusGone,
	}
}

// NewRateLimitError creates a new rate limit error. retryAfter is rounded up
// to whole seconds for the Retry-After header.
func NewRateLimitError(message string, retryAfter time.Duration) *AppError {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
		Details:    map[string]interface{}{"retry_after_seconds": seconds},
	}
}

// NewTimeoutError creates a new retryable timeout error
func NewTimeoutError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Internal:   internal,
	}
}

// NewUnavailableError creates a new retryable dependency error
func NewUnavailableError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Internal:   internal,
	}
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   internal,
	}
}

// RetryAfterSeconds returns the retry hint carried by a rate limit error
func (e *AppError) RetryAfterSeconds() int {
	if e.Details == nil {
		return 0
	}
	if v, ok := e.Details["retry_after_seconds"].(int); ok {
		return v
	}
	return 0
}

// FromDomain maps core sentinel errors to their HTTP representation.
// Unknown errors become internal errors.
func FromDomain(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrConflict):
		return NewConflictError("You already voted on this question")
	case stderrors.Is(err, domain.ErrRateLimited):
		var rl *domain.RateLimitedError
		retryAfter := time.Second
		if stderrors.As(err, &rl) {
			retryAfter = rl.RetryAfter
		}
		return NewRateLimitError("Please slow down", retryAfter)
	case stderrors.Is(err, domain.ErrQuestionInactive):
		return NewQuestionInactiveError("This question is closed")
	case stderrors.Is(err, domain.ErrQuestionNotFound):
		return NewNotFoundError("Question not found")
	case stderrors.Is(err, domain.ErrVoterNotFound):
		return NewNotFoundError("Voter not found")
	case stderrors.Is(err, domain.ErrInvalidPayload):
		var pe *domain.PayloadError
		if stderrors.As(err, &pe) {
			return NewInvalidPayloadError(pe.Reason, err)
		}
		return NewInvalidPayloadError("Invalid response payload", err)
	case stderrors.Is(err, domain.ErrClaimInvalid):
		return NewClaimInvalidError("This claim link is invalid or has expired")
	case stderrors.Is(err, domain.ErrTimeout):
		return NewTimeoutError("The request timed out, please retry", err)
	case stderrors.Is(err, domain.ErrDeliveryFailed):
		return NewUnavailableError("Could not send the claim email, please retry", err)
	case stderrors.Is(err, domain.ErrTransientStore):
		return NewUnavailableError("Temporarily unavailable, please retry", err)
	}
	return NewInternalError("Internal server error", err)
}

// ErrorBody is the error half of an API response
type ErrorBody struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// ErrorResponse represents the JSON error response
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// NewErrorResponse renders an AppError for the wire
func NewErrorResponse(appErr *AppError, requestID string, now time.Time) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Error: ErrorBody{
			Type:      appErr.Type,
			Message:   appErr.Message,
			Details:   appErr.Details,
			Retryable: appErr.Retryable,
			RequestID: requestID,
			Timestamp: now.UTC().Format(time.RFC3339),
		},
	}
}
