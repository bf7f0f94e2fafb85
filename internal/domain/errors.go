package domain

import (
	"errors"
	"fmt"
	"time"
)

// Core error taxonomy. Callers match with errors.Is; services wrap with context.
var (
	ErrConflict         = errors.New("already voted on this question")
	ErrRateLimited      = errors.New("too many requests")
	ErrQuestionInactive = errors.New("question is not active")
	ErrQuestionNotFound = errors.New("question not found")
	ErrInvalidPayload   = errors.New("invalid response payload")
	ErrClaimInvalid     = errors.New("claim token is invalid or expired")
	ErrTransientStore   = errors.New("transient store failure")
	ErrTimeout          = errors.New("request timed out")
	ErrVoterNotFound    = errors.New("voter not found")
	ErrDeliveryFailed   = errors.New("claim link could not be delivered")
)

// RateLimitedError carries the wait time until the window rolls over
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
