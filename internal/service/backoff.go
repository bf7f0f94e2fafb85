package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"pulse-api/internal/domain"
)

const (
	backoffFactor = 2.0
	backoffJitter = 0.2
)

// RetryPolicy bounds background retries
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NextBackoff grows current by backoffFactor with +/-20% jitter, clamped to
// [current, max].
func NextBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > max {
		next = max
	}

	jitter := float64(next) * backoffJitter * (2*rand.Float64() - 1)
	withJitter := time.Duration(float64(next) + jitter)

	if withJitter < current {
		withJitter = current
	}
	if withJitter > max {
		withJitter = max
	}
	return withJitter
}

// permanent errors are not worth another attempt
func permanent(err error) bool {
	return errors.Is(err, domain.ErrVoterNotFound) ||
		errors.Is(err, domain.ErrQuestionNotFound) ||
		errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, context.Canceled)
}

// Retry runs fn until it succeeds, fails permanently, ctx ends or the
// attempts run out. It returns the last error and the attempts made.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := policy.InitialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || permanent(err) {
			return attempt, err
		}
		if attempt == attempts {
			return attempt, err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
		wait = NextBackoff(wait, policy.MaxBackoff)
	}
	return attempts, err
}
