package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/errors"
	"pulse-api/pkg/logger"

	"github.com/google/uuid"
)

// ContextKey represents keys used in request context
type ContextKey string

const (
	// VoterContextKey holds the resolved *domain.VoterHandle
	VoterContextKey ContextKey = "voter"
	// VoterCreatedContextKey is true when the handle was minted by this request
	VoterCreatedContextKey ContextKey = "voter_created"
	// RequestIDContextKey is the key for request ID in context
	RequestIDContextKey ContextKey = "request_id"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, reusing a well-formed incoming one
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}

			ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the request id, or ""
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// VoterFromContext returns the handle resolved by the Voter middleware
func VoterFromContext(ctx context.Context) (*domain.VoterHandle, bool) {
	h, ok := ctx.Value(VoterContextKey).(*domain.VoterHandle)
	return h, ok && h != nil
}

// VoterCreated reports whether the request minted the handle
func VoterCreated(ctx context.Context) bool {
	created, _ := ctx.Value(VoterCreatedContextKey).(bool)
	return created
}

// WithVoter stores a handle in ctx
func WithVoter(ctx context.Context, handle *domain.VoterHandle, created bool) context.Context {
	ctx = context.WithValue(ctx, VoterContextKey, handle)
	return context.WithValue(ctx, VoterCreatedContextKey, created)
}

// writeErrorResponse writes an error response to the client
func writeErrorResponse(w http.ResponseWriter, r *http.Request, appErr *errors.AppError, log *logger.Logger) {
	log.WithError(appErr).Error("Request error")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(errors.NewErrorResponse(appErr, RequestIDFromContext(r.Context()), time.Now()))
}
