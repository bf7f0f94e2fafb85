package handler

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulse-api/internal/middleware"
	"pulse-api/pkg/errors"
	"pulse-api/pkg/logger"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 16 << 10

var validate = validator.New()

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err onto the API error taxonomy. Server-side failures
// are logged with their cause; client errors only at debug level.
func respondError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	appErr := errors.FromDomain(err)
	requestID := middleware.RequestIDFromContext(r.Context())

	entry := log.WithFields(map[string]interface{}{
		"request_id": requestID,
		"path":       r.URL.Path,
		"status":     appErr.StatusCode,
	}).WithError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	if secs := appErr.RetryAfterSeconds(); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	respondJSON(w, appErr.StatusCode, errors.NewErrorResponse(appErr, requestID, time.Now()))
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation
func decodeJSON(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.NewValidationError("Request body is not valid JSON", map[string]interface{}{"cause": err.Error()})
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) *errors.AppError {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewValidationError("Invalid request", nil)
	}
	details := make(map[string]interface{}, len(fieldErrs))
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := strings.ToLower(fe.Field())
		details[name] = fe.Tag()
		fields = append(fields, name)
	}
	return errors.NewValidationError("Invalid "+strings.Join(fields, ", "), details)
}

func generateETag(data interface{}) string {
	jsonData, _ := json.Marshal(data)
	hash := md5.Sum(jsonData)
	return fmt.Sprintf(`"%x"`, hash)
}

// notModified sets the ETag and reports whether the client already has it
func notModified(w http.ResponseWriter, r *http.Request, data interface{}) bool {
	etag := generateETag(data)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}
