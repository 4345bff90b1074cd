// Package api provides the HTTP handlers of the story view service and its
// standardized JSON error responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/storyviews/internal/middleware"
	"github.com/onnwee/storyviews/internal/storyview"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeForbidden indicates the caller may not read the resource.
	ErrCodeForbidden = "forbidden"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodePageNotFound indicates the page token is unknown or was closed.
	ErrCodePageNotFound = "page_not_found"

	// ErrCodeSessionNotFound indicates the view session is unknown to the page.
	ErrCodeSessionNotFound = "session_not_found"

	// ErrCodeSessionCommitted indicates the view session no longer accepts events.
	ErrCodeSessionCommitted = "session_committed"

	// ErrCodeInvalidExitReason indicates an exit reason outside the known set.
	ErrCodeInvalidExitReason = "invalid_exit_reason"

	// ErrCodeInvalidDimension indicates an unsupported stats grouping.
	ErrCodeInvalidDimension = "invalid_dimension"

	// ErrCodeTrackingFailed indicates the view could not be stored.
	ErrCodeTrackingFailed = "tracking_failed"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response and records code for
// the logging middleware.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// Example:
//
//	api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodePageNotFound, "Page not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.SetErrorCode(ctx, code)

	data, err := json.Marshal(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeInvalidExitReason, ErrCodeInvalidDimension:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodePageNotFound, ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeSessionCommitted:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeTrackingFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeStoryviewError maps core errors onto the error envelope.
func writeStoryviewError(w http.ResponseWriter, ctx context.Context, err error) {
	code, message := ErrCodeInternal, "Internal server error"
	switch {
	case errors.Is(err, storyview.ErrPageNotFound):
		code, message = ErrCodePageNotFound, "Page not found"
	case errors.Is(err, storyview.ErrSessionNotFound):
		code, message = ErrCodeSessionNotFound, "View session not found"
	case errors.Is(err, storyview.ErrSessionCommitted):
		code, message = ErrCodeSessionCommitted, "View session already committed"
	case errors.Is(err, storyview.ErrInvalidExitReason):
		code, message = ErrCodeInvalidExitReason, err.Error()
	case errors.Is(err, storyview.ErrInvalidDimension):
		code, message = ErrCodeInvalidDimension, err.Error()
	case errors.Is(err, storyview.ErrInvalidEvent),
		errors.Is(err, storyview.ErrInvalidMediaType),
		errors.Is(err, storyview.ErrEmptyStoryID),
		errors.Is(err, storyview.ErrInvalidStoryID):
		code, message = ErrCodeValidation, err.Error()
	case storyview.IsTrackingError(err, storyview.KindGateway):
		code, message = ErrCodeTrackingFailed, "View could not be recorded"
	default:
		slog.ErrorContext(ctx, "unhandled api error", "error", err)
	}
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

// writeJSON encodes v as the response body with status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
