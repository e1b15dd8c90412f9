package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"inferd/internal/lifecycle"
	"inferd/internal/serving"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps domain errors onto HTTP status codes. Backpressure is
// 429, unknown models 404, cold models 422, load failures 503, engine
// failures 500.
func statusForError(err error) int {
	switch {
	case serving.IsQueueFull(err):
		return http.StatusTooManyRequests
	case lifecycle.IsModelNotFound(err):
		return http.StatusNotFound
	case lifecycle.IsNotLoaded(err):
		return http.StatusUnprocessableEntity
	case lifecycle.IsLoadFailure(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, serving.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

// writeDomainError maps err to a status and writes the JSON payload,
// counting backpressure rejections as they pass through.
func writeDomainError(w http.ResponseWriter, err error) int {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
