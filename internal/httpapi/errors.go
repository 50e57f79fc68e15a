package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/internal/fetch"
	"inferd/internal/manager"
	"inferd/internal/runtime"
	"inferd/internal/session"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case session.IsCapability(err):
		return http.StatusBadRequest
	case session.IsBusy(err), session.IsClosed(err):
		return http.StatusTooManyRequests
	case fetch.IsNetwork(err):
		return http.StatusBadGateway
	case fetch.IsAllocation(err):
		return http.StatusInsufficientStorage
	case session.IsRuntimeInit(err), runtime.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeServiceError maps err to a status and writes the JSON payload.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("session_busy")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
