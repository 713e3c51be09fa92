package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case resource.IsValidation(err):
		return http.StatusBadRequest
	case resource.IsNotFound(err):
		return http.StatusNotFound
	case resource.IsFormatMismatch(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resource.ErrNotLoaded):
		return http.StatusConflict
	case runtime.IsRuntimeUnavailable(err):
		return http.StatusServiceUnavailable
	case resource.IsResourceExhaustion(err):
		return http.StatusServiceUnavailable
	}
	if _, ok := resource.IsRetryExhausted(err); ok {
		return http.StatusServiceUnavailable
	}
	if _, ok := resource.IsChainExhausted(err); ok {
		return http.StatusBadGateway
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err through statusFor and writes it.
func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

// writeJSON encodes v with the standard headers.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
