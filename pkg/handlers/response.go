// Package handlers contains the HTTP API surface of kgforge-engine.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
)

// ScopeMiddleware wraps a handler with workspace-scope acquisition. It is
// the signature of middleware.WorkspaceScope's return value.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ApiResponse is the standard success envelope.
type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a plain JSON error response for boundary failures
// (malformed ids, bad request bodies) that never reached a service.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteServiceError classifies a service error and writes the structured
// {kind, message, retryable} envelope with the matching status code.
func WriteServiceError(w http.ResponseWriter, err error) error {
	appErr := apperrors.Classify(err)
	return WriteJSON(w, statusFor(appErr.Kind), appErr)
}

func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict, apperrors.KindDuplicate:
		return http.StatusConflict
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
