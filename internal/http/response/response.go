// Package response writes the JSON envelope every HTTP handler returns:
// {"data": ...} on success, {"error": {"code", "message", "details"?}} on
// failure. Grounded on internal/infrastructure/http/response in the teacher
// (contract recovered from its response_test.go; the package's own source
// was not present in the retrieved pack).
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/reconcore/core/internal/domain"
)

type envelope struct {
	Data any `json:"data"`
}

type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details []ValidationIssue `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ValidationIssue names one field that failed request validation.
type ValidationIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// OK writes a 200 with data wrapped in the success envelope.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// Created writes a 201 with data wrapped in the success envelope.
func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

// NoContent writes a 204 with an empty body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes a JSON error envelope at the given status.
func Error(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// ValidationError writes a 400 with a single-field validation issue.
func ValidationError(w http.ResponseWriter, field, issue string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    "VALIDATION_ERROR",
		Message: "request failed validation",
		Details: []ValidationIssue{{Field: field, Issue: issue}},
	}})
}

// BadRequest writes a 400 with a free-form message, used for request bodies
// that fail to even decode as JSON.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "BAD_REQUEST", message, http.StatusBadRequest)
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, "UNAUTHORIZED", message, http.StatusUnauthorized)
}

// FromDomainError maps a domain sentinel error to its HTTP status and code
// (spec §6 error-code table), falling back to 500 INTERNAL_ERROR for
// anything unrecognized.
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		Error(w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidStateTransition):
		Error(w, "INVALID_STATE_TRANSITION", err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrConcurrentModification):
		Error(w, "CONCURRENT_MODIFICATION", err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrUniquenessViolation):
		Error(w, "ACTIVE_JOB_EXISTS", err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrValidation):
		Error(w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrSessionExpired):
		// 419 is non-standard (no net/http constant) but spec §7's auth
		// taxonomy ("401/403/419") distinguishes an expired session from a
		// plain auth failure, so callers can prompt a re-login instead of
		// treating it as a hard denial.
		Error(w, "SESSION_EXPIRED", err.Error(), 419)
	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, "UNAUTHORIZED", err.Error(), http.StatusUnauthorized)
	default:
		slog.ErrorContext(r.Context(), "unmapped domain error reached HTTP layer", "error", err)
		Error(w, "INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	}
}
