// Package httpserver contains HTTP handlers and middleware for the job
// platform's ingest/status/vector surface.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy (spec §7) onto HTTP status
// codes, extended with InvalidStateTransition->409 and
// TransientInfrastructure->503 per the ambient error-handling design.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		code = http.StatusForbidden
		codeStr = "FORBIDDEN"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		code = http.StatusConflict
		codeStr = "INVALID_STATE_TRANSITION"
	case errors.Is(err, domain.ErrTransientInfra):
		code = http.StatusServiceUnavailable
		codeStr = "TRANSIENT_INFRASTRUCTURE"
	case errors.Is(err, domain.ErrHandlerFailure):
		code = http.StatusUnprocessableEntity
		codeStr = "HANDLER_FAILURE"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
