package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jobagent/orchestrator/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error envelope with the given status, code
// and message; writeDomainError classifies errors against the domain
// sentinel taxonomy before calling it.
func writeError(w http.ResponseWriter, _ *http.Request, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

// writeDomainError maps a domain error to an HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrBudgetExceeded):
		status, code = http.StatusConflict, "BUDGET_EXCEEDED"
	case errors.Is(err, domain.ErrSecurity):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrTransientInfra):
		status, code = http.StatusServiceUnavailable, "TRANSIENT_INFRA"
	}
	writeError(w, r, status, code, err.Error())
}
