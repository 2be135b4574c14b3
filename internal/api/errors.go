package api

import (
	"errors"
	"net/http"

	"github.com/wiifm74/equilibria/internal/controller"
)

// ErrNoTelemetry reports that no telemetry envelope has arrived yet.
var ErrNoTelemetry = errors.New("NO_TELEMETRY")

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// badRequest builds the 400 error used by command shape validation.
func badRequest(message string, details interface{}) *APIError {
	return NewAPIError("BAD_REQUEST", message, http.StatusBadRequest, details)
}

// WriteAPIError maps err onto the envelope and writes it. Session and
// telemetry conditions get their canonical codes; anything unrecognized is
// an internal error.
func WriteAPIError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		WriteError(w, r, apiErr.StatusCode, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	switch {
	case errors.Is(err, controller.ErrNotConnected):
		WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Controller session is down", nil)
	case errors.Is(err, controller.ErrStopped):
		WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Gateway is shutting down", nil)
	case errors.Is(err, ErrNoTelemetry):
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND",
			"No telemetry received yet", nil)
	default:
		WriteError(w, r, http.StatusInternalServerError, "INTERNAL",
			"Internal server error", map[string]interface{}{"original": err.Error()})
	}
}
