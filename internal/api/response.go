package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Response represents the unified envelope format.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// CorrelationHeader carries the request's correlation ID in both directions.
const CorrelationHeader = "X-Correlation-ID"

type contextKey string

const correlationKey contextKey = "correlationId"

// withCorrelation assigns each request a correlation ID, honoring one the
// client supplied, and echoes it on the response.
func withCorrelation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get(CorrelationHeader)
		if corrID == "" {
			corrID = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, corrID)
		ctx := context.WithValue(r.Context(), correlationKey, corrID)
		next(w, r.WithContext(ctx))
	}
}

// correlationID returns the request's correlation ID.
func correlationID(r *http.Request) string {
	if id, ok := r.Context().Value(correlationKey).(string); ok {
		return id
	}
	return uuid.NewString()
}

// WriteSuccess writes a 200 envelope.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeResponse(w, http.StatusOK, &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: correlationID(r),
	})
}

// WriteAccepted writes a 202 envelope for asynchronously dispatched work.
func WriteAccepted(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeResponse(w, http.StatusAccepted, &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: correlationID(r),
	})
}

// WriteError writes an error envelope with the given HTTP status.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: correlationID(r),
	})
}

// writeResponse writes a JSON response to the HTTP response writer.
func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Status is already on the wire; all we can do is log.
		log.WithFields(log.Fields{"component": "api", "error": err}).
			Error("Failed to encode response")
	}
}
