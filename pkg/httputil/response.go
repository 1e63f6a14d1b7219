// Package httputil renders the address API's JSON envelope and maps domain
// errors onto it.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
	"github.com/charmntreats/addressvault/pkg/logger"
	"github.com/charmntreats/addressvault/pkg/validator"
)

// Response wraps every body: data on success, error otherwise.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error half of Response. Fields carries per-field
// validation messages keyed by JSON name.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// retryAfterSeconds is advertised on 503s. A tier failure either recovers
// or flips the service to local-only mode well within this.
const retryAfterSeconds = "1"

// WriteJSON encodes v with status. Encoding errors are dropped: the status
// line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// publicMessages replaces the sentinel text for bare domain errors.
// INVALID_INPUT is absent: its text names the offending field.
var publicMessages = map[string]string{
	"NOT_FOUND":           "address not found",
	"CONFLICT":            "address was changed concurrently, reload and retry",
	"STORAGE_FAILURE":     "address could not be saved or loaded, please retry",
	"SERVICE_UNAVAILABLE": "address service is temporarily unavailable, please retry",
	"INTERNAL_ERROR":      "an internal error occurred",
}

func render(err error) (int, *ErrorResponse) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Status, &ErrorResponse{Code: appErr.Code, Message: appErr.Message}
	}
	class := apperrors.Classify(err)
	msg, ok := publicMessages[class.Code]
	if !ok {
		msg = err.Error()
	}
	return class.Status, &ErrorResponse{Code: class.Code, Message: msg}
}

// WriteError renders err and logs server-side failures through the
// request-scoped logger when one is mounted, else through fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	status, body := render(err)
	body.RequestID = logger.CorrelationIDFromContext(r.Context())

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "address request failed",
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	WriteJSON(w, status, Response{Error: body})
}

// WriteValidationError answers 400 with per-field messages when err came
// from the validator, or with err's text otherwise.
func WriteValidationError(w http.ResponseWriter, err error) {
	body := &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		body = &ErrorResponse{Code: "VALIDATION_ERROR", Message: "request validation failed", Fields: valErr.Fields()}
	}
	WriteJSON(w, http.StatusBadRequest, Response{Error: body})
}
