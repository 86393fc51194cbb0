package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so the wire shape
// stays the same everywhere.
//
// TWO KINDS OF "NO":
// Business outcomes (wrong code, taken email, wrong password) are NOT errors
// here. They are 200 responses whose body carries a status field, e.g.
//
//	{"status": "VerifyCodeError", "message": "wrong verification code"}
//
// writeError is only for requests that could not be served at all: bad
// input, an unknown WeChat user, a dead or forged session token. Those get
// a non-2xx status and the error body:
//
//	{"error": "token_expired", "message": "session token has expired"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/identity-service/internal/apperror"
)

// ErrorResponse is the error body for every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable type, e.g. "not_found"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // offending input field, validation errors only
}

// writeJSON sets the header and status before the body; anything set after
// the first Write is ignored by net/http.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps an error from the service layer to an HTTP status.
//
//	apperror.ErrValidation   → 400 validation_error
//	apperror.ErrUnauthorized → 401 <AppError.Code>   (token_expired, token_invalid)
//	apperror.ErrForbidden    → 403 forbidden
//	apperror.ErrNotFound     → 404 not_found
//	apperror.ErrConflict     → 409 conflict
//	apperror.ErrUpstream     → 502 upstream_error    (WeChat said no)
//	anything else            → 500 internal_error    (details are logged, never sent)
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("internal error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, errorType = http.StatusUnauthorized, "unauthorized"
		if appErr.Code != "" {
			errorType = appErr.Code
		}
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		status, errorType = http.StatusBadGateway, "upstream_error"
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
