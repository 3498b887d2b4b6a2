package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bitable-report/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		noCred         *domain.NoCredentialError
		refreshFailed  *domain.RefreshFailedError
		validation     *domain.ValidationError
		notFound       *domain.NotFoundError
		conflict       *domain.ConflictError
		combineTimeout *domain.CombineTimeoutError
		gateway        *domain.GatewayError
	)

	switch {
	case errors.As(err, &noCred), errors.As(err, &refreshFailed):
		return http.StatusUnauthorized
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &combineTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &gateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError renders err as {"code", "message"}. Internal errors are logged
// and their message is not echoed.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := httpStatusFromDomainError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Code: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
