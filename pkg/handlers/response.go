// Package handlers implements the gateway's HTTP surface on the standard
// library mux. Handlers translate the error taxonomy into HTTP statuses and
// keep response envelopes uniform.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusFromError maps the error taxonomy to an HTTP status and error code.
func StatusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrConfig):
		return http.StatusBadRequest, "invalid_config"
	case errors.Is(err, apperrors.ErrUnsupportedDialect):
		return http.StatusBadRequest, "unsupported_dialect"
	case errors.Is(err, apperrors.ErrAuth):
		return http.StatusUnauthorized, "authentication_failed"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrSchema):
		return http.StatusNotFound, "schema_object_not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrQuery):
		return http.StatusUnprocessableEntity, "query_failed"
	case errors.Is(err, apperrors.ErrConnectionLimit):
		return http.StatusTooManyRequests, "connection_limit_reached"
	case errors.Is(err, apperrors.ErrConnectivity), errors.Is(err, apperrors.ErrTLS):
		return http.StatusBadGateway, "connection_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError maps err through the taxonomy and writes the error response.
// Internal errors are logged but never leaked to the client verbatim.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := StatusFromError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		message = "internal error"
	}
	if werr := ErrorResponse(w, status, code, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}
