package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{apperrors.ErrConfig, http.StatusBadRequest, "invalid_config"},
		{apperrors.ErrUnsupportedDialect, http.StatusBadRequest, "unsupported_dialect"},
		{apperrors.ErrAuth, http.StatusUnauthorized, "authentication_failed"},
		{apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{apperrors.ErrSchema, http.StatusNotFound, "schema_object_not_found"},
		{apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{apperrors.ErrQuery, http.StatusUnprocessableEntity, "query_failed"},
		{apperrors.ErrConnectionLimit, http.StatusTooManyRequests, "connection_limit_reached"},
		{apperrors.ErrConnectivity, http.StatusBadGateway, "connection_failed"},
		{apperrors.ErrTLS, http.StatusBadGateway, "connection_failed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := StatusFromError(tt.err)
		assert.Equal(t, tt.wantStatus, status, tt.err.Error())
		assert.Equal(t, tt.wantCode, code, tt.err.Error())
	}
}

func TestStatusFromErrorUnwrapsWrapped(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", apperrors.ErrSchema)
	status, code := StatusFromError(wrapped)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "schema_object_not_found", code)
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zap.NewNop(), errors.New("pq: secret host 10.0.0.5 unreachable"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["message"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestWriteErrorPassesTaxonomyMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zap.NewNop(), fmt.Errorf("%w: table %q does not exist", apperrors.ErrSchema, "nope"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope")
}

func TestErrorResponseShape(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, ErrorResponse(rec, http.StatusBadRequest, "invalid_request", "Invalid JSON body"))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body["error"])
	assert.Equal(t, "Invalid JSON body", body["message"])
}
