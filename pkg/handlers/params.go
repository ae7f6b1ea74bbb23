package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseDatasourceID extracts and validates the datasource ID from the request
// path. Returns the parsed UUID and true on success, or uuid.Nil and false
// after writing an error response.
// Expects path parameter: dsid
func ParseDatasourceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue("dsid")
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_datasource_id", "Invalid datasource ID format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// UserID identifies the caller for pool partitioning and the metadata cache.
// The gateway trusts the fronting proxy's X-User-Id header; absent callers
// share the anonymous partition.
func UserID(r *http.Request) string {
	if user := r.Header.Get("X-User-Id"); user != "" {
		return user
	}
	return "anonymous"
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
