package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/services"
)

// ExecuteQueryRequest is the POST body for ad-hoc queries.
type ExecuteQueryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// QueryHandler handles ad-hoc query execution and distinct value lookups.
type QueryHandler struct {
	svc    services.QueryService
	logger *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(svc services.QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasources/{dsid}/query", h.Execute)
	mux.HandleFunc("GET /api/datasources/{dsid}/tables/{table}/columns/{column}/values", h.DistinctValues)
}

// Execute handles POST /api/datasources/{dsid}/query.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req ExecuteQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	outcome, err := h.svc.Execute(r.Context(), id, UserID(r), req.Query, req.Limit)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, outcome); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

// DistinctValues handles
// GET /api/datasources/{dsid}/tables/{table}/columns/{column}/values.
func (h *QueryHandler) DistinctValues(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	table := r.PathValue("table")
	column := r.PathValue("column")
	search := r.URL.Query().Get("search")
	limit := queryInt(r, "limit", 0)

	values, err := h.svc.DistinctValues(r.Context(), id, UserID(r), table, column, search, limit)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"values": values}); err != nil {
		h.logger.Error("Failed to encode distinct values response", zap.Error(err))
	}
}
