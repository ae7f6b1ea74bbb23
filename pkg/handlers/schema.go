package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/services"
)

// SchemaHandler serves table lists and table structures from the
// introspection cache.
type SchemaHandler struct {
	svc    services.SchemaService
	logger *zap.Logger
}

// NewSchemaHandler creates a new SchemaHandler.
func NewSchemaHandler(svc services.SchemaService, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers schema routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/datasources/{dsid}/tables", h.ListTables)
	mux.HandleFunc("GET /api/datasources/{dsid}/tables/{table}", h.TableStructure)
	mux.HandleFunc("GET /api/datasources/{dsid}/schema", h.Snapshot)
	mux.HandleFunc("POST /api/datasources/{dsid}/schema/refresh", h.Refresh)
}

// Snapshot handles GET /api/datasources/{dsid}/schema. It always
// introspects the live database.
func (h *SchemaHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	snapshot, err := h.svc.Snapshot(r.Context(), id, UserID(r))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, snapshot); err != nil {
		h.logger.Error("Failed to encode schema response", zap.Error(err))
	}
}

// ListTables handles GET /api/datasources/{dsid}/tables.
func (h *SchemaHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	tables, err := h.svc.ListTables(r.Context(), id, UserID(r))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"tables": tables}); err != nil {
		h.logger.Error("Failed to encode tables response", zap.Error(err))
	}
}

// TableStructure handles GET /api/datasources/{dsid}/tables/{table}.
func (h *SchemaHandler) TableStructure(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	structure, err := h.svc.TableStructure(r.Context(), id, UserID(r), r.PathValue("table"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, structure); err != nil {
		h.logger.Error("Failed to encode structure response", zap.Error(err))
	}
}

// Refresh handles POST /api/datasources/{dsid}/schema/refresh.
func (h *SchemaHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	tables, err := h.svc.RefreshSchema(r.Context(), id, UserID(r))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"tables": tables}); err != nil {
		h.logger.Error("Failed to encode refresh response", zap.Error(err))
	}
}
