package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/services"
)

// ReadTableRequest is the POST body for paged table reads. Reads use POST so
// arbitrary filter maps do not have to be squeezed into query strings.
type ReadTableRequest struct {
	Page       int            `json:"page,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	SortColumn string         `json:"sort_column,omitempty"`
	SortDesc   bool           `json:"sort_desc,omitempty"`
}

// InsertRowsRequest is the POST body for row insertion.
type InsertRowsRequest struct {
	Rows []map[string]any `json:"rows"`
}

// UpdateRowsRequest is the PUT body for row updates. IDColumn defaults
// to "id" when omitted.
type UpdateRowsRequest struct {
	IDColumn string               `json:"id_column,omitempty"`
	Updates  []services.RowUpdate `json:"updates"`
}

// DeleteRowsRequest is the DELETE body for row removal. IDColumn defaults
// to "id" when omitted.
type DeleteRowsRequest struct {
	IDColumn string `json:"id_column,omitempty"`
	IDs      []any  `json:"ids"`
}

// defaultIDColumn is the identifier column assumed when a mutation request
// does not name one.
const defaultIDColumn = "id"

// RowsAffectedResponse reports a mutation's row count.
type RowsAffectedResponse struct {
	RowsAffected int64 `json:"rows_affected"`
}

// TableDataHandler handles table-data CRUD endpoints.
type TableDataHandler struct {
	svc    services.TableDataService
	logger *zap.Logger
}

// NewTableDataHandler creates a new TableDataHandler.
func NewTableDataHandler(svc services.TableDataService, logger *zap.Logger) *TableDataHandler {
	return &TableDataHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers table-data routes on the given mux.
func (h *TableDataHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasources/{dsid}/tables/{table}/read", h.Read)
	mux.HandleFunc("POST /api/datasources/{dsid}/tables/{table}/rows", h.Insert)
	mux.HandleFunc("PUT /api/datasources/{dsid}/tables/{table}/rows", h.Update)
	mux.HandleFunc("DELETE /api/datasources/{dsid}/tables/{table}/rows", h.Delete)
}

// Read handles POST /api/datasources/{dsid}/tables/{table}/read.
func (h *TableDataHandler) Read(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req ReadTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	data, err := h.svc.ReadTable(r.Context(), id, UserID(r), r.PathValue("table"), services.ReadOptions{
		Page:       req.Page,
		Limit:      req.Limit,
		Filters:    req.Filters,
		SortColumn: req.SortColumn,
		SortDesc:   req.SortDesc,
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, data); err != nil {
		h.logger.Error("Failed to encode table data response", zap.Error(err))
	}
}

// Insert handles POST /api/datasources/{dsid}/tables/{table}/rows.
func (h *TableDataHandler) Insert(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req InsertRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	result, err := h.svc.InsertRows(r.Context(), id, UserID(r), r.PathValue("table"), req.Rows)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, result); err != nil {
		h.logger.Error("Failed to encode insert response", zap.Error(err))
	}
}

// Update handles PUT /api/datasources/{dsid}/tables/{table}/rows.
func (h *TableDataHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.IDColumn == "" {
		req.IDColumn = defaultIDColumn
	}

	affected, err := h.svc.UpdateRows(r.Context(), id, UserID(r), r.PathValue("table"), req.IDColumn, req.Updates)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, RowsAffectedResponse{RowsAffected: affected}); err != nil {
		h.logger.Error("Failed to encode update response", zap.Error(err))
	}
}

// Delete handles DELETE /api/datasources/{dsid}/tables/{table}/rows.
func (h *TableDataHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req DeleteRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.IDColumn == "" {
		req.IDColumn = defaultIDColumn
	}

	affected, err := h.svc.DeleteRows(r.Context(), id, UserID(r), r.PathValue("table"), req.IDColumn, req.IDs)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, RowsAffectedResponse{RowsAffected: affected}); err != nil {
		h.logger.Error("Failed to encode delete response", zap.Error(err))
	}
}
