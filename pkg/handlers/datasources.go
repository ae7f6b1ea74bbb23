package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
	"github.com/sqlbridge-io/sqlbridge/pkg/services"
)

// DatasourceResponse is the JSON shape of one datasource. Credential fields
// inside Config are masked before the response leaves the service boundary.
type DatasourceResponse struct {
	DatasourceID string         `json:"datasource_id"`
	Name         string         `json:"name"`
	Dialect      string         `json:"dialect"`
	Config       map[string]any `json:"config"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// ListDatasourcesResponse wraps the datasource array.
type ListDatasourcesResponse struct {
	Datasources []DatasourceResponse `json:"datasources"`
}

// CreateDatasourceRequest is the POST body.
type CreateDatasourceRequest struct {
	Name    string         `json:"name"`
	Dialect string         `json:"dialect"`
	Config  map[string]any `json:"config"`
}

// UpdateDatasourceRequest is the PUT body.
type UpdateDatasourceRequest struct {
	Name    string         `json:"name"`
	Dialect string         `json:"dialect"`
	Config  map[string]any `json:"config"`
}

// RenameDatasourceRequest is the PATCH body.
type RenameDatasourceRequest struct {
	Name string `json:"name"`
}

// TestConnectionRequest tests an unsaved config.
type TestConnectionRequest struct {
	Dialect string         `json:"dialect"`
	Config  map[string]any `json:"config"`
}

// TestConnectionResponse reports a connection test result.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DatasourceHandler handles datasource CRUD and connection testing.
type DatasourceHandler struct {
	svc    services.DatasourceService
	logger *zap.Logger
}

// NewDatasourceHandler creates a new DatasourceHandler.
func NewDatasourceHandler(svc services.DatasourceService, logger *zap.Logger) *DatasourceHandler {
	return &DatasourceHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers datasource routes on the given mux.
func (h *DatasourceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dialects", h.Dialects)
	mux.HandleFunc("GET /api/datasources", h.List)
	mux.HandleFunc("POST /api/datasources", h.Create)
	mux.HandleFunc("POST /api/datasources/test", h.TestConnection)
	mux.HandleFunc("GET /api/datasources/{dsid}", h.Get)
	mux.HandleFunc("PUT /api/datasources/{dsid}", h.Update)
	mux.HandleFunc("PATCH /api/datasources/{dsid}", h.Rename)
	mux.HandleFunc("DELETE /api/datasources/{dsid}", h.Delete)
}

// Dialects handles GET /api/dialects, listing registered connector dialects.
func (h *DatasourceHandler) Dialects(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"dialects": datasource.RegisteredAdapters(),
	}); err != nil {
		h.logger.Error("Failed to encode dialects response", zap.Error(err))
	}
}

// List handles GET /api/datasources.
func (h *DatasourceHandler) List(w http.ResponseWriter, r *http.Request) {
	datasources, err := h.svc.List(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	response := ListDatasourcesResponse{Datasources: make([]DatasourceResponse, 0, len(datasources))}
	for _, ds := range datasources {
		response.Datasources = append(response.Datasources, toDatasourceResponse(ds))
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode datasources response", zap.Error(err))
	}
}

// Create handles POST /api/datasources.
func (h *DatasourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDatasourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	ds, err := h.svc.Create(r.Context(), req.Name, req.Dialect, req.Config)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, toDatasourceResponse(ds)); err != nil {
		h.logger.Error("Failed to encode datasource response", zap.Error(err))
	}
}

// Get handles GET /api/datasources/{dsid}.
func (h *DatasourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	ds, err := h.svc.Get(r.Context(), id, UserID(r))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, toDatasourceResponse(ds)); err != nil {
		h.logger.Error("Failed to encode datasource response", zap.Error(err))
	}
}

// Update handles PUT /api/datasources/{dsid}.
func (h *DatasourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateDatasourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.svc.Update(r.Context(), id, req.Name, req.Dialect, req.Config); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]bool{"success": true}); err != nil {
		h.logger.Error("Failed to encode update response", zap.Error(err))
	}
}

// Rename handles PATCH /api/datasources/{dsid}.
func (h *DatasourceHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req RenameDatasourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.svc.Rename(r.Context(), id, req.Name); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]bool{"success": true}); err != nil {
		h.logger.Error("Failed to encode rename response", zap.Error(err))
	}
}

// Delete handles DELETE /api/datasources/{dsid}.
func (h *DatasourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasourceID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]bool{"success": true}); err != nil {
		h.logger.Error("Failed to encode delete response", zap.Error(err))
	}
}

// TestConnection handles POST /api/datasources/test.
func (h *DatasourceHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.svc.TestConnection(r.Context(), req.Dialect, req.Config, UserID(r)); err != nil {
		status, code := StatusFromError(err)
		_ = ErrorResponse(w, status, code, err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, TestConnectionResponse{Success: true, Message: "connection successful"}); err != nil {
		h.logger.Error("Failed to encode test response", zap.Error(err))
	}
}

func toDatasourceResponse(ds *models.Datasource) DatasourceResponse {
	return DatasourceResponse{
		DatasourceID: ds.ID.String(),
		Name:         ds.Name,
		Dialect:      ds.Dialect,
		Config:       maskConfig(ds.Config),
		CreatedAt:    ds.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    ds.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// maskConfig replaces credential values so they never leave the gateway.
func maskConfig(config map[string]any) map[string]any {
	masked := make(map[string]any, len(config))
	for key, value := range config {
		switch key {
		case "password", "url":
			masked[key] = "[REDACTED]"
		default:
			masked[key] = value
		}
	}
	return masked
}
