package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// SchemaRefresher re-reads a schema and publishes a new snapshot.
type SchemaRefresher interface {
	Refresh(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error)
}

// RefreshResponse describes the snapshot published by a refresh.
type RefreshResponse struct {
	Schema  string `json:"schema"`
	Version uint64 `json:"version"`
	Tables  int    `json:"tables"`
	Views   int    `json:"views"`
}

// SchemaHandler handles schema change events.
type SchemaHandler struct {
	refresher     SchemaRefresher
	defaultSchema string
	logger        *zap.Logger
}

// NewSchemaHandler creates a new schema handler.
func NewSchemaHandler(refresher SchemaRefresher, defaultSchema string, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{
		refresher:     refresher,
		defaultSchema: defaultSchema,
		logger:        logger.Named("schema-handler"),
	}
}

// RegisterRoutes registers the schema routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/schema/refresh", h.Refresh)
}

// Refresh handles POST /api/schema/refresh?schema=. Sessions already running keep
// the snapshot they started with.
func (h *SchemaHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("schema"))
	if name == "" {
		name = h.defaultSchema
	}

	snap, err := h.refresher.Refresh(r.Context(), name)
	if err != nil {
		h.logger.Error("Schema refresh failed", zap.String("schema", name), zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "refresh_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	resp := ApiResponse{Success: true, Data: RefreshResponse{
		Schema:  snap.Name,
		Version: snap.Version,
		Tables:  len(snap.Tables),
		Views:   len(snap.Views),
	}}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
