package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/ontology"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// OntologyHandler exports the ontology in effect for a schema.
type OntologyHandler struct {
	schemas       services.SnapshotSource
	ontologies    services.OntologySource
	defaultSchema string
	defaultFormat string
	logger        *zap.Logger
}

// NewOntologyHandler creates a new ontology handler.
func NewOntologyHandler(schemas services.SnapshotSource, ontologies services.OntologySource, defaultSchema, defaultFormat string, logger *zap.Logger) *OntologyHandler {
	return &OntologyHandler{
		schemas:       schemas,
		ontologies:    ontologies,
		defaultSchema: defaultSchema,
		defaultFormat: defaultFormat,
		logger:        logger.Named("ontology-handler"),
	}
}

// RegisterRoutes registers the ontology routes on the given mux.
func (h *OntologyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ontology/export", h.Export)
}

// Export handles GET /api/ontology/export?format=document|flat&schema=.
func (h *OntologyHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := strings.TrimSpace(q.Get("format"))
	if format == "" {
		format = h.defaultFormat
	}
	if format != ontology.FormatDocument && format != ontology.FormatFlat {
		h.writeError(w, http.StatusBadRequest, "invalid_format", "format must be document or flat")
		return
	}
	name := strings.TrimSpace(q.Get("schema"))
	if name == "" {
		name = h.defaultSchema
	}

	snap, err := h.schemas.Get(r.Context(), name)
	if err != nil {
		h.logger.Error("Failed to load schema for export", zap.String("schema", name), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "schema_unavailable", err.Error())
		return
	}

	o, err := h.ontologies.ForSchema(snap)
	switch {
	case errors.Is(err, apperrors.ErrOntologyDisabled):
		h.writeError(w, http.StatusNotFound, "ontology_disabled", err.Error())
		return
	case err != nil:
		h.logger.Error("Failed to load ontology", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load ontology")
		return
	case o == nil:
		h.writeError(w, http.StatusNotFound, "no_ontology", "no ontology is loaded and dynamic generation is off")
		return
	}

	body, err := ontology.Export(o, format)
	if err != nil {
		h.logger.Error("Failed to export ontology", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to export ontology")
		return
	}

	if format == ontology.FormatFlat {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/yaml")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("Failed to write export", zap.Error(err))
	}
}

func (h *OntologyHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
