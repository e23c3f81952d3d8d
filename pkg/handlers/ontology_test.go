package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/ontology"
)

type stubSchemas struct {
	err       error
	requested string
}

func (s *stubSchemas) Get(_ context.Context, name string) (*models.SchemaSnapshot, error) {
	s.requested = name
	if s.err != nil {
		return nil, s.err
	}
	return &models.SchemaSnapshot{Name: name, Version: 1}, nil
}

func vendorOntology() *models.Ontology {
	return &models.Ontology{
		Concepts: []models.Concept{{
			Name:     "Vendor",
			Synonyms: []string{"supplier"},
		}},
		Mappings: []models.OntologyLink{{
			Table: "purchase_order", Column: "vendorgroup",
			Concept: "Vendor", Property: "name", Confidence: 0.95,
		}},
	}
}

func serveExport(t *testing.T, schemas *stubSchemas, store *ontology.Store, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewOntologyHandler(schemas, store, "public", ontology.FormatDocument, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func loadedStore(t *testing.T) *ontology.Store {
	t.Helper()
	store := ontology.NewStore(ontology.StoreOptions{Enabled: true}, zap.NewNop())
	require.NoError(t, store.Replace(vendorOntology()))
	return store
}

func TestOntologyHandler_ExportDocument(t *testing.T) {
	schemas := &stubSchemas{}

	rec := serveExport(t, schemas, loadedStore(t), "/api/ontology/export")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public", schemas.requested)

	var decoded models.Ontology
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, vendorOntology().Mappings, decoded.Mappings)
}

func TestOntologyHandler_ExportFlat(t *testing.T) {
	schemas := &stubSchemas{}

	rec := serveExport(t, schemas, loadedStore(t), "/api/ontology/export?format=flat&schema=sales")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "sales", schemas.requested)
	assert.Contains(t, rec.Body.String(), "concept.Vendor.synonyms=supplier")
	assert.Contains(t, rec.Body.String(), "mapping.Vendor.name.purchase_order.vendorgroup=0.95")
}

func TestOntologyHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		schemas  *stubSchemas
		store    func(t *testing.T) *ontology.Store
		target   string
		wantCode int
		wantErr  string
	}{
		{
			name:     "invalid format",
			schemas:  &stubSchemas{},
			store:    loadedStore,
			target:   "/api/ontology/export?format=xml",
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_format",
		},
		{
			name:     "schema unavailable",
			schemas:  &stubSchemas{err: errors.New("connection refused")},
			store:    loadedStore,
			target:   "/api/ontology/export",
			wantCode: http.StatusBadGateway,
			wantErr:  "schema_unavailable",
		},
		{
			name:    "disabled",
			schemas: &stubSchemas{},
			store: func(*testing.T) *ontology.Store {
				return ontology.NewStore(ontology.StoreOptions{}, zap.NewNop())
			},
			target:   "/api/ontology/export",
			wantCode: http.StatusNotFound,
			wantErr:  "ontology_disabled",
		},
		{
			name:    "nothing loaded",
			schemas: &stubSchemas{},
			store: func(*testing.T) *ontology.Store {
				return ontology.NewStore(ontology.StoreOptions{Enabled: true}, zap.NewNop())
			},
			target:   "/api/ontology/export",
			wantCode: http.StatusNotFound,
			wantErr:  "no_ontology",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveExport(t, tt.schemas, tt.store(t), tt.target)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}
