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

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

type stubRefresher struct {
	snap      *models.SchemaSnapshot
	err       error
	refreshed string
}

func (s *stubRefresher) Refresh(_ context.Context, name string) (*models.SchemaSnapshot, error) {
	s.refreshed = name
	return s.snap, s.err
}

func serveRefresh(t *testing.T, refresher *stubRefresher, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewSchemaHandler(refresher, "public", zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
	return rec
}

func TestSchemaHandler_Refresh(t *testing.T) {
	refresher := &stubRefresher{snap: &models.SchemaSnapshot{
		Name:    "sales",
		Version: 4,
		Tables:  []models.SchemaTable{{Name: "purchase_order"}, {Name: "vendor"}},
		Views:   []models.SchemaTable{{Name: "open_orders", IsView: true}},
	}}

	rec := serveRefresh(t, refresher, "/api/schema/refresh?schema=sales")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sales", refresher.refreshed)

	var resp struct {
		Success bool            `json:"success"`
		Data    RefreshResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, RefreshResponse{Schema: "sales", Version: 4, Tables: 2, Views: 1}, resp.Data)
}

func TestSchemaHandler_DefaultSchema(t *testing.T) {
	refresher := &stubRefresher{snap: &models.SchemaSnapshot{Name: "public", Version: 1}}

	rec := serveRefresh(t, refresher, "/api/schema/refresh")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public", refresher.refreshed)
}

func TestSchemaHandler_RefreshFailure(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("connection refused")}

	rec := serveRefresh(t, refresher, "/api/schema/refresh")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "refresh_failed", body["error"])
	assert.Equal(t, "connection refused", body["message"])
}
