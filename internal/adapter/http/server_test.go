package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/http"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockModels struct {
	models []domain.Model
	err    error
	gotKey domain.ModelKey
}

func (m *mockModels) Models(_ context.Context, key domain.ModelKey) ([]domain.Model, error) {
	m.gotKey = key
	return m.models, m.err
}

func newTestServer(models *mockModels, readyErrs ...error) *httpadapter.Server {
	checkers := make([]sharedobs.ReadinessChecker, 0, len(readyErrs))
	for _, err := range readyErrs {
		checkers = append(checkers, &mockReadiness{err: err})
	}
	if models == nil {
		models = &mockModels{}
	}
	return httpadapter.NewServer(":0", models, slog.Default(), checkers...)
}

func get(t *testing.T, srv *httpadapter.Server, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthzReturns200(t *testing.T) {
	rec, body := get(t, newTestServer(nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil, nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenAnyCheckerFails(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil, fmt.Errorf("database unreachable")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "database unreachable", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec, _ := get(t, newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestModelsEndpoint(t *testing.T) {
	models := &mockModels{models: []domain.Model{
		{ID: "m2", Scope: "state:TX", ModelType: domain.ModelSeasonalForecast, PestType: "ants", Version: 2, Status: domain.ModelActive},
		{ID: "m1", Scope: "state:TX", ModelType: domain.ModelSeasonalForecast, PestType: "ants", Version: 1, Status: domain.ModelSuperseded},
	}}

	rec, body := get(t, newTestServer(models), "/models?scope=state:tx&model_type=seasonal_forecast&pest_type=ants")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ModelKey{Scope: "state:TX", ModelType: domain.ModelSeasonalForecast, PestType: "ants"}, models.gotKey)
	assert.Equal(t, "state:TX/seasonal_forecast/ants", body["key"])
	list, ok := body["models"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "m2", list[0].(map[string]any)["id"])
}

func TestModelsEndpoint_BadRequest(t *testing.T) {
	tests := []string{
		"/models?model_type=seasonal_forecast",
		"/models?scope=planet:mars&model_type=seasonal_forecast",
		"/models?scope=company:acme&model_type=linear",
	}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			rec, body := get(t, newTestServer(nil), target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestModelsEndpoint_StoreError(t *testing.T) {
	rec, body := get(t, newTestServer(&mockModels{err: errors.New("connection reset")}), "/models?scope=national&model_type=anomaly_detection")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "list models failed", body["error"])
}

func TestModelsEndpoint_EmptyList(t *testing.T) {
	rec, body := get(t, newTestServer(nil), "/models?scope=national&model_type=anomaly_detection")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["models"])
}
