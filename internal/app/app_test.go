package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkforward-lab/internal/config"
	"walkforward-lab/internal/warehouse"
	"walkforward-lab/internal/warehouse/stub"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("WF_WAREHOUSE_OFFLINE", "true")
	t.Setenv("WF_METRICS_NAMESPACE", "app_test")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestOpenStores_MemoryWithoutDSN(t *testing.T) {
	stores, err := OpenStores(t.Context(), config.StorageConfig{}, discard())
	require.NoError(t, err)
	defer stores.Close()

	assert.Equal(t, "memory", stores.Backend)
	assert.NotNil(t, stores.Runs)
	assert.NotNil(t, stores.Checkpoints)
	assert.NotNil(t, stores.Predictions)
	assert.NotNil(t, stores.EquityCurve)
	assert.NotNil(t, stores.ModelCache)
}

func TestNewCollaborators(t *testing.T) {
	offline := NewCollaborators(config.WarehouseConfig{Offline: true})
	assert.IsType(t, &stub.Calendar{}, offline.Calendar)
	assert.IsType(t, &stub.Trainer{}, offline.Trainer)
	assert.IsType(t, &stub.Predictor{}, offline.Predictor)

	online := NewCollaborators(config.WarehouseConfig{URL: "http://localhost:9000/rpc"})
	client, ok := online.Calendar.(*warehouse.HTTPClient)
	require.True(t, ok)
	assert.Same(t, client, online.Trainer)
	assert.Same(t, client, online.Predictor)
}

func TestApplication_ServesRunsEndToEnd(t *testing.T) {
	cfg := offlineConfig(t)
	application, err := New(t.Context(), cfg, discard())
	require.NoError(t, err)
	defer application.Close()

	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"symbols":           []string{"AAPL", "MSFT"},
		"test_start":        "2024-01-01",
		"walk_forward_days": 10,
	})
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	application.Controller.Wait(accepted.RunID)

	run, err := application.Controller.Get(t.Context(), accepted.RunID)
	require.NoError(t, err)
	assert.Equal(t, "completed", string(run.Status))
	require.NotNil(t, run.Metrics)
	assert.Equal(t, 20, run.Metrics.TotalPredictions)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	raw, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `app_test_runs_finished_total{status="completed"} 1`)
	assert.True(t, strings.Contains(text, "go_goroutines"), "runtime collectors are registered")

	require.NoError(t, application.Shutdown(t.Context()))
}

func TestApplication_ShutdownRejectsNewRuns(t *testing.T) {
	cfg := offlineConfig(t)
	application, err := NewWithCollaborators(cfg, MemoryStores(), NewCollaborators(cfg.Warehouse), discard())
	require.NoError(t, err)
	defer application.Close()

	require.NoError(t, application.Shutdown(t.Context()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
		strings.NewReader(`{"symbols":["AAPL"],"test_start":"2024-01-01"}`))
	req.Header.Set("Content-Type", "application/json")
	application.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
