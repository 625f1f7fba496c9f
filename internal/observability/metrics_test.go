package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// scrape renders reg in the Prometheus text format.
func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in:\n%s", want, body)
	}
}

func TestMetrics_RecordRunFinished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordRunFinished("completed", 3*time.Second)
	m.RecordRunFinished("failed", time.Second)
	m.RecordRunFinished("completed", time.Second)

	body := scrape(t, reg)
	assertContains(t, body, `test_runs_finished_total{status="completed"} 2`)
	assertContains(t, body, `test_runs_finished_total{status="failed"} 1`)
	assertContains(t, body, `test_runs_duration_seconds_count 3`)
	if strings.Contains(body, "test_health_last_completed_run_timestamp 0\n") {
		t.Error("expected last completed timestamp to be set")
	}
}

func TestMetrics_RecordWarehouseCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordWarehouseCall("model.train", time.Second, nil)
	m.RecordWarehouseCall("model.train", time.Second, errors.New("boom"))

	body := scrape(t, reg)
	assertContains(t, body, `test_warehouse_calls_total{method="model.train",result="ok"} 1`)
	assertContains(t, body, `test_warehouse_calls_total{method="model.train",result="error"} 1`)
}

func TestMetrics_RecordDBQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordDBQuery("checkpoints", "upsert", time.Millisecond, nil)
	m.RecordDBQuery("checkpoints", "upsert", time.Millisecond, errors.New("timeout"))

	body := scrape(t, reg)
	assertContains(t, body, `test_database_query_errors_total{operation="upsert",store="checkpoints"} 1`)
	assertContains(t, body, `test_database_query_duration_seconds_count{operation="upsert",store="checkpoints"} 2`)
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering the same names twice on distinct registries must not panic.
	a := NewMetrics("dup", prometheus.NewRegistry())
	b := NewMetrics("dup", prometheus.NewRegistry())
	a.PredictionsStored.Inc()
	b.PredictionsStored.Add(2)
}
