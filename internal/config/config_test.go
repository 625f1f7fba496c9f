package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkforward-lab/internal/metrics"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walkforward.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(FileEnvVar, "")
	t.Setenv("WF_WAREHOUSE_OFFLINE", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "walkforward", cfg.Storage.ClickHouseDatabase)
	assert.True(t, cfg.Storage.Migrate)
	assert.Equal(t, 4, cfg.Runner.SymbolWorkers)
	assert.Equal(t, 10*time.Minute, cfg.Runner.TrainTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Runner.PredictTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Runner.CacheFreshness)
	assert.Equal(t, 10000.0, cfg.Runner.StartingCapital)
	assert.Equal(t, metrics.DenominatorPredicted, cfg.Runner.Policy())
	assert.Equal(t, "walkforward", cfg.Metrics.Namespace)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(FileEnvVar, "")
	t.Setenv("WF_WAREHOUSE_URL", "http://warehouse:9000/rpc")
	t.Setenv("WF_RUNNER_SYMBOL_WORKERS", "8")
	t.Setenv("WF_RUNNER_TRAIN_TIMEOUT", "90s")
	t.Setenv("WF_RUNNER_DENOMINATOR_POLICY", "actual")
	t.Setenv("WF_STORAGE_POSTGRES_DSN", "postgres://wf@localhost/wf")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://warehouse:9000/rpc", cfg.Warehouse.URL)
	assert.Equal(t, 8, cfg.Runner.SymbolWorkers)
	assert.Equal(t, 90*time.Second, cfg.Runner.TrainTimeout)
	assert.Equal(t, metrics.DenominatorActual, cfg.Runner.Policy())
	assert.Equal(t, "postgres://wf@localhost/wf", cfg.Storage.PostgresDSN)
}

func TestLoad_FileOverlaysEnv(t *testing.T) {
	t.Setenv("WF_WAREHOUSE_URL", "http://from-env/rpc")
	t.Setenv("WF_RUNNER_SYMBOL_WORKERS", "8")

	path := writeFile(t, `
warehouse:
  url: http://from-file/rpc
runner:
  train_timeout: 2m
  per_day_predictions: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-file/rpc", cfg.Warehouse.URL)
	assert.Equal(t, 2*time.Minute, cfg.Runner.TrainTimeout)
	assert.True(t, cfg.Runner.PerDayPredictions)
	assert.Equal(t, 8, cfg.Runner.SymbolWorkers, "fields absent from the file keep their env value")
}

func TestLoad_FileFromEnvVar(t *testing.T) {
	path := writeFile(t, "warehouse:\n  offline: true\nserver:\n  addr: \":9090\"\n")
	t.Setenv(FileEnvVar, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Warehouse.Offline)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(FileEnvVar, "")

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown field", func(t *testing.T) {
		path := writeFile(t, "runner:\n  workers: 3\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("WF_RUNNER_SYMBOL_WORKERS", "many")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("warehouse url required", func(t *testing.T) {
		t.Setenv("WF_WAREHOUSE_OFFLINE", "false")
		t.Setenv("WF_WAREHOUSE_URL", "")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestValidate(t *testing.T) {
	t.Setenv(FileEnvVar, "")
	t.Setenv("WF_WAREHOUSE_OFFLINE", "true")
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Runner.SymbolWorkers = 0 }},
		{"negative window", func(c *Config) { c.Runner.TrainingWindowDays = -1 }},
		{"zero train timeout", func(c *Config) { c.Runner.TrainTimeout = 0 }},
		{"zero persist retries", func(c *Config) { c.Runner.PersistRetries = 0 }},
		{"zero freshness", func(c *Config) { c.Runner.CacheFreshness = 0 }},
		{"zero capital", func(c *Config) { c.Runner.StartingCapital = 0 }},
		{"unknown policy", func(c *Config) { c.Runner.DenominatorPolicy = "both" }},
		{"negative rate", func(c *Config) { c.Warehouse.RateLimit = -1 }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
