// Package config loads service configuration from WF_* environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"walkforward-lab/internal/metrics"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "WF"

// FileEnvVar names the YAML config file when Load is given no path.
const FileEnvVar = "WF_CONFIG_FILE"

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Warehouse WarehouseConfig `yaml:"warehouse" envconfig:"WAREHOUSE"`
	Runner    RunnerConfig    `yaml:"runner" envconfig:"RUNNER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Metrics   MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// StorageConfig selects persistence backends. Empty DSNs use in-memory stores.
type StorageConfig struct {
	PostgresDSN        string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	ClickHouseDSN      string `yaml:"clickhouse_dsn" envconfig:"CLICKHOUSE_DSN"`
	ClickHouseDatabase string `yaml:"clickhouse_database" envconfig:"CLICKHOUSE_DATABASE" default:"walkforward"`
	Migrate            bool   `yaml:"migrate" envconfig:"MIGRATE" default:"true"`
}

// WarehouseConfig configures the JSON-RPC warehouse client.
type WarehouseConfig struct {
	URL        string        `yaml:"url" envconfig:"URL"`
	Offline    bool          `yaml:"offline" envconfig:"OFFLINE" default:"false"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"60s"`
	MaxRetries int           `yaml:"max_retries" envconfig:"MAX_RETRIES" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY" default:"1s"`
	MaxDelay   time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY" default:"10s"`
	RateLimit  float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT" default:"0"`
	RateBurst  int           `yaml:"rate_burst" envconfig:"RATE_BURST" default:"1"`
}

// RunnerConfig tunes run execution.
type RunnerConfig struct {
	SymbolWorkers      int           `yaml:"symbol_workers" envconfig:"SYMBOL_WORKERS" default:"4"`
	CalendarTimeout    time.Duration `yaml:"calendar_timeout" envconfig:"CALENDAR_TIMEOUT" default:"1m"`
	TrainTimeout       time.Duration `yaml:"train_timeout" envconfig:"TRAIN_TIMEOUT" default:"10m"`
	PredictTimeout     time.Duration `yaml:"predict_timeout" envconfig:"PREDICT_TIMEOUT" default:"5m"`
	TrainingWindowDays int           `yaml:"training_window_days" envconfig:"TRAINING_WINDOW_DAYS" default:"0"`
	PerDayPredictions  bool          `yaml:"per_day_predictions" envconfig:"PER_DAY_PREDICTIONS" default:"false"`
	PersistRetries     int           `yaml:"persist_retries" envconfig:"PERSIST_RETRIES" default:"3"`
	PersistRetryDelay  time.Duration `yaml:"persist_retry_delay" envconfig:"PERSIST_RETRY_DELAY" default:"200ms"`
	CacheFreshness     time.Duration `yaml:"cache_freshness" envconfig:"CACHE_FRESHNESS" default:"168h"`
	StartingCapital    float64       `yaml:"starting_capital" envconfig:"STARTING_CAPITAL" default:"10000"`
	DenominatorPolicy  string        `yaml:"denominator_policy" envconfig:"DENOMINATOR_POLICY" default:"predicted"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose" envconfig:"VERBOSE" default:"false"`
}

// MetricsConfig contains Prometheus configuration.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" envconfig:"NAMESPACE" default:"walkforward"`
}

// WebSocketConfig contains status stream configuration.
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" default:"30s"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// Load reads WF_* environment variables (with defaults), then applies the
// YAML file at path on top. An empty path falls back to $WF_CONFIG_FILE;
// no file at all is not an error.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path == "" {
		path = os.Getenv(FileEnvVar)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile overlays the fields present in the YAML file onto cfg.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server addr is required", ErrInvalidConfig)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	if !c.Warehouse.Offline && c.Warehouse.URL == "" {
		return fmt.Errorf("%w: warehouse url is required unless offline", ErrInvalidConfig)
	}
	if c.Warehouse.MaxRetries < 0 {
		return fmt.Errorf("%w: warehouse max retries must be >= 0", ErrInvalidConfig)
	}
	if c.Warehouse.RateLimit < 0 {
		return fmt.Errorf("%w: warehouse rate limit must be >= 0", ErrInvalidConfig)
	}
	if c.Runner.SymbolWorkers < 1 {
		return fmt.Errorf("%w: symbol workers must be >= 1, got %d", ErrInvalidConfig, c.Runner.SymbolWorkers)
	}
	if c.Runner.TrainTimeout <= 0 || c.Runner.PredictTimeout <= 0 || c.Runner.CalendarTimeout <= 0 {
		return fmt.Errorf("%w: call timeouts must be positive", ErrInvalidConfig)
	}
	if c.Runner.TrainingWindowDays < 0 {
		return fmt.Errorf("%w: training window must be >= 0", ErrInvalidConfig)
	}
	if c.Runner.PersistRetries < 1 {
		return fmt.Errorf("%w: persist retries must be >= 1", ErrInvalidConfig)
	}
	if c.Runner.CacheFreshness <= 0 {
		return fmt.Errorf("%w: cache freshness must be positive", ErrInvalidConfig)
	}
	if c.Runner.StartingCapital <= 0 {
		return fmt.Errorf("%w: starting capital must be positive", ErrInvalidConfig)
	}
	if _, err := metrics.ParseDenominatorPolicy(c.Runner.DenominatorPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Policy returns the parsed denominator policy. Validate has already checked it.
func (r RunnerConfig) Policy() metrics.DenominatorPolicy {
	p, _ := metrics.ParseDenominatorPolicy(r.DenominatorPolicy)
	return p
}
