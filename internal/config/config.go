// Package config handles loading and validating msaidizi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for msaidizi.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.msaidizi/data. Override: MSAIDIZI_DATA_DIR env var.
	Provider      ProviderConfig       `json:"provider" yaml:"provider"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from data dir)
	Provisioning  ProvisioningConfig   `json:"provisioning" yaml:"provisioning"`
	Server        ServerConfig         `json:"server" yaml:"server"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = reconciliation sweep disabled
}

// ProviderConfig configures the Gradient AI platform client.
type ProviderConfig struct {
	Token              string `json:"token,omitempty" yaml:"token,omitempty"` // DigitalOcean API token. Override: DIGITALOCEAN_TOKEN env var.
	BaseURL            string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Region             string `json:"region,omitempty" yaml:"region,omitempty"` // Default: "tor1".
	ModelUUID          string `json:"model_uuid,omitempty" yaml:"model_uuid,omitempty"`
	ProjectID          string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	EmbeddingModelUUID string `json:"embedding_model_uuid,omitempty" yaml:"embedding_model_uuid,omitempty"`
	MaxTries           int    `json:"max_tries,omitempty" yaml:"max_tries,omitempty"` // Transport retries for read calls. Default: 3.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ProvisioningConfig tunes the orchestrator's deployment polling.
type ProvisioningConfig struct {
	PollIntervalSeconds    int `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`       // Default: 5
	WaitCeilingSeconds     int `json:"wait_ceiling_seconds" yaml:"wait_ceiling_seconds"`         // Synchronous wait budget. Default: 30
	ReconcileBudgetSeconds int `json:"reconcile_budget_seconds" yaml:"reconcile_budget_seconds"` // Background reconciler budget. Default: 180
}

// PollInterval returns the deployment poll interval.
func (p ProvisioningConfig) PollInterval() time.Duration {
	if p.PollIntervalSeconds > 0 {
		return time.Duration(p.PollIntervalSeconds) * time.Second
	}
	return 5 * time.Second
}

// WaitCeiling returns the synchronous deployment wait budget.
func (p ProvisioningConfig) WaitCeiling() time.Duration {
	if p.WaitCeilingSeconds > 0 {
		return time.Duration(p.WaitCeilingSeconds) * time.Second
	}
	return 30 * time.Second
}

// ReconcileBudget returns the background reconciliation budget.
func (p ProvisioningConfig) ReconcileBudget() time.Duration {
	if p.ReconcileBudgetSeconds > 0 {
		return time.Duration(p.ReconcileBudgetSeconds) * time.Second
	}
	return 180 * time.Second
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr       string            `json:"addr,omitempty" yaml:"addr,omitempty"`             // Default: ":8080".
	AuthToken  string            `json:"auth_token,omitempty" yaml:"auth_token,omitempty"` // Bearer token for the API. Override: MSAIDIZI_AUTH_TOKEN env var. Empty = auth disabled unless api_keys is set.
	APIKeys    map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`     // API key → client ID mapping. Supplement: MSAIDIZI_API_KEYS="key:client,key2:client2".
	EnableDocs bool              `json:"enable_docs" yaml:"enable_docs"`                   // Serve OpenAPI docs.
}

// APIKeyMapping merges the auth token and the key map into the
// key → client ID mapping the gateway consumes. Empty = auth disabled.
func (s ServerConfig) APIKeyMapping() map[string]string {
	keys := make(map[string]string, len(s.APIKeys)+1)
	for k, v := range s.APIKeys {
		keys[k] = v
	}
	if s.AuthToken != "" {
		keys[s.AuthToken] = "default"
	}
	return keys
}

// ListenAddr returns the server listen address.
func (s ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// SchedulerConfig configures the periodic reconciliation sweep that
// picks up agents stranded mid-deployment (crash, restart, timeout).
type SchedulerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Spec    string `json:"spec,omitempty" yaml:"spec,omitempty"` // Cron spec. Default: "@every 2m".
}

// SweepSpec returns the cron spec for the reconciliation sweep.
func (s *SchedulerConfig) SweepSpec() string {
	if s != nil && s.Spec != "" {
		return s.Spec
	}
	return "@every 2m"
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "msaidizi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB       bool `json:"include_db" yaml:"include_db"`
	IncludeProvider bool `json:"include_provider" yaml:"include_provider"` // Probe the provider platform credentials.
}

// DefaultConfigPath returns the default config file path (~/.msaidizi/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/msaidizi.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".msaidizi", "config.json")
}

// Default returns a runnable zero-file configuration: SQLite storage
// under the data dir, metrics enabled, everything else defaulted.
func Default() *Config {
	cfg := &Config{
		Observability: &ObservabilityConfig{
			Metrics: &MetricsConfig{Enabled: true},
			Health:  &HealthConfig{IncludeDB: true, IncludeProvider: true},
		},
		Scheduler: &SchedulerConfig{Enabled: true},
	}
	applyEnv(cfg)
	resolveDefaults(cfg)
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Secrets can be set in the config file or overridden by environment
// variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnv(&cfg)
	resolveDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnv overlays environment variables — env vars take precedence
// over config file values.
func applyEnv(cfg *Config) {
	if envKey := os.Getenv("DIGITALOCEAN_TOKEN"); envKey != "" {
		cfg.Provider.Token = envKey
	}
	if envKey := os.Getenv("GRADIENT_PROJECT_ID"); envKey != "" {
		cfg.Provider.ProjectID = envKey
	}
	if envKey := os.Getenv("GRADIENT_REGION"); envKey != "" {
		cfg.Provider.Region = envKey
	}
	if envDD := os.Getenv("MSAIDIZI_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envKey := os.Getenv("MSAIDIZI_AUTH_TOKEN"); envKey != "" {
		cfg.Server.AuthToken = envKey
	}
	if envKeys := os.Getenv("MSAIDIZI_API_KEYS"); envKeys != "" {
		if cfg.Server.APIKeys == nil {
			cfg.Server.APIKeys = make(map[string]string)
		}
		for _, entry := range strings.Split(envKeys, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
			if len(parts) == 2 {
				cfg.Server.APIKeys[parts[0]] = parts[1]
			}
		}
	}
	if envDSN := os.Getenv("MSAIDIZI_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Driver = "postgres"
		cfg.Storage.Postgres.DSN = envDSN
	}
}

func resolveDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".msaidizi", "data")
		}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".msaidizi", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "msaidizi.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	switch c.StorageDriverName() {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q is not supported (want sqlite or postgres)", c.Storage.Driver)
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	}
	if c.Provisioning.PollIntervalSeconds < 0 {
		return fmt.Errorf("provisioning.poll_interval_seconds must not be negative")
	}
	if c.Provisioning.WaitCeilingSeconds < 0 {
		return fmt.Errorf("provisioning.wait_ceiling_seconds must not be negative")
	}
	if c.Provisioning.ReconcileBudgetSeconds < 0 {
		return fmt.Errorf("provisioning.reconcile_budget_seconds must not be negative")
	}
	if ob := c.Observability; ob != nil && ob.Tracing != nil && ob.Tracing.Enabled {
		if ob.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch ob.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (want grpc or http)", ob.Tracing.Protocol)
		}
		if ob.Tracing.SampleRate < 0 || ob.Tracing.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}
