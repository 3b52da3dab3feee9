// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/ledgerindex/gateway/log"
)

const (
	// DefaultBatchSize is the number of transactions extended per batch
	// when none is configured.
	DefaultBatchSize = 1000

	// DefaultRequestTimeout bounds a single core API request when no
	// timeout is configured.
	DefaultRequestTimeout = 30 * time.Second

	// maxBatchSize matches the largest page the core API serves.
	maxBatchSize = 10000
)

// Config contains the CLI configuration.
type Config struct {
	Ingest  *IngestConfig  `koanf:"ingest"`
	Status  *StatusConfig  `koanf:"status"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Ingest != nil {
		if err := cfg.Ingest.Validate(); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
	if cfg.Status != nil {
		if err := cfg.Status.Validate(); err != nil {
			return fmt.Errorf("status: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// IngestConfig is the configuration of the ledger extension pipeline.
type IngestConfig struct {
	// Source is the node the committed transactions are read from.
	Source SourceConfig `koanf:"source"`

	// Storage is the database the ledger is extended into.
	Storage *StorageConfig `koanf:"storage"`

	// Cache, if set, keeps node responses and resolved entities on local
	// disk.
	Cache *CacheConfig `koanf:"cache"`

	// From is the (inclusive) first state version to extend. It only
	// matters on an empty database; otherwise extension continues from the
	// stored watermark.
	From int64 `koanf:"from"`

	// To is the (inclusive) last state version to extend. Omitting this
	// parameter means the pipeline follows the ledger tip indefinitely.
	To int64 `koanf:"to"`

	// BatchSize is the maximum number of transactions per batch.
	BatchSize int `koanf:"batch_size"`
}

// Validate validates the ingest configuration.
func (cfg *IngestConfig) Validate() error {
	if err := cfg.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if cfg.Storage == nil {
		return fmt.Errorf("no storage config provided")
	}
	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if cfg.Cache != nil {
		if err := cfg.Cache.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if cfg.From < 1 {
		cfg.From = 1
	}
	if cfg.To != 0 && cfg.From > cfg.To {
		return fmt.Errorf("malformed ingest range from %d to %d", cfg.From, cfg.To)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize < 0 || cfg.BatchSize > maxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d, got %d", maxBatchSize, cfg.BatchSize)
	}
	return nil
}

// SourceConfig describes how to reach a node's core API.
type SourceConfig struct {
	// Endpoint is the core API base URL. It may be empty when a cache is
	// configured, in which case only cached pages are served.
	Endpoint string `koanf:"endpoint"`

	// Network is the logical network name the node serves.
	Network string `koanf:"network"`

	// RequestTimeout bounds a single core API request.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// Validate validates the source configuration.
func (cfg *SourceConfig) Validate() error {
	if cfg.Network == "" {
		return fmt.Errorf("no network name provided")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("negative request timeout %s", cfg.RequestTimeout)
	}
	return nil
}

type CacheConfig struct {
	// CacheDir is the directory where the cache data is stored
	CacheDir string `koanf:"cache_dir"`
}

func (cfg *CacheConfig) Validate() error {
	if cfg.CacheDir == "" {
		return fmt.Errorf("invalid cache filepath")
	}
	return nil
}

// StatusConfig contains the status server configuration.
type StatusConfig struct {
	// Endpoint is the service endpoint from which to serve the API.
	Endpoint string `koanf:"endpoint"`

	// AllowedOrigins lists the origins allowed to call the API from a
	// browser. An empty list allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`

	Storage *StorageConfig `koanf:"storage"`
}

// Validate validates the status server configuration.
func (cfg *StatusConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed status endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Storage == nil {
		return fmt.Errorf("no storage config provided")
	}
	return cfg.Storage.Validate()
}

// StorageBackend is a storage backend.
type StorageBackend uint

const (
	// BackendPostgres is the PostgreSQL storage backend.
	BackendPostgres StorageBackend = iota
)

// String returns the string representation of a StorageBackend.
func (sb *StorageBackend) String() string {
	switch *sb {
	case BackendPostgres:
		return "postgres"
	default:
		panic("config: unsupported storage backend")
	}
}

// Set sets the StorageBackend to the value specified by the provided string.
func (sb *StorageBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "postgres":
		*sb = BackendPostgres
	default:
		return fmt.Errorf("config: invalid storage backend: '%s'", s)
	}

	return nil
}

// Type returns the list of supported StorageBackends.
func (sb *StorageBackend) Type() string {
	return "[postgres]"
}

// StorageConfig contains the storage layer configuration.
type StorageConfig struct {
	// Endpoint is the storage endpoint from which to read/write indexed data.
	Endpoint string `koanf:"endpoint"`

	// Backend is the storage backend to select.
	Backend string `koanf:"backend"`

	// Migrations is the URL of the schema migrations, e.g.
	// file://storage/migrations. The schema compiled into the binary is used
	// when empty.
	Migrations string `koanf:"migrations"`

	// If true, we'll first delete all tables in the DB to
	// force a full re-extension of the ledger.
	WipeStorage bool `koanf:"DANGER__WIPE_STORAGE_ON_STARTUP"`
}

// Validate validates the storage configuration.
func (cfg *StorageConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	var sb StorageBackend
	return sb.Set(cfg.Backend)
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`

	// PprofEndpoint, if set, serves the runtime profiles.
	PprofEndpoint string `koanf:"pprof_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
