package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Backends understood by Open in cmd/caseledger.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// FileEnv names the variable holding an optional YAML config path.
const FileEnv = "CASELEDGER_CONFIG"

var (
	ErrUnknownBackend = errors.New("config: unknown backend")
	ErrMissingSetting = errors.New("config: missing setting")
)

// Config holds ledger configuration.
type Config struct {
	Backend     string    `yaml:"backend" env:"CASELEDGER_BACKEND"`
	LedgerPath  string    `yaml:"ledger_path" env:"CASELEDGER_PATH"`
	DatabaseURL string    `yaml:"database_url" env:"CASELEDGER_DATABASE_URL"`
	Redis       Redis     `yaml:"redis" envPrefix:"CASELEDGER_REDIS_"`
	LogLevel    string    `yaml:"log_level" env:"LOG_LEVEL"`
	Telemetry   Telemetry `yaml:"telemetry" envPrefix:"CASELEDGER_OTEL_"`
}

// Redis configures the stream backend.
type Redis struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Stream   string `yaml:"stream" env:"STREAM"`
}

// Telemetry mirrors the fields of observability.Config that operators set.
type Telemetry struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool   `yaml:"insecure" env:"INSECURE"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// Default returns the configuration used when nothing is set: a JSONL
// ledger under data/ and telemetry off.
func Default() *Config {
	return &Config{
		Backend:    BackendFile,
		LedgerPath: "data/cases.jsonl",
		Redis: Redis{
			Addr:   "localhost:6379",
			Stream: "caseledger:events",
		},
		LogLevel: "INFO",
		Telemetry: Telemetry{
			Endpoint:    "localhost:4317",
			ServiceName: "caseledger",
			Environment: "development",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CASELEDGER_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// Validate checks that the selected backend is known and has what it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.LedgerPath == "" {
			return fmt.Errorf("%w: ledger_path for %s backend", ErrMissingSetting, c.Backend)
		}
	case BackendSQLite:
		if c.DatabaseURL == "" && c.LedgerPath == "" {
			return fmt.Errorf("%w: database_url or ledger_path for %s backend", ErrMissingSetting, c.Backend)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url for %s backend", ErrMissingSetting, c.Backend)
		}
	case BackendRedis:
		if c.Redis.Addr == "" || c.Redis.Stream == "" {
			return fmt.Errorf("%w: redis addr and stream for %s backend", ErrMissingSetting, c.Backend)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	return nil
}
