package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "phasegate.yaml"

// Overrides carries values set explicitly on the command line. Nil fields
// leave the loaded value alone.
type Overrides struct {
	ConfigPath   *string
	Port         *string
	LogLevel     *string
	StoreBackend *string
	StoreDir     *string
	DSN          *string
	NatsURL      *string
	PlansDir     *string
	Workspace    *string
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg, _, err := LoadWithOverrides(Overrides{ConfigPath: &yamlPath})
	return cfg, err
}

// LoadWithOverrides loads defaults < YAML < ENV < CLI and returns the YAML
// path that was consulted. PHASEGATE_CONFIG selects the file unless a CLI
// path is given.
func LoadWithOverrides(o Overrides) (*Config, string, error) {
	path := DefaultConfigFile
	if v := os.Getenv("PHASEGATE_CONFIG"); v != "" {
		path = v
	}
	if o.ConfigPath != nil && *o.ConfigPath != "" {
		path = *o.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyOverrides(&cfg, o)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PHASEGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "PHASEGATE_CORS_ORIGIN")

	setString(&cfg.Store.Backend, "PHASEGATE_STORE")
	setString(&cfg.Store.Dir, "PHASEGATE_STORE_DIR")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PHASEGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PHASEGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PHASEGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PHASEGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PHASEGATE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.ContextBucket, "PHASEGATE_NATS_CONTEXT_BUCKET")
	setString(&cfg.NATS.CacheBucket, "PHASEGATE_NATS_CACHE_BUCKET")

	setInt64(&cfg.Cache.L1MaxSizeMB, "PHASEGATE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1Expire, "PHASEGATE_CACHE_L1_EXPIRE")
	setDuration(&cfg.Cache.L2TTL, "PHASEGATE_CACHE_L2_TTL")

	setString(&cfg.Logging.Level, "PHASEGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PHASEGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PHASEGATE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "PHASEGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PHASEGATE_BREAKER_TIMEOUT")

	setUint(&cfg.Commit.MaxAttempts, "PHASEGATE_COMMIT_MAX_ATTEMPTS")
	setDuration(&cfg.Commit.InitialInterval, "PHASEGATE_COMMIT_INITIAL_INTERVAL")

	setString(&cfg.Plans.Dir, "PHASEGATE_PLANS_DIR")
	setString(&cfg.Workspace.Root, "PHASEGATE_WORKSPACE")

	setDuration(&cfg.Quality.Timeout, "PHASEGATE_QUALITY_TIMEOUT")
	setInt(&cfg.Quality.MaxConcurrent, "PHASEGATE_QUALITY_MAX_CONCURRENT")
	if v := os.Getenv("PHASEGATE_QUALITY_COMMAND"); v != "" {
		cfg.Quality.Default = []string{v}
	}

	setString(&cfg.Agent.Executor, "PHASEGATE_AGENT_EXECUTOR")
	setString(&cfg.Agent.Command, "PHASEGATE_AGENT_COMMAND")
	setDuration(&cfg.Agent.Timeout, "PHASEGATE_AGENT_TIMEOUT")

	setBool(&cfg.MCP.Enabled, "PHASEGATE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "PHASEGATE_MCP_ADDR")

	setBool(&cfg.OTEL.Enabled, "PHASEGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "PHASEGATE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "PHASEGATE_OTEL_SAMPLE_RATE")
}

func applyOverrides(cfg *Config, o Overrides) {
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&cfg.Server.Port, o.Port)
	apply(&cfg.Logging.Level, o.LogLevel)
	apply(&cfg.Store.Backend, o.StoreBackend)
	apply(&cfg.Store.Dir, o.StoreDir)
	apply(&cfg.Postgres.DSN, o.DSN)
	apply(&cfg.NATS.URL, o.NatsURL)
	apply(&cfg.Plans.Dir, o.PlansDir)
	apply(&cfg.Workspace.Root, o.Workspace)
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	backends := []string{StoreFile, StoreMemory, StorePostgres, StoreNATS}
	if !slices.Contains(backends, cfg.Store.Backend) {
		return fmt.Errorf("store.backend must be one of %v", backends)
	}
	if cfg.Store.Backend == StoreFile && cfg.Store.Dir == "" {
		return errors.New("store.dir is required for the file backend")
	}
	if cfg.Store.Backend == StorePostgres {
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	}
	if cfg.Store.Backend == StoreNATS && cfg.NATS.URL == "" {
		return errors.New("nats.url is required for the nats backend")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Commit.MaxAttempts < 1 {
		return errors.New("commit.max_attempts must be >= 1")
	}
	if cfg.Plans.Dir == "" {
		return errors.New("plans.dir is required")
	}
	if cfg.Quality.MaxConcurrent < 1 {
		return errors.New("quality.max_concurrent must be >= 1")
	}
	for n := range cfg.Quality.Commands {
		if n < 1 || n > 7 {
			return fmt.Errorf("quality.commands: unknown phase %d", n)
		}
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint(n)
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
