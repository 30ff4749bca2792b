// Package config provides hierarchical configuration loading for phasegate.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration for phasegate.
type Config struct {
	Server    Server    `yaml:"server"`
	Store     Store     `yaml:"store"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Cache     Cache     `yaml:"cache"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Commit    Commit    `yaml:"commit"`
	Plans     Plans     `yaml:"plans"`
	Workspace Workspace `yaml:"workspace"`
	Quality   Quality   `yaml:"quality"`
	Agent     Agent     `yaml:"agent"`
	MCP       MCP       `yaml:"mcp"`
	OTEL      OTEL      `yaml:"otel"`
}

// Store backends.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreNATS     = "nats"
)

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Store selects where story context documents live.
type Store struct {
	Backend string `yaml:"backend"` // file | memory | postgres | nats
	Dir     string `yaml:"dir"`     // file backend only
}

// Postgres holds PostgreSQL connection configuration. A DSN moves the
// event log to PostgreSQL even when stories live in another backend.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables event
// publishing and the L2 plan cache.
type NATS struct {
	URL           string `yaml:"url"`
	ContextBucket string `yaml:"context_bucket"`
	CacheBucket   string `yaml:"cache_bucket"`
}

// Cache holds the plan cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L1Expire    time.Duration `yaml:"l1_expire"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for the agent and quality
// commands.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Commit controls the retry of commits that lose a concurrent write.
type Commit struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// Plans locates plan documents.
type Plans struct {
	Dir string `yaml:"dir"`
}

// Workspace is the directory deliverable paths are resolved against.
type Workspace struct {
	Root string `yaml:"root"`
}

// Quality configures the build, lint and test commands run by the gate.
// Commands maps a phase number to its commands; Default runs for phases
// without an entry.
type Quality struct {
	Timeout       time.Duration    `yaml:"timeout"`
	MaxConcurrent int              `yaml:"max_concurrent"`
	Default       []string         `yaml:"default"`
	Commands      map[int][]string `yaml:"commands"`
}

// Agent configures the executor used by run.
type Agent struct {
	Executor string        `yaml:"executor"`
	Command  string        `yaml:"command"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MCP configures the agent-facing tool server.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// OTEL configures trace and metric export.
type OTEL struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Store: Store{
			Backend: StoreFile,
			Dir:     ".phasegate/stories",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			ContextBucket: "phasegate_contexts",
			CacheBucket:   "phasegate_cache",
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			L1Expire:    time.Minute,
			L2TTL:       10 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "phasegate",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Commit: Commit{
			MaxAttempts:     3,
			InitialInterval: 50 * time.Millisecond,
		},
		Plans: Plans{
			Dir: "plans",
		},
		Workspace: Workspace{
			Root: ".",
		},
		Quality: Quality{
			Timeout:       5 * time.Minute,
			MaxConcurrent: 2,
		},
		Agent: Agent{
			Executor: "command",
			Timeout:  30 * time.Minute,
		},
		MCP: MCP{
			Addr: ":8081",
		},
		OTEL: OTEL{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1,
		},
	}
}

// QualityCommands returns the commands per phase number, falling back to
// Default for phases 1..count without an explicit entry.
func (q Quality) QualityCommands(count int) map[int][]string {
	out := make(map[int][]string, count)
	for n := 1; n <= count; n++ {
		if cmds, ok := q.Commands[n]; ok {
			out[n] = cmds
		} else if len(q.Default) > 0 {
			out[n] = q.Default
		}
	}
	return out
}
