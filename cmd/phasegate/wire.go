package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Strob0t/phasegate/internal/adapter/cmdagent"
	"github.com/Strob0t/phasegate/internal/adapter/filestore"
	"github.com/Strob0t/phasegate/internal/adapter/fsprobe"
	"github.com/Strob0t/phasegate/internal/adapter/memory"
	cfnats "github.com/Strob0t/phasegate/internal/adapter/nats"
	"github.com/Strob0t/phasegate/internal/adapter/natskv"
	cfotel "github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/adapter/planfile"
	"github.com/Strob0t/phasegate/internal/adapter/postgres"
	"github.com/Strob0t/phasegate/internal/adapter/ristretto"
	"github.com/Strob0t/phasegate/internal/adapter/shellcheck"
	"github.com/Strob0t/phasegate/internal/adapter/tiered"
	"github.com/Strob0t/phasegate/internal/adapter/ws"
	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/logger"
	"github.com/Strob0t/phasegate/internal/port/agent"
	"github.com/Strob0t/phasegate/internal/port/cache"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
	"github.com/Strob0t/phasegate/internal/port/eventstore"
	"github.com/Strob0t/phasegate/internal/port/planprovider"
	"github.com/Strob0t/phasegate/internal/procpool"
	"github.com/Strob0t/phasegate/internal/resilience"
	"github.com/Strob0t/phasegate/internal/service"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg     *config.Config
	stories *service.StoryService
	queue   *cfnats.Queue
	hub     *ws.Hub
	plans   *planfile.Cached // nil when plan caching is off
	closers []func()
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp loads config and wires the service. withHub adds the WebSocket hub
// used by the server.
func newApp(cmd *cobra.Command, logOut io.Writer, withHub bool) (*app, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log, closer := logger.New(cfg.Logging, logOut)
	slog.SetDefault(log)

	a := &app{cfg: cfg}
	a.onClose(closer.Close)
	if err := a.wire(cmd.Context(), withHub); err != nil {
		a.Close()
		return nil, err
	}
	slog.Debug("app wired", "config", path, "store", cfg.Store.Backend, "nats", a.queue != nil)
	return a, nil
}

func (a *app) wire(ctx context.Context, withHub bool) error {
	cfg := a.cfg

	shutdown, err := cfotel.Setup(ctx, cfg.OTEL, cfg.Logging.Service, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	a.onClose(func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	})
	var metrics *cfotel.Metrics
	if cfg.OTEL.Enabled {
		if metrics, err = cfotel.NewMetrics(); err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// NATS carries events, the nats store backend, and the shared plan cache.
	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		a.queue = q
		a.onClose(func() { _ = q.Drain() })
	}

	store, events, err := a.stores(ctx)
	if err != nil {
		return err
	}

	plans, err := a.planProvider(ctx)
	if err != nil {
		return err
	}

	pool := procpool.New(cfg.Quality.MaxConcurrent)
	checksBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).WithNeutral(resilience.Cancelled)
	agentBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).WithNeutral(resilience.Cancelled)

	commands := make(map[phase.ID][]string)
	for n, cmds := range cfg.Quality.QualityCommands(phase.Count) {
		commands[phase.ID(n)] = cmds
	}
	checks := shellcheck.New(commands, cfg.Workspace.Root, cfg.Quality.Timeout, pool, checksBreaker)

	cmdagent.Register(pool, agentBreaker)
	var executor agent.Executor
	if cfg.Agent.Command != "" {
		executor, err = agent.New(cfg.Agent.Executor, map[string]string{
			"command": cfg.Agent.Command,
			"dir":     cfg.Workspace.Root,
			"timeout": cfg.Agent.Timeout.String(),
		})
		if err != nil {
			return fmt.Errorf("agent executor: %w", err)
		}
	}

	if withHub {
		a.hub = ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
		a.onClose(a.hub.Close)
	}

	deps := service.StoryDeps{
		Registry:  phase.Default(),
		Store:     store,
		Plans:     plans,
		Artifacts: fsprobe.New(cfg.Workspace.Root),
		Checks:    checks,
		Agent:     executor,
		Events:    events,
		Metrics:   metrics,
		Commit:    cfg.Commit,
	}
	if a.queue != nil {
		deps.Queue = a.queue
	}
	if a.hub != nil {
		deps.Hub = a.hub
	}
	a.stories = service.NewStoryService(deps)
	return nil
}

// stores selects the context store backend. Events go to PostgreSQL when a
// DSN is configured and to an in-process log otherwise.
func (a *app) stores(ctx context.Context) (contextstore.Store, eventstore.Store, error) {
	cfg := a.cfg
	var events eventstore.Store = memory.NewEventLog()

	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		a.onClose(pool.Close)
		events = postgres.NewEventStore(pool)
		if cfg.Store.Backend == config.StorePostgres {
			return postgres.NewStore(pool), events, nil
		}
	}

	switch cfg.Store.Backend {
	case config.StoreMemory:
		return memory.NewStore(), events, nil
	case config.StoreNATS:
		if a.queue == nil {
			return nil, nil, fmt.Errorf("store: nats backend requires nats.url")
		}
		kv, err := a.queue.KeyValue(ctx, cfg.NATS.ContextBucket, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return natskv.NewStore(kv), events, nil
	default:
		s, err := filestore.New(cfg.Store.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return s, events, nil
	}
}

// planProvider reads plan documents from disk through a ristretto L1 cache, tiered
// over a NATS KV L2 when NATS is available.
func (a *app) planProvider(ctx context.Context) (planprovider.Provider, error) {
	cfg := a.cfg
	files := planfile.New(cfg.Plans.Dir)
	if cfg.Cache.L1MaxSizeMB <= 0 {
		return files, nil
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	a.onClose(l1.Close)

	var c cache.Cache = l1
	ttl := cfg.Cache.L1Expire
	if a.queue != nil && cfg.NATS.CacheBucket != "" {
		kv, err := a.queue.KeyValue(ctx, cfg.NATS.CacheBucket, cfg.Cache.L2TTL)
		if err != nil {
			return nil, fmt.Errorf("plan cache: %w", err)
		}
		c = tiered.New(l1, natskv.NewCache(kv, "plans"), cfg.Cache.L1Expire)
		ttl = cfg.Cache.L2TTL
	}
	a.plans = planfile.NewCached(files, c, ttl)
	return a.plans, nil
}
