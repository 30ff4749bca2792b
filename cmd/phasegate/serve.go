package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/phasegate/internal/adapter/http"
	"github.com/Strob0t/phasegate/internal/adapter/mcp"
	"github.com/Strob0t/phasegate/internal/adapter/planfile"
	cfotel "github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/middleware"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the story API over HTTP, WebSocket and MCP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "HTTP listen port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, os.Stdout, true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	ctx := cmd.Context()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"plans_dir", cfg.Plans.Dir,
		"workspace", cfg.Workspace.Root,
		"log_level", cfg.Logging.Level,
	)

	cancelRelay, err := a.stories.Relay(ctx)
	if err != nil {
		return fmt.Errorf("event relay: %w", err)
	}
	defer cancelRelay()

	if a.plans != nil {
		w, err := planfile.Watch(cfg.Plans.Dir, a.plans)
		if err != nil {
			slog.Warn("plan edits will be picked up after the cache expires", "error", err)
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{Addr: cfg.MCP.Addr, Name: "phasegate", Version: version}, mcp.ServerDeps{Stories: a.stories})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mcpSrv.Stop(stopCtx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	if cfg.Server.CORSOrigin != "" {
		r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	}
	if cfg.OTEL.Enabled {
		r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	}
	cfhttp.MountRoutes(r, &cfhttp.Handlers{Stories: a.stories, Version: version}, a.hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Agent runs hold the request open for the whole execution.
		WriteTimeout: cfg.Agent.Timeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// originPatterns turns the CORS origin into the host pattern the WebSocket
// origin check expects.
func originPatterns(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{origin}
}
