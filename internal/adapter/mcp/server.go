// Package mcp exposes the story pipeline to AI agents as Model Context
// Protocol tools over streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/progress"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
)

// Stories is the subset of the story service the tools call.
type Stories interface {
	CanRun(ctx context.Context, storyID string, id phase.ID) (phase.Decision, error)
	Ready(ctx context.Context, storyID string) ([]phase.ID, error)
	Validate(ctx context.Context, storyID string, id phase.ID, out story.Output) (validation.Result, error)
	Commit(ctx context.Context, storyID string, id phase.ID, out story.Output) (*story.Document, error)
	Project(ctx context.Context, storyID string) (progress.View, error)
	Get(ctx context.Context, storyID string) (*story.Document, contextstore.Revision, error)
}

// ServerConfig holds the listen address and the identity advertised to
// clients.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// ServerDeps holds the collaborators of the tool handlers.
type ServerDeps struct {
	Stories Stories
}

// Server serves MCP tools over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer creates a server with every tool registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.http = &http.Server{
		Handler:           mcpserver.NewStreamableHTTPServer(s.mcpServer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down. It is a no-op when Start was never called.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
