// Command phasegate drives user stories through the seven-phase
// implementation pipeline, either as a one-shot CLI or as an HTTP, WebSocket
// and MCP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/phasegate/internal/config"
)

var version = "dev"

// Global flags. Only flags set explicitly override the config file and env.
var (
	jsonOutput   bool
	configPath   string
	logLevel     string
	storeBackend string
	storeDir     string
	dsn          string
	natsURL      string
	plansDir     string
	workspace    string
)

var rootCmd = &cobra.Command{
	Use:   "phasegate",
	Short: "Gate user stories through a seven-phase implementation pipeline",
	Long: `phasegate tracks each user story through UI, API client, wiring,
repository, service, controller and integration phases. A phase runs only
when its prerequisites are committed, and its output is committed only when
it passes the validation gate.

Examples:
  phasegate ready US-001                       # Phases that can run now
  phasegate validate US-001 2 -f out.json      # Check a candidate output
  phasegate commit US-001 2 -f out.json        # Validate and record it
  phasegate progress US-001                    # Status and next action
  phasegate serve                              # HTTP, WebSocket and MCP server`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "Output JSON even on a terminal")
	pf.StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default "+config.DefaultConfigFile+")")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&storeBackend, "store", "", "Context store backend: file, memory, postgres, nats")
	pf.StringVar(&storeDir, "store-dir", "", "Directory of the file store")
	pf.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	pf.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	pf.StringVar(&plansDir, "plans-dir", "", "Directory holding per-story plan documents")
	pf.StringVar(&workspace, "workspace", "", "Root that deliverable paths resolve against")

	rootCmd.AddCommand(serveCmd, migrateCmd, phasesCmd)
	rootCmd.AddCommand(canRunCmd, readyCmd, validateCmd, commitCmd, runCmd, progressCmd, mergeCmd, showCmd)
}

// exitError carries a process exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) (int, bool) {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code, ee.err != nil
	}
	return 1, true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		code, report := exitCode(err)
		if report {
			fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		}
		os.Exit(code)
	}
}

// loadConfig applies the global flags the user actually set on top of
// defaults, the config file, and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	var o config.Overrides
	set := func(name string, v *string, dst **string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("config", &configPath, &o.ConfigPath)
	set("log-level", &logLevel, &o.LogLevel)
	set("store", &storeBackend, &o.StoreBackend)
	set("store-dir", &storeDir, &o.StoreDir)
	set("dsn", &dsn, &o.DSN)
	set("nats-url", &natsURL, &o.NatsURL)
	set("plans-dir", &plansDir, &o.PlansDir)
	set("workspace", &workspace, &o.Workspace)
	if cmd.Flags().Lookup("port") != nil {
		set("port", &servePort, &o.Port)
	}

	cfg, path, err := config.LoadWithOverrides(o)
	if err != nil {
		return nil, path, fmt.Errorf("config: %w", err)
	}
	return cfg, path, nil
}
