// Package cmdagent implements agent.Executor by running a configured shell
// command. The request is written to the command's stdin as JSON and the
// phase output is read from its stdout as a JSON object.
package cmdagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/agent"
	"github.com/Strob0t/phasegate/internal/procpool"
	"github.com/Strob0t/phasegate/internal/resilience"
)

const executorName = "command"

// Executor runs one process per phase execution.
type Executor struct {
	command     string
	dir         string
	timeout     time.Duration
	pool        *procpool.Pool
	breaker     *resilience.Breaker
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a command executor. pool and breaker may be nil.
func New(command, dir string, timeout time.Duration, pool *procpool.Pool, breaker *resilience.Breaker) (*Executor, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("cmdagent: command is required: %w", domain.ErrValidation)
	}
	return &Executor{
		command:     command,
		dir:         dir,
		timeout:     timeout,
		pool:        pool,
		breaker:     breaker,
		execCommand: exec.CommandContext,
	}, nil
}

// Register registers the "command" executor factory. The factory reads the
// keys command, dir and timeout (a Go duration) from its config map.
func Register(pool *procpool.Pool, breaker *resilience.Breaker) {
	agent.Register(executorName, func(cfg map[string]string) (agent.Executor, error) {
		var timeout time.Duration
		if v := cfg["timeout"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("cmdagent: timeout %q: %w", v, domain.ErrValidation)
			}
			timeout = d
		}
		return New(cfg["command"], cfg["dir"], timeout, pool, breaker)
	})
}

// Name returns "command".
func (e *Executor) Name() string { return executorName }

// Execute runs the command for req.
func (e *Executor) Execute(ctx context.Context, req agent.Request) (story.Output, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cmdagent: marshal request: %w", err)
	}

	var stdout []byte
	call := func() error {
		return e.pool.Run(ctx, func() error {
			var err error
			stdout, err = e.run(ctx, req, input)
			return err
		})
	}
	if e.breaker != nil {
		err = e.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrPhaseExecutionAborted) {
			err = fmt.Errorf("%w: %w", domain.ErrPhaseExecutionAborted, ctx.Err())
		}
		return nil, fmt.Errorf("cmdagent: story %s phase %d: %w", req.StoryID, req.Phase.ID, err)
	}

	var out story.Output
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &out); err != nil {
		return nil, fmt.Errorf("cmdagent: story %s phase %d: output is not a JSON object: %w", req.StoryID, req.Phase.ID, err)
	}
	if out == nil {
		out = story.Output{}
	}
	return out, nil
}

func (e *Executor) run(ctx context.Context, req agent.Request, input []byte) ([]byte, error) {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := e.execCommand(runCtx, "sh", "-c", e.command)
	cmd.Dir = e.dir
	cmd.Env = append(os.Environ(), "PHASEGATE_STORY_ID="+req.StoryID, "PHASEGATE_PHASE="+req.Phase.ID.String())
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Info("agent command finished", "story_id", req.StoryID, "phase", int(req.Phase.ID),
		"duration_ms", time.Since(start).Milliseconds(), "error", err)

	if runCtx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPhaseExecutionAborted, runCtx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}
