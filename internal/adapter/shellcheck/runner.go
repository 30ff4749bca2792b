// Package shellcheck implements qualitycheck.Runner by running the shell
// commands configured for each phase (build, lint, test).
package shellcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/validation"
	"github.com/Strob0t/phasegate/internal/procpool"
	"github.com/Strob0t/phasegate/internal/resilience"
)

const (
	maxReasonLen = 200
	// waitDelay bounds how long Run waits for grandchildren holding the
	// output pipe after the shell is killed.
	waitDelay = time.Second
)

// Runner runs each phase's commands with sh -c in the workspace directory.
// A command exiting non-zero is a failed check; a command that cannot start
// or is cancelled is an error.
type Runner struct {
	commands    map[phase.ID][]string
	dir         string
	timeout     time.Duration
	pool        *procpool.Pool
	breaker     *resilience.Breaker
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a runner. pool and breaker may be nil.
func New(commands map[phase.ID][]string, dir string, timeout time.Duration, pool *procpool.Pool, breaker *resilience.Breaker) *Runner {
	return &Runner{
		commands:    commands,
		dir:         dir,
		timeout:     timeout,
		pool:        pool,
		breaker:     breaker,
		execCommand: exec.CommandContext,
	}
}

// RunChecks implements qualitycheck.Runner. Every command runs even after
// an earlier one fails so the report lists all failures.
func (r *Runner) RunChecks(ctx context.Context, storyID string, id phase.ID) (validation.CheckReport, error) {
	report := validation.CheckReport{Passed: true}
	for _, line := range r.commands[id] {
		reason, err := r.runOne(ctx, storyID, id, line)
		if err != nil {
			return validation.CheckReport{}, err
		}
		if reason != "" {
			report.Passed = false
			report.Reasons = append(report.Reasons, reason)
		}
	}
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, storyID string, id phase.ID, line string) (string, error) {
	var reason string
	call := func() error {
		return r.pool.Run(ctx, func() error {
			var err error
			reason, err = r.exec(ctx, storyID, id, line)
			return err
		})
	}

	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(call)
	} else {
		err = call()
	}
	if err == nil {
		return reason, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("quality check %q: %w: %w", line, domain.ErrPhaseExecutionAborted, ctx.Err())
	}
	return "", fmt.Errorf("quality check %q: %w", line, err)
}

func (r *Runner) exec(ctx context.Context, storyID string, id phase.ID, line string) (string, error) {
	cmdCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := r.execCommand(cmdCtx, "sh", "-c", line)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), "PHASEGATE_STORY_ID="+storyID, "PHASEGATE_PHASE="+id.String())
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	slog.Debug("quality check finished", "story_id", storyID, "phase", int(id), "command", line,
		"duration_ms", time.Since(start).Milliseconds(), "error", err)

	if cmdCtx.Err() != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrPhaseExecutionAborted, cmdCtx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("%s: exit status %d%s", line, exitErr.ExitCode(), lastLine(out.String())), nil
	}
	return "", err
}

// lastLine returns ": <last non-empty output line>" or "" when there is none.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return ""
	}
	if len(last) > maxReasonLen {
		cut := maxReasonLen
		for cut > 0 && !utf8.RuneStart(last[cut]) {
			cut--
		}
		last = last[:cut] + "..."
	}
	return ": " + last
}
