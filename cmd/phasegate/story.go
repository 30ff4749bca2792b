package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
)

// Exit code for a phase that is blocked or a candidate that failed the
// gate, so scripts can tell a rejection from an operational error.
const exitRejected = 2

var inputFile string

var phasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "List the pipeline phases and their prerequisites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		defs := phase.Default().All()
		if wantJSON() {
			return printJSON(cmd.OutOrStdout(), defs)
		}
		return printPhases(cmd.OutOrStdout(), defs)
	},
}

var canRunCmd = &cobra.Command{
	Use:   "can-run STORY PHASE",
	Short: "Check whether a phase's prerequisites are complete",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePhase(args[1])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.stories.CanRun(cmd.Context(), args[0], id)
		if err != nil {
			return err
		}
		if err := render(cmd, d, func(w io.Writer) error { return printDecision(w, d) }); err != nil {
			return err
		}
		if !d.Runnable {
			return &exitError{code: exitRejected}
		}
		return nil
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready STORY",
	Short: "List the incomplete phases that can run now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.stories.Ready(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if ids == nil {
			ids = []phase.ID{}
		}
		return render(cmd, map[string][]phase.ID{"ready": ids}, func(w io.Writer) error { return printReady(w, ids) })
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate STORY PHASE",
	Short: "Validate a candidate phase output without committing it",
	Long: `Validate reads the candidate output as a JSON object from --file, or
from stdin when --file is omitted or "-". It exits 2 when the candidate
fails the gate.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePhase(args[1])
		if err != nil {
			return err
		}
		out, err := readOutput(cmd.InOrStdin(), inputFile)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.stories.Validate(cmd.Context(), args[0], id, out)
		if err != nil {
			return err
		}
		if err := render(cmd, res, func(w io.Writer) error { return printResult(w, res) }); err != nil {
			return err
		}
		if !res.Passed {
			return &exitError{code: exitRejected}
		}
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit STORY PHASE",
	Short: "Validate a phase output and record it in the story context",
	Long: `Commit reads the output like validate does. Nothing is recorded unless
the phase's prerequisites are complete and the output passes the gate.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePhase(args[1])
		if err != nil {
			return err
		}
		out, err := readOutput(cmd.InOrStdin(), inputFile)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.stories.Commit(cmd.Context(), args[0], id, out)
		if err != nil {
			return rejected(err)
		}
		return render(cmd, doc, func(w io.Writer) error { return printDocument(w, doc) })
	},
}

var runCmd = &cobra.Command{
	Use:   "run STORY PHASE",
	Short: "Execute a phase with the configured agent, then validate and commit",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePhase(args[1])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.stories.Run(cmd.Context(), args[0], id)
		if err != nil {
			return rejected(err)
		}
		return render(cmd, doc, func(w io.Writer) error { return printDocument(w, doc) })
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress STORY",
	Short: "Show per-phase status and the recommended next action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.stories.Project(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, v, func(w io.Writer) error { return printProgress(w, v) })
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge STORY",
	Short: "Merge a parallel track's context document into the stored story",
	Long: `Merge reads the track's document from --file, or stdin. Phases both
sides completed with different outputs are reported as conflicts and nothing
is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		incoming, err := readDocument(cmd.InOrStdin(), inputFile)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.stories.Merge(cmd.Context(), args[0], incoming)
		if err != nil {
			return rejected(err)
		}
		return render(cmd, doc, func(w io.Writer) error { return printDocument(w, doc) })
	},
}

var showCmd = &cobra.Command{
	Use:   "show STORY",
	Short: "Print the story's context document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, _, err := a.stories.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, doc, func(w io.Writer) error { return printDocument(w, doc) })
	},
}

func init() {
	for _, c := range []*cobra.Command{validateCmd, commitCmd, mergeCmd} {
		c.Flags().StringVarP(&inputFile, "file", "f", "", `Read input from this file ("-" for stdin)`)
	}
}

// render writes v as JSON or through the human-readable printer.
func render(cmd *cobra.Command, v any, human func(io.Writer) error) error {
	if wantJSON() {
		return printJSON(cmd.OutOrStdout(), v)
	}
	return human(cmd.OutOrStdout())
}

// rejected maps gate and prerequisite rejections to exitRejected.
func rejected(err error) error {
	switch {
	case errors.Is(err, domain.ErrPrerequisiteViolation),
		errors.Is(err, domain.ErrContextConflict),
		errors.Is(err, domain.ErrValidationFailed):
		return &exitError{code: exitRejected, err: err}
	}
	return err
}

func parsePhase(s string) (phase.ID, error) {
	id, err := phase.ParseID(s)
	if err != nil {
		return 0, fmt.Errorf("phase %q must be an integer", s)
	}
	return id, nil
}

func openInput(stdin io.Reader, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// readOutput decodes a phase output object.
func readOutput(stdin io.Reader, path string) (story.Output, error) {
	r, done, err := openInput(stdin, path)
	if err != nil {
		return nil, err
	}
	defer done()

	var out story.Output
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode output: expected a JSON object: %w", err)
	}
	if out == nil {
		return nil, errors.New("decode output: expected a JSON object, got null")
	}
	return out, nil
}

func readDocument(stdin io.Reader, path string) (*story.Document, error) {
	r, done, err := openInput(stdin, path)
	if err != nil {
		return nil, err
	}
	defer done()

	var doc story.Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}
