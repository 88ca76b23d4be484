package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/config"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <graph.hcl>",
		Short: "Run a graph once and print the final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0])
		},
	}

	cmd.Flags().StringP("input", "i", "", "Initial state as inline JSON")
	cmd.Flags().StringP("input-file", "f", "", "Initial state from a JSON or YAML file")
	cmd.Flags().String("thread-id", "", "Thread ID for checkpointing")
	cmd.Flags().String("checkpoint", "", "Checkpoint store URI (memory://, file://, sqlite://, redis://, postgres://)")
	cmd.Flags().String("resume-node", "", "Start at this node with the input as its state")
	cmd.Flags().Bool("stream", false, "Print a JSON line per executed node")
	cmd.Flags().Int("max-iterations", 0, "Override the iteration limit")
	return cmd
}

func (a *app) run(cmd *cobra.Command, path string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	input, err := readInput(cmd)
	if err != nil {
		return err
	}

	checkpointURI, _ := cmd.Flags().GetString("checkpoint")
	maxIter, _ := cmd.Flags().GetInt("max-iterations")
	l, err := a.load(ctx, path, loadOptions{
		checkpoint:    checkpointURI,
		maxIterations: maxIter,
		openStores:    true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	opts := a.runOptions(true)
	if threadID, _ := cmd.Flags().GetString("thread-id"); threadID != "" {
		opts = append(opts, stategraph.WithThreadID(threadID))
	}
	if node, _ := cmd.Flags().GetString("resume-node"); node != "" {
		opts = append(opts, stategraph.WithResumeFrom(node, input))
	}
	opts = append(opts, stategraph.WithInterruptHandler(func(_ stategraph.Context, intr stategraph.Interrupt) {
		a.logger.Info("interrupt", "node", intr.Node, "point", string(intr.Point), "step", intr.Step)
	}))

	out := cmd.OutOrStdout()
	if stream, _ := cmd.Flags().GetBool("stream"); stream {
		enc := json.NewEncoder(out)
		opts = append(opts, stategraph.WithStepCallback(func(snap stategraph.Snapshot) {
			_ = enc.Encode(struct {
				Node  string    `json:"node"`
				Step  int       `json:"step"`
				State state.Map `json:"state"`
			}{snap.Node, snap.Step, snap.State})
		}))
	}

	result, err := l.graph.Invoke(ctx, input, opts...)
	if err != nil {
		return exitError(exitRuntime, "run %s: %v", path, err)
	}
	return writeState(out, result)
}

// readInput reads the initial state from --input or --input-file.
func readInput(cmd *cobra.Command) (state.Map, error) {
	inline, _ := cmd.Flags().GetString("input")
	file, _ := cmd.Flags().GetString("input-file")

	var raw map[string]any
	switch {
	case inline != "" && file != "":
		return nil, exitError(exitInput, "--input and --input-file are mutually exclusive")
	case inline != "":
		cfg, err := config.FromJSON([]byte(inline))
		if err != nil {
			return nil, exitError(exitInput, "parse --input: %v", err)
		}
		raw = cfg.Raw()
	case file != "":
		values, err := config.LoadValues(file)
		if err != nil {
			return nil, exitError(exitInput, "read --input-file: %v", err)
		}
		raw = values
	default:
		return state.Map{}, nil
	}

	st, err := state.FromMap(raw)
	if err != nil {
		return nil, exitError(exitInput, "input: %v", err)
	}
	return st, nil
}

func writeState(w io.Writer, st state.Map) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitRuntime
}
