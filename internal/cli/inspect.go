package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/diagram"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.hcl>",
		Short: "Parse and compile a graph without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.load(cmd.Context(), args[0], loadOptions{})
			if err != nil {
				return err
			}
			defer l.Close()

			g := l.graph
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, %d edges, entry %q, max iterations %d)\n",
				args[0], len(g.Nodes()), len(g.Edges()), g.EntryPoint(), g.MaxIterations())
			return nil
		},
	}
}

func newDiagramCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagram <graph.hcl>",
		Short: "Print the graph as a Mermaid flowchart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.load(cmd.Context(), args[0], loadOptions{})
			if err != nil {
				return err
			}
			defer l.Close()

			dir, _ := cmd.Flags().GetString("direction")
			_, err = fmt.Fprint(cmd.OutOrStdout(), diagram.Mermaid(l.graph, diagram.WithDirection(dir)))
			return err
		},
	}
	cmd.Flags().String("direction", "TD", "Flowchart direction: TD | LR | BT | RL")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "List the checkpoints saved for a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("checkpoint")
			uri = firstNonEmpty(uri, a.engine.Checkpoint)
			if uri == "" {
				return exitError(exitInput, "history needs --checkpoint or a checkpoint in the config file")
			}

			store, err := checkpoint.Open(cmd.Context(), uri)
			if err != nil {
				return exitError(exitRuntime, "open checkpoint store: %v", err)
			}
			defer store.Close()

			history, err := store.History(cmd.Context(), args[0])
			if err != nil {
				return exitError(exitRuntime, "history: %v", err)
			}

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(history)
			}
			if len(history) == 0 {
				fmt.Fprintf(out, "no checkpoints for thread %q\n", args[0])
				return nil
			}
			for _, cp := range history {
				fmt.Fprintf(out, "%d\t%s\t%s\n", cp.Sequence, cp.Timestamp.Format("2006-01-02T15:04:05Z07:00"), cp.Node)
			}
			return nil
		},
	}
	cmd.Flags().String("checkpoint", "", "Checkpoint store URI")
	cmd.Flags().Bool("json", false, "Print checkpoints as JSON, states included")
	return cmd
}
