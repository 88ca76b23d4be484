package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
	"github.com/randalmurphal/stategraph/pkg/stategraph/schedule"
	"github.com/randalmurphal/stategraph/pkg/stategraph/server"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <graph.hcl>",
		Short: "Serve a graph over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			checkpointURI, _ := cmd.Flags().GetString("checkpoint")
			l, err := a.load(ctx, args[0], loadOptions{checkpoint: checkpointURI, openStores: true})
			if err != nil {
				return err
			}
			defer l.Close()

			addr := a.engine.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			timeout, _ := cmd.Flags().GetDuration("run-timeout")

			opts := []server.Option{
				server.WithLogger(a.logger),
				server.WithRunTimeout(timeout),
				server.WithRunOptions(a.runOptions(false)...),
			}
			if a.engine.Metrics {
				opts = append(opts, server.WithPrometheus(observability.NewPrometheusRecorder()))
			}

			if err := server.New(l.graph, opts...).ListenAndServe(ctx, addr); err != nil {
				return exitError(exitRuntime, "serve: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().String("checkpoint", "", "Checkpoint store URI")
	cmd.Flags().Duration("run-timeout", 5*time.Minute, "Bound on each run, 0 for none")
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <graph.hcl>",
		Short: "Run a graph on a cron schedule until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exprs, _ := cmd.Flags().GetStringArray("cron")
			if len(exprs) == 0 {
				return exitError(exitInput, "at least one --cron expression is required")
			}
			input, err := readInput(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			checkpointURI, _ := cmd.Flags().GetString("checkpoint")
			l, err := a.load(ctx, args[0], loadOptions{checkpoint: checkpointURI, openStores: true})
			if err != nil {
				return err
			}
			defer l.Close()

			timeout, _ := cmd.Flags().GetDuration("run-timeout")
			s := schedule.New(l.graph,
				schedule.WithLogger(a.logger),
				schedule.WithRunOptions(a.runOptions(true)...),
				schedule.WithRunTimeout(timeout),
			)
			for _, expr := range exprs {
				if _, err := s.Add(expr, func() state.Map { return input.Clone() }); err != nil {
					return exitError(exitInput, "%v", err)
				}
			}

			s.Start()
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return s.Stop(stopCtx)
		},
	}
	cmd.Flags().StringArray("cron", nil, "Cron expression, repeatable (five fields or @every <duration>)")
	cmd.Flags().StringP("input", "i", "", "Initial state of every run as inline JSON")
	cmd.Flags().StringP("input-file", "f", "", "Initial state of every run from a JSON or YAML file")
	cmd.Flags().String("checkpoint", "", "Checkpoint store URI")
	cmd.Flags().Duration("run-timeout", 0, "Bound on each run, 0 for none")
	return cmd
}
