// Package cli implements the stategraph command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/stategraph/pkg/stategraph/config"
)

// app holds settings shared by every subcommand. It is filled in by the
// root command's PersistentPreRunE.
type app struct {
	engine config.EngineConfig
	values map[string]any
	logger *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{engine: config.DefaultEngineConfig(), logger: slog.Default()}

	root := &cobra.Command{
		Use:           "stategraph",
		Short:         "Compile and run state graphs",
		Long:          "stategraph loads graph definitions written in HCL, validates them, and runs them locally, over HTTP, or on a schedule.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.Bool("verbose", false, "Log every node at info level")
	flags.String("log-format", "text", "Log format: text | json")
	flags.String("log-level", "info", "Log level: debug | info | warn | error")
	flags.String("config", "", "Engine config file (YAML or JSON)")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newDiagramCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newScheduleCmd(a),
	)
	return root
}

// setup loads the config file, then lets explicitly set flags win.
func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if path, _ := flags.GetString("config"); path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return exitError(exitInput, "load config: %v", err)
		}
		ec, err := config.DecodeEngineConfig(cfg)
		if err != nil {
			return exitError(exitInput, "%s: %v", path, err)
		}
		a.engine = ec
		a.values = cfg.Sub("values").Raw()
	}

	if flags.Changed("verbose") {
		a.engine.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("log-format") {
		a.engine.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("log-level") {
		a.engine.LogLevel, _ = flags.GetString("log-level")
	}

	logger, err := newLogger(cmd.ErrOrStderr(), a.engine.LogFormat, a.engine.LogLevel)
	if err != nil {
		return exitError(exitInput, "%v", err)
	}
	a.logger = logger
	return nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format must be text or json, got %q", format)
	}
}
