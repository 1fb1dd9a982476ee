// SPDX-License-Identifier: Apache-2.0

// Package cli is the command-line entry point: run experiment presets, stream
// a suggested response, call the tools and manage the experiment schema.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/d-gangz/glowing-braintrust/internal/backend"
	"github.com/d-gangz/glowing-braintrust/internal/config"
	"github.com/d-gangz/glowing-braintrust/internal/logging"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type app struct {
	loadConfig func() config.Config
	newBackend func(config.Config, *slog.Logger) (*backend.Backend, error)

	cfg      config.Config
	logger   *slog.Logger
	logLevel string
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		loadConfig: config.Load,
		newBackend: backend.New,
	})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "glowing",
		Short:         "Run Braintrust prompt chains, experiments and tools",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.cfg = a.loadConfig()
			level := a.cfg.LogLevel
			if a.logLevel != "" {
				level = a.logLevel
			}
			a.logger = logging.New(cmd.ErrOrStderr(), a.cfg.Env, level)
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")

	root.AddCommand(
		newVersionCmd(),
		newEvalCmd(a),
		newSuggestCmd(a),
		newToolsCmd(a),
		newMigrateCmd(a),
		newValidateCmd(a),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "glowing %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
