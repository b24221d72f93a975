package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ngenohkevin/homedeck-agent/config"
	"github.com/ngenohkevin/homedeck-agent/internal/logger"
	"github.com/ngenohkevin/homedeck-agent/internal/server"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var envFile, logLevel string

	cmd := &cobra.Command{
		Use:           "homedeck-agent",
		Short:         "Homeserver management agent",
		Long:          "Exposes host telemetry and Docker container management over HTTP for the Homedeck dashboard.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			log := logger.Setup(cfg.LogLevel)
			server.Version = version

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := server.New(cfg, log).Run(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "path to the .env file (default: $ENV_FILE, ./.env, or beside the binary)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
