package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/ephemeral/pkg/ephemeral/config"
	"github.com/tendant/ephemeral/pkg/ephemeral/presets"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "ephemerald",
		Short:         "Ephemeral hub server",
		Long:          "Anonymous, short-lived hubs for sharing text and files with live updates.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				slog.Warn("Failed to load env file", "path", envFile, "err", err)
			}
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of environment variables to load before reading configuration")

	root.AddCommand(serveCommand(), sweepCommand(), configCommand())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and installs the configured logger as the default
func loadConfig() (*config.ServerConfig, *slog.Logger, error) {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Environment == "production" {
		if err := presets.CheckProduction(cfg); err != nil {
			return nil, nil, fmt.Errorf("configuration not fit for production: %w", err)
		}
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
