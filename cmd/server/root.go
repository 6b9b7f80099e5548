package main

import (
	"log/slog"
	"os"

	"github.com/ashureev/groupmind/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "groupmind",
		Short:         "Group chat assistant for Telegram and the browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if err := godotenv.Load(); err != nil {
				slog.Info("No .env file found, using environment variables")
			}
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSidecarCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads the environment with load and installs the JSON logger
// at the configured level.
func loadConfig(load func() (*config.Config, error)) (*config.Config, *slog.Logger, error) {
	cfg, err := load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
