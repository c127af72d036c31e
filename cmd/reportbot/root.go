package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/NathanEdg/SpikeReports/internal/config"
)

var logLevel = new(slog.LevelVar)

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "reportbot",
		Short:         "Collects daily team reports in Slack and posts AI summaries",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: logLevel,
			})))

			if err := godotenv.Load(); err != nil {
				slog.Info("No .env file found, using environment variables")
			}

			loaded, err := config.Load()
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}
			logLevel.Set(loaded.LogLevel)
			*cfg = *loaded
			return nil
		},
	}

	cfg = &config.Config{}
	rootCmd.AddCommand(
		newServeCmd(cfg),
		newTriggerCmd(cfg),
		newHistoryCmd(cfg),
	)
	return rootCmd
}
