package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"

	"github.com/NathanEdg/SpikeReports/internal/aggregate"
	"github.com/NathanEdg/SpikeReports/internal/api"
	"github.com/NathanEdg/SpikeReports/internal/config"
	"github.com/NathanEdg/SpikeReports/internal/slackbot"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack bot, schedulers and admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting report bot", "http_addr", cfg.HTTPAddr, "timezone", cfg.Schedule.Timezone)

	a, err := wireApp(ctx, cfg)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return err
	}
	defer a.Close()

	var workers sync.WaitGroup
	if err := startSchedulers(ctx, a, &workers); err != nil {
		stop()
		workers.Wait()
		return err
	}

	handler := api.NewHandler(a.repo, a.ledger, a.runner, a.collector)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(handler, cfg.AdminToken),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // POST /api/aggregate waits on the summarizer
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	bot := slackbot.NewBot(a.adapter, a.collector, a.runner, a.repo)
	sm := socketmode.New(a.slack, socketmode.OptionDebug(cfg.Slack.Debug))
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := bot.Run(ctx, sm); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Socket Mode stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		slog.Error("Server forced to shutdown", "error", shutdownErr)
	}

	// The store closes after this returns; let scheduled and slash command
	// runs finish first.
	workers.Wait()
	bot.Wait()

	if shutdownErr != nil {
		return shutdownErr
	}
	slog.Info("Server stopped successfully")
	return nil
}

func startSchedulers(ctx context.Context, a *app, workers *sync.WaitGroup) error {
	loc := a.cfg.Schedule.Location

	report, err := aggregate.NewScheduler("report", a.cfg.Schedule.ReportCron, loc, func(ctx context.Context) {
		if _, err := a.runner.Run(ctx); err != nil {
			slog.Error("Scheduled aggregation failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		report.Start(ctx)
	}()

	if a.cfg.Schedule.CollectionCron == "" {
		return nil
	}
	collect, err := aggregate.NewScheduler("collection", a.cfg.Schedule.CollectionCron, loc, func(ctx context.Context) {
		a.collector.StartCollection(ctx)
	})
	if err != nil {
		return err
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		collect.Start(ctx)
	}()
	return nil
}
