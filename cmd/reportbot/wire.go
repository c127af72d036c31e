package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/NathanEdg/SpikeReports/internal/aggregate"
	"github.com/NathanEdg/SpikeReports/internal/collector"
	"github.com/NathanEdg/SpikeReports/internal/config"
	"github.com/NathanEdg/SpikeReports/internal/ledger"
	"github.com/NathanEdg/SpikeReports/internal/slackbot"
	"github.com/NathanEdg/SpikeReports/internal/store"
	"github.com/NathanEdg/SpikeReports/internal/summarizer"
)

type app struct {
	cfg       *config.Config
	channels  *config.Channels
	repo      *store.SQLiteStore
	ledger    *ledger.Ledger
	slack     *slack.Client
	adapter   *slackbot.Adapter
	collector *collector.Manager
	runner    *aggregate.Runner
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)
	return repo, nil
}

// wireApp builds every component. The ledger is rehydrated before it is
// returned, so ingestion is safe as soon as events start flowing.
func wireApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.ValidateSlack(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateSummarizer(); err != nil {
		return nil, err
	}
	channels, err := config.LoadChannels(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	slog.Info("Channel configuration loaded",
		"path", cfg.ConfigFile, "channels", len(channels.Channels), "master_channel", channels.MasterChannel)

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	l := ledger.New(repo)
	if err := l.Rehydrate(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("rehydrate ledger: %w", err)
	}

	api := slack.New(cfg.Slack.BotToken,
		slack.OptionAppLevelToken(cfg.Slack.AppToken),
		slack.OptionDebug(cfg.Slack.Debug),
	)
	adapter := slackbot.NewAdapter(api, summaryTimeLabel(cfg.Schedule.ReportCron))

	coll := collector.NewManager(l, adapter, channels.Channels)
	if botUserID, err := adapter.Identity(ctx); err != nil {
		slog.Warn("Could not resolve bot identity, relying on bot_id filtering", "error", err)
	} else {
		coll.SetBotUserID(botUserID)
	}

	sum := summarizer.New(summarizer.NewClient(cfg.Summarizer))
	runner := aggregate.NewRunner(l, repo, sum, adapter, aggregate.Options{
		Channels:      channels.Channels,
		MasterChannel: channels.MasterChannel,
		Location:      cfg.Schedule.Location,
	})

	return &app{
		cfg:       cfg,
		channels:  channels,
		repo:      repo,
		ledger:    l,
		slack:     api,
		adapter:   adapter,
		collector: coll,
		runner:    runner,
	}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}

func summaryTimeLabel(cron string) string {
	if cron == "0 0 * * *" || cron == "@daily" || cron == "@midnight" {
		return "midnight"
	}
	return "the end of the day"
}
