package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/NathanEdg/SpikeReports/internal/aggregate"
	"github.com/NathanEdg/SpikeReports/internal/collector"
	"github.com/NathanEdg/SpikeReports/internal/domain"
)

const (
	homeSummaryLimit = maxHomeSummaries

	CommandStartReport   = "/start_report"
	CommandTriggerReport = "/trigger_report"
)

// Collector starts collections and ingests messages.
type Collector interface {
	StartCollection(ctx context.Context) collector.Manifest
	HandleMessage(ctx context.Context, msg collector.Message) (domain.IngestOutcome, error)
}

// Aggregator runs an aggregation cycle.
type Aggregator interface {
	Run(ctx context.Context) (*aggregate.Result, error)
}

// SummaryReader reads summary history for the dashboard.
type SummaryReader interface {
	ListSummaries(ctx context.Context, limit, offset int) ([]domain.SummaryRecord, error)
	CountSummaries(ctx context.Context) (int64, error)
	GetSummary(ctx context.Context, id int64) (*domain.SummaryRecord, error)
}

type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// Bot routes Socket Mode events.
type Bot struct {
	adapter    *Adapter
	collector  Collector
	aggregator Aggregator
	summaries  SummaryReader
	// async runs slow slash command work off the event loop.
	async    func(fn func())
	inflight sync.WaitGroup
}

// NewBot creates a Bot.
func NewBot(adapter *Adapter, c Collector, agg Aggregator, summaries SummaryReader) *Bot {
	b := &Bot{
		adapter:    adapter,
		collector:  c,
		aggregator: agg,
		summaries:  summaries,
	}
	b.async = func(fn func()) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			fn()
		}()
	}
	return b
}

// Wait blocks until slash command work started by the bot has finished.
func (b *Bot) Wait() {
	b.inflight.Wait()
}

// Run connects to Socket Mode and handles events until ctx is done. It
// returns once the event loop has stopped.
func (b *Bot) Run(ctx context.Context, client *socketmode.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.dispatch(ctx, client)
	}()

	err := client.RunContext(ctx)
	cancel()
	<-done
	return err
}

func (b *Bot) dispatch(ctx context.Context, client *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, client, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, ack acker, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.Info("Connecting to Slack Socket Mode")
	case socketmode.EventTypeConnectionError:
		slog.Warn("Socket Mode connection failed, retrying")
	case socketmode.EventTypeConnected:
		slog.Info("Connected to Slack Socket Mode")

	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			ack.Ack(*evt.Request)
		}
		b.HandleEventsAPI(ctx, ev)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		if evt.Request != nil {
			ack.Ack(*evt.Request)
		}
		b.HandleSlashCommand(ctx, cmd)

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			ack.Ack(*evt.Request)
		}
		b.HandleInteraction(ctx, cb)
	}
}

// HandleEventsAPI handles message and app_home_opened callbacks.
func (b *Bot) HandleEventsAPI(ctx context.Context, ev slackevents.EventsAPIEvent) {
	if ev.Type != slackevents.CallbackEvent {
		return
	}
	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		b.handleMessage(ctx, inner)
	case *slackevents.AppHomeOpenedEvent:
		if inner.Tab != "" && inner.Tab != "home" {
			return
		}
		b.publishHome(ctx, inner.User)
	}
}

func collectable(subtype string) bool {
	switch subtype {
	case "", "thread_broadcast", "file_share":
		return true
	}
	return false
}

func (b *Bot) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if !collectable(ev.SubType) {
		return
	}
	_, _ = b.collector.HandleMessage(ctx, collector.Message{
		ChannelID: ev.Channel,
		ThreadID:  ev.ThreadTimeStamp,
		MessageID: ev.TimeStamp,
		UserID:    ev.User,
		BotID:     ev.BotID,
		Text:      ev.Text,
	})
}

func (b *Bot) publishHome(ctx context.Context, userID string) {
	summaries, err := b.summaries.ListSummaries(ctx, homeSummaryLimit, 0)
	if err != nil {
		slog.Error("Loading summaries for App Home failed", "user_id", userID, "error", err)
		return
	}
	total, err := b.summaries.CountSummaries(ctx)
	if err != nil {
		slog.Error("Counting summaries for App Home failed", "user_id", userID, "error", err)
		return
	}
	if err := b.adapter.PublishHome(ctx, userID, summaries, total); err != nil {
		slog.Error("Publishing App Home failed", "user_id", userID, "error", err)
		return
	}
	slog.Info("App Home opened", "user_id", userID, "summaries", len(summaries))
}

// HandleSlashCommand runs /start_report and /trigger_report. Results are
// reported to the invoking user as an ephemeral message.
func (b *Bot) HandleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	slog.Info("Slash command received", "command", cmd.Command, "user_id", cmd.UserID, "channel_id", cmd.ChannelID)

	switch cmd.Command {
	case CommandStartReport:
		b.async(func() {
			manifest := b.collector.StartCollection(ctx)
			b.adapter.Notify(ctx, cmd.ChannelID, cmd.UserID, startNotice(manifest))
		})
	case CommandTriggerReport:
		b.async(func() {
			res, err := b.aggregator.Run(ctx)
			b.adapter.Notify(ctx, cmd.ChannelID, cmd.UserID, triggerNotice(res, err))
		})
	default:
		b.adapter.Notify(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("Unknown command %s", cmd.Command))
	}
}

func startNotice(m collector.Manifest) string {
	msg := fmt.Sprintf("✅ Daily report collection started in %d channel(s).", len(m.Started))
	if len(m.Failed) == 0 {
		return msg
	}
	ids := make([]string, len(m.Failed))
	for i, f := range m.Failed {
		ids[i] = f.ChannelID
	}
	return msg + fmt.Sprintf("\n❌ Failed in: %s", strings.Join(ids, ", "))
}

func triggerNotice(res *aggregate.Result, err error) string {
	switch {
	case errors.Is(err, aggregate.ErrRunInProgress):
		return "⏳ A report is already being generated."
	case err != nil:
		return fmt.Sprintf("❌ Error generating report: %v", err)
	case res.Skipped:
		return "ℹ️ No reports were collected, nothing to summarize."
	case len(res.FailedChannels) > 0:
		return fmt.Sprintf("✅ Report generated and sent! Summaries failed for: %s (reports kept for the next run)",
			strings.Join(res.FailedChannels, ", "))
	default:
		return "✅ Report generated and sent!"
	}
}

// HandleInteraction opens the detail modal for "View Details" buttons.
func (b *Bot) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if !strings.HasPrefix(action.ActionID, viewActionPrefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(action.Value, viewActionPrefix), 10, 64)
		if err != nil {
			slog.Warn("Malformed summary action", "action_id", action.ActionID, "value", action.Value)
			continue
		}

		rec, err := b.summaries.GetSummary(ctx, id)
		if err != nil {
			slog.Error("Loading summary failed", "summary_id", id, "error", err)
			continue
		}
		if rec == nil {
			slog.Warn("Summary not found", "summary_id", id)
			continue
		}
		if err := b.adapter.OpenSummary(ctx, cb.TriggerID, rec); err != nil {
			slog.Error("Opening summary view failed", "summary_id", id, "error", err)
			continue
		}
		slog.Info("Opened summary detail", "summary_id", id, "user_id", cb.User.ID)
	}
}
