// Package slackbot connects the report bot to Slack: it posts prompts and
// reports through the Web API and routes Socket Mode events to the collector,
// the aggregation runner and the App Home dashboard.
package slackbot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slack-go/slack"

	"github.com/NathanEdg/SpikeReports/internal/config"
	"github.com/NathanEdg/SpikeReports/internal/domain"
)

const receiptReaction = "white_check_mark"

// API is the subset of the Slack Web API the bot calls.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PublishViewContext(ctx context.Context, userID string, view slack.HomeTabViewRequest, hash string) (*slack.ViewResponse, error)
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// Adapter posts the bot's messages. It satisfies the collector's Chat and
// the aggregation runner's Publisher.
type Adapter struct {
	api         API
	summaryTime string

	mu    sync.Mutex
	names map[string]string
}

// NewAdapter wraps api. summaryTime names when collected reports are
// summarized, e.g. "midnight".
func NewAdapter(api API, summaryTime string) *Adapter {
	if summaryTime == "" {
		summaryTime = "midnight"
	}
	return &Adapter{api: api, summaryTime: summaryTime, names: make(map[string]string)}
}

// Identity returns the bot's own user ID.
func (a *Adapter) Identity(ctx context.Context) (string, error) {
	resp, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("auth test: %w", err)
	}
	slog.Info("Authenticated with Slack", "user_id", resp.UserID, "bot_id", resp.BotID, "team", resp.Team)
	return resp.UserID, nil
}

// PostCollectionPrompt posts the daily prompt and returns its timestamp,
// which is the collection thread ID.
func (a *Adapter) PostCollectionPrompt(ctx context.Context, ch config.Channel) (string, error) {
	_, ts, err := a.api.PostMessageContext(ctx, ch.ID,
		slack.MsgOptionText(fmt.Sprintf("📝 *Daily Report for %s*", ch.TeamLabel), false),
		slack.MsgOptionBlocks(CollectionPromptBlocks(ch.TeamLabel, a.summaryTime)...),
	)
	if err != nil {
		return "", err
	}
	return ts, nil
}

// DisplayName returns the user's real name, then username, then ID. Lookups
// are cached for the life of the process.
func (a *Adapter) DisplayName(ctx context.Context, userID string) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		slog.Warn("Could not fetch user info", "user_id", userID, "error", err)
		return userID
	}
	switch {
	case user.RealName != "":
		name = user.RealName
	case user.Name != "":
		name = user.Name
	default:
		name = userID
	}

	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// AddReceipt reacts to a collected message.
func (a *Adapter) AddReceipt(ctx context.Context, channelID, messageID string) error {
	return a.api.AddReactionContext(ctx, receiptReaction, slack.NewRefToMessage(channelID, messageID))
}

// PostMasterReport posts the cycle report and returns its thread ID.
func (a *Adapter) PostMasterReport(ctx context.Context, channelID string, rec *domain.SummaryRecord) (string, error) {
	_, ts, err := a.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText("📊 Daily Master Report", false),
		slack.MsgOptionBlocks(MasterReportBlocks(rec)...),
	)
	if err != nil {
		return "", err
	}
	slog.Info("Posted master report", "channel_id", channelID, "thread_id", ts, "summary_id", rec.ID)
	return ts, nil
}

// PostMeetingRecap replies to the master report with the recap.
func (a *Adapter) PostMeetingRecap(ctx context.Context, channelID, threadID, recap string) error {
	_, _, err := a.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText("📝 Meeting Summary", false),
		slack.MsgOptionBlocks(RecapBlocks(recap)...),
		slack.MsgOptionTS(threadID),
	)
	if err != nil {
		return err
	}
	slog.Info("Posted meeting recap", "channel_id", channelID, "thread_id", threadID)
	return nil
}

// Notify sends an ephemeral message to a user in a channel.
func (a *Adapter) Notify(ctx context.Context, channelID, userID, text string) {
	if _, err := a.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		slog.Warn("Ephemeral notice failed", "channel_id", channelID, "user_id", userID, "error", err)
	}
}

// PublishHome publishes the App Home dashboard for a user.
func (a *Adapter) PublishHome(ctx context.Context, userID string, summaries []domain.SummaryRecord, total int64) error {
	_, err := a.api.PublishViewContext(ctx, userID, HomeView(summaries, total), "")
	return err
}

// OpenSummary opens the detail modal for a summary.
func (a *Adapter) OpenSummary(ctx context.Context, triggerID string, rec *domain.SummaryRecord) error {
	_, err := a.api.OpenViewContext(ctx, triggerID, SummaryModal(rec))
	return err
}
