// Package collector opens collection threads in the configured channels and
// routes replies in those threads into the ledger.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NathanEdg/SpikeReports/internal/config"
	"github.com/NathanEdg/SpikeReports/internal/domain"
	"github.com/NathanEdg/SpikeReports/internal/ledger"
	"github.com/NathanEdg/SpikeReports/internal/metrics"
)

// Chat is the chat platform as seen by the collector.
type Chat interface {
	// PostCollectionPrompt posts the daily prompt and returns its thread ID.
	PostCollectionPrompt(ctx context.Context, channel config.Channel) (string, error)
	// DisplayName resolves a user's display name, falling back to the ID.
	DisplayName(ctx context.Context, userID string) string
	// AddReceipt marks a message as collected.
	AddReceipt(ctx context.Context, channelID, messageID string) error
}

// Ledger is the collection state the manager writes to.
type Ledger interface {
	OpenSession(ctx context.Context, channelID, threadID string) error
	ThreadFor(channelID string) (string, bool)
	Ingest(ctx context.Context, sub ledger.Submission) (domain.IngestOutcome, error)
}

// Message is an inbound channel message.
type Message struct {
	ChannelID string
	// ThreadID is the parent message ID, empty for top-level messages.
	ThreadID  string
	MessageID string
	UserID    string
	BotID     string
	Text      string
}

// ChannelFailure is a channel whose collection could not be started.
type ChannelFailure struct {
	ChannelID string `json:"channel_id"`
	Error     string `json:"error"`
}

// Manifest lists the outcome of starting a collection.
type Manifest struct {
	Started []string         `json:"started"`
	Failed  []ChannelFailure `json:"failed"`
}

// Manager implements "start today's collection" and message ingestion.
type Manager struct {
	ledger   Ledger
	chat     Chat
	channels []config.Channel

	mu        sync.RWMutex
	botUserID string
}

// NewManager creates a Manager for the configured channels.
func NewManager(l Ledger, chat Chat, channels []config.Channel) *Manager {
	return &Manager{ledger: l, chat: chat, channels: channels}
}

// SetBotUserID records the bot's own user ID so its messages are never
// collected as reports.
func (m *Manager) SetBotUserID(id string) {
	m.mu.Lock()
	m.botUserID = id
	m.mu.Unlock()
}

func (m *Manager) isBot(msg Message) bool {
	if msg.BotID != "" {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.botUserID != "" && msg.UserID == m.botUserID
}

// StartCollection posts a prompt in every configured channel and opens a
// session on each prompt's thread. A failing channel does not stop the rest.
func (m *Manager) StartCollection(ctx context.Context) Manifest {
	var manifest Manifest
	for _, ch := range m.channels {
		if err := m.startChannel(ctx, ch); err != nil {
			slog.Error("Starting collection failed", "channel_id", ch.ID, "team", ch.TeamLabel, "error", err)
			metrics.CollectionPrompts.WithLabelValues("error").Inc()
			manifest.Failed = append(manifest.Failed, ChannelFailure{ChannelID: ch.ID, Error: err.Error()})
			continue
		}
		metrics.CollectionPrompts.WithLabelValues("ok").Inc()
		manifest.Started = append(manifest.Started, ch.ID)
	}

	slog.Info("Collection started", "started", len(manifest.Started), "failed", len(manifest.Failed))
	return manifest
}

func (m *Manager) startChannel(ctx context.Context, ch config.Channel) error {
	threadID, err := m.chat.PostCollectionPrompt(ctx, ch)
	if err != nil {
		return fmt.Errorf("post prompt: %w", err)
	}
	if err := m.ledger.OpenSession(ctx, ch.ID, threadID); err != nil {
		return err
	}
	slog.Info("Posted collection prompt", "channel_id", ch.ID, "channel", ch.Name, "thread_id", threadID)
	return nil
}

// HandleMessage filters an inbound message and ingests it when it replies
// to an open collection thread. Rejections are reported through the outcome,
// not as errors.
func (m *Manager) HandleMessage(ctx context.Context, msg Message) (domain.IngestOutcome, error) {
	outcome, err := m.handle(ctx, msg)
	if err != nil {
		metrics.ReportsIngested.WithLabelValues("error").Inc()
		slog.Error("Ingesting message failed", "channel_id", msg.ChannelID, "thread_id", msg.ThreadID, "user_id", msg.UserID, "error", err)
		return outcome, err
	}
	metrics.ReportsIngested.WithLabelValues(string(outcome)).Inc()
	slog.Debug("Message handled", "channel_id", msg.ChannelID, "thread_id", msg.ThreadID, "outcome", outcome)
	return outcome, nil
}

func (m *Manager) handle(ctx context.Context, msg Message) (domain.IngestOutcome, error) {
	if msg.ThreadID == "" || msg.ThreadID == msg.MessageID {
		return domain.IngestNotThreaded, nil
	}
	if m.isBot(msg) {
		return domain.IngestBotAuthor, nil
	}

	// Cheap check before the user lookup; Ingest checks again under its lock.
	thread, ok := m.ledger.ThreadFor(msg.ChannelID)
	if !ok {
		return domain.IngestNoSession, nil
	}
	if thread != msg.ThreadID {
		return domain.IngestThreadMismatch, nil
	}

	outcome, err := m.ledger.Ingest(ctx, ledger.Submission{
		ChannelID:   msg.ChannelID,
		ThreadID:    msg.ThreadID,
		UserID:      msg.UserID,
		DisplayName: m.chat.DisplayName(ctx, msg.UserID),
		Body:        msg.Text,
	})
	if err != nil || !outcome.Accepted() {
		return outcome, err
	}

	slog.Info("Collected report", "channel_id", msg.ChannelID, "user_id", msg.UserID)
	if err := m.chat.AddReceipt(ctx, msg.ChannelID, msg.MessageID); err != nil {
		slog.Warn("Adding receipt reaction failed", "channel_id", msg.ChannelID, "message_id", msg.MessageID, "error", err)
	}
	return outcome, nil
}
