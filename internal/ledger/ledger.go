// Package ledger tracks which channel threads are collecting reports and the
// reports collected so far. It keeps an in-memory mirror of the store and
// writes through to it on every mutation.
//
// All operations are serialized by a single mutex. Throughput is bounded by
// one store round-trip per mutation, which is far above the dozens of
// messages per day the bot handles.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/NathanEdg/SpikeReports/internal/domain"
	"github.com/NathanEdg/SpikeReports/internal/metrics"
)

// ErrNotReady is returned by Ingest before Rehydrate has completed.
var ErrNotReady = errors.New("ledger not rehydrated")

// Store is the persistence the ledger writes through to.
type Store interface {
	UpsertSession(ctx context.Context, session domain.CollectionSession) error
	ListSessions(ctx context.Context) ([]domain.CollectionSession, error)
	AppendReport(ctx context.Context, report *domain.CollectedReport) error
	ListAllReports(ctx context.Context) (map[string][]domain.CollectedReport, error)
	ResetAll(ctx context.Context) error
	ResetThrough(ctx context.Context, cutoffs []domain.ResetCutoff) error
}

// Submission is an inbound message addressed to a collection thread.
type Submission struct {
	ChannelID   string
	ThreadID    string
	UserID      string
	DisplayName string
	Body        string
}

// ChannelSnapshot is a copy of one channel's session and reports.
type ChannelSnapshot struct {
	Session domain.CollectionSession
	Reports []domain.CollectedReport
}

// Snapshot is a point-in-time copy of every open session.
type Snapshot struct {
	TakenAt  time.Time
	Channels map[string]ChannelSnapshot
}

// Empty reports whether no channel has collected any report.
func (s Snapshot) Empty() bool {
	return s.TotalReports() == 0
}

// TotalReports returns the number of reports across all channels.
func (s Snapshot) TotalReports() int {
	total := 0
	for _, ch := range s.Channels {
		total += len(ch.Reports)
	}
	return total
}

// ChannelIDs returns the snapshot's channels in sorted order.
func (s Snapshot) ChannelIDs() []string {
	ids := make([]string, 0, len(s.Channels))
	for id := range s.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cutoffs returns the reset bounds of the given channels as of this
// snapshot. Channels the snapshot does not hold are skipped.
func (s Snapshot) Cutoffs(channelIDs []string) []domain.ResetCutoff {
	out := make([]domain.ResetCutoff, 0, len(channelIDs))
	for _, id := range channelIDs {
		ch, ok := s.Channels[id]
		if !ok {
			continue
		}
		c := domain.ResetCutoff{ChannelID: id, ThreadID: ch.Session.ThreadID}
		for _, r := range ch.Reports {
			if r.ID > c.LastReportID {
				c.LastReportID = r.ID
			}
		}
		out = append(out, c)
	}
	return out
}

// Ledger is the write-through cache of collection state.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	sessions map[string]domain.CollectionSession
	reports  map[string][]domain.CollectedReport
	ready    bool
	now      func() time.Time
}

// New creates a ledger backed by store. Call Rehydrate before Ingest.
func New(store Store) *Ledger {
	return &Ledger{
		store:    store,
		sessions: make(map[string]domain.CollectionSession),
		reports:  make(map[string][]domain.CollectedReport),
		now:      time.Now,
	}
}

// Rehydrate replaces the in-memory mirror with the store's current state and
// enables ingestion.
func (l *Ledger) Rehydrate(ctx context.Context) error {
	sessions, err := l.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	reports, err := l.store.ListAllReports(ctx)
	if err != nil {
		return fmt.Errorf("load reports: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions = make(map[string]domain.CollectionSession, len(sessions))
	for _, s := range sessions {
		l.sessions[s.ChannelID] = s
	}
	l.reports = make(map[string][]domain.CollectedReport, len(reports))
	for channelID, rs := range reports {
		l.reports[channelID] = append([]domain.CollectedReport(nil), rs...)
	}
	l.ready = true
	l.observe()

	slog.Info("Ledger rehydrated", "sessions", len(l.sessions), "report_channels", len(l.reports))
	return nil
}

// OpenSession records that channelID collects reports in threadID. A later
// call for the same channel replaces the thread; reports already collected
// for the channel are kept.
func (l *Ledger) OpenSession(ctx context.Context, channelID, threadID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.sessions[channelID]
	if ok && existing.ThreadID == threadID {
		return nil
	}

	session := domain.CollectionSession{
		ChannelID: channelID,
		ThreadID:  threadID,
		OpenedAt:  l.now(),
	}
	if err := l.store.UpsertSession(ctx, session); err != nil {
		return fmt.Errorf("open session for %s: %w", channelID, err)
	}
	l.sessions[channelID] = session
	l.observe()

	if ok {
		slog.Warn("Replaced open collection session",
			"channel_id", channelID,
			"previous_thread_id", existing.ThreadID,
			"thread_id", threadID,
			"carried_reports", len(l.reports[channelID]))
	} else {
		slog.Info("Opened collection session", "channel_id", channelID, "thread_id", threadID)
	}
	return nil
}

// ThreadFor returns the open thread for a channel.
func (l *Ledger) ThreadFor(channelID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[channelID]
	return s.ThreadID, ok
}

// Ingest stores sub as a report if it replies to the channel's open thread.
// Messages that do not match are ignored with a non-accepted outcome and no
// error.
func (l *Ledger) Ingest(ctx context.Context, sub Submission) (domain.IngestOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ready {
		return "", ErrNotReady
	}

	session, ok := l.sessions[sub.ChannelID]
	if !ok {
		return domain.IngestNoSession, nil
	}
	if session.ThreadID != sub.ThreadID {
		return domain.IngestThreadMismatch, nil
	}

	report := domain.CollectedReport{
		ChannelID:   sub.ChannelID,
		UserID:      sub.UserID,
		DisplayName: sub.DisplayName,
		Body:        sub.Body,
		SubmittedAt: l.now(),
	}
	if err := l.store.AppendReport(ctx, &report); err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	l.reports[sub.ChannelID] = append(l.reports[sub.ChannelID], report)
	l.observe()

	return domain.IngestAccepted, nil
}

// Reports returns a copy of a channel's reports in submission order.
func (l *Ledger) Reports(channelID string) []domain.CollectedReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.CollectedReport(nil), l.reports[channelID]...)
}

// Sessions returns a copy of every open session.
func (l *Ledger) Sessions() []domain.CollectionSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.CollectionSession, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	return out
}

// SnapshotAll copies every open session with its reports. The copy does not
// alias ledger state.
func (l *Ledger) SnapshotAll() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		TakenAt:  l.now(),
		Channels: make(map[string]ChannelSnapshot, len(l.sessions)),
	}
	for channelID, session := range l.sessions {
		snap.Channels[channelID] = ChannelSnapshot{
			Session: session,
			Reports: append([]domain.CollectedReport(nil), l.reports[channelID]...),
		}
	}
	return snap
}

// ResetAll clears every session and report. Memory is cleared only after the
// store has committed.
func (l *Ledger) ResetAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.ResetAll(ctx); err != nil {
		return fmt.Errorf("reset all: %w", err)
	}
	l.sessions = make(map[string]domain.CollectionSession)
	l.reports = make(map[string][]domain.CollectedReport)
	l.observe()

	slog.Info("Ledger reset")
	return nil
}

// ResetThrough clears what a snapshot covered. Each channel loses its
// reports up to the cutoff, and its session once no later report remains and
// the session has not been replaced. Reports ingested after the snapshot stay
// for the next cycle.
func (l *Ledger) ResetThrough(ctx context.Context, cutoffs []domain.ResetCutoff) error {
	if len(cutoffs) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.ResetThrough(ctx, cutoffs); err != nil {
		return fmt.Errorf("reset channels: %w", err)
	}

	carried := 0
	for _, c := range cutoffs {
		var remaining []domain.CollectedReport
		for _, r := range l.reports[c.ChannelID] {
			if r.ID > c.LastReportID {
				remaining = append(remaining, r)
			}
		}
		if len(remaining) > 0 {
			l.reports[c.ChannelID] = remaining
			carried += len(remaining)
			continue
		}
		delete(l.reports, c.ChannelID)
		if s, ok := l.sessions[c.ChannelID]; ok && s.ThreadID == c.ThreadID {
			delete(l.sessions, c.ChannelID)
		}
	}
	l.observe()

	slog.Info("Ledger channels reset", "channels", len(cutoffs), "carried_reports", carried)
	return nil
}

// observe publishes gauge values. Callers hold mu.
func (l *Ledger) observe() {
	pending := 0
	for _, rs := range l.reports {
		pending += len(rs)
	}
	metrics.OpenSessions.Set(float64(len(l.sessions)))
	metrics.PendingReports.Set(float64(pending))
}
