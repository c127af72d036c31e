// Package aggregate drains the ledger once per cycle, summarizes each
// channel, publishes the master report and resets collection state.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/NathanEdg/SpikeReports/internal/config"
	"github.com/NathanEdg/SpikeReports/internal/domain"
	"github.com/NathanEdg/SpikeReports/internal/ledger"
	"github.com/NathanEdg/SpikeReports/internal/metrics"
)

// ErrRunInProgress is returned when a run is requested while another is in
// flight.
var ErrRunInProgress = errors.New("aggregation already in progress")

// Ledger is the collection state a run drains.
type Ledger interface {
	SnapshotAll() ledger.Snapshot
	ResetThrough(ctx context.Context, cutoffs []domain.ResetCutoff) error
}

// SummaryStore persists completed cycles.
type SummaryStore interface {
	SaveSummary(ctx context.Context, record *domain.SummaryRecord) (int64, error)
}

// Summarizer produces the three digests of a cycle.
type Summarizer interface {
	SummarizeChannel(ctx context.Context, teamLabel string, reports []domain.CollectedReport) (string, error)
	MasterReport(ctx context.Context, summaries []domain.ChannelSummary) (string, error)
	MeetingRecap(ctx context.Context, summaries []domain.ChannelSummary) (string, error)
}

// Publisher posts the cycle's results to chat.
type Publisher interface {
	// PostMasterReport posts the record and returns the message thread ID.
	PostMasterReport(ctx context.Context, channelID string, record *domain.SummaryRecord) (string, error)
	PostMeetingRecap(ctx context.Context, channelID, threadID, recap string) error
}

// Result describes a finished run.
type Result struct {
	// Record is nil when nothing was persisted.
	Record *domain.SummaryRecord
	// Skipped is set when there were no reports to aggregate.
	Skipped bool
	// FailedChannels kept their session and reports for a later run.
	FailedChannels []string
}

// Options configures a Runner.
type Options struct {
	Channels      []config.Channel
	MasterChannel string
	Location      *time.Location
}

// Runner executes aggregation runs. At most one run is active at a time.
type Runner struct {
	ledger     Ledger
	store      SummaryStore
	summarizer Summarizer
	publisher  Publisher
	channels   []config.Channel
	master     string
	loc        *time.Location
	now        func() time.Time
	running    atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(l Ledger, store SummaryStore, s Summarizer, p Publisher, opts Options) *Runner {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		ledger:     l,
		store:      store,
		summarizer: s,
		publisher:  p,
		channels:   opts.Channels,
		master:     opts.MasterChannel,
		loc:        loc,
		now:        time.Now,
	}
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run performs one aggregation cycle. It returns ErrRunInProgress without
// doing anything if another run is active.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	started := r.now()
	res, err := r.run(ctx)
	switch {
	case err != nil:
		metrics.ObserveRun("error", started)
		slog.Error("Aggregation run failed", "error", err)
	case res.Skipped:
		metrics.ObserveRun("skipped", started)
	case len(res.FailedChannels) > 0:
		metrics.ObserveRun("partial", started)
	default:
		metrics.ObserveRun("ok", started)
	}
	return res, err
}

func (r *Runner) run(ctx context.Context) (*Result, error) {
	snap := r.ledger.SnapshotAll()
	slog.Info("Aggregation started", "channels", len(snap.Channels), "reports", snap.TotalReports())

	if snap.Empty() {
		slog.Info("No reports collected, resetting without a summary")
		if err := r.reset(ctx, snap, nil); err != nil {
			return nil, err
		}
		return &Result{Skipped: true}, nil
	}

	configured := make(map[string]struct{}, len(r.channels))
	for _, ch := range r.channels {
		configured[ch.ID] = struct{}{}
	}
	for id, cs := range snap.Channels {
		if _, ok := configured[id]; !ok && len(cs.Reports) > 0 {
			slog.Warn("Discarding reports from unconfigured channel", "channel_id", id, "reports", len(cs.Reports))
		}
	}

	var (
		summaries []domain.ChannelSummary
		failed    []string
	)
	for _, ch := range r.channels {
		cs, ok := snap.Channels[ch.ID]
		if !ok || len(cs.Reports) == 0 {
			continue
		}
		text, err := r.summarizer.SummarizeChannel(ctx, ch.TeamLabel, cs.Reports)
		if err != nil {
			slog.Error("Channel summary failed, keeping its reports",
				"channel_id", ch.ID, "team", ch.TeamLabel, "reports", len(cs.Reports), "error", err)
			failed = append(failed, ch.ID)
			continue
		}
		summaries = append(summaries, domain.ChannelSummary{
			ChannelID:   ch.ID,
			ChannelName: ch.Name,
			TeamLabel:   ch.TeamLabel,
			Summary:     text,
			ReportCount: len(cs.Reports),
		})
	}

	res := &Result{FailedChannels: failed}

	if len(summaries) == 0 {
		if len(failed) == 0 {
			// Only unconfigured channels had reports.
			if err := r.reset(ctx, snap, nil); err != nil {
				return res, err
			}
			res.Skipped = true
			return res, nil
		}
		if err := r.reset(ctx, snap, failed); err != nil {
			return res, err
		}
		return res, fmt.Errorf("every channel summary failed: %v", failed)
	}

	master, err := r.summarizer.MasterReport(ctx, summaries)
	if err != nil {
		return res, fmt.Errorf("master report: %w", err)
	}
	recap, err := r.summarizer.MeetingRecap(ctx, summaries)
	if err != nil {
		slog.Error("Meeting recap failed, posting without it", "error", err)
		recap = ""
	}

	record := domain.NewSummaryRecord(r.cycleDate(snap), master, recap, summaries, r.now())
	id, err := r.store.SaveSummary(ctx, record)
	if err != nil {
		return res, fmt.Errorf("save summary: %w", err)
	}
	record.ID = id
	res.Record = record
	slog.Info("Summary saved", "summary_id", id, "date", record.Date, "total_reports", record.TotalReports)

	threadID, err := r.publisher.PostMasterReport(ctx, r.master, record)
	if err != nil {
		return res, fmt.Errorf("post master report: %w", err)
	}
	if recap != "" {
		if err := r.publisher.PostMeetingRecap(ctx, r.master, threadID, recap); err != nil {
			slog.Error("Posting meeting recap failed", "thread_id", threadID, "error", err)
		}
	}

	if err := r.reset(ctx, snap, failed); err != nil {
		return res, err
	}

	slog.Info("Aggregation finished",
		"summary_id", id, "channels", len(summaries), "failed_channels", len(failed))
	return res, nil
}

// reset clears what the snapshot covered in every channel except the failed
// ones. Reports that arrived after the snapshot survive into the next cycle.
func (r *Runner) reset(ctx context.Context, snap ledger.Snapshot, failed []string) error {
	skip := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		skip[id] = struct{}{}
	}
	ids := make([]string, 0, len(snap.Channels))
	for _, id := range snap.ChannelIDs() {
		if _, ok := skip[id]; !ok {
			ids = append(ids, id)
		}
	}
	return r.ledger.ResetThrough(ctx, snap.Cutoffs(ids))
}

// cycleDate is the day, in the runner's location, the earliest open session
// was opened. A run at midnight therefore files under the day collected.
func (r *Runner) cycleDate(snap ledger.Snapshot) string {
	var earliest time.Time
	for _, cs := range snap.Channels {
		opened := cs.Session.OpenedAt
		if opened.IsZero() {
			continue
		}
		if earliest.IsZero() || opened.Before(earliest) {
			earliest = opened
		}
	}
	if earliest.IsZero() {
		earliest = snap.TakenAt
	}
	if earliest.IsZero() {
		earliest = r.now()
	}
	return earliest.In(r.loc).Format(domain.DateLayout)
}
