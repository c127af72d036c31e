package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NathanEdg/SpikeReports/internal/aggregate"
	"github.com/NathanEdg/SpikeReports/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// RegisterRoutes registers the /api routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/summaries", h.ListSummaries)
		r.Get("/summaries/{id}", h.GetSummary)
		r.Delete("/summaries/{id}", h.DeleteSummary)
		r.Get("/summaries/date/{date}", h.GetSummaryByDate)
		r.Get("/sessions", h.ListSessions)
		r.Delete("/sessions", h.ResetSessions)
		r.Post("/aggregate", h.Aggregate)
		r.Post("/collect", h.Collect)
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func summaryID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// ListSummaries returns a page of summaries, newest date first.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	summaries, err := h.summaries.ListSummaries(ctx, limit, offset)
	if err != nil {
		slog.Error("Failed to list summaries", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list summaries")
		return
	}
	total, err := h.summaries.CountSummaries(ctx)
	if err != nil {
		slog.Error("Failed to count summaries", "error", err)
		Error(w, http.StatusInternalServerError, "failed to count summaries")
		return
	}
	if summaries == nil {
		summaries = []domain.SummaryRecord{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"summaries": summaries,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetSummary returns one summary by ID.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := summaryID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid summary id")
		return
	}
	rec, err := h.summaries.GetSummary(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get summary", "summary_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get summary")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "summary not found")
		return
	}
	JSON(w, http.StatusOK, rec)
}

// GetSummaryByDate returns the latest summary for a YYYY-MM-DD date.
func (h *Handler) GetSummaryByDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	rec, err := h.summaries.GetSummaryByDate(r.Context(), date)
	if err != nil {
		slog.Error("Failed to get summary by date", "date", date, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get summary")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "summary not found")
		return
	}
	JSON(w, http.StatusOK, rec)
}

// DeleteSummary removes a summary.
func (h *Handler) DeleteSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := summaryID(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid summary id")
		return
	}
	deleted, err := h.summaries.DeleteSummary(r.Context(), id)
	if err != nil {
		slog.Error("Failed to delete summary", "summary_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete summary")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "summary not found")
		return
	}
	slog.Info("Summary deleted", "summary_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type sessionView struct {
	ChannelID string    `json:"channel_id"`
	ThreadID  string    `json:"thread_id"`
	OpenedAt  time.Time `json:"opened_at"`
	Reports   int       `json:"reports"`
}

// ListSessions returns the open collection sessions with report counts.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Sessions()
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{
			ChannelID: s.ChannelID,
			ThreadID:  s.ThreadID,
			OpenedAt:  s.OpenedAt,
			Reports:   len(h.sessions.Reports(s.ChannelID)),
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// ResetSessions discards every open session and its uncollected reports.
func (h *Handler) ResetSessions(w http.ResponseWriter, r *http.Request) {
	if h.aggregator.Running() {
		Error(w, http.StatusConflict, "aggregation_in_progress")
		return
	}
	if err := h.sessions.ResetAll(r.Context()); err != nil {
		slog.Error("Failed to reset sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset sessions")
		return
	}
	slog.Warn("Collection sessions reset by administrator")
	w.WriteHeader(http.StatusNoContent)
}

// Aggregate runs an aggregation cycle and reports its outcome. The run is
// not cancelled if the client disconnects.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	res, err := h.aggregator.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, aggregate.ErrRunInProgress) {
		Error(w, http.StatusConflict, "aggregation_in_progress")
		return
	}

	body := map[string]interface{}{}
	if res != nil {
		body["skipped"] = res.Skipped
		body["failed_channels"] = res.FailedChannels
		if res.Record != nil {
			body["summary"] = res.Record
		}
	}
	if err != nil {
		body["error"] = err.Error()
		JSON(w, http.StatusInternalServerError, body)
		return
	}
	JSON(w, http.StatusOK, body)
}

// Collect starts a collection cycle in every configured channel.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	manifest := h.collector.StartCollection(context.WithoutCancel(r.Context()))
	status := http.StatusOK
	if len(manifest.Started) == 0 && len(manifest.Failed) > 0 {
		status = http.StatusBadGateway
	}
	JSON(w, status, manifest)
}
