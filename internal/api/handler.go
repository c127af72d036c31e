// Package api provides the administrative HTTP API of the report bot.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NathanEdg/SpikeReports/internal/aggregate"
	"github.com/NathanEdg/SpikeReports/internal/collector"
	"github.com/NathanEdg/SpikeReports/internal/domain"
)

// SummaryStore is the summary history the API serves.
type SummaryStore interface {
	ListSummaries(ctx context.Context, limit, offset int) ([]domain.SummaryRecord, error)
	CountSummaries(ctx context.Context) (int64, error)
	GetSummary(ctx context.Context, id int64) (*domain.SummaryRecord, error)
	GetSummaryByDate(ctx context.Context, date string) (*domain.SummaryRecord, error)
	DeleteSummary(ctx context.Context, id int64) (bool, error)
	Ping(ctx context.Context) error
}

// Sessions exposes the collection state held in memory.
type Sessions interface {
	Sessions() []domain.CollectionSession
	Reports(channelID string) []domain.CollectedReport
	ResetAll(ctx context.Context) error
}

// Aggregator runs aggregation cycles.
type Aggregator interface {
	Run(ctx context.Context) (*aggregate.Result, error)
	Running() bool
}

// Collector starts collection cycles.
type Collector interface {
	StartCollection(ctx context.Context) collector.Manifest
}

// Handler serves the API routes.
type Handler struct {
	summaries  SummaryStore
	sessions   Sessions
	aggregator Aggregator
	collector  Collector
	healthWait time.Duration
}

// NewHandler creates a Handler.
func NewHandler(summaries SummaryStore, sessions Sessions, agg Aggregator, c Collector) *Handler {
	return &Handler{
		summaries:  summaries,
		sessions:   sessions,
		aggregator: agg,
		collector:  c,
		healthWait: 5 * time.Second,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthWait)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":        "healthy",
		"checks":        checks,
		"aggregating":   h.aggregator.Running(),
		"open_sessions": len(h.sessions.Sessions()),
	}
	statusCode := http.StatusOK

	if err := h.summaries.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
