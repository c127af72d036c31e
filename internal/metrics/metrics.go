// Package metrics registers the bot's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReportsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_messages_total",
			Help: "Inbound channel messages by ingestion outcome.",
		},
		[]string{"outcome"},
	)

	CollectionPrompts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_collection_prompts_total",
			Help: "Collection prompts posted, by result.",
		},
		[]string{"result"},
	)

	AggregationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_aggregation_runs_total",
			Help: "Aggregation runs by result.",
		},
		[]string{"result"},
	)

	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportbot_aggregation_duration_seconds",
			Help:    "Wall time of completed aggregation runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	SummarizerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_summarizer_requests_total",
			Help: "Completion requests by model and status.",
		},
		[]string{"model", "status"},
	)

	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportbot_open_sessions",
			Help: "Collection sessions currently open.",
		},
	)

	PendingReports = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportbot_pending_reports",
			Help: "Reports collected and not yet aggregated.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ReportsIngested,
		CollectionPrompts,
		AggregationRuns,
		AggregationDuration,
		SummarizerRequests,
		OpenSessions,
		PendingReports,
	)
}

// ObserveRun records one aggregation run.
func ObserveRun(result string, started time.Time) {
	AggregationRuns.WithLabelValues(result).Inc()
	AggregationDuration.Observe(time.Since(started).Seconds())
}
