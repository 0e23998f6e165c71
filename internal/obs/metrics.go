package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the writer, builder, and
// reader publish through during a build and while serving queries.
type Metrics struct {
	ItemsIngested    prometheus.Counter
	BuildsStarted    prometheus.Counter
	BuildsFailed     prometheus.Counter
	BuildDuration    prometheus.Histogram
	SearchQueries    prometheus.Counter
	SearchErrors     prometheus.Counter
	SearchLatency    prometheus.Histogram
	CandidatesScored prometheus.Histogram
}

// NewMetrics registers a fresh set of instruments against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ItemsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "annoyforest_items_ingested_total",
			Help: "Total items staged via AddItem across all tags.",
		}),
		BuildsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "annoyforest_builds_started_total",
			Help: "Total forest builds started.",
		}),
		BuildsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "annoyforest_builds_failed_total",
			Help: "Total forest builds that returned an error.",
		}),
		BuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "annoyforest_build_duration_seconds",
			Help:    "Wall-clock duration of a forest build.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "annoyforest_search_queries_total",
			Help: "Total NNS queries served.",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "annoyforest_search_errors_total",
			Help: "Total NNS queries that returned an error.",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "annoyforest_search_latency_seconds",
			Help:    "Latency of a single NNS query.",
			Buckets: prometheus.DefBuckets,
		}),
		CandidatesScored: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "annoyforest_candidates_scored",
			Help:    "Number of candidates rescored per query before top-k selection.",
			Buckets: prometheus.ExponentialBuckets(8, 2, 12),
		}),
	}
}
