// Package metrics holds the Prometheus collectors of a repository.
//
// Collectors are registered on the Registerer handed to New, never on the
// global default registry, so several repositories (and tests) can live in
// one process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nxdoc"

// Metrics is the set of repository collectors.
type Metrics struct {
	// QueriesTotal counts executed queries by shape (documents or
	// projection) and outcome (ok or error).
	QueriesTotal *prometheus.CounterVec

	// QueryDuration is the executor latency.
	QueryDuration prometheus.Histogram

	// QueryCandidates observes the backend candidate count per query,
	// before exact evaluation and security filtering.
	QueryCandidates prometheus.Histogram

	// ScrollsOpen is the number of live scroll cursors.
	ScrollsOpen prometheus.Gauge

	// ScrollBatches counts served scroll batches.
	ScrollBatches prometheus.Counter

	// CommitsTotal counts session commits by outcome.
	CommitsTotal *prometheus.CounterVec

	// PermissionCache counts permission cache lookups by result (hit or
	// miss).
	PermissionCache *prometheus.CounterVec

	// OrphanVersionsRemoved counts versions deleted by the asynchronous
	// cleanup.
	OrphanVersionsRemoved prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg creates
// a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of executed NXQL queries",
			},
			[]string{"shape", "status"},
		),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "NXQL query execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		QueryCandidates: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_candidates",
			Help:      "Candidate documents returned by the backend per query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ScrollsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scrolls_open",
			Help:      "Number of live scroll cursors",
		}),
		ScrollBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scroll_batches_total",
			Help:      "Total number of scroll batches served",
		}),
		CommitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Total number of session commits",
			},
			[]string{"status"},
		),
		PermissionCache: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_cache_total",
				Help:      "Permission cache lookups",
			},
			[]string{"result"},
		),
		OrphanVersionsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_versions_removed_total",
			Help:      "Versions removed by the asynchronous orphan cleanup",
		}),
	}
}

// Status returns the outcome label for err.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
