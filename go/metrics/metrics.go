// Package metrics exposes Prometheus collectors for the transaction core,
// grounded on the teacher's direct github.com/prometheus/client_golang
// dependency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the counters and histograms the transaction and
// sourcewriter packages report into.
type Collectors struct {
	CommitDuration   prometheus.Histogram
	PendingDepth     prometheus.Gauge
	SourceWrites     *prometheus.CounterVec // labels: source, outcome={success,failure,partial}
	SourceReverts    *prometheus.CounterVec // labels: source, outcome={success,failure}
	ConflictsTotal   prometheus.Counter
	CommitsTotal     *prometheus.CounterVec // labels: outcome={committed,faulted}
}

// New registers a fresh Collectors set with reg. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the default global registry.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txcore",
			Name:      "commit_duration_seconds",
			Help:      "Time spent in Transaction.Commit, from Stage 1 through Stage 5.",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txcore",
			Name:      "pending_change_depth",
			Help:      "Number of pending changes in the most recently observed buffer.",
		}),
		SourceWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcore",
			Name:      "source_writes_total",
			Help:      "Batched writes issued to a Source during commit Stage 3.",
		}, []string{"source", "outcome"}),
		SourceReverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcore",
			Name:      "source_reverts_total",
			Help:      "Revert writes issued to a Source during rollback.",
		}, []string{"source", "outcome"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcore",
			Name:      "optimistic_conflicts_total",
			Help:      "Optimistic-locking conflicts detected in commit Stage 1.",
		}),
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcore",
			Name:      "commits_total",
			Help:      "Completed commit attempts.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.CommitDuration,
		c.PendingDepth,
		c.SourceWrites,
		c.SourceReverts,
		c.ConflictsTotal,
		c.CommitsTotal,
	)
	return c
}
