package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cruisesync"

// Metrics holds all prometheus metrics
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	SailingsProcessed  *prometheus.CounterVec
	PricingRowsWritten prometheus.Counter
	LockContention     *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ActiveRuns         prometheus.Gauge
	FetchRetries       prometheus.Counter
	FetchFailures      prometheus.Counter
}

// New registers the service metrics on reg.  Each registry can only hold one
// set, so tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished ingestion runs by terminal status",
		}, []string{"status"}),
		SailingsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sailings_processed_total",
			Help:      "Sailing documents processed by result",
		}, []string{"result"}),
		PricingRowsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_rows_written_total",
			Help:      "Pricing records inserted by price replacement",
		}),
		LockContention: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Triggers rejected because the line was already locked",
		}, []string{"source"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of ingestion runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executing in this process",
		}),
		FetchRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_retries_total",
			Help:      "Feed transport operations retried after a transient failure",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_failures_total",
			Help:      "Feed files that could not be fetched after all attempts",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
