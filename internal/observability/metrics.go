package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// tile acquisition pipeline.
type Metrics struct {
	TilesFetched      *prometheus.CounterVec // labels: service, outcome={success,skipped,failed}
	FetchRetries      *prometheus.CounterVec // labels: service
	TileFetchDuration *prometheus.HistogramVec
	TileBytes         prometheus.Histogram
	ActiveWorkers     prometheus.Gauge

	JobsProcessed *prometheus.CounterVec // labels: outcome={complete,partial,failed}
	JobDuration   prometheus.Histogram
	ConsumerUp    prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.TilesFetched,
		m.FetchRetries,
		m.TileFetchDuration,
		m.TileBytes,
		m.ActiveWorkers,
		m.JobsProcessed,
		m.JobDuration,
		m.ConsumerUp,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		TilesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrain_tiles",
			Name:      "tiles_fetched_total",
			Help:      "Tile downloads by service and outcome.",
		}, []string{"service", "outcome"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrain_tiles",
			Name:      "fetch_retries_total",
			Help:      "Retried tile requests after transient failures.",
		}, []string{"service"}),
		TileFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "terrain_tiles",
			Name:      "tile_fetch_duration_seconds",
			Help:      "Duration of a single tile download including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service"}),
		TileBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrain_tiles",
			Name:      "tile_bytes",
			Help:      "Size of successfully downloaded tiles in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain_tiles",
			Name:      "fetch_workers_active",
			Help:      "Workers currently downloading a tile.",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrain_tiles",
			Name:      "jobs_processed_total",
			Help:      "Acquisition jobs by outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrain_tiles",
			Name:      "job_duration_seconds",
			Help:      "Duration of a complete resolve-plan-fetch-merge job.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ConsumerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain_tiles",
			Name:      "job_consumer_up",
			Help:      "1 while the Kafka job consumer loop is active.",
		}),
	}
}
