package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "score_import"

// Metrics holds the Prometheus counters, histograms, and gauges for the import service.
type Metrics struct {
	SubmissionsConsumed prometheus.Counter
	ScoresProduced      prometheus.Counter
	PipelineRunning     prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Import metrics.
	Imports          *prometheus.CounterVec   // labels: import_type, outcome={ok,fatal,error}
	RecordsConverted *prometheus.CounterVec   // labels: import_type
	RecordFailures   *prometheus.CounterVec   // labels: import_type, kind={DataNotFound,InvalidScore,Internal}
	ImportDuration   *prometheus.HistogramVec // labels: import_type

	// Catalog metrics.
	CatalogCache         *prometheus.CounterVec   // labels: lookup, result={hit,miss}
	CatalogQueryDuration *prometheus.HistogramVec // labels: lookup
}

type metricOpts struct {
	help bool
}

func newMetrics(o metricOpts) *Metrics {
	help := func(s string) string {
		if o.help {
			return s
		}
		return ""
	}
	buckets := func(b []float64) []float64 {
		if o.help {
			return b
		}
		return nil
	}

	return &Metrics{
		SubmissionsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_consumed_total",
			Help:      help("Total submissions read from the source topic."),
		}),
		ScoresProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_produced_total",
			Help:      help("Total canonical scores written to the sink topic."),
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the pipeline is active, 0 when shut down."),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      help("Number of submissions per batch extracted from Kafka."),
			Buckets:   buckets([]float64{1, 5, 10, 20, 30, 40, 50, 75, 100}),
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      help("Duration of a complete extract-import-load cycle."),
			Buckets:   buckets([]float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10}),
		}),
		Imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      help("Submissions imported by import type and outcome."),
		}, []string{"import_type", "outcome"}),
		RecordsConverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_converted_total",
			Help:      help("Records successfully converted to canonical scores."),
		}, []string{"import_type"}),
		RecordFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_failures_total",
			Help:      help("Records skipped by import type and failure kind."),
		}, []string{"import_type", "kind"}),
		ImportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      help("Duration of parsing and converting one submission."),
			Buckets:   buckets([]float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}),
		}, []string{"import_type"}),
		CatalogCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      help("Catalog cache lookups by lookup and result."),
		}, []string{"lookup", "result"}),
		CatalogQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_query_duration_seconds",
			Help:      help("Catalog store query duration in seconds."),
			Buckets:   buckets([]float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}),
		}, []string{"lookup"}),
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(metricOpts{help: true})

	prometheus.MustRegister(
		m.SubmissionsConsumed,
		m.ScoresProduced,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.Imports,
		m.RecordsConverted,
		m.RecordFailures,
		m.ImportDuration,
		m.CatalogCache,
		m.CatalogQueryDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(metricOpts{})
}
