package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ELT runner.
type Metrics struct {
	JobRuns         *prometheus.CounterVec // labels: job, outcome={ok,error}
	RecordsFetched  *prometheus.CounterVec // labels: job
	RecordsInserted *prometheus.CounterVec // labels: job
	JobDuration     *prometheus.HistogramVec
	RunnerRunning   prometheus.Gauge
	WatermarkAge    *prometheus.GaugeVec // labels: table; seconds behind now

	// Dataset publishing metrics.
	PublishRuns     *prometheus.CounterVec // labels: outcome={ok,error,skipped}
	DatasetRows     prometheus.Gauge
	DatasetSizeMB   prometheus.Gauge
	DatasetVersions prometheus.Gauge
}

// ObservePublish records one dataset publish attempt. Dataset gauges only
// move on success; the registry retains a single version after pruning.
func (m *Metrics) ObservePublish(outcome string, rows, sizeBytes int64) {
	m.PublishRuns.WithLabelValues(outcome).Inc()
	if outcome != "ok" {
		return
	}
	m.DatasetRows.Set(float64(rows))
	m.DatasetSizeMB.Set(float64(sizeBytes) / (1024 * 1024))
	m.DatasetVersions.Set(1)
}

// NewMetrics creates and registers all runner metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.JobRuns,
		m.RecordsFetched,
		m.RecordsInserted,
		m.JobDuration,
		m.RunnerRunning,
		m.WatermarkAge,
		m.PublishRuns,
		m.DatasetRows,
		m.DatasetSizeMB,
		m.DatasetVersions,
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
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_elt",
			Name:      "job_runs_total",
			Help:      "Pipeline job executions by job and outcome.",
		}, []string{"job", "outcome"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_elt",
			Name:      "records_fetched_total",
			Help:      "Rows fetched from upstream APIs by job.",
		}, []string{"job"}),
		RecordsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_elt",
			Name:      "records_inserted_total",
			Help:      "New rows inserted into DuckDB by job (post-upsert).",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flood_elt",
			Name:      "job_duration_seconds",
			Help:      "Duration of one pipeline job execution.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		RunnerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_elt",
			Name:      "runner_running",
			Help:      "1 when the pipeline runner is active, 0 when shut down.",
		}),
		WatermarkAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flood_elt",
			Name:      "watermark_age_seconds",
			Help:      "Seconds between now and the stored high watermark, per table.",
		}, []string{"table"}),
		PublishRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_elt",
			Name:      "publish_runs_total",
			Help:      "Dataset publish attempts by outcome.",
		}, []string{"outcome"}),
		DatasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_elt",
			Name:      "dataset_rows",
			Help:      "Row count of the last published dataset artifact.",
		}),
		DatasetSizeMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_elt",
			Name:      "dataset_size_mb",
			Help:      "Parquet file size of the last published dataset artifact.",
		}),
		DatasetVersions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_elt",
			Name:      "dataset_versions",
			Help:      "Artifact versions retained in the registry after cleanup.",
		}),
	}
}
