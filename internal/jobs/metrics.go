package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and ingestion runs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	ingestRuns    *prometheus.CounterVec
	downloadBytes prometheus.Counter
	attempts      prometheus.Histogram
	inserted      prometheus.Counter
	skipped       *prometheus.CounterVec
	failedChunks  prometheus.Counter
	lastSuccess   prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// IngestSummary is what a finished ingestion run reports.
type IngestSummary struct {
	Status       string
	Attempts     int
	Bytes        int
	Inserted     int
	FailedChunks int
	Skipped      map[string]int
	FinishedAt   time.Time
}

// ObserveIngest records the outcome of one ingestion run.
func (m *Metrics) ObserveIngest(s IngestSummary) {
	if m == nil {
		return
	}
	status := s.Status
	if status == "" {
		status = "unknown"
	}
	m.ingestRuns.WithLabelValues(status).Inc()
	if s.Attempts > 0 {
		m.attempts.Observe(float64(s.Attempts))
	}
	if s.Bytes > 0 {
		m.downloadBytes.Add(float64(s.Bytes))
	}
	if s.Inserted > 0 {
		m.inserted.Add(float64(s.Inserted))
	}
	if s.FailedChunks > 0 {
		m.failedChunks.Add(float64(s.FailedChunks))
	}
	for reason, n := range s.Skipped {
		if n > 0 {
			m.skipped.WithLabelValues(reason).Add(float64(n))
		}
	}
	if status == "completed" && !s.FinishedAt.IsZero() {
		m.lastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dre_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dre_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dre_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"job"})
	ingestRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dre_ingest_runs_total",
		Help: "Ingestion runs grouped by final status.",
	}, []string{"status"})
	downloadBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dre_ingest_download_bytes_total",
		Help: "Bytes of workbook downloaded from the report endpoint.",
	})
	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dre_ingest_download_attempts",
		Help:    "Download attempts needed per run.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
	inserted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dre_ingest_records_inserted_total",
		Help: "Normalized records written to dre_hitss.",
	})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dre_ingest_rows_skipped_total",
		Help: "Raw rows dropped during normalization grouped by reason.",
	}, []string{"reason"})
	failedChunks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dre_ingest_chunks_failed_total",
		Help: "Insert chunks rejected by the database.",
	})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dre_ingest_last_success_timestamp_seconds",
		Help: "Unix time of the last completed ingestion run.",
	})
	registerer.MustRegister(runs, failures, duration, ingestRuns, downloadBytes, attempts, inserted, skipped, failedChunks, lastSuccess)
	return &Metrics{
		runs:          runs,
		failures:      failures,
		duration:      duration,
		ingestRuns:    ingestRuns,
		downloadBytes: downloadBytes,
		attempts:      attempts,
		inserted:      inserted,
		skipped:       skipped,
		failedChunks:  failedChunks,
		lastSuccess:   lastSuccess,
	}
}
