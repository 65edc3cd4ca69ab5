package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerEnd(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("dre:ingest").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("dre:ingest").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("dre:ingest", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("dre:ingest", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("dre:ingest")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("x").End(nil))
	m.ObserveIngest(IngestSummary{Status: "completed"})
}

func TestObserveIngest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	finished := time.Unix(1719734400, 0)

	m.ObserveIngest(IngestSummary{
		Status:       "partial",
		Attempts:     3,
		Bytes:        2048,
		Inserted:     200,
		FailedChunks: 1,
		Skipped:      map[string]int{"zero_amount": 4, "invalid_period": 0},
	})
	m.ObserveIngest(IngestSummary{Status: "completed", Attempts: 1, FinishedAt: finished})

	require.Equal(t, 1.0, testutil.ToFloat64(m.ingestRuns.WithLabelValues("partial")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ingestRuns.WithLabelValues("completed")))
	require.Equal(t, 2048.0, testutil.ToFloat64(m.downloadBytes))
	require.Equal(t, 200.0, testutil.ToFloat64(m.inserted))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failedChunks))
	require.Equal(t, 4.0, testutil.ToFloat64(m.skipped.WithLabelValues("zero_amount")))
	require.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess))
}
