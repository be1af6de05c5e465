package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.now = func() time.Time { return time.Unix(1_750_000_000, 0) }

	m.ObserveDuration("pickup-backfill", 250*time.Millisecond)
	m.IncSuccess("pickup-backfill")
	m.IncSuccess("pickup-backfill")
	m.IncFailure("outbox-retention")
	m.IncFailure("")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "cron_job_runs_total", "job", "pickup-backfill", "result", "success")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = fetchCounterValue(mfs, "cron_job_runs_total", "job", "outbox-retention", "result", "failure")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = fetchCounterValue(mfs, "cron_job_runs_total", "job", "unknown", "result", "failure")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	hist, err := findMetric(mfs, "cron_job_duration_seconds", "job", "pickup-backfill")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, hist.GetHistogram().GetSampleSum(), 1e-9)

	gauge, err := findMetric(mfs, "cron_job_last_success_timestamp_seconds", "job", "pickup-backfill")
	require.NoError(t, err)
	assert.Equal(t, 1_750_000_000.0, gauge.GetGauge().GetValue())
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveDuration("job", time.Second)
	m.IncSuccess("job")
	m.IncFailure("job")

	unregistered := NewCronJobMetrics(nil)
	unregistered.IncSuccess("job")
}
