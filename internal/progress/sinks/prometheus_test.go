package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-listing-crawler/internal/progress"
)

func TestPrometheusSinkRecordsRun(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageSiteDone, Site: "acme", Count: 7},
		{RunID: runID, TS: now, Stage: progress.StageRecordSkipped, Site: "acme", URL: "https://acme.test/jobs/1"},
		{RunID: runID, TS: now, Stage: progress.StageSaveDone, Site: "acme", Outcome: progress.OutcomeSaved, Dur: 300 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageSaveDone, Site: "acme", Outcome: progress.OutcomeDuplicate, Dur: 100 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageSaveDone, Site: "acme", Outcome: progress.OutcomeSaved},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 7.0, testutil.ToFloat64(sink.listingsFound.WithLabelValues("acme")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.recordsSkipped.WithLabelValues("acme")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.saves.WithLabelValues("acme", progress.OutcomeSaved)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.saves.WithLabelValues("acme", progress.OutcomeDuplicate)))
	require.Equal(t, 2, testutil.CollectAndCount(sink.saveDuration, "jobcrawler_save_duration_seconds"))

	done := []progress.Event{{RunID: runID, TS: now.Add(time.Minute), Stage: progress.StageRunDone, Dur: time.Minute}}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runRuntime, "jobcrawler_run_runtime_seconds"))
}

func TestPrometheusSinkRunningGaugeIgnoresRepeats(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageRunError, Note: "boom"},
		{RunID: runID, TS: now, Stage: progress.StageRunError, Note: "boom"},
	}))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
