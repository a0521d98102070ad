package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/job-listing-crawler/internal/progress"
)

func TestLogSinkLevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StageSaveDone, Site: "acme", Outcome: progress.OutcomeSaved, Attempts: 2},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "boom"},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, id.String(), entries[0].ContextMap()["run_id"])
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, "saved", entries[1].ContextMap()["outcome"])
	require.Equal(t, int64(2), entries[1].ContextMap()["attempts"])
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["note"])
}
