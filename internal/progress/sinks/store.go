package sinks

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/progress"
	"github.com/JakeFAU/job-listing-crawler/internal/store"
)

// StoreSink persists run history through a store.RunRepository. Site events in
// one batch are collapsed into a single counter delta per (run, site).
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes run starts, then site deltas, then run completions so a run
// finished in the same batch still rolls up its last counters.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[siteKey]*store.SiteCounters)
	var finishes []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			finishes = append(finishes, evt)
		case progress.StageSiteDone, progress.StageRecordSkipped, progress.StageSaveDone:
			accumulate(deltas, runID, evt)
		}
	}

	keys := make([]siteKey, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].runID != keys[j].runID {
			return keys[i].runID.String() < keys[j].runID.String()
		}
		return keys[i].site < keys[j].site
	})
	for _, k := range keys {
		delta := deltas[k]
		if delta.IsZero() {
			continue
		}
		if err := s.repo.AddSiteCounters(ctx, *delta); err != nil {
			return fmt.Errorf("add site counters: %w", err)
		}
	}

	for _, evt := range finishes {
		status := store.RunSuccess
		var note *string
		if evt.Stage == progress.StageRunError {
			status = store.RunError
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
		}
		if err := s.repo.FinishRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func accumulate(deltas map[siteKey]*store.SiteCounters, runID uuid.UUID, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	key := siteKey{runID: runID, site: evt.Site}
	d := deltas[key]
	if d == nil {
		d = &store.SiteCounters{RunID: runID, Site: evt.Site}
		deltas[key] = d
	}
	switch evt.Stage {
	case progress.StageSiteDone:
		d.Listings += evt.Count
	case progress.StageRecordSkipped:
		d.Skipped++
	case progress.StageSaveDone:
		switch evt.Outcome {
		case progress.OutcomeSaved:
			d.Saved++
		case progress.OutcomeDuplicate:
			d.Duplicate++
		case progress.OutcomeFailed:
			d.Failed++
		}
	}
	if evt.TS.After(d.LastUpdate) {
		d.LastUpdate = evt.TS
	}
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type siteKey struct {
	runID uuid.UUID
	site  string
}
