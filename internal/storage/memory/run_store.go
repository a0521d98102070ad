package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/job-listing-crawler/internal/store"
)

// RunStore is an in-memory store.RunRepository for runs without Postgres.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.Run
	sites map[uuid.UUID]map[string]store.SiteCounters
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.Run),
		sites: make(map[uuid.UUID]map[string]store.SiteCounters),
	}
}

// StartRun records a running run unless it already exists.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = store.Run{ID: runID, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// AddSiteCounters adds delta to the (run, site) counters.
func (s *RunStore) AddSiteCounters(_ context.Context, delta store.SiteCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySite := s.sites[delta.RunID]
	if bySite == nil {
		bySite = make(map[string]store.SiteCounters)
		s.sites[delta.RunID] = bySite
	}
	cur, ok := bySite[delta.Site]
	if !ok {
		cur = store.SiteCounters{RunID: delta.RunID, Site: delta.Site}
	}
	if delta.LastUpdate.After(cur.LastUpdate) {
		cur.LastUpdate = delta.LastUpdate
	}
	cur.Listings += delta.Listings
	cur.Saved += delta.Saved
	cur.Duplicate += delta.Duplicate
	cur.Failed += delta.Failed
	cur.Skipped += delta.Skipped
	bySite[delta.Site] = cur
	return nil
}

// FinishRun closes the run and totals its site counters.
func (s *RunStore) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	ts := finishedAt
	run.FinishedAt = &ts
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	run.Listings, run.Saved, run.Duplicate, run.Failed, run.Skipped = 0, 0, 0, 0, 0
	for _, c := range s.sites[runID] {
		run.Listings += c.Listings
		run.Saved += c.Saved
		run.Duplicate += c.Duplicate
		run.Failed += c.Failed
		run.Skipped += c.Skipped
	}
	s.runs[runID] = run
	return nil
}

// GetRun returns the run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListRunSites returns the run's site counters ordered by site.
func (s *RunStore) ListRunSites(_ context.Context, runID uuid.UUID) ([]store.SiteCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SiteCounters, 0, len(s.sites[runID]))
	for _, c := range s.sites[runID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out, nil
}
