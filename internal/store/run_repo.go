package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one crawl run with its aggregate counters.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	Listings     int64      `json:"listings"`
	Saved        int64      `json:"saved"`
	Duplicate    int64      `json:"duplicate"`
	Failed       int64      `json:"failed"`
	Skipped      int64      `json:"skipped"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// SiteCounters holds per-site counters; as a write it is a delta.
type SiteCounters struct {
	RunID      uuid.UUID `json:"run_id"`
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Listings   int64     `json:"listings"`
	Saved      int64     `json:"saved"`
	Duplicate  int64     `json:"duplicate"`
	Failed     int64     `json:"failed"`
	Skipped    int64     `json:"skipped"`
}

// IsZero reports whether the delta changes nothing.
func (c SiteCounters) IsZero() bool {
	return c.Listings == 0 && c.Saved == 0 && c.Duplicate == 0 && c.Failed == 0 && c.Skipped == 0
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun records a running run; repeating it is harmless.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// AddSiteCounters applies delta to the (run, site) row.
	AddSiteCounters(ctx context.Context, delta SiteCounters) error
	// FinishRun marks the run finished and rolls site counters up into it.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	ListRunSites(ctx context.Context, runID uuid.UUID) ([]SiteCounters, error)
}
