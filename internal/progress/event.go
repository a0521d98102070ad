// Package progress defines the run events emitted by the crawl orchestrator.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageSiteDone      Stage = "SITE_DONE"
	StageRecordSkipped Stage = "RECORD_SKIPPED"
	StageSaveDone      Stage = "SAVE_DONE"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
)

// Save outcomes carried by SAVE_DONE events.
const (
	OutcomeSaved     = "saved"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Event is one milestone of a run.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Site is the schema name for site-scoped stages.
	Site string
	URL  string
	// Outcome is set on SAVE_DONE.
	Outcome string
	// Count is the number of listing references a SITE_DONE produced.
	Count    int64
	Attempts int
	Dur      time.Duration
	// Note carries low-volume context such as an error or skip reason.
	Note string
}

// Validate rejects malformed events.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageSiteDone:
		if e.Site == "" {
			return errors.New("site done requires site")
		}
		if e.Count < 0 {
			return errors.New("count must be >= 0")
		}
	case StageRecordSkipped:
		if e.Site == "" || e.URL == "" {
			return errors.New("record skipped requires site and url")
		}
	case StageSaveDone:
		if e.Site == "" {
			return errors.New("save done requires site")
		}
		switch e.Outcome {
		case OutcomeSaved, OutcomeDuplicate, OutcomeFailed:
		default:
			return fmt.Errorf("unknown save outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}
