// Package reporter delivers end-of-run summaries.
package reporter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/persist"
)

// SiteReport summarizes the listing phase of one site.
type SiteReport struct {
	Name         string `json:"name"`
	Listings     int    `json:"listings"`
	Duplicates   int    `json:"duplicates"`
	AbortedPaths int    `json:"aborted_paths"`
}

// Report is the outcome of one run.
type Report struct {
	RunID     uuid.UUID
	StartedAt time.Time
	Duration  time.Duration
	Sites     []SiteReport
	Summary   persist.Summary
	// Err is set when the run ended early.
	Err error
}

// Reporter sends a Report somewhere.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// Multi fans a report out to every reporter and joins their errors.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, r Report) error {
	var errs []error
	for _, rep := range m {
		if rep == nil {
			continue
		}
		if err := rep.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogReporter writes the summary through zap.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter returns a LogReporter; nil logger disables output.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report implements Reporter.
func (l *LogReporter) Report(_ context.Context, r Report) error {
	for _, s := range r.Sites {
		l.logger.Info("site summary",
			zap.String("site", s.Name),
			zap.Int("listings", s.Listings),
			zap.Int("duplicates", s.Duplicates),
			zap.Int("aborted_paths", s.AbortedPaths),
		)
	}
	fields := []zap.Field{
		zap.String("run_id", r.RunID.String()),
		zap.Duration("duration", r.Duration),
		zap.Int64("processed", r.Summary.Processed),
		zap.Int64("saved", r.Summary.Saved),
		zap.Int64("duplicate", r.Summary.Duplicate),
		zap.Int64("failed", r.Summary.Failed),
		zap.Int64("skipped", r.Summary.Skipped),
		zap.String("success_rate", FormatRate(r.Summary.SuccessRate())),
	}
	if r.Err != nil {
		l.logger.Error("run finished with error", append(fields, zap.Error(r.Err))...)
		return nil
	}
	l.logger.Info("run finished", fields...)
	return nil
}
