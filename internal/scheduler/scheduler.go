// Package scheduler triggers crawl runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds the cron expression. Descriptors such as "@every 6h" and
// "@daily" are accepted alongside five-field expressions.
type Config struct {
	Spec       string `mapstructure:"spec"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// Scheduler wraps robfig/cron. A tick that arrives while the previous run is
// still going is skipped.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	runOnStart bool
	job        func(ctx context.Context)
	logger     *zap.Logger
}

// New validates cfg.Spec and prepares the scheduler.
func New(cfg Config, job func(ctx context.Context), logger *zap.Logger) (*Scheduler, error) {
	if cfg.Spec == "" {
		return nil, errors.New("schedule spec is required")
	}
	if job == nil {
		return nil, errors.New("job is required")
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:       cfg.Spec,
		runOnStart: cfg.RunOnStart,
		job:        job,
		logger:     logger,
	}, nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for an
// in-flight job to return.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.AddJob(s.spec, cron.FuncJob(func() { s.job(ctx) }))
	if err != nil {
		return fmt.Errorf("cron.AddJob: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Time("next", s.Next()))

	if s.runOnStart {
		entries := s.cron.Entries()
		if len(entries) > 0 {
			go entries[0].WrappedJob.Run()
		}
	}

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Next reports the next activation, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
