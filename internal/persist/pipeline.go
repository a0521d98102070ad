// Package persist saves job records through the job API with bounded
// concurrency, retry and outcome accounting.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/jobapi"
)

// DefaultConcurrency bounds in-flight saves.
const DefaultConcurrency = 5

// Config controls a Pipeline.
type Config struct {
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// Summary holds the aggregate counters of a run.
type Summary struct {
	Processed int64 `json:"processed"`
	Saved     int64 `json:"saved"`
	Duplicate int64 `json:"duplicate"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// SuccessRate is the saved share of processed records, in percent.
func (s Summary) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Saved) / float64(s.Processed) * 100
}

// OutcomeFunc observes every settled save. It may be called concurrently.
type OutcomeFunc func(rec crawler.JobRecord, outcome crawler.SaveOutcome, attempts int, elapsed time.Duration)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRetryPolicy overrides the policy built from Config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithPauser overrides the backoff sleeper.
func WithPauser(p crawler.Pauser) Option {
	return func(pl *Pipeline) { pl.pauser = p }
}

// WithOutcomeHook registers an observer.
func WithOutcomeHook(fn OutcomeFunc) Option {
	return func(pl *Pipeline) { pl.onOutcome = append(pl.onOutcome, fn) }
}

// Pipeline is created per run and discarded once Wait has returned.
type Pipeline struct {
	saver     crawler.JobSaver
	sem       *semaphore.Weighted
	policy    RetryPolicy
	pauser    crawler.Pauser
	logger    *zap.Logger
	onOutcome []OutcomeFunc

	claimMu sync.Mutex
	claimed map[string]struct{}

	wg        sync.WaitGroup
	inFlight  atomic.Int64
	processed atomic.Int64
	saved     atomic.Int64
	duplicate atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// New builds a Pipeline around saver.
func New(cfg Config, saver crawler.JobSaver, logger *zap.Logger, opts ...Option) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	policy := NewLinearRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		saver:   saver,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		policy:  policy,
		pauser:  crawler.TimerPauser{},
		logger:  logger,
		claimed: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit blocks until a save slot is free, then saves rec in the background.
// It fails only when ctx ends before admission; the record then counts as failed.
// A URL already in flight or saved during this run settles as a duplicate
// without reaching the saver.
func (p *Pipeline) Submit(ctx context.Context, rec crawler.JobRecord) error {
	p.processed.Add(1)
	key := claimKey(rec.URL)
	if !p.claim(key) {
		p.logger.Debug("record already submitted in this run", zap.String("url", rec.URL))
		p.settle(rec, crawler.Duplicate(), 0, 0)
		return nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.release(key)
		p.settle(rec, crawler.Failed("not admitted: "+err.Error()), 0, 0)
		return fmt.Errorf("admit %s: %w", rec.URL, err)
	}
	p.inFlight.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.inFlight.Add(-1)
		if outcome := p.save(ctx, rec); outcome == crawler.OutcomeFailed {
			p.release(key)
		}
	}()
	return nil
}

// claimKey folds equivalent spellings of a job URL onto one key.
func claimKey(raw string) string {
	origin, pathQuery, err := jobapi.NormalizeURL(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.ToLower(origin) + pathQuery
}

func (p *Pipeline) claim(key string) bool {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	if _, ok := p.claimed[key]; ok {
		return false
	}
	p.claimed[key] = struct{}{}
	return true
}

// release lets a failed URL be submitted again.
func (p *Pipeline) release(key string) {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	delete(p.claimed, key)
}

func (p *Pipeline) save(ctx context.Context, rec crawler.JobRecord) crawler.OutcomeKind {
	start := time.Now()
	var id string
	attempts, err := WithRetry(ctx, p.policy, p.pauser, func(ctx context.Context) error {
		var err error
		id, err = p.saver.CreateJob(ctx, rec)
		if err != nil && !errors.Is(err, jobapi.ErrConflict) {
			p.logger.Debug("save attempt failed", zap.String("url", rec.URL), zap.Error(err))
		}
		return err
	})
	elapsed := time.Since(start)
	switch {
	case err == nil:
		p.settle(rec, crawler.Saved(id), attempts, elapsed)
		return crawler.OutcomeSaved
	case errors.Is(err, jobapi.ErrConflict):
		p.settle(rec, crawler.Duplicate(), attempts, elapsed)
		return crawler.OutcomeDuplicate
	default:
		p.logger.Warn("save failed",
			zap.String("url", rec.URL),
			zap.String("title", rec.Title),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		p.settle(rec, crawler.Failed(err.Error()), attempts, elapsed)
		return crawler.OutcomeFailed
	}
}

func (p *Pipeline) settle(rec crawler.JobRecord, outcome crawler.SaveOutcome, attempts int, elapsed time.Duration) {
	switch outcome.Kind {
	case crawler.OutcomeSaved:
		p.saved.Add(1)
	case crawler.OutcomeDuplicate:
		p.duplicate.Add(1)
	default:
		p.failed.Add(1)
	}
	for _, fn := range p.onOutcome {
		fn(rec, outcome, attempts, elapsed)
	}
}

// Skip counts a visited record that never reached the saver. It still counts
// as processed, so it lowers the success rate.
func (p *Pipeline) Skip() {
	p.processed.Add(1)
	p.skipped.Add(1)
}

// InFlight reports the number of saves currently running.
func (p *Pipeline) InFlight() int64 {
	return p.inFlight.Load()
}

// Snapshot returns the counters as of now.
func (p *Pipeline) Snapshot() Summary {
	return Summary{
		Processed: p.processed.Load(),
		Saved:     p.saved.Load(),
		Duplicate: p.duplicate.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
	}
}

// Wait joins every outstanding save and returns the final counters. When ctx
// ends first it returns the current snapshot and ctx's error.
func (p *Pipeline) Wait(ctx context.Context) (Summary, error) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return p.Snapshot(), nil
	case <-ctx.Done():
		return p.Snapshot(), fmt.Errorf("wait for saves: %w", ctx.Err())
	}
}
