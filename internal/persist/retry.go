package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/jobapi"
)

// RetryPolicy decides whether a failed attempt is retried and how long to wait.
// attempt counts from 1.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// LinearRetryPolicy waits attempt × BaseDelay between attempts.
type LinearRetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewLinearRetryPolicy returns the default policy: 3 attempts, 1s base delay.
func NewLinearRetryPolicy() *LinearRetryPolicy {
	return &LinearRetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// ShouldRetry rejects conflicts and cancellation; everything else is transient.
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, jobapi.ErrConflict) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns attempt × BaseDelay.
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BaseDelay
}

// WithRetry runs op until it succeeds, the policy gives up, or ctx ends. It
// returns the number of attempts made and the last error.
func WithRetry(
	ctx context.Context,
	policy RetryPolicy,
	pauser crawler.Pauser,
	op func(ctx context.Context) error,
) (int, error) {
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("attempt %d: %w", attempt, errors.Join(err, ctx.Err()))
		}
		if !policy.ShouldRetry(err, attempt) {
			return attempt, err
		}
		pauser.Pause(ctx, policy.Backoff(attempt))
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("retry wait: %w", errors.Join(err, ctx.Err()))
		}
	}
}
