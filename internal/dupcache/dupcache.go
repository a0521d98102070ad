// Package dupcache remembers positive duplicate answers across runs in Redis so
// known postings skip the job API round-trip.
package dupcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
)

// Config controls the cache.
type Config struct {
	URL    string        `mapstructure:"url"`
	TTL    time.Duration `mapstructure:"ttl"`
	Prefix string        `mapstructure:"prefix"`
}

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Checker decorates a DuplicateChecker. Cache errors never turn into
// duplicate answers.
type Checker struct {
	next   crawler.DuplicateChecker
	store  Store
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// New wraps next with a cache in store.
func New(next crawler.DuplicateChecker, store Store, cfg Config, logger *zap.Logger) *Checker {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "jobcrawler:dup:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{next: next, store: store, ttl: cfg.TTL, prefix: cfg.Prefix, logger: logger}
}

// CheckDuplicate answers from the cache when it can and asks next otherwise.
func (c *Checker) CheckDuplicate(ctx context.Context, title, company, url string) (bool, error) {
	key := c.Key(title, company)
	err := c.store.Get(ctx, key).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("duplicate cache read failed", zap.String("key", key), zap.Error(err))
	}

	dup, err := c.next.CheckDuplicate(ctx, title, company, url)
	if err != nil {
		return false, err
	}
	if dup {
		c.remember(ctx, key)
	}
	return dup, nil
}

// Remember records a posting the job API now holds.
func (c *Checker) Remember(ctx context.Context, title, company string) {
	c.remember(ctx, c.Key(title, company))
}

func (c *Checker) remember(ctx context.Context, key string) {
	if err := c.store.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		c.logger.Warn("duplicate cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Key derives the cache key from the normalized title and company.
func (c *Checker) Key(title, company string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(title), " ")) + "\x00" +
		strings.ToLower(strings.Join(strings.Fields(company), " "))
	sum := sha256.Sum256([]byte(norm))
	return c.prefix + hex.EncodeToString(sum[:16])
}
