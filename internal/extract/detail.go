package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/schema"
)

var (
	// ErrNavigation wraps failures to load a detail page.
	ErrNavigation = errors.New("detail navigation failed")
	// ErrIncomplete marks a page where title or company did not resolve.
	ErrIncomplete = errors.New("detail record missing title or company")
)

// Config controls detail page loading.
type Config struct {
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
	// Settle is the pause after load before fields are read.
	Settle crawler.Delay `mapstructure:"settle"`
}

// DefaultConfig returns a 15s navigation bound and a 0.5s to 1.5s settle pause.
func DefaultConfig() Config {
	return Config{
		NavTimeout: 15 * time.Second,
		Settle:     crawler.Delay{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
	}
}

// Extractor builds JobRecords from detail pages.
type Extractor struct {
	cfg    Config
	pauser crawler.Pauser
	logger *zap.Logger
}

// NewExtractor wires an Extractor. A nil pauser uses crawler.TimerPauser.
func NewExtractor(cfg Config, pauser crawler.Pauser, logger *zap.Logger) *Extractor {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = DefaultConfig().NavTimeout
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, pauser: pauser, logger: logger}
}

// Extract navigates page to ref.URL and applies fields. The returned error
// wraps ErrNavigation or ErrIncomplete; either way the record must be skipped.
func (x *Extractor) Extract(
	ctx context.Context,
	page crawler.Page,
	ref crawler.ListingReference,
	fields schema.Fields,
) (crawler.JobRecord, error) {
	if err := page.Navigate(ctx, ref.URL, x.cfg.NavTimeout); err != nil {
		return crawler.JobRecord{}, fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	x.pauser.Pause(ctx, x.cfg.Settle.Next())
	rec, err := Record(ctx, page, ref, fields)
	if err != nil {
		x.logger.Debug("detail page incomplete", zap.String("url", ref.URL), zap.String("site", ref.Website))
		return rec, err
	}
	return rec, nil
}

// Record applies fields to an already loaded scope.
func Record(
	ctx context.Context,
	scope crawler.Scope,
	ref crawler.ListingReference,
	fields schema.Fields,
) (crawler.JobRecord, error) {
	title := ExtractField(ctx, scope, fields.JobName)
	company := ExtractField(ctx, scope, fields.CompanyName)
	rec := crawler.JobRecord{
		URL:         ref.URL,
		Website:     ref.Website,
		Title:       title.String(),
		Company:     company.String(),
		Description: ExtractField(ctx, scope, fields.JobDescription).String(),
		Locations:   ExtractField(ctx, scope, fields.JobLocation).Items(),
		PublishedAt: ExtractField(ctx, scope, fields.PublicationDate).String(),
	}
	if title.IsNull() || company.IsNull() {
		return rec, ErrIncomplete
	}
	return rec, nil
}
