// Package listing drives a site's listing pages: navigation, login and popup
// handling, pagination, and collection of listing references.
package listing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/extract"
	"github.com/JakeFAU/job-listing-crawler/internal/schema"
)

// Config holds the engine's timing knobs.
type Config struct {
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	Warmup         crawler.Delay `mapstructure:"warmup"`
	ListWait       time.Duration `mapstructure:"list_wait"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LoginPoll      time.Duration `mapstructure:"login_poll"`
	LoginTimeout   time.Duration `mapstructure:"login_timeout"`
	VisibleTimeout time.Duration `mapstructure:"visible_timeout"`
	PopupPause     time.Duration `mapstructure:"popup_pause"`
	ClickWait      time.Duration `mapstructure:"click_wait"`
	ScrollStep     int           `mapstructure:"scroll_step"`
	ScrollInterval time.Duration `mapstructure:"scroll_interval"`
	MaxScrollSteps int           `mapstructure:"max_scroll_steps"`
}

// DefaultConfig mirrors the pacing that keeps anti-bot heuristics quiet.
func DefaultConfig() Config {
	return Config{
		NavTimeout:     30 * time.Second,
		Warmup:         crawler.Delay{Min: time.Second, Max: 3 * time.Second},
		ListWait:       10 * time.Second,
		PollInterval:   250 * time.Millisecond,
		LoginPoll:      time.Second,
		LoginTimeout:   2 * time.Minute,
		VisibleTimeout: time.Second,
		PopupPause:     500 * time.Millisecond,
		ClickWait:      2 * time.Second,
		ScrollStep:     300,
		ScrollInterval: 100 * time.Millisecond,
		MaxScrollSteps: 200,
	}
}

// PathResult summarizes one path suffix.
type PathResult struct {
	Path       string
	State      State
	Clicks     int
	Found      int
	Duplicates int
	Err        error
}

// Result is everything collected for one site.
type Result struct {
	Site       string
	References []crawler.ListingReference
	Paths      []PathResult
}

// Engine crawls listing pages. It is not safe for concurrent use with the same page.
type Engine struct {
	cfg    Config
	dup    crawler.DuplicateChecker
	pauser crawler.Pauser
	logger *zap.Logger
}

// New builds an Engine. dup may be nil to disable duplicate suppression.
func New(cfg Config, dup crawler.DuplicateChecker, pauser crawler.Pauser, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = def.NavTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LoginPoll <= 0 {
		cfg.LoginPoll = def.LoginPoll
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	if cfg.VisibleTimeout <= 0 {
		cfg.VisibleTimeout = def.VisibleTimeout
	}
	if cfg.ScrollStep <= 0 {
		cfg.ScrollStep = def.ScrollStep
	}
	if cfg.MaxScrollSteps <= 0 {
		cfg.MaxScrollSteps = def.MaxScrollSteps
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, dup: dup, pauser: pauser, logger: logger}
}

// Crawl visits every path suffix of site in configuration order on page.
// Failures end the affected path only.
func (e *Engine) Crawl(ctx context.Context, page crawler.Page, site schema.Site) Result {
	site.ApplyDefaults()
	res := Result{Site: site.Name}
	for _, suffix := range site.URLs {
		if ctx.Err() != nil {
			break
		}
		pr, refs := e.crawlPath(ctx, page, site, suffix)
		res.Paths = append(res.Paths, pr)
		res.References = append(res.References, refs...)
	}
	return res
}

func (e *Engine) crawlPath(
	ctx context.Context,
	page crawler.Page,
	site schema.Site,
	suffix string,
) (PathResult, []crawler.ListingReference) {
	logger := e.logger.With(zap.String("site", site.Name), zap.String("path", suffix))
	target := site.PageURL(suffix)
	if err := page.Navigate(ctx, target, e.cfg.NavTimeout); err != nil {
		logger.Warn("listing navigation failed", zap.String("url", target), zap.Error(err))
		return PathResult{Path: suffix, State: StateAborted, Err: fmt.Errorf("navigate: %w", err)}, nil
	}
	e.pauser.Pause(ctx, e.cfg.Warmup.Next())
	if err := page.MoveMouse(ctx, 100+rand.Float64()*700, 100+rand.Float64()*500); err != nil {
		logger.Debug("mouse move failed", zap.Error(err))
	}
	if site.AwaitsLogin != nil {
		e.awaitLogin(ctx, page, *site.AwaitsLogin, logger)
	}
	if !e.waitFor(ctx, page, site.ListSelector, e.cfg.ListWait) {
		logger.Info("listing container not found", zap.String("selector", site.ListSelector))
	}
	e.dismissPopups(ctx, page, site.PopupCloseSelectors, logger)

	p := &paginator{engine: e, page: page, site: site, suffix: suffix, logger: logger}
	p.run(ctx)
	logger.Info("listing path done",
		zap.String("state", string(p.state)),
		zap.Int("clicks", p.clicks),
		zap.Int("found", len(p.refs)),
		zap.Int("duplicates", p.duplicates),
	)
	return PathResult{
		Path:       suffix,
		State:      p.state,
		Clicks:     p.clicks,
		Found:      len(p.refs),
		Duplicates: p.duplicates,
		Err:        p.err,
	}, p.refs
}

// awaitLogin polls the indicator until it disappears or the timeout passes.
func (e *Engine) awaitLogin(ctx context.Context, page crawler.Page, lw schema.LoginWait, logger *zap.Logger) {
	timeout := lw.Timeout
	if timeout <= 0 {
		timeout = e.cfg.LoginTimeout
	}
	deadline := time.Now().Add(timeout)
	announced := false
	for ctx.Err() == nil {
		if !e.isVisible(ctx, page, lw.Selector) {
			if announced {
				logger.Info("login indicator cleared")
			}
			return
		}
		if !announced {
			logger.Info("waiting for login", zap.String("selector", lw.Selector), zap.Duration("timeout", timeout))
			announced = true
		}
		if !time.Now().Before(deadline) {
			logger.Warn("login wait timed out; continuing", zap.String("selector", lw.Selector))
			return
		}
		e.pauser.Pause(ctx, e.cfg.LoginPoll)
	}
}

// waitFor polls until selector matches or timeout elapses.
func (e *Engine) waitFor(ctx context.Context, page crawler.Page, selector string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := page.Query(ctx, selector); err == nil {
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		e.pauser.Pause(ctx, e.cfg.PollInterval)
	}
}

func (e *Engine) dismissPopups(ctx context.Context, page crawler.Page, selectors []string, logger *zap.Logger) {
	for _, selector := range selectors {
		el, ok := e.visibleElement(ctx, page, selector)
		if !ok {
			continue
		}
		if err := el.Click(ctx); err != nil {
			logger.Debug("popup click failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		logger.Debug("popup dismissed", zap.String("selector", selector))
		e.pauser.Pause(ctx, e.cfg.PopupPause)
	}
}

func (e *Engine) isVisible(ctx context.Context, scope crawler.Scope, selector string) bool {
	_, ok := e.visibleElement(ctx, scope, selector)
	return ok
}

// visibleElement treats lookup and probe errors as "not visible".
func (e *Engine) visibleElement(ctx context.Context, scope crawler.Scope, selector string) (crawler.Element, bool) {
	el, err := scope.Query(ctx, selector)
	if err != nil {
		return nil, false
	}
	vctx, cancel := context.WithTimeout(ctx, e.cfg.VisibleTimeout)
	defer cancel()
	visible, err := el.Visible(vctx)
	if err != nil || !visible {
		return nil, false
	}
	return el, true
}

// scrollToEnd scrolls the container in steps so lazy content can load. A
// missing container is not an error.
func (e *Engine) scrollToEnd(ctx context.Context, page crawler.Page, selector string) error {
	el, err := page.Query(ctx, selector)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("locate scroll container: %w", err)
	}
	extent, err := el.ScrollExtent(ctx)
	if err != nil {
		return fmt.Errorf("measure scroll container: %w", err)
	}
	offset := 0
	for step := 0; step < e.cfg.MaxScrollSteps && offset < extent; step++ {
		offset = min(offset+e.cfg.ScrollStep, extent)
		if err := el.ScrollTo(ctx, offset); err != nil {
			return fmt.Errorf("scroll container: %w", err)
		}
		e.pauser.Pause(ctx, e.cfg.ScrollInterval)
		if offset == extent {
			// Lazy loading may have grown the container.
			grown, err := el.ScrollExtent(ctx)
			if err != nil {
				return fmt.Errorf("measure scroll container: %w", err)
			}
			extent = grown
		}
	}
	return nil
}

func (e *Engine) isDuplicate(ctx context.Context, ref crawler.ListingReference, logger *zap.Logger) bool {
	if e.dup == nil {
		return false
	}
	dup, err := e.dup.CheckDuplicate(ctx, ref.Title, ref.Company, ref.URL)
	if err != nil {
		logger.Warn("duplicate check failed; keeping listing", zap.String("url", ref.URL), zap.Error(err))
		return false
	}
	return dup
}

// extractListings reads every listing item currently in the DOM.
func (e *Engine) extractListings(
	ctx context.Context,
	page crawler.Page,
	site schema.Site,
	suffix string,
	logger *zap.Logger,
) (refs []crawler.ListingReference, duplicates int) {
	items, err := page.QueryAll(ctx, site.ListSelector)
	if err != nil {
		logger.Warn("listing query failed", zap.Error(err))
		return nil, 0
	}
	base, err := url.Parse(site.BaseURL)
	if err != nil {
		logger.Warn("invalid base url", zap.Error(err))
		return nil, 0
	}
	for _, item := range items {
		link, err := item.Query(ctx, site.ListingLink)
		if err != nil {
			continue
		}
		href, ok, err := link.Attribute(ctx, "href")
		if err != nil || !ok || strings.TrimSpace(href) == "" {
			continue
		}
		abs, err := resolveHref(base, href)
		if err != nil {
			logger.Debug("unresolvable listing href", zap.String("href", href), zap.Error(err))
			continue
		}
		ref := crawler.ListingReference{
			URL:     abs,
			Source:  suffix,
			Website: site.Name,
			Title:   bestEffort(ctx, item, site.ListingJobName),
			Company: bestEffort(ctx, item, site.ListingJobCompany),
		}
		if ref.Title != "" && ref.Company != "" && e.isDuplicate(ctx, ref, logger) {
			duplicates++
			continue
		}
		refs = append(refs, ref)
	}
	return refs, duplicates
}

func bestEffort(ctx context.Context, item crawler.Element, selector string) string {
	if selector == "" {
		return ""
	}
	return extract.ExtractField(ctx, item, &schema.FieldRule{Selector: selector, Sanitize: true}).String()
}

func resolveHref(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
