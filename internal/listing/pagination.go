package listing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/schema"
)

// State is a pagination state.
type State string

// Pagination states. Exhausted and Aborted are terminal.
const (
	StateReady      State = "ready"
	StateChecking   State = "checking"
	StateExtracting State = "extracting"
	StateClicking   State = "clicking"
	StateWaiting    State = "waiting"
	StateExhausted  State = "exhausted"
	StateAborted    State = "aborted"
)

// Terminal reports whether s ends pagination.
func (s State) Terminal() bool {
	return s == StateExhausted || s == StateAborted
}

type paginator struct {
	engine *Engine
	page   crawler.Page
	site   schema.Site
	suffix string
	logger *zap.Logger

	state      State
	clicks     int
	control    crawler.Element
	extracted  bool
	refs       []crawler.ListingReference
	duplicates int
	err        error
}

// run advances the machine until a terminal state, then extracts the current
// page unless it was already captured.
func (p *paginator) run(ctx context.Context) {
	p.state = StateReady
	for !p.state.Terminal() {
		p.state = p.step(ctx)
	}
	if !p.extracted {
		p.extract(ctx)
	}
}

func (p *paginator) step(ctx context.Context) State {
	switch p.state {
	case StateReady:
		return StateChecking
	case StateChecking:
		return p.check(ctx)
	case StateExtracting:
		p.extract(ctx)
		return StateClicking
	case StateClicking:
		return p.click(ctx)
	case StateWaiting:
		p.engine.pauser.Pause(ctx, p.engine.cfg.ClickWait)
		p.engine.dismissPopups(ctx, p.page, p.site.PopupCloseSelectors, p.logger)
		if p.site.Pagination == schema.PaginationLive {
			p.extracted = false
		}
		return StateChecking
	default:
		return StateAborted
	}
}

func (p *paginator) check(ctx context.Context) State {
	if ctx.Err() != nil {
		p.err = ctx.Err()
		return StateAborted
	}
	if p.site.LoadMoreSelector == "" || p.clicks >= p.site.ClickLimit() {
		return StateExhausted
	}
	control, ok := p.engine.visibleElement(ctx, p.page, p.site.LoadMoreSelector)
	if !ok {
		return StateExhausted
	}
	if p.site.LoadMoreBtnDisplayNone {
		display, err := control.Display(ctx)
		if err != nil {
			p.err = fmt.Errorf("read control display: %w", err)
			p.logger.Warn("pagination aborted", zap.Error(p.err))
			return StateAborted
		}
		if display == "none" {
			return StateExhausted
		}
	}
	p.control = control
	if p.site.Pagination == schema.PaginationLive {
		return StateExtracting
	}
	return StateClicking
}

func (p *paginator) click(ctx context.Context) State {
	if p.site.ScrollContainer != "" {
		if err := p.engine.scrollToEnd(ctx, p.page, p.site.ScrollContainer); err != nil {
			return p.abort(err)
		}
	}
	if p.site.ScrollToButton {
		if err := p.control.ScrollIntoView(ctx); err != nil {
			return p.abort(fmt.Errorf("scroll to control: %w", err))
		}
	}
	if err := p.control.Click(ctx); err != nil {
		return p.abort(fmt.Errorf("click control: %w", err))
	}
	p.clicks++
	p.logger.Debug("load more clicked", zap.Int("clicks", p.clicks))
	return StateWaiting
}

func (p *paginator) abort(err error) State {
	p.err = err
	p.logger.Warn("pagination aborted", zap.Int("clicks", p.clicks), zap.Error(err))
	return StateAborted
}

func (p *paginator) extract(ctx context.Context) {
	refs, dups := p.engine.extractListings(ctx, p.page, p.site, p.suffix, p.logger)
	p.refs = append(p.refs, refs...)
	p.duplicates += dups
	p.extracted = true
}
