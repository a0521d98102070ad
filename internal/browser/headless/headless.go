// Package headless is the chromedp-backed browser driver for JavaScript-rendered
// sites.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// stealthScript runs before any page script in every document.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });`

const (
	textJS    = `function() { return this.textContent || ""; }`
	displayJS = `function() { return window.getComputedStyle(this).display; }`
	visibleJS = `function() {
	if (!this.isConnected) return false;
	const s = window.getComputedStyle(this);
	if (s.display === "none" || s.visibility === "hidden" || s.opacity === "0") return false;
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`
	extentJS   = `function() { return Math.max(0, this.scrollHeight - this.clientHeight); }`
	scrollToJS = `function(y) { this.scrollTop = y; }`
)

// Config controls the headless browser.
type Config struct {
	Headless       bool              `mapstructure:"headless"`
	ExecPath       string            `mapstructure:"exec_path"`
	UserAgent      string            `mapstructure:"user_agent"`
	AcceptLanguage string            `mapstructure:"accept_language"`
	WindowWidth    int               `mapstructure:"window_width"`
	WindowHeight   int               `mapstructure:"window_height"`
	Headers        map[string]string `mapstructure:"headers"`
	QueryTimeout   time.Duration     `mapstructure:"query_timeout"`
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "en-US,en;q=0.9"
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = 1366
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = 768
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
}

// Browser owns one Chrome process. Sessions are isolated browser contexts.
type Browser struct {
	cfg         Config
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New prepares the allocator. Chrome is launched by the first NewSession.
func New(cfg Config, logger *zap.Logger) *Browser {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	headless := any(false)
	if cfg.Headless {
		headless = "new"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{cfg: cfg, logger: logger, allocCtx: allocCtx, allocCancel: allocCancel}
}

func (b *Browser) ensureStarted(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	browserCtx, cancel := chromedp.NewContext(b.allocCtx, chromedp.WithErrorf(b.logger.Sugar().Debugf))
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b.browserCtx, b.browserCancel = browserCtx, cancel
	b.logger.Info("headless browser started", zap.Bool("headless", b.cfg.Headless))
	return browserCtx, nil
}

// NewSession opens a fresh browser context with its own cookies and storage.
func (b *Browser) NewSession(ctx context.Context) (crawler.Session, error) {
	browserCtx, err := b.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}
	sessCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(sessCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	return &Session{cfg: b.cfg, ctx: sessCtx, cancel: cancel, start: chromedp.Run}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCtx, b.browserCancel = nil, nil
	}
	b.allocCancel()
	return nil
}

// Session is one isolated browser context.
type Session struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	// start performs the first Run on a new tab.
	start func(ctx context.Context, actions ...chromedp.Action) error
}

// NewPage opens a tab in the session with the stealth setup applied.
func (s *Session) NewPage(ctx context.Context) (crawler.Page, error) {
	start := s.start
	if start == nil {
		start = chromedp.Run
	}
	tabCtx, cancel := chromedp.NewContext(s.ctx)
	p := &Page{cfg: s.cfg, ctx: tabCtx, cancel: cancel}
	// The first Run binds the tab's event loop to its context, so it gets
	// tabCtx itself. Deadlines only apply to later calls through p.run.
	stop := forwardCancel(ctx, cancel)
	err := start(tabCtx, p.setup())
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
		}
		return nil, fmt.Errorf("prepare page: %w", err)
	}
	return p, nil
}

// Close disposes the browser context and its tabs.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

// Page is a single tab. Calls must not overlap.
type Page struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *Page) setup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).
			WithAcceptLanguage(p.cfg.AcceptLanguage).
			WithPlatform("Win32").
			Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(
			int64(p.cfg.WindowWidth), int64(p.cfg.WindowHeight), 1, false,
		).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		headers := network.Headers{"Accept-Language": p.cfg.AcceptLanguage}
		for k, v := range p.cfg.Headers {
			headers[k] = v
		}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install init script: %w", err)
		}
		return nil
	})
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the body to be ready.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Query returns the first match of selector in the document.
func (p *Page) Query(ctx context.Context, selector string) (crawler.Element, error) {
	return first(p.QueryAll(ctx, selector))
}

// QueryAll returns every match of selector in the document without waiting.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]crawler.Element, error) {
	return p.queryAll(ctx, selector, nil)
}

func (p *Page) queryAll(ctx context.Context, selector string, from *cdp.Node) ([]crawler.Element, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if from != nil {
		opts = append(opts, chromedp.FromNode(from))
	}
	if err := p.run(ctx, p.cfg.QueryTimeout, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]crawler.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{page: p, node: n})
	}
	return out, nil
}

// Content returns the serialized document.
func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.cfg.QueryTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return html, nil
}

// MoveMouse dispatches a pointer move to the viewport coordinates.
func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	return p.run(ctx, p.cfg.QueryTimeout, chromedp.MouseEvent(input.MouseMoved, x, y))
}

// Close closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

type element struct {
	page *Page
	node *cdp.Node
}

func (e *element) Query(ctx context.Context, selector string) (crawler.Element, error) {
	return first(e.QueryAll(ctx, selector))
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]crawler.Element, error) {
	return e.page.queryAll(ctx, selector, e.node)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.call(ctx, textJS, &text)
	return text, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var attrs []string
	err := e.page.run(ctx, e.page.cfg.QueryTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		attrs, err = dom.GetAttributes(e.node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", false, fmt.Errorf("read attribute %q: %w", name, err)
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == name {
			return attrs[i+1], true, nil
		}
	}
	return "", false, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.call(ctx, visibleJS, &visible)
	return visible, err
}

func (e *element) Display(ctx context.Context) (string, error) {
	var display string
	err := e.call(ctx, displayJS, &display)
	return display, err
}

func (e *element) Click(ctx context.Context) error {
	if err := e.page.run(ctx, e.page.cfg.QueryTimeout, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	err := e.page.run(ctx, e.page.cfg.QueryTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.ScrollIntoViewIfNeeded().WithNodeID(e.node.NodeID).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	return nil
}

func (e *element) ScrollExtent(ctx context.Context) (int, error) {
	var extent int
	err := e.call(ctx, extentJS, &extent)
	return extent, err
}

func (e *element) ScrollTo(ctx context.Context, offset int) error {
	return e.call(ctx, scrollToJS, nil, offset)
}

// call invokes fn with the node bound to this.
func (e *element) call(ctx context.Context, fn string, res any, args ...any) error {
	return e.page.run(ctx, e.page.cfg.QueryTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
		return chromedp.CallFunctionOn(fn, res,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(obj.ObjectID)
			},
			args...,
		).Do(ctx)
	}))
}

func first(elems []crawler.Element, err error) (crawler.Element, error) {
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, crawler.ErrNotFound
	}
	return elems[0], nil
}

// forwardCancel cancels a chromedp task when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
