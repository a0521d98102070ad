// Package static implements crawler.Browser for server-rendered sites. Pages
// are fetched with colly and queried with goquery; nothing is executed, so
// interactions such as clicking report crawler.ErrUnsupported.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
)

// Config controls the static driver.
type Config struct {
	UserAgent string
	Headers   map[string]string
}

// Browser hands out cookie-isolated sessions.
type Browser struct {
	cfg Config
}

// New builds a static Browser.
func New(cfg Config) *Browser {
	return &Browser{cfg: cfg}
}

// NewSession returns a session with its own cookie jar.
func (b *Browser) NewSession(context.Context) (crawler.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &session{cfg: b.cfg, jar: jar}, nil
}

// Close implements crawler.Browser; there is nothing to release.
func (b *Browser) Close() error {
	return nil
}

type session struct {
	cfg Config
	jar http.CookieJar
}

func (s *session) NewPage(context.Context) (crawler.Page, error) {
	return &Page{cfg: s.cfg, jar: s.jar}, nil
}

func (s *session) Close() error {
	return nil
}

// Page is a parsed document. It satisfies crawler.Page.
type Page struct {
	cfg Config
	jar http.CookieJar
	doc *goquery.Document
}

// NewPageFromHTML parses markup into a Page without fetching anything.
func NewPageFromHTML(html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: doc}, nil
}

// Navigate fetches url and replaces the current document.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	}
	if p.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(p.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	if timeout > 0 {
		c.SetRequestTimeout(timeout)
	}
	if p.jar != nil {
		c.SetCookieJar(p.jar)
	}
	c.OnRequest(func(r *colly.Request) {
		for k, v := range p.cfg.Headers {
			r.Headers.Set(k, v)
		}
	})
	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	if err := c.Visit(url); err != nil {
		return fmt.Errorf("visit %s: %w", url, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	p.doc = doc
	return nil
}

// Query returns the first element matching selector.
func (p *Page) Query(ctx context.Context, selector string) (crawler.Element, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("query %q: no document loaded", selector)
	}
	return element{sel: p.doc.Selection}.Query(ctx, selector)
}

// QueryAll returns every element matching selector.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]crawler.Element, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("query %q: no document loaded", selector)
	}
	return element{sel: p.doc.Selection}.QueryAll(ctx, selector)
}

// Content serializes the current document.
func (p *Page) Content(context.Context) (string, error) {
	if p.doc == nil {
		return "", nil
	}
	html, err := p.doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return html, nil
}

// MoveMouse is a no-op; there is no pointer.
func (p *Page) MoveMouse(context.Context, float64, float64) error {
	return nil
}

// Close drops the document.
func (p *Page) Close() error {
	p.doc = nil
	return nil
}

type element struct {
	sel *goquery.Selection
}

func (e element) Query(_ context.Context, selector string) (crawler.Element, error) {
	match := e.sel.Find(selector).First()
	if match.Length() == 0 {
		return nil, crawler.ErrNotFound
	}
	return element{sel: match}, nil
}

func (e element) QueryAll(_ context.Context, selector string) ([]crawler.Element, error) {
	matches := e.sel.Find(selector)
	out := make([]crawler.Element, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, element{sel: s})
	})
	return out, nil
}

func (e element) Text(context.Context) (string, error) {
	return e.sel.Text(), nil
}

func (e element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// Visible approximates layout with inline styles and the hidden attribute on
// the element and its ancestors.
func (e element) Visible(context.Context) (bool, error) {
	if hidden(e.sel) {
		return false, nil
	}
	visible := true
	e.sel.Parents().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if hidden(s) {
			visible = false
		}
		return visible
	})
	return visible, nil
}

func (e element) Display(context.Context) (string, error) {
	if _, ok := e.sel.Attr("hidden"); ok {
		return "none", nil
	}
	if v := inlineStyle(e.sel, "display"); v != "" {
		return v, nil
	}
	return "block", nil
}

func (e element) Click(context.Context) error {
	return crawler.ErrUnsupported
}

func (e element) ScrollIntoView(context.Context) error {
	return nil
}

func (e element) ScrollExtent(context.Context) (int, error) {
	return 0, nil
}

func (e element) ScrollTo(context.Context, int) error {
	return nil
}

func hidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	return inlineStyle(s, "display") == "none" || inlineStyle(s, "visibility") == "hidden"
}

func inlineStyle(s *goquery.Selection, property string) string {
	style, ok := s.Attr("style")
	if !ok {
		return ""
	}
	for _, decl := range strings.Split(style, ";") {
		name, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), property) {
			value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
			return strings.ToLower(value)
		}
	}
	return ""
}
