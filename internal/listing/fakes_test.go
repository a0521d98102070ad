package listing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
)

// --- fakes ---

// fakeNode is a scriptable DOM node. Nil funcs fall back to static fields.
type fakeNode struct {
	text     string
	attrs    map[string]string
	kids     map[string][]*fakeNode
	hidden   bool
	display  string
	visible  func() bool
	onClick  func() error
	onScroll func(offset int) error
	extent   func() int
}

func (n *fakeNode) Query(ctx context.Context, selector string) (crawler.Element, error) {
	all, _ := n.QueryAll(ctx, selector)
	if len(all) == 0 {
		return nil, crawler.ErrNotFound
	}
	return all[0], nil
}

func (n *fakeNode) QueryAll(_ context.Context, selector string) ([]crawler.Element, error) {
	var out []crawler.Element
	for _, k := range n.kids[selector] {
		out = append(out, k)
	}
	return out, nil
}

func (n *fakeNode) Text(context.Context) (string, error) { return n.text, nil }

func (n *fakeNode) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := n.attrs[name]
	return v, ok, nil
}

func (n *fakeNode) Visible(context.Context) (bool, error) {
	if n.visible != nil {
		return n.visible(), nil
	}
	return !n.hidden, nil
}

func (n *fakeNode) Display(context.Context) (string, error) {
	if n.display == "" {
		return "block", nil
	}
	return n.display, nil
}

func (n *fakeNode) Click(context.Context) error {
	if n.onClick != nil {
		return n.onClick()
	}
	return nil
}

func (n *fakeNode) ScrollIntoView(context.Context) error { return nil }

func (n *fakeNode) ScrollExtent(context.Context) (int, error) {
	if n.extent != nil {
		return n.extent(), nil
	}
	return 0, nil
}

func (n *fakeNode) ScrollTo(_ context.Context, offset int) error {
	if n.onScroll != nil {
		return n.onScroll(offset)
	}
	return nil
}

func listingItem(href, title, company string) *fakeNode {
	item := &fakeNode{kids: map[string][]*fakeNode{
		"a": {{attrs: map[string]string{"href": href}, text: title}},
	}}
	if title != "" {
		item.kids[".title"] = []*fakeNode{{text: title}}
	}
	if company != "" {
		item.kids[".company"] = []*fakeNode{{text: company}}
	}
	return item
}

// fakePage resolves selectors through a callback so tests can mutate the DOM.
type fakePage struct {
	mu        sync.Mutex
	dom       func(selector string) []*fakeNode
	navErr    map[string]error
	navigated []string
	listReads int
	listSel   string
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return p.navErr[url]
}

func (p *fakePage) Query(ctx context.Context, selector string) (crawler.Element, error) {
	nodes := p.dom(selector)
	if len(nodes) == 0 {
		return nil, crawler.ErrNotFound
	}
	return nodes[0], nil
}

func (p *fakePage) QueryAll(_ context.Context, selector string) ([]crawler.Element, error) {
	p.mu.Lock()
	if selector == p.listSel {
		p.listReads++
	}
	p.mu.Unlock()
	var out []crawler.Element
	for _, n := range p.dom(selector) {
		out = append(out, n)
	}
	return out, nil
}

func (p *fakePage) Content(context.Context) (string, error) { return "", nil }

func (p *fakePage) MoveMouse(context.Context, float64, float64) error { return nil }

func (p *fakePage) Close() error { return nil }

type nopPauser struct{}

func (nopPauser) Pause(context.Context, time.Duration) {}

type fakeChecker struct {
	mu    sync.Mutex
	dups  map[string]bool
	errs  map[string]error
	calls []string
}

func (c *fakeChecker) CheckDuplicate(_ context.Context, title, _ string, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, title)
	if err := c.errs[url]; err != nil {
		return false, err
	}
	return c.dups[url], nil
}

var errDetached = errors.New("node detached")
