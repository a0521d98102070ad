package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBlockKeywords are phrases anti-bot interstitials commonly contain.
var DefaultBlockKeywords = []string{
	"captcha",
	"are you a robot",
	"access denied",
	"unusual traffic",
	"verify you are human",
	"request blocked",
}

// BlockDetector recognizes anti-bot or challenge pages from their HTML.
type BlockDetector struct {
	minTextBytes int
	selectors    []string
	keywords     []string
}

// NewBlockDetector builds a detector. minTextBytes flags pages whose visible
// text is shorter; selectors flag pages that contain any of them.
func NewBlockDetector(minTextBytes int, selectors, keywords []string) *BlockDetector {
	lower := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lower = append(lower, kw)
		}
	}
	return &BlockDetector{minTextBytes: minTextBytes, selectors: selectors, keywords: lower}
}

// Blocked reports whether html looks like a challenge page rather than a
// posting, along with the matched signal.
func (d *BlockDetector) Blocked(html string) (bool, string) {
	if d == nil || html == "" {
		return false, ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, ""
	}
	for _, sel := range d.selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true, "selector " + sel
		}
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.ToLower(strings.Join(strings.Fields(doc.Text()), " "))
	for _, kw := range d.keywords {
		if strings.Contains(text, kw) {
			return true, "keyword " + kw
		}
	}
	if d.minTextBytes > 0 && len(text) < d.minTextBytes {
		return true, "near-empty page"
	}
	return false, ""
}
