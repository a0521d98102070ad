// Package schema declares the per-site crawl and extraction descriptors and
// loads them from disk.
package schema

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PaginationMode selects how the listing engine pages through results.
type PaginationMode string

// Supported pagination modes.
const (
	// PaginationClickMore appends results to the page on every click; listings
	// are extracted once after the control is exhausted.
	PaginationClickMore PaginationMode = "click-more"
	// PaginationLive replaces the listing DOM on every click; listings are
	// extracted before each click.
	PaginationLive PaginationMode = "live-paginated"
)

// DefaultMaxClicks bounds the pagination loop when a site does not set maxClicks.
const DefaultMaxClicks = 50

// FieldRule is a locate, sanitize, split, translate, join recipe.
type FieldRule struct {
	Selector       string            `mapstructure:"selector"`
	Sanitize       bool              `mapstructure:"sanitize"`
	Split          string            `mapstructure:"split"`
	Translate      map[string]string `mapstructure:"translate"`
	JoinAfterSplit string            `mapstructure:"joinAfterSplit"`
}

// Fields maps the logical job fields to their rules.
type Fields struct {
	JobName         *FieldRule `mapstructure:"jobName"`
	CompanyName     *FieldRule `mapstructure:"companyName"`
	JobDescription  *FieldRule `mapstructure:"jobDescription"`
	JobLocation     *FieldRule `mapstructure:"jobLocation"`
	PublicationDate *FieldRule `mapstructure:"publicationDate"`
}

// LoginWait describes an indicator that stays visible until a human logs in.
type LoginWait struct {
	Selector string        `mapstructure:"selector"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Site is the immutable descriptor for one website.
type Site struct {
	Name                   string         `mapstructure:"name"`
	BaseURL                string         `mapstructure:"baseUrl"`
	URLs                   []string       `mapstructure:"urls"`
	ListSelector           string         `mapstructure:"listSelector"`
	ListingLink            string         `mapstructure:"listingLink"`
	ListingJobName         string         `mapstructure:"listingJobName"`
	ListingJobCompany      string         `mapstructure:"listingJobCompany"`
	Pagination             PaginationMode `mapstructure:"pagination"`
	LoadMoreSelector       string         `mapstructure:"loadMoreSelector"`
	LoadMoreBtnDisplayNone bool           `mapstructure:"loadMoreBtnDisplayNone"`
	ScrollToButton         bool           `mapstructure:"scrollToButton"`
	// MaxClicks bounds load-more clicks per path. Unset means DefaultMaxClicks;
	// an explicit 0 extracts the first page only.
	MaxClicks           *int       `mapstructure:"maxClicks"`
	ScrollContainer     string     `mapstructure:"scrollContainer"`
	PopupCloseSelectors []string   `mapstructure:"popupCloseSelectors"`
	AwaitsLogin         *LoginWait `mapstructure:"awaitsLogin"`
	JobDataSelectors    Fields     `mapstructure:"jobDataSelectors"`
}

// ApplyDefaults fills optional knobs.
func (s *Site) ApplyDefaults() {
	if s.Pagination == "" {
		s.Pagination = PaginationClickMore
	}
	if s.MaxClicks == nil {
		n := DefaultMaxClicks
		s.MaxClicks = &n
	}
}

// ClickLimit returns MaxClicks, or DefaultMaxClicks when unset.
func (s Site) ClickLimit() int {
	if s.MaxClicks == nil {
		return DefaultMaxClicks
	}
	return *s.MaxClicks
}

// Validate enforces required values.
func (s Site) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("%s: baseUrl must be an absolute URL", s.Name)
	}
	if len(s.URLs) == 0 {
		return fmt.Errorf("%s: urls must list at least one path", s.Name)
	}
	if s.ListSelector == "" {
		return fmt.Errorf("%s: listSelector is required", s.Name)
	}
	if s.ListingLink == "" {
		return fmt.Errorf("%s: listingLink is required", s.Name)
	}
	switch s.Pagination {
	case PaginationClickMore, PaginationLive, "":
	default:
		return fmt.Errorf("%s: unknown pagination mode %q", s.Name, s.Pagination)
	}
	if s.MaxClicks != nil && *s.MaxClicks < 0 {
		return fmt.Errorf("%s: maxClicks must be >= 0", s.Name)
	}
	if s.AwaitsLogin != nil && s.AwaitsLogin.Selector == "" {
		return fmt.Errorf("%s: awaitsLogin.selector is required", s.Name)
	}
	if s.JobDataSelectors.JobName == nil || s.JobDataSelectors.CompanyName == nil {
		return fmt.Errorf("%s: jobDataSelectors.jobName and jobDataSelectors.companyName are required", s.Name)
	}
	for name, rule := range s.JobDataSelectors.rules() {
		if rule != nil && rule.Selector == "" {
			return fmt.Errorf("%s: jobDataSelectors.%s.selector is required", s.Name, name)
		}
	}
	return nil
}

// PageURL appends a path suffix to the base URL.
func (s Site) PageURL(suffix string) string {
	return s.BaseURL + suffix
}

func (f Fields) rules() map[string]*FieldRule {
	return map[string]*FieldRule{
		"jobName":         f.JobName,
		"companyName":     f.CompanyName,
		"jobDescription":  f.JobDescription,
		"jobLocation":     f.JobLocation,
		"publicationDate": f.PublicationDate,
	}
}
