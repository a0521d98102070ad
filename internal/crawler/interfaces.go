package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by Scope.Query when nothing matches the selector.
	ErrNotFound = errors.New("element not found")
	// ErrUnsupported is returned by drivers that cannot perform an interaction.
	ErrUnsupported = errors.New("operation not supported by browser driver")
)

// Scope is anything selectors can be evaluated against: a page or an element.
type Scope interface {
	// Query returns the first match or ErrNotFound.
	Query(ctx context.Context, selector string) (Element, error)
	// QueryAll returns every match in document order; no match is not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Element is a handle to a DOM node on a live page.
type Element interface {
	Scope
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)
	// Display returns the computed CSS display value.
	Display(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	// ScrollExtent is the largest useful scrollTop (scrollHeight - clientHeight).
	ScrollExtent(ctx context.Context) (int, error)
	ScrollTo(ctx context.Context, offset int) error
}

// Page is a single browser tab. It is not safe for concurrent use.
type Page interface {
	Scope
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Content returns the serialized DOM.
	Content(ctx context.Context) (string, error)
	MoveMouse(ctx context.Context, x, y float64) error
	Close() error
}

// Session is an isolated browser context; pages opened from it share cookies.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Browser opens isolated sessions.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// DuplicateChecker asks the remote authority whether a posting already exists.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, title, company, url string) (bool, error)
}

// JobSaver creates a job on the remote authority and returns its id.
type JobSaver interface {
	CreateJob(ctx context.Context, rec JobRecord) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Pauser sleeps for a duration or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("crawl run already in progress")
