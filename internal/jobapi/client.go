// Package jobapi is the HTTP client for the job API, which owns job records and
// is the authority on duplicates.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
)

const (
	checkDuplicatePath = "/api/jobs/check-duplicate"
	createJobPath      = "/api/jobs"
	apiKeyHeader       = "X-API-Key"
	maxErrorBody       = 4 << 10
)

// ErrConflict reports that the API already holds an equivalent job (HTTP 409).
var ErrConflict = errors.New("jobapi: job already exists")

// StatusError is an unexpected HTTP status from the API.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("jobapi: %s returned %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("jobapi: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Config configures the client.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second; 0 disables
	Burst     int           `mapstructure:"burst"`
}

// Observer is notified after every API call. status is 0 when no response arrived.
type Observer func(endpoint string, status int, elapsed time.Duration)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers a call observer.
func WithObserver(obs Observer) Option {
	return func(c *Client) { c.observe = obs }
}

// Client talks to the job API. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
	http    *http.Client
	logger  *zap.Logger
	observe Observer
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		base:    base,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type duplicateRequest struct {
	JobName     string `json:"job_name"`
	CompanyName string `json:"company_name"`
	JobURL      string `json:"job_url"`
}

type duplicateResponse struct {
	IsDuplicate bool `json:"isDuplicate"`
}

// CheckDuplicate asks whether a job with this title and company is already known.
func (c *Client) CheckDuplicate(ctx context.Context, title, company, jobURL string) (bool, error) {
	var out duplicateResponse
	status, err := c.post(ctx, checkDuplicatePath, duplicateRequest{
		JobName:     title,
		CompanyName: company,
		JobURL:      jobURL,
	}, &out)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, &StatusError{Endpoint: checkDuplicatePath, StatusCode: status}
	}
	return out.IsDuplicate, nil
}

type createRequest struct {
	JobName         string   `json:"job_name"`
	JobDescription  string   `json:"job_description"`
	CompanyName     string   `json:"company_name"`
	Location        string   `json:"location"`
	PublicationDate string   `json:"publication_date"`
	WebsiteName     string   `json:"website_name"`
	WebsiteURL      string   `json:"website_url"`
	JobURL          string   `json:"job_url"`
	Tags            []string `json:"tags"`
}

type createResponse struct {
	ID      json.RawMessage `json:"id"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// CreateJob stores rec and returns the new job's id. A 409 yields ErrConflict.
func (c *Client) CreateJob(ctx context.Context, rec crawler.JobRecord) (string, error) {
	origin, pathQuery, err := NormalizeURL(rec.URL)
	if err != nil {
		return "", err
	}
	req := createRequest{
		JobName:         rec.Title,
		JobDescription:  rec.Description,
		CompanyName:     rec.Company,
		Location:        rec.Location(),
		PublicationDate: rec.PublishedAt,
		WebsiteName:     rec.Website,
		WebsiteURL:      origin,
		JobURL:          pathQuery,
		Tags:            []string{},
	}
	var out createResponse
	status, err := c.post(ctx, createJobPath, req, &out)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusCreated:
		id := decodeID(out.ID)
		if id == "" {
			return "", &StatusError{Endpoint: createJobPath, StatusCode: status, Message: "response carried no id"}
		}
		return id, nil
	case http.StatusConflict:
		return "", ErrConflict
	default:
		return "", &StatusError{Endpoint: createJobPath, StatusCode: status, Message: out.Error}
	}
}

// NormalizeURL splits raw into its origin and its path plus query.
func NormalizeURL(raw string) (origin, pathQuery string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse job url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("job url %q must be absolute", raw)
	}
	pathQuery = u.EscapedPath()
	if pathQuery == "" {
		pathQuery = "/"
	}
	if u.RawQuery != "" {
		pathQuery += "?" + u.RawQuery
	}
	return u.Scheme + "://" + u.Host, pathQuery, nil
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// post sends body as JSON and decodes a JSON reply into out. Non-2xx bodies are
// decoded best-effort so error messages survive.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("jobapi: rate limit: %w", err)
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("jobapi: encode %s: %w", endpoint, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.base.JoinPath(endpoint).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("jobapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.notify(endpoint, 0, start)
		return 0, fmt.Errorf("jobapi: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.notify(endpoint, resp.StatusCode, start)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("jobapi: read %s response: %w", endpoint, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("jobapi: decode %s response: %w", endpoint, err)
		}
		c.logger.Debug("non-json error body",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data[:min(len(data), maxErrorBody)]),
		)
	}
	return resp.StatusCode, nil
}

func (c *Client) notify(endpoint string, status int, start time.Time) {
	if c.observe != nil {
		c.observe(endpoint, status, time.Since(start))
	}
}
