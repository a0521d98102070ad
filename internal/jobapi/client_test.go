package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
)

func newTestClient(t *testing.T, r http.Handler, cfg Config, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestCheckDuplicate(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Post("/api/jobs/check-duplicate", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		if !assert.NoError(t, json.NewDecoder(req.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "secret", req.Header.Get("X-API-Key"))
		assert.Equal(t, "https://acme.test/jobs/1", body["job_url"])
		dup := body["job_name"] == "Go Dev" && body["company_name"] == "Acme"
		_ = json.NewEncoder(w).Encode(map[string]any{"isDuplicate": dup, "message": "ok"})
	})
	c := newTestClient(t, r, Config{APIKey: "secret"})

	dup, err := c.CheckDuplicate(context.Background(), "Go Dev", "Acme", "https://acme.test/jobs/1")
	require.NoError(t, err)
	require.True(t, dup)

	dup, err = c.CheckDuplicate(context.Background(), "SRE", "Acme", "https://acme.test/jobs/1")
	require.NoError(t, err)
	require.False(t, dup)
}

func TestCheckDuplicateStatusError(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Post("/api/jobs/check-duplicate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, r, Config{})

	_, err := c.CheckDuplicate(context.Background(), "a", "b", "https://x.test/")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestCheckDuplicateTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	r := chi.NewRouter()
	r.Post("/api/jobs/check-duplicate", func(w http.ResponseWriter, _ *http.Request) {
		<-release
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer close(release)

	c, err := New(Config{BaseURL: srv.URL, Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.CheckDuplicate(context.Background(), "a", "b", "https://x.test/")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateJob(t *testing.T) {
	t.Parallel()

	var got createRequest
	r := chi.NewRouter()
	r.Post("/api/jobs", func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "message": "Job created successfully"}`))
	})
	c := newTestClient(t, r, Config{})

	id, err := c.CreateJob(context.Background(), crawler.JobRecord{
		URL:         "https://acme.test/jobs/7?ref=list",
		Website:     "acme",
		Title:       "Go Dev",
		Company:     "Acme",
		Description: "Write Go.",
		Locations:   []string{"Berlin", "Remote"},
		PublishedAt: "2024-05-01",
	})
	require.NoError(t, err)
	require.Equal(t, "42", id)
	require.Equal(t, createRequest{
		JobName:         "Go Dev",
		JobDescription:  "Write Go.",
		CompanyName:     "Acme",
		Location:        "Berlin, Remote",
		PublicationDate: "2024-05-01",
		WebsiteName:     "acme",
		WebsiteURL:      "https://acme.test",
		JobURL:          "/jobs/7?ref=list",
		Tags:            []string{},
	}, got)
}

func TestCreateJobStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, id string, err error)
	}{
		{
			name:   "string id",
			status: http.StatusCreated,
			body:   `{"id":"abc-1"}`,
			check: func(t *testing.T, id string, err error) {
				require.NoError(t, err)
				require.Equal(t, "abc-1", id)
			},
		},
		{
			name:   "conflict",
			status: http.StatusConflict,
			body:   `{"error":"Job already exists","statusCode":409,"existing_job_id":9}`,
			check: func(t *testing.T, _ string, err error) {
				require.ErrorIs(t, err, ErrConflict)
			},
		},
		{
			name:   "server error keeps message",
			status: http.StatusInternalServerError,
			body:   `{"error":"db down"}`,
			check: func(t *testing.T, _ string, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				require.Equal(t, "db down", se.Message)
				require.False(t, errors.Is(err, ErrConflict))
			},
		},
		{
			name:   "html error page",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			check: func(t *testing.T, _ string, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				require.Equal(t, http.StatusBadGateway, se.StatusCode)
			},
		},
		{
			name:   "created without id",
			status: http.StatusCreated,
			body:   `{"message":"ok"}`,
			check: func(t *testing.T, _ string, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := chi.NewRouter()
			r.Post("/api/jobs", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			c := newTestClient(t, r, Config{})
			id, err := c.CreateJob(context.Background(), crawler.JobRecord{URL: "https://acme.test/j"})
			tc.check(t, id, err)
		})
	}
}

func TestCreateJobRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := chi.NewRouter()
	r.Post("/api/jobs", func(w http.ResponseWriter, _ *http.Request) { calls.Add(1) })
	c := newTestClient(t, r, Config{})

	_, err := c.CreateJob(context.Background(), crawler.JobRecord{URL: "/jobs/1"})
	require.Error(t, err)
	require.Zero(t, calls.Load())
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw, origin, path string
	}{
		{"https://acme.test/jobs/1", "https://acme.test", "/jobs/1"},
		{"https://acme.test:8443/jobs?id=3&x=y", "https://acme.test:8443", "/jobs?id=3&x=y"},
		{"http://acme.test", "http://acme.test", "/"},
		{"https://acme.test/a%20b", "https://acme.test", "/a%20b"},
	}
	for _, tc := range tests {
		origin, path, err := NormalizeURL(tc.raw)
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.origin, origin, tc.raw)
		require.Equal(t, tc.path, path, tc.raw)
	}

	_, _, err := NormalizeURL("not a url")
	require.Error(t, err)
}

func TestObserverAndRateLimit(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Post("/api/jobs/check-duplicate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"isDuplicate":false}`))
	})
	var observed []int
	c := newTestClient(t, r, Config{RateLimit: 1000, Burst: 1}, WithObserver(func(endpoint string, status int, _ time.Duration) {
		assert.Equal(t, "/api/jobs/check-duplicate", endpoint)
		observed = append(observed, status)
	}))

	for i := 0; i < 3; i++ {
		_, err := c.CheckDuplicate(context.Background(), "a", "b", "https://x.test/")
		require.NoError(t, err)
	}
	require.Equal(t, []int{200, 200, 200}, observed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CheckDuplicate(ctx, "a", "b", "https://x.test/")
	require.Error(t, err)
}

func TestNewValidatesBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "localhost:3000"})
	require.Error(t, err)
	c, err := New(Config{BaseURL: "http://localhost:3000/"})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, c.timeout)
}
