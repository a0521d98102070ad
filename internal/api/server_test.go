package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/job-listing-crawler/internal/store"
)

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{}, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestReadyzReportsFailedChecks(t *testing.T) {
	t.Parallel()

	ok := ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }}
	bad := ReadyCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	rec := httptest.NewRecorder()
	NewServer(Config{}, nil, nil, nil, ok).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewServer(Config{}, nil, nil, nil, ok, bad).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
	require.NotContains(t, rec.Body.String(), `"db"`)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{APIKey: "secret"}, memory.NewRunStore(), nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunHistoryRoutes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRunStore()
	id := uuid.New()
	t0 := time.Unix(1700000000, 0).UTC()
	require.NoError(t, repo.StartRun(ctx, id, t0))
	require.NoError(t, repo.AddSiteCounters(ctx, store.SiteCounters{RunID: id, Site: "acme", LastUpdate: t0, Listings: 4, Saved: 3, Failed: 1}))
	require.NoError(t, repo.FinishRun(ctx, id, t0.Add(time.Minute), store.RunSuccess, nil))

	srv := NewServer(Config{}, repo, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?status=success", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, id, list.Runs[0].ID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Run         store.Run `json:"run"`
		SuccessRate float64   `json:"success_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Equal(t, int64(3), one.Run.Saved)
	require.InDelta(t, 75.0, one.SuccessRate, 1e-9)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+id.String()+"/sites", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"site":"acme"`)
}

func TestRunHistoryErrors(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{}, memory.NewRunStore(), nil, zap.NewNop())
	cases := []struct {
		path string
		code int
	}{
		{"/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"/v1/runs/" + uuid.NewString(), http.StatusNotFound},
		{"/v1/runs?limit=-1", http.StatusBadRequest},
		{"/v1/runs?offset=x", http.StatusBadRequest},
		{"/v1/runs?status=paused", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		require.Equal(t, tc.code, rec.Code, tc.path)
	}

	rec := httptest.NewRecorder()
	NewServer(Config{}, nil, nil, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	trig := &fakeTrigger{id: id}
	srv := NewServer(Config{}, nil, trig, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), id.String())

	trig.err = crawler.ErrRunInProgress
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	trig.err = errors.New("boom")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	NewServer(Config{}, nil, nil, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	NewServer(Config{}, nil, nil, nil).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(Config{}, nil, nil, nil)
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, Config{Addr: "127.0.0.1:0"}) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestResponseWriterHijackUnsupported(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "not supported"))
}

// --- fakes ---

type fakeTrigger struct {
	id  uuid.UUID
	err error
}

func (f *fakeTrigger) TriggerRun(context.Context) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.UUID{}, f.err
	}
	return f.id, nil
}
