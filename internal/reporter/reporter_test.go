package reporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/job-listing-crawler/internal/persist"
)

func sampleReport() Report {
	return Report{
		RunID:    uuid.MustParse("0190f2a0-0000-7000-8000-000000000001"),
		Duration: 95 * time.Second,
		Sites: []SiteReport{
			{Name: "acme", Listings: 12, AbortedPaths: 1},
			{Name: "<globex>", Listings: 3},
		},
		Summary: persist.Summary{Processed: 6, Saved: 3, Duplicate: 1, Skipped: 2},
	}
}

func TestFormatHTML(t *testing.T) {
	t.Parallel()

	out := FormatHTML(sampleReport())
	require.Contains(t, out, "Crawl run finished")
	require.Contains(t, out, "acme: 12 listings (1 aborted)")
	require.Contains(t, out, "&lt;globex&gt;")
	require.Contains(t, out, "Saved 3")
	require.Contains(t, out, "<b>50.00%</b>")
	require.Contains(t, out, "1m35s")

	r := sampleReport()
	r.Err = errors.New("browser <crashed>")
	out = FormatHTML(r)
	require.Contains(t, out, "Crawl run failed")
	require.Contains(t, out, "browser &lt;crashed&gt;")
}

func TestLogReporter(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	rep := NewLogReporter(zap.New(core))
	require.NoError(t, rep.Report(context.Background(), sampleReport()))

	finished := logs.FilterMessage("run finished").All()
	require.Len(t, finished, 1)
	require.Equal(t, "50.00%", finished[0].ContextMap()["success_rate"])
	require.Len(t, logs.FilterMessage("site summary").All(), 2)
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var called int
	m := Multi{
		reporterFunc(func(context.Context, Report) error { called++; return boom }),
		nil,
		reporterFunc(func(context.Context, Report) error { called++; return nil }),
	}
	err := m.Report(context.Background(), sampleReport())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, called)
}

func TestTelegramReporterSends(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		sent []string
		mode string
		chat string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"crawler","username":"crawler_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			mu.Lock()
			sent = append(sent, r.PostForm.Get("text"))
			mode = r.PostForm.Get("parse_mode")
			chat = r.PostForm.Get("chat_id")
			mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	rep, err := NewTelegramReporter(TelegramConfig{
		Token:       "123:abc",
		ChatID:      42,
		APIEndpoint: srv.URL + "/bot%s/%s",
	})
	require.NoError(t, err)
	require.NoError(t, rep.Report(context.Background(), sampleReport()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0], "Crawl run finished")
	require.Equal(t, "HTML", mode)
	require.Equal(t, "42", chat)
}

func TestTelegramReporterConfig(t *testing.T) {
	t.Parallel()

	_, err := NewTelegramReporter(TelegramConfig{})
	require.Error(t, err)
	_, err = NewTelegramReporter(TelegramConfig{Token: "x"})
	require.Error(t, err)
}

// --- fakes ---

type reporterFunc func(context.Context, Report) error

func (f reporterFunc) Report(ctx context.Context, r Report) error { return f(ctx, r) }
