// Package worker runs crawl runs: listing discovery for every site, then
// detail extraction feeding the persistence pipeline.
package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/extract"
	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/metrics"
	"github.com/JakeFAU/job-listing-crawler/internal/persist"
	"github.com/JakeFAU/job-listing-crawler/internal/progress"
	"github.com/JakeFAU/job-listing-crawler/internal/reporter"
	"github.com/JakeFAU/job-listing-crawler/internal/schema"
)

// EventJobSaved is the event name carried by save notifications.
const EventJobSaved = "job.saved"

// Config controls run pacing and side outputs.
type Config struct {
	// SitePause separates the listing phase of consecutive sites.
	SitePause time.Duration `mapstructure:"site_pause"`
	// RecordPause separates detail pages inside a batch.
	RecordPause crawler.Delay `mapstructure:"record_pause"`
	BatchSize   int           `mapstructure:"batch_size"`
	BatchPause  time.Duration `mapstructure:"batch_pause"`
	// DrainTimeout bounds the wait for in-flight saves once extraction ends.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// Topic receives job.saved notifications; empty disables them.
	Topic          string        `mapstructure:"topic"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	// SnapshotPrefix roots the blob paths of unusable detail pages.
	SnapshotPrefix string `mapstructure:"snapshot_prefix"`
}

// DefaultConfig returns the pacing used in production.
func DefaultConfig() Config {
	return Config{
		SitePause:      2 * time.Second,
		RecordPause:    crawler.Delay{Min: 300 * time.Millisecond, Max: time.Second},
		BatchSize:      10,
		BatchPause:     500 * time.Millisecond,
		DrainTimeout:   2 * time.Minute,
		PublishTimeout: 10 * time.Second,
		SnapshotPrefix: "snapshots",
	}
}

// Rememberer records postings the job API now holds.
type Rememberer interface {
	Remember(ctx context.Context, title, company string)
}

// Deps are the collaborators of a Worker. Browser, Listing, Extractor and
// Saver are required; the rest are optional.
type Deps struct {
	Browser   crawler.Browser
	Listing   *listing.Engine
	Extractor *extract.Extractor
	Saver     crawler.JobSaver
	Persist   persist.Config
	// PersistOptions are appended to the pipeline options of every run.
	PersistOptions []persist.Option

	Events    progress.Emitter
	Snapshots crawler.BlobStore
	Blocks    *crawler.BlockDetector
	Publisher crawler.Publisher
	Cache     Rememberer
	Reporter  reporter.Reporter
	Pauser    crawler.Pauser
	Now       func() time.Time
	Logger    *zap.Logger
	// BaseContext parents runs started through TriggerRun.
	BaseContext context.Context
}

// Worker executes crawl runs over a fixed set of sites. At most one run is
// active at a time.
type Worker struct {
	cfg   Config
	deps  Deps
	sites []schema.Site

	running atomic.Bool
	wg      sync.WaitGroup
}

// JobSaved is the notification published for every created job.
type JobSaved struct {
	Event   string    `json:"event"`
	RunID   string    `json:"run_id"`
	JobID   string    `json:"job_id"`
	Website string    `json:"website"`
	URL     string    `json:"url"`
	Title   string    `json:"job_name"`
	Company string    `json:"company_name"`
	SavedAt time.Time `json:"saved_at"`
}

// New constructs a Worker for sites.
func New(cfg Config, sites []schema.Site, deps Deps) (*Worker, error) {
	if deps.Browser == nil {
		return nil, errors.New("worker: browser is required")
	}
	if deps.Listing == nil || deps.Extractor == nil {
		return nil, errors.New("worker: listing engine and extractor are required")
	}
	if deps.Saver == nil {
		return nil, errors.New("worker: job saver is required")
	}
	if len(sites) == 0 {
		return nil, errors.New("worker: no sites to crawl")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	return &Worker{cfg: cfg, deps: deps, sites: sites}, nil
}

// Running reports whether a run is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// TriggerRun starts a run in the background and returns its id. It fails with
// crawler.ErrRunInProgress while another run is active.
func (w *Worker) TriggerRun(context.Context) (uuid.UUID, error) {
	if !w.running.CompareAndSwap(false, true) {
		return uuid.Nil, crawler.ErrRunInProgress
	}
	runID, err := uuid.NewV7()
	if err != nil {
		w.running.Store(false)
		return uuid.Nil, fmt.Errorf("run id: %w", err)
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.running.Store(false)
		if _, err := w.run(w.deps.BaseContext, runID); err != nil {
			w.deps.Logger.Warn("triggered run ended with error", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}()
	return runID, nil
}

// Wait blocks until runs started through TriggerRun have returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// RunOnce executes one run in the caller's goroutine.
func (w *Worker) RunOnce(ctx context.Context) (reporter.Report, error) {
	if !w.running.CompareAndSwap(false, true) {
		return reporter.Report{}, crawler.ErrRunInProgress
	}
	defer w.running.Store(false)
	runID, err := uuid.NewV7()
	if err != nil {
		return reporter.Report{}, fmt.Errorf("run id: %w", err)
	}
	return w.run(ctx, runID)
}

// Scheduled adapts RunOnce to a scheduler job; overlapping ticks are logged.
func (w *Worker) Scheduled(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.deps.Logger.Warn("scheduled run ended with error", zap.Error(err))
	}
}

func (w *Worker) run(ctx context.Context, runID uuid.UUID) (reporter.Report, error) {
	rid := progress.UUIDToBytes(runID)
	logger := w.deps.Logger.With(zap.String("run_id", runID.String()))
	started := w.deps.Now()
	w.emit(progress.Event{RunID: rid, Stage: progress.StageRunStart})
	logger.Info("run started", zap.Int("sites", len(w.sites)))

	fields := make(map[string]schema.Fields, len(w.sites))
	var refs []crawler.ListingReference
	report := reporter.Report{RunID: runID, StartedAt: started}
	for i, site := range w.sites {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			w.deps.Pauser.Pause(ctx, w.cfg.SitePause)
		}
		fields[site.Name] = site.JobDataSelectors
		res, err := w.crawlSite(ctx, site)
		siteReport := reporter.SiteReport{Name: site.Name, Listings: len(res.References)}
		for _, p := range res.Paths {
			siteReport.Duplicates += p.Duplicates
			if p.State == listing.StateAborted {
				siteReport.AbortedPaths++
			}
			metrics.ObserveListingPath(site.Name, string(p.State), p.Clicks)
		}
		report.Sites = append(report.Sites, siteReport)
		evt := progress.Event{RunID: rid, Stage: progress.StageSiteDone, Site: site.Name, Count: int64(len(res.References))}
		if err != nil {
			evt.Note = err.Error()
			logger.Warn("site listing failed", zap.String("site", site.Name), zap.Error(err))
		}
		w.emit(evt)
		refs = append(refs, res.References...)
	}
	logger.Info("listing phase done", zap.Int("references", len(refs)))

	pipeline := persist.New(w.deps.Persist, w.deps.Saver, logger, w.persistOptions(runID)...)
	runErr := w.extractAll(ctx, runID, refs, fields, pipeline)

	drainCtx := context.WithoutCancel(ctx)
	if w.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(drainCtx, w.cfg.DrainTimeout)
		defer cancel()
	}
	summary, waitErr := pipeline.Wait(drainCtx)
	metrics.SetSavesInFlight(0)
	if waitErr != nil {
		runErr = errors.Join(runErr, fmt.Errorf("drain saves: %w", waitErr))
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	report.Summary = summary
	report.Duration = w.deps.Now().Sub(started)
	report.Err = runErr
	final := progress.Event{RunID: rid, Stage: progress.StageRunDone, Dur: report.Duration}
	if runErr != nil {
		final.Stage = progress.StageRunError
		final.Note = runErr.Error()
	}
	w.emit(final)
	logger.Info("run finished",
		zap.Int64("saved", summary.Saved),
		zap.Int64("duplicate", summary.Duplicate),
		zap.Int64("failed", summary.Failed),
		zap.Int64("skipped", summary.Skipped),
		zap.Duration("duration", report.Duration),
	)

	if w.deps.Reporter != nil {
		if err := w.deps.Reporter.Report(drainCtx, report); err != nil {
			logger.Warn("run report failed", zap.Error(err))
		}
	}
	return report, runErr
}

// crawlSite runs the listing engine in a session of its own so cookies and
// storage never leak between sites.
func (w *Worker) crawlSite(ctx context.Context, site schema.Site) (listing.Result, error) {
	session, err := w.deps.Browser.NewSession(ctx)
	if err != nil {
		return listing.Result{Site: site.Name}, fmt.Errorf("open session: %w", err)
	}
	defer closeQuietly(session, w.deps.Logger)
	page, err := session.NewPage(ctx)
	if err != nil {
		return listing.Result{Site: site.Name}, fmt.Errorf("open page: %w", err)
	}
	defer closeQuietly(page, w.deps.Logger)
	return w.deps.Listing.Crawl(ctx, page, site), nil
}

// extractAll visits every reference in batches from a single page and hands
// complete records to the pipeline.
func (w *Worker) extractAll(
	ctx context.Context,
	runID uuid.UUID,
	refs []crawler.ListingReference,
	fields map[string]schema.Fields,
	pipeline *persist.Pipeline,
) error {
	if len(refs) == 0 {
		return nil
	}
	session, err := w.deps.Browser.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("open detail session: %w", err)
	}
	defer closeQuietly(session, w.deps.Logger)
	page, err := session.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open detail page: %w", err)
	}
	defer closeQuietly(page, w.deps.Logger)

	for start := 0; start < len(refs); start += w.cfg.BatchSize {
		if start > 0 {
			w.deps.Pauser.Pause(ctx, w.cfg.BatchPause)
		}
		end := min(start+w.cfg.BatchSize, len(refs))
		for i, ref := range refs[start:end] {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if i > 0 {
				w.deps.Pauser.Pause(ctx, w.cfg.RecordPause.Next())
			}
			rec, err := w.deps.Extractor.Extract(ctx, page, ref, fields[ref.Website])
			if err != nil {
				w.skip(ctx, runID, page, ref, err, pipeline)
				continue
			}
			metrics.ObserveDetail(ref.Website, "extracted")
			if err := pipeline.Submit(ctx, rec); err != nil {
				return err
			}
			metrics.SetSavesInFlight(pipeline.InFlight())
		}
	}
	return nil
}

func (w *Worker) skip(
	ctx context.Context,
	runID uuid.UUID,
	page crawler.Page,
	ref crawler.ListingReference,
	cause error,
	pipeline *persist.Pipeline,
) {
	pipeline.Skip()
	result, reason := "navigation_failed", cause.Error()
	if errors.Is(cause, extract.ErrIncomplete) {
		result = "incomplete"
		result, reason = w.snapshot(ctx, runID, page, ref, result, reason)
	}
	metrics.ObserveDetail(ref.Website, result)
	w.deps.Logger.Info("record skipped",
		zap.String("run_id", runID.String()),
		zap.String("site", ref.Website),
		zap.String("url", ref.URL),
		zap.String("reason", reason),
	)
	w.emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		Stage: progress.StageRecordSkipped,
		Site:  ref.Website,
		URL:   ref.URL,
		Note:  reason,
	})
}

// snapshot classifies a loaded but unusable detail page and, when a blob
// store is configured, keeps its HTML for inspection.
func (w *Worker) snapshot(
	ctx context.Context,
	runID uuid.UUID,
	page crawler.Page,
	ref crawler.ListingReference,
	result, reason string,
) (string, string) {
	if w.deps.Blocks == nil && w.deps.Snapshots == nil {
		return result, reason
	}
	html, err := page.Content(ctx)
	if err != nil {
		w.deps.Logger.Debug("detail content unavailable", zap.String("url", ref.URL), zap.Error(err))
		return result, reason
	}
	if blocked, signal := w.deps.Blocks.Blocked(html); blocked {
		result, reason = "blocked", "blocked: "+signal
	}
	if w.deps.Snapshots == nil {
		return result, reason
	}
	uri, err := w.deps.Snapshots.PutObject(ctx, w.snapshotPath(runID, ref), "text/html; charset=utf-8",
		bytes.NewReader([]byte(html)))
	metrics.ObserveSnapshot(err)
	if err != nil {
		w.deps.Logger.Warn("snapshot upload failed", zap.String("url", ref.URL), zap.Error(err))
		return result, reason
	}
	return result, reason + " (snapshot " + uri + ")"
}

func (w *Worker) snapshotPath(runID uuid.UUID, ref crawler.ListingReference) string {
	sum := sha256.Sum256([]byte(ref.URL))
	name := hex.EncodeToString(sum[:])[:16]
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", runID, ref.Website, name)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, runID, ref.Website, name)
}

func (w *Worker) persistOptions(runID uuid.UUID) []persist.Option {
	opts := make([]persist.Option, 0, len(w.deps.PersistOptions)+1)
	opts = append(opts, persist.WithOutcomeHook(func(
		rec crawler.JobRecord,
		outcome crawler.SaveOutcome,
		attempts int,
		elapsed time.Duration,
	) {
		w.onOutcome(runID, rec, outcome, attempts, elapsed)
	}))
	return append(opts, w.deps.PersistOptions...)
}

// onOutcome runs on save goroutines.
func (w *Worker) onOutcome(
	runID uuid.UUID,
	rec crawler.JobRecord,
	outcome crawler.SaveOutcome,
	attempts int,
	elapsed time.Duration,
) {
	w.emit(progress.Event{
		RunID:    progress.UUIDToBytes(runID),
		Stage:    progress.StageSaveDone,
		Site:     rec.Website,
		URL:      rec.URL,
		Outcome:  string(outcome.Kind),
		Attempts: attempts,
		Dur:      elapsed,
		Note:     outcome.Reason,
	})
	ctx, cancel := context.WithTimeout(w.deps.BaseContext, w.cfg.PublishTimeout)
	defer cancel()
	switch outcome.Kind {
	case crawler.OutcomeSaved:
		if w.deps.Cache != nil {
			w.deps.Cache.Remember(ctx, rec.Title, rec.Company)
		}
		w.notify(ctx, runID, rec, outcome.ID)
	case crawler.OutcomeDuplicate:
		if w.deps.Cache != nil {
			w.deps.Cache.Remember(ctx, rec.Title, rec.Company)
		}
	}
}

func (w *Worker) notify(ctx context.Context, runID uuid.UUID, rec crawler.JobRecord, jobID string) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	payload := JobSaved{
		Event:   EventJobSaved,
		RunID:   runID.String(),
		JobID:   jobID,
		Website: rec.Website,
		URL:     rec.URL,
		Title:   rec.Title,
		Company: rec.Company,
		SavedAt: w.deps.Now().UTC(),
	}
	msgID, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload)
	metrics.ObserveNotification(err)
	if err != nil {
		w.deps.Logger.Warn("job notification failed", zap.String("url", rec.URL), zap.Error(err))
		return
	}
	w.deps.Logger.Debug("job notification published", zap.String("job_id", jobID), zap.String("message_id", msgID))
}

func (w *Worker) emit(evt progress.Event) {
	evt.TS = w.deps.Now().UTC()
	w.deps.Events.Emit(evt)
}

type closer interface {
	Close() error
}

func closeQuietly(c closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Debug("close failed", zap.Error(err))
	}
}
