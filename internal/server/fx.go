// Package server builds the application's dependencies from configuration and
// runs them until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/job-listing-crawler/internal/api"
	"github.com/JakeFAU/job-listing-crawler/internal/browser/headless"
	"github.com/JakeFAU/job-listing-crawler/internal/browser/static"
	"github.com/JakeFAU/job-listing-crawler/internal/config"
	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/dupcache"
	"github.com/JakeFAU/job-listing-crawler/internal/extract"
	"github.com/JakeFAU/job-listing-crawler/internal/jobapi"
	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/metrics"
	"github.com/JakeFAU/job-listing-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/job-listing-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/job-listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/job-listing-crawler/internal/reporter"
	"github.com/JakeFAU/job-listing-crawler/internal/scheduler"
	"github.com/JakeFAU/job-listing-crawler/internal/schema"
	gcsstorage "github.com/JakeFAU/job-listing-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/job-listing-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/job-listing-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/job-listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/job-listing-crawler/internal/store"
	"github.com/JakeFAU/job-listing-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	sites       []schema.Site
	browser     crawler.Browser
	worker      *worker.Worker
	apiServer   *api.Server
	progressHub *progress.Hub
	runStore    store.RunRepository
	pgStore     *pgstore.RunStore
	redisClient *redis.Client
	gcsStore    *gcsstorage.BlobStore
	publisher   *gcppublisher.Publisher
	checks      []api.ReadyCheck
	registerer  prometheus.Registerer
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers the progress collectors somewhere other than the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies. ctx parents background runs,
// so it should live as long as the process.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")
	var err error
	if a.sites, err = LoadSites(a.cfg); err != nil {
		return err
	}
	a.logger.Info("site schemas loaded", zap.Int("sites", len(a.sites)), zap.Strings("names", siteNames(a.sites)))

	a.browser = setupBrowser(a.cfg.Browser, a.logger)

	client, err := jobapi.New(a.cfg.API,
		jobapi.WithLogger(a.logger.Named("jobapi")),
		jobapi.WithObserver(metrics.ObserveAPICall),
	)
	if err != nil {
		return fmt.Errorf("job api client init failed: %w", err)
	}
	dup, cache, err := a.setupDuplicates(ctx, client)
	if err != nil {
		return err
	}

	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	hub, err := a.setupProgress()
	if err != nil {
		return err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	rep, err := a.setupReporters()
	if err != nil {
		return err
	}

	runCfg := a.cfg.Crawl.Run
	if runCfg.Topic == "" {
		runCfg.Topic = a.cfg.PubSub.Topic
	}
	blocks := a.cfg.Crawl.Blocks
	if len(blocks.Keywords) == 0 {
		blocks.Keywords = crawler.DefaultBlockKeywords
	}
	pauser := crawler.TimerPauser{}
	a.worker, err = worker.New(runCfg, a.sites, worker.Deps{
		Browser:     a.browser,
		Listing:     listing.New(a.cfg.Crawl.Listing, dup, pauser, a.logger.Named("listing")),
		Extractor:   extract.NewExtractor(a.cfg.Crawl.Detail, pauser, a.logger.Named("detail")),
		Saver:       client,
		Persist:     a.cfg.Persist,
		Events:      hub,
		Snapshots:   blobs,
		Blocks:      crawler.NewBlockDetector(blocks.MinTextBytes, blocks.Selectors, blocks.Keywords),
		Publisher:   publisher,
		Cache:       cache,
		Reporter:    rep,
		Pauser:      pauser,
		Logger:      a.logger.Named("worker"),
		BaseContext: ctx,
	})
	if err != nil {
		return fmt.Errorf("worker init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.cfg.Server, a.runStore, a.worker, a.logger.Named("api"), a.checks...)
	return nil
}

// LoadSites reads the schema directory and applies the crawl.sites filter.
func LoadSites(cfg config.Config) ([]schema.Site, error) {
	sites, err := schema.LoadDir(cfg.Schemas.Dir)
	if err != nil {
		return nil, fmt.Errorf("load site schemas: %w", err)
	}
	sites, err = schema.Select(sites, cfg.Crawl.Sites)
	if err != nil {
		return nil, fmt.Errorf("select sites: %w", err)
	}
	return sites, nil
}

func setupBrowser(cfg config.BrowserConfig, logger *zap.Logger) crawler.Browser {
	if cfg.Driver == config.DriverStatic {
		logger.Info("using static browser driver")
		return static.New(static.Config{UserAgent: cfg.Chrome.UserAgent, Headers: cfg.Chrome.Headers})
	}
	logger.Info("using headless chrome driver", zap.Bool("headless", cfg.Chrome.Headless))
	return headless.New(cfg.Chrome, logger.Named("chrome"))
}

// setupDuplicates fronts the job API's duplicate check with Redis when configured.
func (a *App) setupDuplicates(
	ctx context.Context,
	client *jobapi.Client,
) (crawler.DuplicateChecker, worker.Rememberer, error) {
	if a.cfg.Redis.URL == "" {
		a.logger.Info("no redis configured, duplicate checks go to the job api")
		return client, nil, nil
	}
	var err error
	a.redisClient, err = dupcache.NewClient(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.checks = append(a.checks, api.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return a.redisClient.Ping(ctx).Err()
	}})
	checker := dupcache.New(client, a.redisClient, a.cfg.Redis, a.logger.Named("dupcache"))
	a.logger.Info("redis duplicate cache enabled", zap.Duration("ttl", a.cfg.Redis.TTL))
	return checker, checker, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping run history in memory")
		a.runStore = memorystorage.NewRunStore()
		return nil
	}
	var err error
	a.pgStore, err = pgstore.NewRunStore(ctx, a.cfg.DB)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runStore = a.pgStore
	a.checks = append(a.checks, api.ReadyCheck{Name: "postgres", Check: a.pgStore.Ping})
	a.logger.Info("postgres run store initialized", zap.Bool("migrate", a.cfg.DB.Migrate))
	return nil
}

func (a *App) setupProgress() (*progress.Hub, error) {
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")),
	}
	a.progressHub = progress.NewHub(a.cfg.Progress, a.logger.Named("progress_hub"), sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", a.cfg.Progress.BufferSize),
		zap.Int("max_batch", a.cfg.Progress.MaxBatch),
		zap.Duration("flush_every", a.cfg.Progress.FlushEvery),
	)
	return a.progressHub, nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Driver {
	case config.StorageGCS:
		var err error
		a.gcsStore, err = gcsstorage.Open(ctx, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return a.gcsStore, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		a.logger.Info("detail page snapshots disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.Topic == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, job notifications disabled")
		return nil, nil
	}
	var err error
	a.publisher, err = gcppublisher.Open(ctx, a.cfg.PubSub)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.publisher, nil
}

func (a *App) setupReporters() (reporter.Reporter, error) {
	reps := reporter.Multi{reporter.NewLogReporter(a.logger.Named("report"))}
	if a.cfg.Telegram.Token == "" {
		return reps, nil
	}
	tg, err := reporter.NewTelegramReporter(a.cfg.Telegram)
	if err != nil {
		return nil, fmt.Errorf("telegram reporter init failed: %w", err)
	}
	a.logger.Info("telegram run reports enabled", zap.Int64("chat_id", a.cfg.Telegram.ChatID))
	return append(reps, tg), nil
}

// Sites returns the schemas this app crawls.
func (a *App) Sites() []schema.Site {
	return a.sites
}

// RunOnce executes a single run, bounded by crawl.timeout when set.
func (a *App) RunOnce(ctx context.Context) (reporter.Report, error) {
	if a.cfg.Crawl.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Crawl.Timeout)
		defer cancel()
	}
	return a.worker.RunOnce(ctx)
}

func (a *App) scheduledRun(ctx context.Context) {
	if _, err := a.RunOnce(ctx); err != nil {
		a.logger.Warn("scheduled run ended with error", zap.Error(err))
	}
}

// Run serves the ops API and either performs one run or follows the cron
// schedule. It returns once the run is done or ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started", zap.String("schedule", a.cfg.Schedule.Spec))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.apiServer.ListenAndServe(gctx, a.cfg.Server)
	})
	g.Go(func() error {
		defer cancel()
		if strings.TrimSpace(a.cfg.Schedule.Spec) == "" {
			_, err := a.RunOnce(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		sched, err := scheduler.New(a.cfg.Schedule, a.scheduledRun, a.logger.Named("scheduler"))
		if err != nil {
			return err
		}
		return sched.Run(gctx)
	})

	err := g.Wait()
	a.worker.Wait()
	return err
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub: %w", err))
		}
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: %w", err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs: %w", err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	a.pgStore.Close()
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func siteNames(sites []schema.Site) []string {
	names := make([]string, 0, len(sites))
	for _, s := range sites {
		names = append(names, s.Name)
	}
	return names
}
