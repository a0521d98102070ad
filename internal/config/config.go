// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/job-listing-crawler/internal/api"
	"github.com/JakeFAU/job-listing-crawler/internal/browser/headless"
	"github.com/JakeFAU/job-listing-crawler/internal/dupcache"
	"github.com/JakeFAU/job-listing-crawler/internal/extract"
	"github.com/JakeFAU/job-listing-crawler/internal/jobapi"
	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/persist"
	"github.com/JakeFAU/job-listing-crawler/internal/progress"
	"github.com/JakeFAU/job-listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/job-listing-crawler/internal/reporter"
	"github.com/JakeFAU/job-listing-crawler/internal/scheduler"
	"github.com/JakeFAU/job-listing-crawler/internal/storage/gcs"
	"github.com/JakeFAU/job-listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/job-listing-crawler/internal/worker"
)

// EnvPrefix prefixes every environment override, e.g. JOBCRAWLER_API_API_KEY.
const EnvPrefix = "JOBCRAWLER"

// Browser drivers.
const (
	DriverHeadless = "headless"
	DriverStatic   = "static"
)

// Snapshot storage drivers.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig           `mapstructure:"logging"`
	Server   api.Config              `mapstructure:"server"`
	Browser  BrowserConfig           `mapstructure:"browser"`
	Crawl    CrawlConfig             `mapstructure:"crawl"`
	Persist  persist.Config          `mapstructure:"persist"`
	API      jobapi.Config           `mapstructure:"api"`
	Schemas  SchemasConfig           `mapstructure:"schemas"`
	Storage  StorageConfig           `mapstructure:"storage"`
	DB       postgres.Config         `mapstructure:"db"`
	PubSub   pubsub.Config           `mapstructure:"pubsub"`
	Redis    dupcache.Config         `mapstructure:"redis"`
	Schedule scheduler.Config        `mapstructure:"schedule"`
	Telegram reporter.TelegramConfig `mapstructure:"telegram"`
	Progress progress.Config         `mapstructure:"progress"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig selects and tunes the page driver.
type BrowserConfig struct {
	Driver string          `mapstructure:"driver"`
	Chrome headless.Config `mapstructure:"chrome"`
}

// CrawlConfig groups the run-level knobs.
type CrawlConfig struct {
	// Sites restricts a run to the named schemas; empty crawls all of them.
	Sites   []string       `mapstructure:"sites"`
	Listing listing.Config `mapstructure:"listing"`
	Detail  extract.Config `mapstructure:"detail"`
	Run     worker.Config  `mapstructure:"run"`
	Blocks  BlockConfig    `mapstructure:"blocks"`
	Timeout time.Duration  `mapstructure:"timeout"`
}

// BlockConfig tunes the challenge-page detector used on unusable detail pages.
type BlockConfig struct {
	MinTextBytes int      `mapstructure:"min_text_bytes"`
	Selectors    []string `mapstructure:"selectors"`
	Keywords     []string `mapstructure:"keywords"`
}

// SchemasConfig points at the site descriptor directory.
type SchemasConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects where detail page snapshots go.
type StorageConfig struct {
	Driver   string     `mapstructure:"driver"`
	LocalDir string     `mapstructure:"local_dir"`
	GCS      gcs.Config `mapstructure:"gcs"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("browser.driver", DriverHeadless)
	v.SetDefault("browser.chrome.headless", true)
	v.SetDefault("browser.chrome.exec_path", "")
	v.SetDefault("browser.chrome.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.chrome.window_width", 1366)
	v.SetDefault("browser.chrome.window_height", 768)
	v.SetDefault("browser.chrome.query_timeout", "5s")

	lc := listing.DefaultConfig()
	v.SetDefault("crawl.sites", []string{})
	v.SetDefault("crawl.timeout", "0s")
	v.SetDefault("crawl.listing.nav_timeout", lc.NavTimeout.String())
	v.SetDefault("crawl.listing.warmup.min", lc.Warmup.Min.String())
	v.SetDefault("crawl.listing.warmup.max", lc.Warmup.Max.String())
	v.SetDefault("crawl.listing.list_wait", lc.ListWait.String())
	v.SetDefault("crawl.listing.poll_interval", lc.PollInterval.String())
	v.SetDefault("crawl.listing.login_poll", lc.LoginPoll.String())
	v.SetDefault("crawl.listing.login_timeout", lc.LoginTimeout.String())
	v.SetDefault("crawl.listing.visible_timeout", lc.VisibleTimeout.String())
	v.SetDefault("crawl.listing.popup_pause", lc.PopupPause.String())
	v.SetDefault("crawl.listing.click_wait", lc.ClickWait.String())
	v.SetDefault("crawl.listing.scroll_step", lc.ScrollStep)
	v.SetDefault("crawl.listing.scroll_interval", lc.ScrollInterval.String())
	v.SetDefault("crawl.listing.max_scroll_steps", lc.MaxScrollSteps)
	dc := extract.DefaultConfig()
	v.SetDefault("crawl.detail.nav_timeout", dc.NavTimeout.String())
	v.SetDefault("crawl.detail.settle.min", dc.Settle.Min.String())
	v.SetDefault("crawl.detail.settle.max", dc.Settle.Max.String())

	wc := worker.DefaultConfig()
	v.SetDefault("crawl.run.site_pause", wc.SitePause.String())
	v.SetDefault("crawl.run.record_pause.min", wc.RecordPause.Min.String())
	v.SetDefault("crawl.run.record_pause.max", wc.RecordPause.Max.String())
	v.SetDefault("crawl.run.batch_size", wc.BatchSize)
	v.SetDefault("crawl.run.batch_pause", wc.BatchPause.String())
	v.SetDefault("crawl.run.drain_timeout", wc.DrainTimeout.String())
	v.SetDefault("crawl.run.topic", "")
	v.SetDefault("crawl.run.publish_timeout", wc.PublishTimeout.String())
	v.SetDefault("crawl.run.snapshot_prefix", wc.SnapshotPrefix)
	v.SetDefault("crawl.blocks.min_text_bytes", 200)
	v.SetDefault("crawl.blocks.selectors", []string{"#challenge-form", "iframe[src*='captcha']"})
	v.SetDefault("crawl.blocks.keywords", []string{})

	v.SetDefault("persist.concurrency", persist.DefaultConcurrency)
	v.SetDefault("persist.max_attempts", 3)
	v.SetDefault("persist.base_delay", "1s")

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 1)

	v.SetDefault("schemas.dir", "schemas")

	v.SetDefault("storage.driver", StorageNone)
	v.SetDefault("storage.local_dir", "data/snapshots")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate", true)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "168h")
	v.SetDefault("redis.prefix", "jobcrawler:dup:")

	v.SetDefault("schedule.spec", "")
	v.SetDefault("schedule.run_on_start", true)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.api_endpoint", "")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch", 256)
	v.SetDefault("progress.flush_every", "500ms")
	v.SetDefault("progress.sink_timeout", "10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.Browser.Driver {
	case DriverHeadless, DriverStatic:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverHeadless, DriverStatic, c.Browser.Driver)
	}
	base, err := url.Parse(c.API.BaseURL)
	if c.API.BaseURL == "" || err != nil || base.Scheme == "" || base.Host == "" {
		return errors.New("api.base_url must be an absolute URL")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}
	if c.Schemas.Dir == "" {
		return errors.New("schemas.dir is required")
	}
	if c.Persist.Concurrency <= 0 {
		return errors.New("persist.concurrency must be > 0")
	}
	if c.Persist.MaxAttempts <= 0 {
		return errors.New("persist.max_attempts must be > 0")
	}
	if c.Crawl.Run.BatchSize <= 0 {
		return errors.New("crawl.run.batch_size must be > 0")
	}
	if c.Crawl.Run.RecordPause.Max < c.Crawl.Run.RecordPause.Min {
		return errors.New("crawl.run.record_pause.max must be >= min")
	}
	switch c.Storage.Driver {
	case "", StorageNone:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local driver")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return errors.New("storage.gcs.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id is required when pubsub.topic is set")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required when telegram.token is set")
	}
	return nil
}

// StorageEnabled reports whether snapshots are written anywhere.
func (c Config) StorageEnabled() bool {
	return c.Storage.Driver != "" && c.Storage.Driver != StorageNone
}
