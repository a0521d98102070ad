// Package cmd defines and implements the CLI commands for the jobcrawler executable.
//
// Architecture overview:
//   - Site schemas: one JSON or YAML descriptor per website in schemas.dir describes where listings live, how the
//     site paginates, and how each job field is located and cleaned on a detail page.
//   - Listing phase: every site gets a fresh browser session. The listing engine visits each path suffix, clicks
//     through "load more" controls, and collects detail links, dropping postings the job API (or the Redis cache in
//     front of it) already holds.
//   - Detail phase: one session visits the collected links in small paced batches and extracts complete records.
//     Unusable pages are skipped; with storage configured their HTML is kept for inspection.
//   - Persistence: records are saved concurrently through the job API with linear retry. Every settled save emits a
//     progress event, notifies Pub/Sub when configured, and seeds the duplicate cache.
//   - Observability: zap logs carry run ids, sites, and URLs; Prometheus collectors are exposed on /metrics; the
//     progress hub batches run milestones to the log, Prometheus, and run history (Postgres or memory) sinks. A run
//     summary goes to the log and, when configured, to Telegram.
//
// Operational notes:
//   - With schedule.spec empty the crawl command performs a single run and exits; otherwise it follows the cron
//     expression until SIGINT/SIGTERM. The ops API (/healthz, /readyz, /metrics, /v1/runs) is served meanwhile.
//   - Configure with a YAML file (--config) plus JOBCRAWLER_* environment overrides; a .env file is read first.
package cmd
