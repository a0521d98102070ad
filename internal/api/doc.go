// Package api hosts the operator HTTP server:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/sites for run history.
//   - POST /v1/runs to start a run outside the schedule.
package api
