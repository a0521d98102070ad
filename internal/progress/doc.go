// Package progress carries run milestones from the orchestrator to pluggable
// sinks (logs, Prometheus, Postgres) through a non-blocking batching hub.
package progress
