// Package sinks implements progress consumers backed by zap, Prometheus and
// the run repository. Each sink satisfies progress.Sink.
package sinks
