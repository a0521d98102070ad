// Package store declares the run-history repository. Implementations live in
// internal/storage; this package must not import database drivers.
package store
