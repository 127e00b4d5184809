// interfaces.go: public interfaces for Vela
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import "time"

// CacheStats provides statistics about a TimeBasedCache.
type CacheStats struct {
	// Hits is the number of Get calls that found a live entry
	Hits uint64

	// Misses is the number of Get calls that found nothing or an expired entry
	Misses uint64

	// Sets is the number of Set operations
	Sets uint64

	// Deletes is the number of successful Delete operations
	Deletes uint64

	// Evictions is the number of entries removed to make room
	Evictions uint64

	// Expirations is the number of entries removed because their TTL elapsed
	Expirations uint64

	// Size is the current number of entries
	Size int

	// Capacity is the maximum number of entries
	Capacity int
}

// HitRatio returns the cache hit ratio as a percentage (0-100).
// Returns 0.0 if no Get operations have been performed yet.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Logger defines a minimal logging interface with zero overhead.
// Implementations should use structured logging and be allocation-free.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keyvals ...interface{})

	// Info logs an info message with optional key-value pairs.
	Info(msg string, keyvals ...interface{})

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keyvals ...interface{})

	// Error logs an error message with optional key-value pairs.
	Error(msg string, keyvals ...interface{})
}

// NoOpLogger is a logger that does nothing. Used as default to avoid nil checks.
type NoOpLogger struct{}

// Debug does nothing (no-op implementation).
func (NoOpLogger) Debug(msg string, keyvals ...interface{}) {}

// Info does nothing (no-op implementation).
func (NoOpLogger) Info(msg string, keyvals ...interface{}) {}

// Warn does nothing (no-op implementation).
func (NoOpLogger) Warn(msg string, keyvals ...interface{}) {}

// Error does nothing (no-op implementation).
func (NoOpLogger) Error(msg string, keyvals ...interface{}) {}

// TimeProvider provides current time with caching for performance.
// This interface allows injecting optimized time implementations.
type TimeProvider interface {
	// Now returns the current time in nanoseconds since epoch.
	// This method must be very fast and allocation-free.
	Now() int64
}

// Clock is a TimeProvider that can also schedule callbacks.
//
// Every coordinator that waits (retry backoff, batch debounce, keep-alive)
// goes through a Clock so tests can drive time explicitly.
type Clock interface {
	TimeProvider

	// AfterFunc calls f on its own goroutine once d has elapsed.
	// The returned stop function cancels the call and reports whether it
	// prevented f from running.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// MetricsCollector defines an interface for collecting query core metrics.
// Implementations can send metrics to Prometheus, DataDog, StatsD, or other monitoring systems.
//
// Thread-safety:
//   - All methods must be safe for concurrent use
//   - Multiple goroutines will call these methods simultaneously
type MetricsCollector interface {
	// RecordGet records a cache Get with its latency and hit/miss result.
	RecordGet(latencyNs int64, hit bool)

	// RecordSet records a cache Set with its latency.
	RecordSet(latencyNs int64)

	// RecordDelete records a cache Delete with its latency.
	RecordDelete(latencyNs int64)

	// RecordEviction records an entry removed to make room.
	RecordEviction()

	// RecordExpiration records an entry removed because its TTL elapsed.
	RecordExpiration()

	// RecordFetch records a completed fetch (after retries) and whether it succeeded.
	RecordFetch(latencyNs int64, success bool)

	// RecordRetry records a single retry attempt.
	RecordRetry()

	// RecordErrorRelayed records an error accepted into the relay mailbox.
	RecordErrorRelayed()

	// RecordErrorCoalesced records an error dropped because an equal one was pending.
	RecordErrorCoalesced()
}

// NoOpMetricsCollector is a metrics collector that does nothing.
// Used as default to avoid nil checks and ensure zero overhead.
type NoOpMetricsCollector struct{}

// RecordGet does nothing.
func (NoOpMetricsCollector) RecordGet(latencyNs int64, hit bool) {}

// RecordSet does nothing.
func (NoOpMetricsCollector) RecordSet(latencyNs int64) {}

// RecordDelete does nothing.
func (NoOpMetricsCollector) RecordDelete(latencyNs int64) {}

// RecordEviction does nothing.
func (NoOpMetricsCollector) RecordEviction() {}

// RecordExpiration does nothing.
func (NoOpMetricsCollector) RecordExpiration() {}

// RecordFetch does nothing.
func (NoOpMetricsCollector) RecordFetch(latencyNs int64, success bool) {}

// RecordRetry does nothing.
func (NoOpMetricsCollector) RecordRetry() {}

// RecordErrorRelayed does nothing.
func (NoOpMetricsCollector) RecordErrorRelayed() {}

// RecordErrorCoalesced does nothing.
func (NoOpMetricsCollector) RecordErrorCoalesced() {}
