// config.go: configuration for the query client
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"time"
)

// Config holds configuration parameters for a QueryClient.
type Config struct {
	// CacheCapacity is the maximum number of inactive queries kept in the
	// time-based cache. Default: DefaultCacheCapacity.
	CacheCapacity int

	// StaleTime is how long fetched data counts as fresh. Zero means data
	// is stale as soon as it arrives; negative means it never goes stale.
	// Default: 0.
	StaleTime time.Duration

	// GcTime is how long an inactive query stays cached before it is
	// dropped. Default: DefaultGcTime.
	GcTime time.Duration

	// KeepAliveTime is how long a query keeps its fetch loop after the last
	// observer detached. Negative means no wait. Default: DefaultKeepAliveTime.
	KeepAliveTime time.Duration

	// Retry configures retries of query fetches.
	// If nil, DefaultRetryOptions is used.
	Retry *RetryOptions

	// BatchChunkSize bounds the number of notifications dispatched together.
	// Default: DefaultBatchChunkSize.
	BatchChunkSize int

	// BatchInterval is the debounce interval for notifications.
	// Default: DefaultBatchInterval.
	BatchInterval time.Duration

	// RelayBuffer is the intake capacity of the error relay.
	// Default: DefaultRelayBuffer.
	RelayBuffer int

	// MaxConcurrentRefetch bounds the fetches started by RefetchQueries.
	// Default: DefaultMaxConcurrentRefetch.
	MaxConcurrentRefetch int

	// Executor runs subscriber notifications, like a UI main loop would.
	// It must hand tasks to another goroutine instead of running them
	// inline. If nil, the client owns a SerialExecutor.
	Executor Executor

	// Logger is used for debugging and monitoring.
	// If nil, NoOpLogger is used. Default: NoOpLogger.
	Logger Logger

	// Clock provides time for staleness, keep-alive, backoff and batching.
	// If nil, a go-timecache backed clock is used.
	Clock Clock

	// MetricsCollector is used for collecting cache, fetch and relay metrics.
	// If nil, NoOpMetricsCollector is used (zero overhead).
	MetricsCollector MetricsCollector

	// ShouldSuppressError keeps matching errors out of the error relay.
	ShouldSuppressError func(err error) bool

	// AreErrorsEqual decides when a relayed error duplicates the pending one.
	// If nil, DefaultAreErrorsEqual is used.
	AreErrorsEqual func(a, b ErrorRecord) bool

	// NetworkSignals, MemorySignals and VisibilitySignals are optional
	// platform event sources the client reacts to.
	NetworkSignals    Listenable[NetworkEvent]
	MemorySignals     Listenable[MemoryEvent]
	VisibilitySignals Listenable[VisibilityEvent]
}

// Validate checks configuration parameters and applies defaults.
//
// Default values applied:
//   - CacheCapacity: DefaultCacheCapacity if <= 0
//   - GcTime: DefaultGcTime if 0
//   - KeepAliveTime: DefaultKeepAliveTime if 0
//   - Retry: DefaultRetryOptions() if nil
//   - BatchChunkSize: DefaultBatchChunkSize if <= 0
//   - BatchInterval: DefaultBatchInterval if 0
//   - RelayBuffer: DefaultRelayBuffer if <= 0
//   - MaxConcurrentRefetch: DefaultMaxConcurrentRefetch if <= 0
//   - Logger, Clock, MetricsCollector: no-op or system implementations if nil
//
// It returns an error for values that cannot be normalised: a negative
// GcTime, or retry settings outside their range.
func (c *Config) Validate() error {
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}

	if c.GcTime < 0 {
		return NewErrInvalidConfig("GcTime", c.GcTime)
	}
	if c.GcTime == 0 {
		c.GcTime = DefaultGcTime
	}

	if c.KeepAliveTime == 0 {
		c.KeepAliveTime = DefaultKeepAliveTime
	}

	if c.Retry == nil {
		retry := DefaultRetryOptions()
		c.Retry = &retry
	}
	if err := validateRetry(*c.Retry); err != nil {
		return err
	}

	if c.BatchChunkSize <= 0 {
		c.BatchChunkSize = DefaultBatchChunkSize
	}

	if c.BatchInterval == 0 {
		c.BatchInterval = DefaultBatchInterval
	}

	if c.RelayBuffer <= 0 {
		c.RelayBuffer = DefaultRelayBuffer
	}

	if c.MaxConcurrentRefetch <= 0 {
		c.MaxConcurrentRefetch = DefaultMaxConcurrentRefetch
	}

	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}

	if c.Clock == nil {
		c.Clock = SystemClock()
	}

	if c.MetricsCollector == nil {
		c.MetricsCollector = NoOpMetricsCollector{}
	}

	if c.AreErrorsEqual == nil {
		c.AreErrorsEqual = DefaultAreErrorsEqual
	}

	return nil
}

func validateRetry(r RetryOptions) error {
	if r.RetryCount < 0 {
		return NewErrInvalidConfig("Retry.RetryCount", r.RetryCount)
	}
	if r.InitialInterval < 0 {
		return NewErrInvalidConfig("Retry.InitialInterval", r.InitialInterval)
	}
	if r.RandomizationFactor < 0 || r.RandomizationFactor > 1 {
		return NewErrInvalidConfig("Retry.RandomizationFactor", r.RandomizationFactor)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	retry := DefaultRetryOptions()
	return Config{
		CacheCapacity:        DefaultCacheCapacity,
		GcTime:               DefaultGcTime,
		KeepAliveTime:        DefaultKeepAliveTime,
		Retry:                &retry,
		BatchChunkSize:       DefaultBatchChunkSize,
		BatchInterval:        DefaultBatchInterval,
		RelayBuffer:          DefaultRelayBuffer,
		MaxConcurrentRefetch: DefaultMaxConcurrentRefetch,
		Logger:               NoOpLogger{},
		Clock:                SystemClock(),
		MetricsCollector:     NoOpMetricsCollector{},
		AreErrorsEqual:       DefaultAreErrorsEqual,
	}
}

// QueryOptions overrides the client defaults for one query.
// When a QueryKey carries options, all of their fields are used as given,
// except a nil Retry which falls back to the client default.
type QueryOptions struct {
	StaleTime     time.Duration
	GcTime        time.Duration
	KeepAliveTime time.Duration
	Retry         *RetryOptions
}

// queryDefaults are the hot-reloadable parts of Config.
type queryDefaults struct {
	staleTime time.Duration
	gcTime    time.Duration
	keepAlive time.Duration
	retry     RetryOptions
}

func (c *Config) queryDefaults() queryDefaults {
	return queryDefaults{
		staleTime: c.StaleTime,
		gcTime:    c.GcTime,
		keepAlive: c.KeepAliveTime,
		retry:     *c.Retry,
	}
}
