// retry.go: exponential backoff retry for fetch operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Stop is returned by a RetryIterator to end the retry loop.
const Stop time.Duration = -1

// Default retry parameters. See DefaultRetryOptions.
const (
	DefaultRetryCount               = 3
	DefaultRetryInitialInterval     = 500 * time.Millisecond
	DefaultRetryMaxInterval         = 30 * time.Second
	DefaultRetryMultiplier          = 1.5
	DefaultRetryRandomizationFactor = 0.5
)

// RetryIterator decides, after each failed attempt, how long to wait
// before the next one. Returning Stop ends the loop and the last error is
// reported to the caller.
type RetryIterator interface {
	Next(ctx context.Context, err error) time.Duration
}

// RetryOptions configures exponential backoff.
type RetryOptions struct {
	// RetryCount is the number of retries after the first attempt.
	// 0 disables retrying.
	RetryCount int

	// InitialInterval is the backoff before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps every backoff. Zero or negative means no cap.
	MaxInterval time.Duration

	// Multiplier grows the backoff per attempt. Values below 1 are treated as 1.
	Multiplier float64

	// RandomizationFactor r spreads each backoff uniformly over
	// [backoff*(1-r), backoff*(1+r)]. Clamped to [0, 1].
	RandomizationFactor float64

	// Randomizer returns a value in [0, 1). Default: math/rand/v2 Float64.
	Randomizer func() float64

	// ShouldRetry decides whether an error is worth retrying.
	// Cancellation errors are never retried, whatever this returns.
	// Default: retry every other error.
	ShouldRetry func(err error) bool

	// OnRetry is called before waiting, with the 0-based retry index.
	OnRetry func(err error, attempt int, backoff time.Duration)
}

// DefaultRetryOptions returns 3 retries starting at 500ms, growing by 1.5x
// with ±50% jitter and capped at 30s.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		RetryCount:          DefaultRetryCount,
		InitialInterval:     DefaultRetryInitialInterval,
		MaxInterval:         DefaultRetryMaxInterval,
		Multiplier:          DefaultRetryMultiplier,
		RandomizationFactor: DefaultRetryRandomizationFactor,
	}
}

// CalculateBackoffInterval returns the wait before retry number attempt
// (0-based): min(initial * multiplier^attempt * jitter, max).
func (o RetryOptions) CalculateBackoffInterval(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := o.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	r := math.Min(math.Max(o.RandomizationFactor, 0), 1)
	random := o.Randomizer
	if random == nil {
		random = rand.Float64
	}

	limit := float64(math.MaxInt64)
	if o.MaxInterval > 0 {
		limit = float64(o.MaxInterval)
	}

	backoff := float64(o.InitialInterval) * math.Pow(multiplier, float64(attempt))
	backoff *= 1 - r + 2*r*random()
	if math.IsNaN(backoff) || backoff < 0 {
		return 0
	}
	if backoff >= limit {
		if o.MaxInterval > 0 {
			return o.MaxInterval
		}
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(backoff)
}

// Iterator returns a RetryIterator for one retry loop.
func (o RetryOptions) Iterator() RetryIterator {
	return &backoffIterator{opts: o}
}

type backoffIterator struct {
	opts    RetryOptions
	attempt int
}

// Next implements RetryIterator.
func (it *backoffIterator) Next(ctx context.Context, err error) time.Duration {
	if IsCancellation(err) || ctx.Err() != nil {
		return Stop
	}
	if it.attempt >= it.opts.RetryCount {
		return Stop
	}
	if it.opts.ShouldRetry != nil && !it.opts.ShouldRetry(err) {
		return Stop
	}
	d := it.opts.CalculateBackoffInterval(it.attempt)
	if it.opts.OnRetry != nil {
		it.opts.OnRetry(err, it.attempt, d)
	}
	it.attempt++
	return d
}

// Retry runs fn, retrying failures with exponential backoff as described
// by opts. Waiting happens on clock and is interrupted by ctx.
//
// Once RetryCount retries are used up, the final attempt's error is
// returned unchanged. Cancellation is returned immediately and never
// retried. A nil clock uses the system clock.
func Retry[T any](ctx context.Context, clock Clock, opts RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	if clock == nil {
		clock = SystemClock()
	}
	it := opts.Iterator()
	for {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		delay := it.Next(ctx, err)
		if delay == Stop {
			return value, err
		}
		if serr := sleep(ctx, clock, delay); serr != nil {
			var zero T
			return zero, serr
		}
	}
}
