// mutation.go: retried write operations with invalidation on success
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"time"
)

// MutationOptions describes a write operation.
type MutationOptions[T, V any] struct {
	// KeyID labels errors relayed for this mutation.
	KeyID UniqueID

	// Mutate performs the write. Required.
	Mutate func(ctx context.Context, variables V) (T, error)

	// Retry configures retries. Nil means a single attempt.
	Retry *RetryOptions

	// OnSuccess runs after a successful write, before invalidation.
	OnSuccess func(result T, variables V)

	// OnError runs after the final failed attempt.
	OnError func(err error, variables V)

	// Invalidate, if set, selects the queries invalidated after success.
	Invalidate *Filter[QueryModel]
}

// Mutate runs opts.Mutate with variables. Failures other than
// cancellation are relayed with marker and returned to the caller.
func Mutate[T, V any](ctx context.Context, c *QueryClient, opts MutationOptions[T, V], variables V, marker Marker) (T, error) {
	var zero T
	if opts.Mutate == nil {
		return zero, NewErrInvalidKey(opts.KeyID, "nil mutate function")
	}
	if marker == nil {
		marker = EmptyMarker
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return zero, NewErrClientClosed("Mutate")
	}

	retry := RetryOptions{}
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	onRetry := retry.OnRetry
	retry.OnRetry = func(err error, attempt int, backoff time.Duration) {
		c.cfg.MetricsCollector.RecordRetry()
		if onRetry != nil {
			onRetry(err, attempt, backoff)
		}
	}

	result, err := Retry(ctx, c.clock, retry, func(ctx context.Context) (T, error) {
		return opts.Mutate(ctx, variables)
	})
	if err != nil {
		if IsCancellation(err) {
			return zero, err
		}
		c.logger.Warn("mutation failed", "key", opts.KeyID.String(), "error", err)
		if opts.OnError != nil {
			opts.OnError(err, variables)
		}
		if serr := c.relay.Send(ErrorRecord{Err: err, KeyID: opts.KeyID, Marker: marker}); serr != nil {
			c.logger.Debug("error not relayed", "key", opts.KeyID.String(), "error", serr)
		}
		return zero, err
	}

	if opts.OnSuccess != nil {
		opts.OnSuccess(result, variables)
	}
	if opts.Invalidate != nil {
		n := c.InvalidateQueries(*opts.Invalidate)
		c.logger.Debug("mutation invalidated queries", "key", opts.KeyID.String(), "count", n)
	}
	return result, nil
}
