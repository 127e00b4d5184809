// clock.go: time sources for expiry and scheduling
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"math"
	"time"

	"github.com/agilira/go-timecache"
)

// systemClock is the default Clock: cached wall time from go-timecache and
// runtime timers for scheduling.
type systemClock struct{}

// SystemClock returns the default Clock implementation.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() int64 {
	return timecache.CachedTimeNano()
}

func (systemClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// sleep blocks until d elapses on clock or ctx is done.
// Returns ctx.Err() when interrupted.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	fired := make(chan struct{})
	stop := clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		stop()
		return ctx.Err()
	}
}

// expiresAt adds ttl to now, saturating at math.MaxInt64.
func expiresAt(now int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		return now
	}
	if now > 0 && int64(ttl) > math.MaxInt64-now {
		return math.MaxInt64
	}
	return now + int64(ttl)
}
