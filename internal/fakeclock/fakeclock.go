// fakeclock.go: manually driven clock for deterministic tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package fakeclock provides a clock whose time only moves when a test
// advances it. Timers scheduled with AfterFunc fire synchronously, in
// deadline order, from inside Advance.
package fakeclock

import (
	"sort"
	"sync"
	"time"
)

type timer struct {
	deadline int64
	seq      uint64
	f        func()
	stopped  bool
}

// Clock is a fake clock. The zero value is not usable; call New.
type Clock struct {
	mu     sync.Mutex
	now    int64
	seq    uint64
	timers []*timer
	onSet  func(d time.Duration)
}

// New returns a Clock set at start.
func New(start time.Time) *Clock {
	return &Clock{now: start.UnixNano()}
}

// Now returns the current fake time in nanoseconds.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Time returns the current fake time.
func (c *Clock) Time() time.Time {
	return time.Unix(0, c.Now())
}

// OnTimerSet registers a callback invoked whenever a timer is scheduled.
// Useful to wait for a goroutine to reach its sleep before advancing.
func (c *Clock) OnTimerSet(cb func(d time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSet = cb
}

// AfterFunc schedules f to run once the clock has advanced by d.
// A non-positive d fires on the next Advance call, including Advance(0).
func (c *Clock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	c.seq++
	t := &timer{deadline: c.now + int64(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	cb := c.onSet
	c.mu.Unlock()

	if cb != nil {
		cb(d)
	}
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves time forward by d and fires every due timer in deadline
// order. Timers scheduled by fired callbacks are honoured if they fall
// within the advanced window.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + int64(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.deadline > c.now {
			c.now = next.deadline
		}
		next.stopped = true
		c.mu.Unlock()
		next.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (c *Clock) nextDueLocked(target int64) *timer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.Slice(c.timers, func(i, j int) bool {
		if c.timers[i].deadline != c.timers[j].deadline {
			return c.timers[i].deadline < c.timers[j].deadline
		}
		return c.timers[i].seq < c.timers[j].seq
	})
	if len(c.timers) > 0 && c.timers[0].deadline <= target {
		return c.timers[0]
	}
	return nil
}
