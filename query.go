// query.go: typed query keys, state and fetch operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// QueryStatus describes the data held by a query.
type QueryStatus int

const (
	// StatusPending means no fetch has succeeded or failed yet.
	StatusPending QueryStatus = iota
	// StatusSuccess means Data holds the result of the last successful fetch.
	StatusSuccess
	// StatusFailure means the last fetch failed; Data may still hold older data.
	StatusFailure
)

func (s QueryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// FetchStatus tells whether a fetch is in flight.
type FetchStatus int

const (
	FetchIdle FetchStatus = iota
	FetchFetching
)

func (s FetchStatus) String() string {
	if s == FetchFetching {
		return "fetching"
	}
	return "idle"
}

// QueryState is the observable state of one query.
type QueryState struct {
	Data           any
	Err            error
	Status         QueryStatus
	FetchStatus    FetchStatus
	DataUpdatedAt  int64 // nanoseconds, 0 if never
	ErrorUpdatedAt int64 // nanoseconds, 0 if never
	FailureCount   int // failed attempts of the current or last fetch
	Invalidated    bool
}

// IsStale reports whether the state needs a fetch at time now.
func (s QueryState) IsStale(now int64, staleTime time.Duration) bool {
	if s.Invalidated || s.Status != StatusSuccess {
		return true
	}
	if staleTime < 0 {
		return false
	}
	return now-s.DataUpdatedAt >= int64(staleTime)
}

// StateData returns s.Data as a T.
func StateData[T any](s QueryState) (T, bool) {
	v, ok := s.Data.(T)
	return v, ok
}

// QueryModel is a snapshot of a query, used by filters.
type QueryModel struct {
	ID        UniqueID
	State     QueryState
	Active    bool
	Observers int
}

// QueryKey binds an identity to the function fetching its data.
type QueryKey[T any] struct {
	ID    UniqueID
	Fetch func(ctx context.Context) (T, error)

	// Options overrides the client defaults. Nil uses them.
	Options *QueryOptions
}

func (k QueryKey[T]) validate() error {
	if k.ID.IsZero() {
		return NewErrInvalidKey(k.ID, "empty id")
	}
	if k.Fetch == nil {
		return NewErrInvalidKey(k.ID, "nil fetch function")
	}
	return nil
}

func (k QueryKey[T]) erased() func(ctx context.Context) (any, error) {
	fetch := k.Fetch
	return func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}
}

// Observe attaches listener to the query identified by key. The query gets
// a fetch loop that fetches stale data right away and refetches on
// invalidation. listener receives the current state once, then every
// change, on the client's executor.
//
// marker travels with errors relayed for this query. detach stops the
// observation; calling it more than once is harmless.
func Observe[T any](c *QueryClient, key QueryKey[T], marker Marker, listener func(QueryState)) (detach func(), err error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if marker == nil {
		marker = EmptyMarker
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, NewErrClientClosed("Observe")
	}

	e := c.lookup(key.ID)
	if e == nil {
		e = c.newEntry(key.ID)
	}
	e.fetch = key.erased()
	e.options = key.Options
	e.marker = marker
	c.activate(e)

	id := NewInstanceID()
	unsubscribe := e.store.Subscribe(listener)
	runner := e.runner
	runner.Attach(id)
	if perr := c.scheduler.Post(context.Background(), func() { listener(e.store.Get()) }); perr != nil {
		c.logger.Debug("initial state not delivered", "key", key.ID.String(), "error", perr)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			c.mu.Lock()
			defer c.mu.Unlock()
			if e.runner == runner {
				runner.Detach(id)
			}
		})
	}, nil
}

// FetchQuery returns fresh data for key, fetching it if the cached data is
// stale. Concurrent fetches of the same key share one call. Errors are
// returned to the caller and not relayed.
func FetchQuery[T any](ctx context.Context, c *QueryClient, key QueryKey[T]) (T, error) {
	var zero T
	if err := key.validate(); err != nil {
		return zero, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, NewErrClientClosed("FetchQuery")
	}
	e := c.entryFor(key.ID)
	if e.fetch == nil {
		e.fetch = key.erased()
		e.options = key.Options
	}
	state := e.store.Get()
	fresh := !state.IsStale(c.clock.Now(), c.optionsFor(e).StaleTime)
	c.mu.Unlock()

	if fresh {
		if v, ok := StateData[T](state); ok {
			return v, nil
		}
	}
	v, err := c.fetchEntry(ctx, e)
	if err != nil {
		if IsCancellation(err) {
			return zero, err
		}
		return zero, NewErrQueryFailed(key.ID, err)
	}
	typed, _ := v.(T)
	return typed, nil
}

// PrefetchQuery warms the cache for key. Failures are logged, not returned.
func PrefetchQuery[T any](ctx context.Context, c *QueryClient, key QueryKey[T]) {
	if _, err := FetchQuery(ctx, c, key); err != nil && !IsCancellation(err) {
		c.logger.Warn("prefetch failed", "key", key.ID.String(), "error", err)
	}
}

// GetQueryData returns the last successfully fetched data of id.
func GetQueryData[T any](c *QueryClient, id UniqueID) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	e := c.lookup(id)
	if e == nil {
		return zero, false
	}
	state := e.store.Get()
	if state.Status != StatusSuccess && state.Data == nil {
		return zero, false
	}
	return StateData[T](state)
}

// SetQueryData stores data for id as if it had just been fetched.
func SetQueryData[T any](c *QueryClient, id UniqueID, data T) error {
	if id.IsZero() {
		return NewErrInvalidKey(id, "empty id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewErrClientClosed("SetQueryData")
	}
	e := c.entryFor(id)
	now := c.clock.Now()
	e.store.Update(func(s QueryState) QueryState {
		s.Data = data
		s.Err = nil
		s.Status = StatusSuccess
		s.DataUpdatedAt = now
		s.FailureCount = 0
		s.Invalidated = false
		return s
	})
	return nil
}

// fetchFlight is one in-flight fetch of an entry. Its context is cancelled
// when the last waiter leaves, so a fetch nobody waits for stops.
type fetchFlight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// fetchEntry runs or joins the fetch of e. A caller giving up does not
// abort the fetch while other callers or observers still wait for it.
func (c *QueryClient) fetchEntry(ctx context.Context, e *queryEntry) (any, error) {
	c.mu.Lock()
	f := e.flight
	if f == nil || f.ctx.Err() != nil {
		fctx, cancel := context.WithCancel(c.scope)
		e.flightGen++
		f = &fetchFlight{
			key:    e.id.flightKey() + "#" + strconv.FormatUint(e.flightGen, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		e.flight = f
	}
	f.waiters++
	// Joined under c.mu: runFetch detaches the flight under c.mu before
	// returning, so nobody joins a finished call.
	ch := c.flight.DoChan(f.key, func() (any, error) {
		return c.runFetch(f, e)
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		c.leaveFlight(f)
		return res.Val, res.Err
	case <-ctx.Done():
		c.leaveFlight(f)
		return nil, ctx.Err()
	}
}

func (c *QueryClient) leaveFlight(f *fetchFlight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
	}
}

func (c *QueryClient) runFetch(f *fetchFlight, e *queryEntry) (any, error) {
	c.mu.Lock()
	fetch := e.fetch
	if fetch == nil {
		if e.flight == f {
			e.flight = nil
		}
		c.mu.Unlock()
		return nil, NewErrInvalidKey(e.id, "nil fetch function")
	}
	opts := *c.optionsFor(e).Retry
	e.store.Update(func(s QueryState) QueryState {
		s.FetchStatus = FetchFetching
		s.FailureCount = 0
		return s
	})
	c.mu.Unlock()

	onRetry := opts.OnRetry
	opts.OnRetry = func(err error, attempt int, backoff time.Duration) {
		c.cfg.MetricsCollector.RecordRetry()
		c.logger.Debug("retrying fetch", "key", e.id.String(), "attempt", attempt, "backoff", backoff, "error", err)
		c.mu.Lock()
		e.store.Update(func(s QueryState) QueryState {
			s.FailureCount++
			return s
		})
		c.mu.Unlock()
		if onRetry != nil {
			onRetry(err, attempt, backoff)
		}
	}

	start := time.Now()
	v, err := Retry(f.ctx, c.clock, opts, func(ctx context.Context) (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = NewErrPanicRecovered("fetch "+e.id.String(), r)
			}
		}()
		return fetch(ctx)
	})
	if err != nil && f.ctx.Err() != nil {
		err = f.ctx.Err()
	}
	c.cfg.MetricsCollector.RecordFetch(time.Since(start).Nanoseconds(), err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	f.cancel()
	// A newer flight replaced this one after every waiter left; the
	// newer flight owns the fetch status.
	current := e.flight == f
	if current {
		e.flight = nil
	}
	now := c.clock.Now()
	e.store.Update(func(s QueryState) QueryState {
		if current {
			s.FetchStatus = FetchIdle
		}
		switch {
		case err == nil:
			s.Data = v
			s.Err = nil
			s.Status = StatusSuccess
			s.DataUpdatedAt = now
			s.FailureCount = 0
			s.Invalidated = false
		case IsCancellation(err):
		default:
			s.Err = err
			s.Status = StatusFailure
			s.ErrorUpdatedAt = now
			s.FailureCount++
		}
		return s
	})
	if _, active := c.active[e.id]; !active && err == nil {
		if _, cached := c.inactive.Get(e.id); cached {
			c.inactive.Set(e.id, e, c.optionsFor(e).GcTime)
		}
	}
	if err != nil && !IsCancellation(err) {
		c.logger.Warn("fetch failed", "key", e.id.String(), "error", err)
	}
	return v, err
}

// runLoop is the block of a query's ActorBlockRunner.
func (c *QueryClient) runLoop(ctx context.Context, e *queryEntry) {
	c.mu.Lock()
	stale := e.store.Get().IsStale(c.clock.Now(), c.optionsFor(e).StaleTime)
	c.mu.Unlock()

	select {
	case <-e.refetch:
		stale = true
	default:
	}
	if stale {
		c.observedFetch(ctx, e)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.refetch:
			c.observedFetch(ctx, e)
		}
	}
}

func (c *QueryClient) observedFetch(ctx context.Context, e *queryEntry) {
	_, err := c.fetchEntry(ctx, e)
	if err == nil || IsCancellation(err) {
		return
	}
	c.mu.Lock()
	marker := e.marker
	c.mu.Unlock()
	if serr := c.relay.Send(ErrorRecord{Err: err, KeyID: e.id, Marker: marker}); serr != nil {
		c.logger.Debug("error not relayed", "key", e.id.String(), "error", serr)
	}
}
