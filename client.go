// client.go: query client wiring caches, runners, batching and the error relay
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// QueryClient owns every query of an application.
//
// Queries with at least one observer, or still inside their keep-alive
// window, are active: they have a fetch loop run by an ActorBlockRunner.
// When the keep-alive expires the query moves to a TimeBasedCache for
// GcTime, from where a later observer or fetch picks it up again.
//
// All methods are safe for concurrent use.
type QueryClient struct {
	cfg    Config
	clock  Clock
	logger Logger

	mu       sync.Mutex
	locked   Executor
	defaults queryDefaults
	active   map[UniqueID]*queryEntry
	inactive *TimeBasedCache[UniqueID, *queryEntry]
	closed   bool

	flight    singleflight.Group
	scheduler *BatchScheduler
	relay     *ErrorRelay
	ownExec   *SerialExecutor
	scope     context.Context
	cancel    context.CancelFunc
	unlisten  []func()
}

type queryEntry struct {
	id      UniqueID
	store   *Store[QueryState]
	fetch   func(ctx context.Context) (any, error)
	options *QueryOptions
	marker  Marker
	runner  *ActorBlockRunner
	refetch chan struct{}

	flight    *fetchFlight
	flightGen uint64
}

// NewQueryClient creates a client bound to ctx. Close releases it.
func NewQueryClient(ctx context.Context, cfg Config) (*QueryClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scope, cancel := context.WithCancel(ctx)

	c := &QueryClient{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		defaults: cfg.queryDefaults(),
		active:   make(map[UniqueID]*queryEntry),
		scope:    scope,
		cancel:   cancel,
	}
	c.locked = LockedExecutor(&c.mu)
	c.inactive = NewTimeBasedCache[UniqueID, *queryEntry](cfg.CacheCapacity,
		WithTimeProvider(cfg.Clock),
		WithCacheMetrics(cfg.MetricsCollector),
		WithEvictionCallback(func(id UniqueID, _ *queryEntry) {
			c.logger.Debug("inactive query evicted", "key", id.String())
		}),
		WithExpirationCallback(func(id UniqueID, _ *queryEntry) {
			c.logger.Debug("inactive query collected", "key", id.String())
		}),
	)

	exec := cfg.Executor
	if exec == nil {
		c.ownExec = NewSerialExecutor(scope, cfg.Logger)
		exec = c.ownExec
	}
	c.scheduler = NewBatchScheduler(scope, BatchOptions{
		ChunkSize: cfg.BatchChunkSize,
		Interval:  cfg.BatchInterval,
		Executor:  exec,
		Clock:     cfg.Clock,
		Logger:    cfg.Logger,
	})
	c.relay = NewErrorRelay(scope, RelayOptions{
		Buffer:              cfg.RelayBuffer,
		ShouldSuppressError: cfg.ShouldSuppressError,
		AreErrorsEqual:      cfg.AreErrorsEqual,
		Logger:              cfg.Logger,
		MetricsCollector:    cfg.MetricsCollector,
	})
	c.listenSignals()

	c.logger.Info("query client started", "cache_capacity", cfg.CacheCapacity,
		"gc_time", cfg.GcTime, "keep_alive", cfg.KeepAliveTime)
	return c, nil
}

// Errors returns a stream of relayed query and mutation errors for one
// consumer. Each error reaches only one consumer.
func (c *QueryClient) Errors(ctx context.Context) <-chan ErrorRecord {
	return c.relay.Receive(ctx)
}

// Stats returns statistics of the inactive query cache.
func (c *QueryClient) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inactive.Stats()
}

// ActiveCount returns the number of active queries.
func (c *QueryClient) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Close stops every fetch loop, flushes pending notifications and shuts
// the relay down. It is safe to call more than once.
func (c *QueryClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, e := range c.active {
		if e.runner != nil {
			e.runner.Close()
			e.runner = nil
		}
	}
	clear(c.active)
	c.inactive.Clear()
	unlisten := c.unlisten
	c.unlisten = nil
	c.mu.Unlock()

	for _, f := range unlisten {
		f()
	}
	c.scheduler.Close()
	// The owned executor runs the last chunk before the scope ends.
	if c.ownExec != nil {
		c.ownExec.Close()
	}
	c.cancel()
	c.relay.Close()
	c.logger.Info("query client closed")
	return nil
}

// InvalidateQueries marks the selected queries stale. Active queries with
// observers refetch.
func (c *QueryClient) InvalidateQueries(filter Filter[QueryModel]) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	c.forEach(filter, func(e *queryEntry, m QueryModel) {
		e.store.Update(func(s QueryState) QueryState {
			s.Invalidated = true
			return s
		})
		if m.Observers > 0 {
			e.triggerRefetch()
		}
		n++
	})
	return n
}

// ResumeQueries refetches the selected active queries that are in the
// failure state.
func (c *QueryClient) ResumeQueries(filter Filter[QueryModel]) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	c.forEach(filter, func(e *queryEntry, m QueryModel) {
		if m.Active && m.State.Status == StatusFailure {
			e.triggerRefetch()
			n++
		}
	})
	return n
}

// RemoveQueries drops the selected queries. Observers of a removed active
// query stop receiving updates.
func (c *QueryClient) RemoveQueries(filter Filter[QueryModel]) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []*queryEntry
	c.forEach(filter, func(e *queryEntry, _ QueryModel) {
		removed = append(removed, e)
	})
	for _, e := range removed {
		if c.active[e.id] == e {
			if e.runner != nil {
				e.runner.Close()
				e.runner = nil
			}
			delete(c.active, e.id)
		} else {
			c.inactive.Delete(e.id)
		}
	}
	return len(removed)
}

// RefetchQueries fetches the selected queries, at most
// MaxConcurrentRefetch at a time, and returns the first error.
func (c *QueryClient) RefetchQueries(ctx context.Context, filter Filter[QueryModel]) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewErrClientClosed("RefetchQueries")
	}
	var entries []*queryEntry
	c.forEach(filter, func(e *queryEntry, _ QueryModel) {
		if e.fetch != nil {
			entries = append(entries, e)
		}
	})
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrentRefetch)
	for _, e := range entries {
		g.Go(func() error {
			if _, err := c.fetchEntry(gctx, e); err != nil {
				if IsCancellation(err) {
					return err
				}
				return NewErrQueryFailed(e.id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Queries returns a snapshot of the selected queries.
func (c *QueryClient) Queries(filter Filter[QueryModel]) []QueryModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	var models []QueryModel
	c.forEach(filter, func(_ *queryEntry, m QueryModel) {
		models = append(models, m)
	})
	return models
}

// forEach visits the entries selected by filter. c.mu must be held.
func (c *QueryClient) forEach(filter Filter[QueryModel], fn func(e *queryEntry, m QueryModel)) {
	c.inactive.ExpireNow()
	entries := make(map[UniqueID]*queryEntry)
	resolver := FilterResolver[QueryModel]{
		Active:   c.activeModels(entries),
		Inactive: c.inactiveModels(entries),
	}
	resolver.ForEach(filter, func(id UniqueID, m QueryModel) {
		fn(entries[id], m)
	})
}

func (c *QueryClient) activeModels(seen map[UniqueID]*queryEntry) iter.Seq2[UniqueID, QueryModel] {
	return func(yield func(UniqueID, QueryModel) bool) {
		ids := make([]UniqueID, 0, len(c.active))
		for id := range c.active {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, func(a, b UniqueID) int {
			return strings.Compare(a.String(), b.String())
		})
		for _, id := range ids {
			e := c.active[id]
			seen[id] = e
			if !yield(id, e.model(true)) {
				return
			}
		}
	}
}

func (c *QueryClient) inactiveModels(seen map[UniqueID]*queryEntry) iter.Seq2[UniqueID, QueryModel] {
	return func(yield func(UniqueID, QueryModel) bool) {
		c.inactive.Range(func(id UniqueID, e *queryEntry) bool {
			seen[id] = e
			return yield(id, e.model(false))
		})
	}
}

// lookup returns the entry for id, active or cached. c.mu must be held.
func (c *QueryClient) lookup(id UniqueID) *queryEntry {
	if e, ok := c.active[id]; ok {
		return e
	}
	if e, ok := c.inactive.Get(id); ok {
		return e
	}
	return nil
}

// entryFor returns the entry for id, creating an inactive one if needed.
// c.mu must be held.
func (c *QueryClient) entryFor(id UniqueID) *queryEntry {
	if e := c.lookup(id); e != nil {
		return e
	}
	e := c.newEntry(id)
	c.inactive.Set(id, e, c.optionsFor(e).GcTime)
	return e
}

func (c *QueryClient) newEntry(id UniqueID) *queryEntry {
	return &queryEntry{
		id:      id,
		store:   NewStore(QueryState{}, c.scheduler, c.logger),
		marker:  EmptyMarker,
		refetch: make(chan struct{}, 1),
	}
}

// activate moves e to the active partition and makes sure it has a
// runner. c.mu must be held.
func (c *QueryClient) activate(e *queryEntry) {
	if _, ok := c.active[e.id]; !ok {
		c.inactive.Delete(e.id)
		c.active[e.id] = e
	}
	if e.runner != nil {
		return
	}
	e.runner = NewActorBlockRunner(ActorOptions{
		Scope:         c.scope,
		KeepAliveTime: c.optionsFor(e).KeepAliveTime,
		Block:         func(ctx context.Context) { c.runLoop(ctx, e) },
		OnTimeout:     func() { c.deactivate(e) },
		Executor:      c.locked,
		Clock:         c.clock,
		Logger:        c.logger,
		Name:          e.id.String(),
	})
}

// deactivate parks e in the inactive cache. Runs under c.mu.
func (c *QueryClient) deactivate(e *queryEntry) {
	e.runner = nil
	if c.closed || c.active[e.id] != e {
		return
	}
	delete(c.active, e.id)
	c.inactive.Set(e.id, e, c.optionsFor(e).GcTime)
	c.logger.Debug("query became inactive", "key", e.id.String())
}

func (c *QueryClient) optionsFor(e *queryEntry) QueryOptions {
	if e.options != nil {
		opts := *e.options
		if opts.Retry == nil {
			retry := c.defaults.retry
			opts.Retry = &retry
		}
		return opts
	}
	retry := c.defaults.retry
	return QueryOptions{
		StaleTime:     c.defaults.staleTime,
		GcTime:        c.defaults.gcTime,
		KeepAliveTime: c.defaults.keepAlive,
		Retry:         &retry,
	}
}

// setDefaults replaces the hot-reloadable defaults. Queries without their
// own options pick them up on their next use; running keep-alive timers
// keep their duration.
func (c *QueryClient) setDefaults(d queryDefaults) {
	c.mu.Lock()
	c.defaults = d
	c.mu.Unlock()
}

func (c *QueryClient) listenSignals() {
	if c.cfg.NetworkSignals != nil {
		c.unlisten = append(c.unlisten, c.cfg.NetworkSignals.AddListener(func(ev NetworkEvent) {
			if ev == NetworkAvailable {
				n := c.ResumeQueries(Filter[QueryModel]{Type: FilterActive})
				c.logger.Debug("network available, resumed queries", "count", n)
			}
		}))
	}
	if c.cfg.MemorySignals != nil {
		c.unlisten = append(c.unlisten, c.cfg.MemorySignals.AddListener(func(ev MemoryEvent) {
			c.mu.Lock()
			n := c.inactive.Len()
			c.inactive.Clear()
			c.mu.Unlock()
			c.logger.Warn("memory pressure, dropped inactive queries", "level", ev.String(), "count", n)
		}))
	}
	if c.cfg.VisibilitySignals != nil {
		c.unlisten = append(c.unlisten, c.cfg.VisibilitySignals.AddListener(func(ev VisibilityEvent) {
			if ev != Visible {
				return
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			now := c.clock.Now()
			c.forEach(Filter[QueryModel]{Type: FilterActive}, func(e *queryEntry, m QueryModel) {
				if m.Observers > 0 && m.State.IsStale(now, c.optionsFor(e).StaleTime) {
					e.triggerRefetch()
				}
			})
		}))
	}
}

func (e *queryEntry) model(active bool) QueryModel {
	m := QueryModel{ID: e.id, State: e.store.Get(), Active: active}
	if e.runner != nil {
		m.Observers = e.runner.AttachedCount()
	}
	return m
}

func (e *queryEntry) triggerRefetch() {
	select {
	case e.refetch <- struct{}{}:
	default:
	}
}
