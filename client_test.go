// client_test.go: end-to-end tests for the query client
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	goerrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/vela/internal/fakeclock"
)

// newTestClient creates a client closed at the end of the test. Batching
// flushes as soon as the queue is idle unless cfg says otherwise.
func newTestClient(t *testing.T, cfg Config) *QueryClient {
	t.Helper()
	if cfg.BatchInterval == 0 {
		cfg.BatchInterval = -1
	}
	c, err := NewQueryClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewQueryClient failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func noRetry() *RetryOptions {
	return &RetryOptions{}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// stateRecorder collects the states delivered to an observer.
type stateRecorder struct {
	mu     sync.Mutex
	states []QueryState
}

func (r *stateRecorder) listen(s QueryState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []QueryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]QueryState(nil), r.states...)
}

func (r *stateRecorder) last() (QueryState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return QueryState{}, false
	}
	return r.states[len(r.states)-1], true
}

func (r *stateRecorder) hasStatus(status QueryStatus) bool {
	s, ok := r.last()
	return ok && s.Status == status && s.FetchStatus == FetchIdle
}

// countingKey returns a key whose fetch counts calls and returns value.
func countingKey(id UniqueID, value string, calls *atomic.Int32) QueryKey[string] {
	return QueryKey[string]{
		ID: id,
		Fetch: func(context.Context) (string, error) {
			calls.Add(1)
			return value, nil
		},
	}
}

func TestNewQueryClient_InvalidConfig(t *testing.T) {
	_, err := NewQueryClient(context.Background(), Config{GcTime: -time.Second})
	if GetErrorCode(err) != ErrCodeInvalidConfig {
		t.Errorf("expected %s, got %v", ErrCodeInvalidConfig, err)
	}
}

func TestObserve_DeliversInitialThenFetchedState(t *testing.T) {
	c := newTestClient(t, Config{Retry: noRetry()})
	release := make(chan struct{})
	key := QueryKey[string]{
		ID: MustUniqueID("greeting"),
		Fetch: func(ctx context.Context) (string, error) {
			<-release
			return "hello", nil
		},
	}

	rec := &stateRecorder{}
	detach, err := Observe(c, key, nil, rec.listen)
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	defer detach()

	eventually(t, "initial state", func() bool { return len(rec.all()) > 0 })
	if first := rec.all()[0]; first.Status != StatusPending || first.Data != nil {
		t.Errorf("first state should be pending without data, got %+v", first)
	}

	close(release)
	eventually(t, "success state", func() bool { return rec.hasStatus(StatusSuccess) })
	s, _ := rec.last()
	if v, ok := StateData[string](s); !ok || v != "hello" {
		t.Errorf("data = %v", s.Data)
	}
	if s.DataUpdatedAt == 0 {
		t.Error("DataUpdatedAt should be set")
	}
	if c.ActiveCount() != 1 {
		t.Errorf("expected 1 active query, got %d", c.ActiveCount())
	}
}

func TestObserve_InvalidKey(t *testing.T) {
	c := newTestClient(t, Config{})

	_, err := Observe(c, QueryKey[string]{ID: MustUniqueID("q")}, nil, func(QueryState) {})
	if GetErrorCode(err) != ErrCodeInvalidKey {
		t.Errorf("nil fetch: expected %s, got %v", ErrCodeInvalidKey, err)
	}
	_, err = Observe(c, QueryKey[string]{Fetch: func(context.Context) (string, error) { return "", nil }}, nil, func(QueryState) {})
	if GetErrorCode(err) != ErrCodeInvalidKey {
		t.Errorf("zero id: expected %s, got %v", ErrCodeInvalidKey, err)
	}
}

func TestObserve_SharedByObservers(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("shared"), "v", &calls)

	a, b := &stateRecorder{}, &stateRecorder{}
	detachA, _ := Observe(c, key, nil, a.listen)
	defer detachA()
	eventually(t, "first observer success", func() bool { return a.hasStatus(StatusSuccess) })

	detachB, _ := Observe(c, key, nil, b.listen)
	defer detachB()
	eventually(t, "second observer state", func() bool { return b.hasStatus(StatusSuccess) })

	if n := calls.Load(); n != 1 {
		t.Errorf("fresh data should not be refetched, fetched %d times", n)
	}
	models := c.Queries(Filter[QueryModel]{Type: FilterActive})
	if len(models) != 1 || models[0].Observers != 2 {
		t.Errorf("expected one active query with 2 observers, got %+v", models)
	}
}

func TestFetchQuery_CachesFreshData(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("users", 1), "alice", &calls)

	for i := 0; i < 3; i++ {
		v, err := FetchQuery(context.Background(), c, key)
		if err != nil || v != "alice" {
			t.Fatalf("FetchQuery = %q, %v", v, err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
	if v, ok := GetQueryData[string](c, key.ID); !ok || v != "alice" {
		t.Errorf("GetQueryData = %q, %v", v, ok)
	}
	if c.ActiveCount() != 0 || c.Stats().Size != 1 {
		t.Errorf("fetched query should be cached as inactive, active=%d size=%d", c.ActiveCount(), c.Stats().Size)
	}
}

func TestFetchQuery_StaleDataIsRefetched(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: 0, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("users", 1), "alice", &calls)

	_, _ = FetchQuery(context.Background(), c, key)
	_, _ = FetchQuery(context.Background(), c, key)
	if n := calls.Load(); n != 2 {
		t.Errorf("stale data should be refetched, got %d fetches", n)
	}
}

func TestFetchQuery_ConcurrentCallsShareFetch(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	release := make(chan struct{})
	key := QueryKey[int]{
		ID: MustUniqueID("counter"),
		Fetch: func(context.Context) (int, error) {
			calls.Add(1)
			<-release
			return 42, nil
		},
	}

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := FetchQuery(context.Background(), c, key)
			if err != nil {
				t.Errorf("FetchQuery failed: %v", err)
			}
			results[i] = v
		}()
	}
	eventually(t, "fetch to start", func() bool { return calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single fetch, got %d", n)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("result %d = %d, want 42", i, v)
		}
	}
}

// flightWaiters returns how many callers wait for the in-flight fetch of id.
func flightWaiters(c *QueryClient, id UniqueID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookup(id)
	if e == nil || e.flight == nil {
		return 0
	}
	return e.flight.waiters
}

// blockingKey returns a key whose fetch blocks until release is closed or
// its context ends. cancelled is closed when the fetch context ends.
func blockingKey(id UniqueID, started, release, cancelled chan struct{}) QueryKey[string] {
	var once sync.Once
	return QueryKey[string]{
		ID: id,
		Fetch: func(ctx context.Context) (string, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return "done", nil
			case <-ctx.Done():
				close(cancelled)
				return "", ctx.Err()
			}
		},
	}
}

func TestFetchQuery_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	started, release, cancelled := make(chan struct{}), make(chan struct{}), make(chan struct{})
	key := blockingKey(MustUniqueID("slow"), started, release, cancelled)

	ctx, cancel := context.WithCancel(context.Background())
	leaving := make(chan error, 1)
	go func() {
		_, err := FetchQuery(ctx, c, key)
		leaving <- err
	}()
	<-started

	staying := make(chan string, 1)
	go func() {
		v, _ := FetchQuery(context.Background(), c, key)
		staying <- v
	}()
	eventually(t, "second caller to join", func() bool { return flightWaiters(c, key.ID) == 2 })

	cancel()
	if err := <-leaving; !goerrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case <-cancelled:
		t.Fatal("fetch was cancelled while a caller still waited")
	default:
	}

	close(release)
	if v := <-staying; v != "done" {
		t.Errorf("remaining caller got %q, want done", v)
	}
	if v, ok := GetQueryData[string](c, key.ID); !ok || v != "done" {
		t.Errorf("shared fetch result not stored, got %q %v", v, ok)
	}
}

func TestFetchQuery_LastCallerLeavingCancelsFetch(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	started, release, cancelled := make(chan struct{}), make(chan struct{}), make(chan struct{})
	key := blockingKey(MustUniqueID("abandoned"), started, release, cancelled)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := FetchQuery(ctx, c, key)
		errCh <- err
	}()
	<-started
	cancel()

	if err := <-errCh; !goerrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch context was not cancelled after the last caller left")
	}
	eventually(t, "fetch to go idle", func() bool {
		models := c.Queries(Filter[QueryModel]{})
		return len(models) == 1 && models[0].State.FetchStatus == FetchIdle
	})
	if m := c.Queries(Filter[QueryModel]{})[0]; m.State.Status != StatusPending || m.State.Err != nil {
		t.Errorf("cancellation must not be stored, got %+v", m.State)
	}

	// A later caller starts a fresh fetch.
	close(release)
	v, err := FetchQuery(context.Background(), c, key)
	if err != nil || v != "done" {
		t.Errorf("FetchQuery after abandoned fetch = %q, %v", v, err)
	}
}

func TestFetchQuery_ErrorsAreWrapped(t *testing.T) {
	c := newTestClient(t, Config{Retry: noRetry()})

	_, err := FetchQuery(context.Background(), c, QueryKey[string]{
		ID:    MustUniqueID("broken"),
		Fetch: func(context.Context) (string, error) { return "", goerrors.New("offline") },
	})
	if !IsQueryFailed(err) {
		t.Fatalf("expected query failed error, got %v", err)
	}
	if root := errors.RootCause(err); root.Error() != "offline" {
		t.Errorf("root cause = %v", root)
	}

	_, err = FetchQuery(context.Background(), c, QueryKey[string]{
		ID:    MustUniqueID("panicky"),
		Fetch: func(context.Context) (string, error) { panic("boom") },
	})
	if !IsQueryFailed(err) {
		t.Errorf("a panicking fetch should fail the query, got %v", err)
	}

	models := c.Queries(Filter[QueryModel]{Keys: nil, Predicate: func(m QueryModel) bool {
		return m.State.Status == StatusFailure
	}})
	if len(models) != 2 {
		t.Errorf("expected 2 failed queries, got %d", len(models))
	}
	for _, m := range models {
		if IsQueryFailed(m.State.Err) {
			t.Errorf("state should keep the raw error, got %v", m.State.Err)
		}
	}
}

func TestFetchQuery_RetriesBeforeFailing(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, Config{Retry: &RetryOptions{RetryCount: 2, InitialInterval: time.Millisecond}})

	v, err := FetchQuery(context.Background(), c, QueryKey[string]{
		ID: MustUniqueID("flaky"),
		Fetch: func(context.Context) (string, error) {
			if attempts.Add(1) < 3 {
				return "", goerrors.New("try again")
			}
			return "ok", nil
		},
	})
	if err != nil || v != "ok" {
		t.Fatalf("FetchQuery = %q, %v", v, err)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestPrefetchQuery_WarmsCache(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("warm"), "x", &calls)

	PrefetchQuery(context.Background(), c, key)
	PrefetchQuery(context.Background(), c, QueryKey[string]{
		ID:    MustUniqueID("cold"),
		Fetch: func(context.Context) (string, error) { return "", goerrors.New("nope") },
	})

	if v, ok := GetQueryData[string](c, key.ID); !ok || v != "x" {
		t.Errorf("GetQueryData = %q, %v", v, ok)
	}
	if _, ok := GetQueryData[string](c, MustUniqueID("cold")); ok {
		t.Error("failed prefetch should not produce data")
	}
}

func TestSetQueryData(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour})
	id := MustUniqueID("profile")

	if err := SetQueryData(c, id, 7); err != nil {
		t.Fatalf("SetQueryData failed: %v", err)
	}
	if v, ok := GetQueryData[int](c, id); !ok || v != 7 {
		t.Errorf("GetQueryData = %d, %v", v, ok)
	}
	if _, ok := GetQueryData[string](c, id); ok {
		t.Error("GetQueryData with the wrong type should report false")
	}
	if _, ok := GetQueryData[int](c, MustUniqueID("absent")); ok {
		t.Error("unknown id should report false")
	}
	if err := SetQueryData(c, UniqueID{}, 1); GetErrorCode(err) != ErrCodeInvalidKey {
		t.Errorf("zero id: expected %s, got %v", ErrCodeInvalidKey, err)
	}

	// Fresh data set by hand satisfies FetchQuery.
	v, err := FetchQuery(context.Background(), c, QueryKey[int]{
		ID:    id,
		Fetch: func(context.Context) (int, error) { return 0, goerrors.New("should not fetch") },
	})
	if err != nil || v != 7 {
		t.Errorf("FetchQuery = %d, %v", v, err)
	}
}

func TestInvalidateQueries_RefetchesObserved(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("todos", "list"), "v", &calls)

	rec := &stateRecorder{}
	detach, _ := Observe(c, key, nil, rec.listen)
	defer detach()
	eventually(t, "first fetch", func() bool { return rec.hasStatus(StatusSuccess) })

	if n := c.InvalidateQueries(Filter[QueryModel]{Keys: []SurrogateKey{"list"}}); n != 1 {
		t.Errorf("expected 1 invalidated query, got %d", n)
	}
	eventually(t, "refetch", func() bool { return calls.Load() == 2 })
	eventually(t, "fresh state", func() bool {
		s, ok := rec.last()
		return ok && !s.Invalidated && s.Status == StatusSuccess
	})

	if n := c.InvalidateQueries(Filter[QueryModel]{Keys: []SurrogateKey{"other"}}); n != 0 {
		t.Errorf("non-matching filter invalidated %d queries", n)
	}
}

func TestInvalidateQueries_UnobservedRefetchOnNextUse(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("todos"), "v", &calls)

	_, _ = FetchQuery(context.Background(), c, key)
	c.InvalidateQueries(Filter[QueryModel]{})
	if n := calls.Load(); n != 1 {
		t.Fatalf("inactive query should not refetch on its own, got %d", n)
	}
	_, _ = FetchQuery(context.Background(), c, key)
	if n := calls.Load(); n != 2 {
		t.Errorf("invalidated query should refetch on next use, got %d", n)
	}
}

func TestKeepAliveThenGarbageCollection(t *testing.T) {
	clk := fakeclock.New(epoch)
	c := newTestClient(t, Config{
		Clock:         clk,
		KeepAliveTime: 5 * time.Second,
		GcTime:        time.Minute,
		StaleTime:     time.Hour,
		Retry:         noRetry(),
	})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("session"), "s", &calls)

	rec := &stateRecorder{}
	detach, err := Observe(c, key, nil, rec.listen)
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	eventually(t, "fetch", func() bool { return rec.hasStatus(StatusSuccess) })

	detach()
	detach()
	clk.Advance(4 * time.Second)
	if c.ActiveCount() != 1 {
		t.Fatal("query should stay active during keep-alive")
	}

	clk.Advance(time.Second)
	eventually(t, "query to become inactive", func() bool { return c.ActiveCount() == 0 })
	inactive := c.Queries(Filter[QueryModel]{Type: FilterInactive})
	if len(inactive) != 1 || inactive[0].Active {
		t.Fatalf("expected one inactive query, got %+v", inactive)
	}
	if v, ok := GetQueryData[string](c, key.ID); !ok || v != "s" {
		t.Errorf("inactive data should remain readable, got %q %v", v, ok)
	}

	// A new observer within GcTime reuses the cached data.
	rec2 := &stateRecorder{}
	detach2, _ := Observe(c, key, nil, rec2.listen)
	eventually(t, "cached state", func() bool { return rec2.hasStatus(StatusSuccess) })
	if n := calls.Load(); n != 1 {
		t.Errorf("cached fresh data should not be refetched, got %d fetches", n)
	}
	detach2()
	clk.Advance(5 * time.Second)
	eventually(t, "query to become inactive again", func() bool { return c.ActiveCount() == 0 })

	clk.Advance(time.Minute)
	if models := c.Queries(Filter[QueryModel]{}); len(models) != 0 {
		t.Errorf("query should be collected after GcTime, got %d", len(models))
	}
	if _, ok := GetQueryData[string](c, key.ID); ok {
		t.Error("collected query should have no data")
	}
}

func TestKeepAliveExpiryCancelsFetch(t *testing.T) {
	clk := fakeclock.New(epoch)
	c := newTestClient(t, Config{
		Clock:         clk,
		KeepAliveTime: time.Second,
		StaleTime:     time.Hour,
		Retry:         noRetry(),
	})
	started, release, cancelled := make(chan struct{}), make(chan struct{}), make(chan struct{})
	defer close(release)
	key := blockingKey(MustUniqueID("hanging"), started, release, cancelled)

	detach, err := Observe(c, key, nil, func(QueryState) {})
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	<-started
	detach()
	clk.Advance(2 * time.Second)

	eventually(t, "query to become inactive", func() bool { return c.ActiveCount() == 0 })
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch context was not cancelled after the runner stopped")
	}
	eventually(t, "fetch to go idle", func() bool {
		models := c.Queries(Filter[QueryModel]{Type: FilterInactive})
		return len(models) == 1 && models[0].State.FetchStatus == FetchIdle
	})
}

func TestFetchQuery_FailureCount(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		want    int
	}{
		{"no retries", 0, 1},
		{"two retries", 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, Config{Retry: &RetryOptions{
				RetryCount:      tt.retries,
				InitialInterval: time.Millisecond,
			}})
			id := MustUniqueID("flaky", tt.retries)
			_, err := FetchQuery(context.Background(), c, QueryKey[int]{
				ID:    id,
				Fetch: func(context.Context) (int, error) { return 0, goerrors.New("offline") },
			})
			if !IsQueryFailed(err) {
				t.Fatalf("expected query failed error, got %v", err)
			}
			models := c.Queries(Filter[QueryModel]{})
			if len(models) != 1 {
				t.Fatalf("expected one query, got %d", len(models))
			}
			if got := models[0].State.FailureCount; got != tt.want {
				t.Errorf("FailureCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClose_FlushesPendingNotifications(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := NewQueryClient(context.Background(), Config{
			StaleTime:     time.Hour,
			BatchInterval: time.Hour,
			Retry:         noRetry(),
		})
		if err != nil {
			t.Fatalf("NewQueryClient failed: %v", err)
		}
		id := MustUniqueID("draft")
		_ = SetQueryData(c, id, "initial")

		var calls atomic.Int32
		rec := &stateRecorder{}
		if _, err := Observe(c, countingKey(id, "fetched", &calls), nil, rec.listen); err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
		_ = SetQueryData(c, id, "final")
		if err := c.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		last, ok := rec.last()
		if !ok || last.Data != "final" {
			t.Fatalf("run %d: observer did not see the final state before Close returned, got %+v", i, last)
		}
	}
}

func TestObserve_FailureIsRelayedWithMarker(t *testing.T) {
	c := newTestClient(t, Config{Retry: noRetry()})
	id := MustUniqueID("feed")
	key := QueryKey[string]{
		ID:    id,
		Fetch: func(context.Context) (string, error) { return "", goerrors.New("offline") },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := c.Errors(ctx)

	rec := &stateRecorder{}
	detach, _ := Observe(c, key, MarkerOf(screenElement("home")), rec.listen)
	defer detach()

	select {
	case r := <-errs:
		if r.KeyID != id || r.Err.Error() != "offline" {
			t.Errorf("unexpected record %s: %v", r.KeyID, r.Err)
		}
		if s, ok := MarkerValue[screenElement](r.Marker, screenKey); !ok || s != "home" {
			t.Errorf("marker not carried, got %v", r.Marker)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("error was not relayed")
	}

	eventually(t, "failure state", func() bool { return rec.hasStatus(StatusFailure) })
	s, _ := rec.last()
	if s.Err == nil || s.ErrorUpdatedAt == 0 {
		t.Errorf("failure state incomplete: %+v", s)
	}
}

func TestNetworkSignalResumesFailedQueries(t *testing.T) {
	var network NetworkNotifier
	c := newTestClient(t, Config{Retry: noRetry(), NetworkSignals: &network})
	var online atomic.Bool
	key := QueryKey[string]{
		ID: MustUniqueID("remote"),
		Fetch: func(context.Context) (string, error) {
			if !online.Load() {
				return "", goerrors.New("offline")
			}
			return "data", nil
		},
	}

	rec := &stateRecorder{}
	detach, _ := Observe(c, key, nil, rec.listen)
	defer detach()
	eventually(t, "failure", func() bool { return rec.hasStatus(StatusFailure) })

	online.Store(true)
	network.Notify(NetworkLost)
	network.Notify(NetworkAvailable)
	eventually(t, "recovery", func() bool { return rec.hasStatus(StatusSuccess) })

	if network.Len() != 1 {
		t.Errorf("client should listen once, got %d listeners", network.Len())
	}
	_ = c.Close()
	if network.Len() != 0 {
		t.Error("Close should remove the signal listener")
	}
}

func TestMemorySignalDropsInactiveQueries(t *testing.T) {
	var memory MemoryNotifier
	c := newTestClient(t, Config{StaleTime: time.Hour, MemorySignals: &memory})

	for i := 0; i < 3; i++ {
		if err := SetQueryData(c, MustUniqueID("item", i), i); err != nil {
			t.Fatalf("SetQueryData failed: %v", err)
		}
	}
	if c.Stats().Size != 3 {
		t.Fatalf("expected 3 cached queries, got %d", c.Stats().Size)
	}

	memory.Notify(MemoryCritical)
	if n := len(c.Queries(Filter[QueryModel]{})); n != 0 {
		t.Errorf("expected empty cache after memory pressure, got %d", n)
	}
}

func TestVisibilitySignalRefetchesStaleObserved(t *testing.T) {
	var visibility VisibilityNotifier
	c := newTestClient(t, Config{StaleTime: 0, Retry: noRetry(), VisibilitySignals: &visibility})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("dashboard"), "v", &calls)

	rec := &stateRecorder{}
	detach, _ := Observe(c, key, nil, rec.listen)
	defer detach()
	eventually(t, "first fetch", func() bool { return rec.hasStatus(StatusSuccess) })

	visibility.Notify(Hidden)
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("hidden event should not refetch, got %d", n)
	}

	visibility.Notify(Visible)
	eventually(t, "refetch on visible", func() bool { return calls.Load() == 2 })
}

func TestMutate_SuccessInvalidatesQueries(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("todos", "list"), "v", &calls)

	rec := &stateRecorder{}
	detach, _ := Observe(c, key, nil, rec.listen)
	defer detach()
	eventually(t, "first fetch", func() bool { return rec.hasStatus(StatusSuccess) })

	var succeeded string
	result, err := Mutate(context.Background(), c, MutationOptions[string, string]{
		KeyID: MustUniqueID("addTodo"),
		Mutate: func(_ context.Context, title string) (string, error) {
			return "created " + title, nil
		},
		OnSuccess:  func(r, _ string) { succeeded = r },
		Invalidate: &Filter[QueryModel]{Keys: []SurrogateKey{"todos"}},
	}, "milk", nil)

	if err != nil || result != "created milk" {
		t.Fatalf("Mutate = %q, %v", result, err)
	}
	if succeeded != "created milk" {
		t.Errorf("OnSuccess not called, got %q", succeeded)
	}
	eventually(t, "refetch after mutation", func() bool { return calls.Load() == 2 })
}

func TestMutate_FailureIsRelayedAndReturned(t *testing.T) {
	c := newTestClient(t, Config{})
	id := MustUniqueID("deleteTodo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := c.Errors(ctx)

	var attempts atomic.Int32
	var onError error
	_, err := Mutate(context.Background(), c, MutationOptions[bool, int]{
		KeyID: id,
		Mutate: func(context.Context, int) (bool, error) {
			attempts.Add(1)
			return false, goerrors.New("forbidden")
		},
		Retry:   &RetryOptions{RetryCount: 1, InitialInterval: time.Millisecond},
		OnError: func(err error, _ int) { onError = err },
	}, 3, MarkerOf(screenElement("list")))

	if err == nil || err.Error() != "forbidden" {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if onError == nil || attempts.Load() != 2 {
		t.Errorf("onError=%v attempts=%d", onError, attempts.Load())
	}

	select {
	case r := <-errs:
		if r.KeyID != id {
			t.Errorf("unexpected key %s", r.KeyID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("mutation error was not relayed")
	}
}

func TestMutate_InvalidAndCancelled(t *testing.T) {
	c := newTestClient(t, Config{})

	_, err := Mutate(context.Background(), c, MutationOptions[int, int]{}, 1, nil)
	if GetErrorCode(err) != ErrCodeInvalidKey {
		t.Errorf("expected %s, got %v", ErrCodeInvalidKey, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Mutate(ctx, c, MutationOptions[int, int]{
		Mutate: func(ctx context.Context, v int) (int, error) { return 0, ctx.Err() },
	}, 1, nil)
	if !IsCancellation(err) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestRefetchQueries(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry(), MaxConcurrentRefetch: 2})
	var a, b atomic.Int32
	keyA := countingKey(MustUniqueID("page", 1), "a", &a)
	keyB := countingKey(MustUniqueID("page", 2), "b", &b)
	_, _ = FetchQuery(context.Background(), c, keyA)
	_, _ = FetchQuery(context.Background(), c, keyB)

	if err := c.RefetchQueries(context.Background(), Filter[QueryModel]{Keys: []SurrogateKey{1}}); err != nil {
		t.Fatalf("RefetchQueries failed: %v", err)
	}
	if a.Load() != 2 || b.Load() != 1 {
		t.Errorf("only page 1 should refetch, got a=%d b=%d", a.Load(), b.Load())
	}

	var failing atomic.Bool
	_, _ = FetchQuery(context.Background(), c, QueryKey[string]{
		ID: MustUniqueID("page", 3),
		Fetch: func(context.Context) (string, error) {
			if failing.Load() {
				return "", goerrors.New("gone")
			}
			return "c", nil
		},
	})
	failing.Store(true)
	if err := c.RefetchQueries(context.Background(), Filter[QueryModel]{}); !IsQueryFailed(err) {
		t.Errorf("expected query failed error, got %v", err)
	}
}

func TestRemoveQueries(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	_ = SetQueryData(c, MustUniqueID("keep"), 1)
	_ = SetQueryData(c, MustUniqueID("drop", "x"), 2)

	var calls atomic.Int32
	rec := &stateRecorder{}
	detach, _ := Observe(c, countingKey(MustUniqueID("drop", "active"), "v", &calls), nil, rec.listen)
	defer detach()
	eventually(t, "active fetch", func() bool { return rec.hasStatus(StatusSuccess) })

	if n := c.RemoveQueries(Filter[QueryModel]{Keys: []SurrogateKey{"x", "active"}}); n != 2 {
		t.Errorf("expected 2 removed queries, got %d", n)
	}
	if c.ActiveCount() != 0 {
		t.Error("removed active query should be gone")
	}
	if _, ok := GetQueryData[int](c, MustUniqueID("keep")); !ok {
		t.Error("unmatched query should survive")
	}
	if _, ok := GetQueryData[int](c, MustUniqueID("drop", "x")); ok {
		t.Error("removed query should be gone")
	}
}

func TestResumeQueries_OnlyFailedActive(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("fine"), "v", &calls)

	rec := &stateRecorder{}
	detach, _ := Observe(c, key, nil, rec.listen)
	defer detach()
	eventually(t, "fetch", func() bool { return rec.hasStatus(StatusSuccess) })

	if n := c.ResumeQueries(Filter[QueryModel]{}); n != 0 {
		t.Errorf("healthy queries should not resume, got %d", n)
	}
}

func TestClosedClient(t *testing.T) {
	c, err := NewQueryClient(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewQueryClient failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	var calls atomic.Int32
	key := countingKey(MustUniqueID("q"), "v", &calls)

	if _, err := Observe(c, key, nil, func(QueryState) {}); !IsClosed(err) {
		t.Errorf("Observe: expected closed error, got %v", err)
	}
	if _, err := FetchQuery(context.Background(), c, key); !IsClosed(err) {
		t.Errorf("FetchQuery: expected closed error, got %v", err)
	}
	if err := SetQueryData(c, key.ID, "v"); !IsClosed(err) {
		t.Errorf("SetQueryData: expected closed error, got %v", err)
	}
	if err := c.RefetchQueries(context.Background(), Filter[QueryModel]{}); !IsClosed(err) {
		t.Errorf("RefetchQueries: expected closed error, got %v", err)
	}
	_, err = Mutate(context.Background(), c, MutationOptions[int, int]{
		Mutate: func(context.Context, int) (int, error) { return 0, nil },
	}, 0, nil)
	if !IsClosed(err) {
		t.Errorf("Mutate: expected closed error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("closed client must not fetch")
	}
}

func TestQueryOptionsOverrideDefaults(t *testing.T) {
	c := newTestClient(t, Config{StaleTime: time.Hour, Retry: noRetry()})
	var calls atomic.Int32
	key := countingKey(MustUniqueID("volatile"), "v", &calls)
	key.Options = &QueryOptions{StaleTime: 0, GcTime: time.Minute}

	_, _ = FetchQuery(context.Background(), c, key)
	_, _ = FetchQuery(context.Background(), c, key)
	if n := calls.Load(); n != 2 {
		t.Errorf("per-query StaleTime should win, got %d fetches", n)
	}

	c.mu.Lock()
	opts := c.optionsFor(c.lookup(key.ID))
	c.mu.Unlock()
	if opts.Retry == nil || opts.Retry.RetryCount != 0 {
		t.Errorf("nil Retry should fall back to the client default, got %+v", opts.Retry)
	}
}

func TestQueryState_IsStale(t *testing.T) {
	tests := []struct {
		name  string
		state QueryState
		now   int64
		stale time.Duration
		want  bool
	}{
		{"pending", QueryState{}, 0, time.Hour, true},
		{"failure", QueryState{Status: StatusFailure}, 0, time.Hour, true},
		{"fresh", QueryState{Status: StatusSuccess, DataUpdatedAt: 100}, 200, time.Hour, false},
		{"expired", QueryState{Status: StatusSuccess, DataUpdatedAt: 100}, 100 + int64(time.Hour), time.Hour, true},
		{"zero stale time", QueryState{Status: StatusSuccess, DataUpdatedAt: 100}, 100, 0, true},
		{"never stale", QueryState{Status: StatusSuccess, DataUpdatedAt: 100}, 1 << 62, -1, false},
		{"invalidated", QueryState{Status: StatusSuccess, DataUpdatedAt: 100, Invalidated: true}, 100, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.now, tt.stale); got != tt.want {
				t.Errorf("IsStale = %v, want %v", got, tt.want)
			}
		})
	}
}
