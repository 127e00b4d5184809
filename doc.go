// Package vela is the caching and coordination core of a reactive
// data-fetching layer.
//
// # Overview
//
// Vela binds queries to explicit observable state, without any UI runtime:
//   - QueryClient: owns queries, their fetch loops and their cached state
//   - TimeBasedCache: fixed-capacity cache with a TTL per entry
//   - ActorBlockRunner: one background loop per key while observers exist
//   - Retry: exponential backoff with jitter around every fetch
//   - BatchScheduler: coalesces notifications into bounded chunks
//   - ErrorRelay: delivers each background failure to one listener, once
//   - Marker: immutable context bag travelling with every call
//   - Notifier: listener registry for network, memory and visibility signals
//   - UniqueID and Filter: identity and bulk selection of queries
//
// # Quick Start
//
//	client, err := vela.NewQueryClient(ctx, vela.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	todos := vela.QueryKey[[]Todo]{
//	    ID: vela.MustUniqueID("todos", "user", 42),
//	    Fetch: func(ctx context.Context) ([]Todo, error) {
//	        return api.ListTodos(ctx, 42)
//	    },
//	}
//
//	detach, err := vela.Observe(client, todos, vela.EmptyMarker, func(s vela.QueryState) {
//	    if list, ok := vela.StateData[[]Todo](s); ok {
//	        render(list)
//	    }
//	})
//	if err != nil {
//	    return err
//	}
//	defer detach()
//
// # Query Lifecycle
//
// The first observer of a key attaches to the key's ActorBlockRunner, which
// starts a fetch loop. The loop fetches right away if the data is stale and
// then waits for refetch requests (invalidation, network recovery, the
// application becoming visible).
//
// When the last observer detaches the loop keeps running for KeepAliveTime.
// An observer arriving in that window reuses it. Otherwise the loop stops
// and the query is parked in the TimeBasedCache for GcTime, where
// FetchQuery, GetQueryData or a new observer find it again.
//
// # Time-Based Cache
//
// TimeBasedCache keeps entries in a map and in a priority queue ordered by
// expiry. Get never evicts. Setting a new key on a full cache first calls
// Evict, which removes every expired entry or, when none has expired,
// exactly one entry: the one closest to expiry. That forced removal is
// what keeps the cache within capacity:
//
//	cache := vela.NewTimeBasedCache[string, int](2)
//	cache.Set("a", 1, 10*time.Second)
//	cache.Set("b", 2, 10*time.Second)
//	cache.Set("c", 3, 10*time.Second) // "a" is evicted
//
// # Retry
//
// Every fetch runs through Retry. DefaultRetryOptions retries 3 times,
// starting at 500ms, growing 1.5x per attempt with ±50% jitter, capped at
// 30s. The error of the final attempt is returned unchanged. Cancellation
// is never retried.
//
// # Error Relay
//
// Failures of observed queries and of mutations are sent to an ErrorRelay.
// It keeps a single pending record: an equal record (by default same key
// and same message) is coalesced, a different one replaces it. Each record
// is delivered to exactly one receiver of QueryClient.Errors.
//
//	for rec := range client.Errors(ctx) {
//	    showToast(rec.KeyID, rec.Err)
//	}
//
// # Concurrency Model
//
// QueryClient is safe for concurrent use. Its state is guarded by one
// mutex; keep-alive timers rejoin it through LockedExecutor. Subscriber
// callbacks run on the configured Executor, one chunk at a time.
//
// TimeBasedCache, PriorityQueue and ActorBlockRunner are single-writer
// components: the client confines them under its lock.
//
// # Configuration
//
// Config.Validate applies defaults the same way for every field. A
// HotConfig reloads the query defaults from a file watched with Argus:
//
//	hc, err := vela.NewHotConfig(client, vela.HotConfigOptions{
//	    ConfigPath: "vela.yaml",
//	})
//	if err != nil {
//	    return err
//	}
//	_ = hc.Start()
//	defer hc.Stop()
//
// # Error Handling
//
// Errors carry go-errors codes (VELA_*). Use the helpers instead of
// comparing messages:
//
//	if vela.IsQueryFailed(err) {
//	    code := vela.GetErrorCode(err)
//	    ctx := vela.GetErrorContext(err)
//	    log.Printf("%s: %v", code, ctx["id"])
//	}
//
// # Observability
//
// Config.Logger receives structured key-value logs. Config.MetricsCollector
// receives cache, fetch, retry and relay events; the otel subpackage
// implements it with OpenTelemetry:
//
//	import velaotel "github.com/agilira/vela/otel"
//
//	collector, err := velaotel.NewOTelMetricsCollector(meterProvider)
//
// # Testing
//
// Every component that waits takes a Clock. Tests inject a manual clock to
// drive keep-alive, debounce and backoff deterministically.
//
// # License
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package vela
