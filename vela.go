// Package vela provides the caching and coordination core of a client-side
// reactive data-fetching layer.
//
// Vela keeps exactly one background fetch loop per query key while at least
// one observer is attached, stores results in a time-based cache with TTL
// eviction, retries failed fetches with exponential backoff and relays
// background failures to whichever listener is currently interested.
//
// Example usage:
//
//	client, err := vela.NewQueryClient(ctx, vela.Config{
//		CacheCapacity: 1_000,
//		GcTime:        5 * time.Minute,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	key := vela.QueryKey[User]{
//		ID:    vela.MustUniqueID("user", 42),
//		Fetch: fetchUser,
//	}
//	detach, err := vela.Observe(client, key, vela.EmptyMarker, func(s vela.QueryState) {
//		render(s)
//	})
//	if err != nil {
//		return err
//	}
//	defer detach()
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package vela

import "time"

const (
	// Version of Vela query core
	Version = "v0.1.0-dev"

	// DefaultCacheCapacity is the default number of inactive queries kept in memory
	DefaultCacheCapacity = 1_000

	// DefaultGcTime is how long an inactive query stays cached
	DefaultGcTime = 5 * time.Minute

	// DefaultKeepAliveTime is the grace period between the last observer
	// detaching and the fetch loop being stopped
	DefaultKeepAliveTime = 5 * time.Second

	// DefaultBatchChunkSize is the maximum number of notifications per dispatch
	DefaultBatchChunkSize = 64

	// DefaultBatchInterval is the debounce window of the batch scheduler
	DefaultBatchInterval = 16 * time.Millisecond

	// DefaultRelayBuffer is the intake capacity of the error relay
	DefaultRelayBuffer = 16

	// DefaultMaxConcurrentRefetch bounds RefetchQueries fan-out
	DefaultMaxConcurrentRefetch = 8
)
