// hitratio_test.go: hit ratio of expiry-ordered eviction against otter and ristretto
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package benchmarks

import (
	"testing"
	"time"
)

// TestHitRatioExtended performs multiple runs to get stable averages.
//
// With a single TTL the TimeBasedCache evicts in write order, so its hit
// ratio is expected to trail the frequency-aware policies.
func TestHitRatioExtended(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping extended hit ratio test in short mode")
	}

	const runs = 5
	const requestsPerRun = 100_000

	for _, f := range factories {
		totalHits := 0
		totalRequests := 0

		for run := 0; run < runs; run++ {
			c := f.new(smallCacheSize)

			zipf := NewZipfGenerator(1.01, 1.0, uint64(smallKeySpace-1))
			for i := 0; i < smallKeySpace; i++ {
				c.Set(zipf.NextString(), i)
			}
			// ristretto applies writes asynchronously
			time.Sleep(10 * time.Millisecond)

			hits := 0
			for i := 0; i < requestsPerRun; i++ {
				key := zipf.NextString()
				if _, ok := c.Get(key); ok {
					hits++
				} else {
					c.Set(key, i)
				}
			}

			totalHits += hits
			totalRequests += requestsPerRun
			c.Close()
		}

		avgHitRatio := float64(totalHits) / float64(totalRequests) * 100
		t.Logf("%s Average Hit Ratio (%d runs): %.2f%% (total hits: %d/%d)",
			f.name, runs, avgHitRatio, totalHits, totalRequests)
	}
}

// TestVelaCacheNeverExceedsCapacity checks the capacity bound under the
// benchmark workload.
func TestVelaCacheNeverExceedsCapacity(t *testing.T) {
	c := NewVelaCache(smallCacheSize)
	zipf := NewZipfGenerator(1.01, 1.0, uint64(mediumKeySpace-1))
	for i := 0; i < 50_000; i++ {
		c.Set(zipf.NextString(), i)
		if n := c.cache.Len(); n > smallCacheSize {
			t.Fatalf("cache holds %d entries, capacity is %d", n, smallCacheSize)
		}
	}
}
