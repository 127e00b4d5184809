// collector.go: OpenTelemetry implementation of vela.MetricsCollector
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package otel

import (
	"context"
	"errors"

	"github.com/agilira/vela"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	resultSuccess = metric.WithAttributes(attribute.String("result", "success"))
	resultFailure = metric.WithAttributes(attribute.String("result", "failure"))
)

// OTelMetricsCollector implements vela.MetricsCollector using OpenTelemetry.
//
// Cache operations, fetches, retries and relayed errors are recorded as
// OTEL histograms and counters, so any OTEL backend can compute
// percentiles and rates.
//
// Thread-safety: Safe for concurrent use by multiple goroutines.
// The underlying OTEL instruments are thread-safe and lock-free.
type OTelMetricsCollector struct {
	getLatency     metric.Int64Histogram // Get operation latency histogram
	setLatency     metric.Int64Histogram // Set operation latency histogram
	deleteLatency  metric.Int64Histogram // Delete operation latency histogram
	fetchLatency   metric.Int64Histogram // fetch latency, retries included
	hits           metric.Int64Counter
	misses         metric.Int64Counter
	evictions      metric.Int64Counter
	expirations    metric.Int64Counter
	fetches        metric.Int64Counter // by result attribute
	retries        metric.Int64Counter
	errorsRelayed  metric.Int64Counter
	errorsCoalesce metric.Int64Counter
}

// Options for configuring OTelMetricsCollector.
type Options struct {
	// MeterName is the name of the OpenTelemetry meter.
	// Default: "github.com/agilira/vela"
	MeterName string
}

// Option is a functional option for configuring OTelMetricsCollector.
type Option func(*Options)

// WithMeterName sets a custom meter name.
// This is useful for distinguishing metrics from multiple query clients
// or integrating with existing OTEL instrumentation.
func WithMeterName(name string) Option {
	return func(o *Options) {
		o.MeterName = name
	}
}

// NewOTelMetricsCollector creates a new OpenTelemetry metrics collector.
//
// The collector creates the following OTEL instruments:
//   - vela_get_latency_ns, vela_set_latency_ns, vela_delete_latency_ns,
//     vela_fetch_latency_ns (Int64Histogram)
//   - vela_get_hits_total, vela_get_misses_total, vela_evictions_total,
//     vela_expirations_total, vela_fetches_total, vela_retries_total,
//     vela_errors_relayed_total, vela_errors_coalesced_total (Int64Counter)
//
// Example:
//
//	exporter, _ := prometheus.New()
//	provider := metric.NewMeterProvider(metric.WithReader(exporter))
//	collector, err := NewOTelMetricsCollector(provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewOTelMetricsCollector(provider metric.MeterProvider, opts ...Option) (*OTelMetricsCollector, error) {
	if provider == nil {
		return nil, errors.New("meter provider cannot be nil")
	}

	options := Options{
		MeterName: "github.com/agilira/vela",
	}
	for _, opt := range opts {
		opt(&options)
	}

	meter := provider.Meter(options.MeterName)
	c := &OTelMetricsCollector{}

	histograms := []struct {
		dst  *metric.Int64Histogram
		name string
		desc string
	}{
		{&c.getLatency, "vela_get_latency_ns", "Latency of cache Get operations in nanoseconds"},
		{&c.setLatency, "vela_set_latency_ns", "Latency of cache Set operations in nanoseconds"},
		{&c.deleteLatency, "vela_delete_latency_ns", "Latency of cache Delete operations in nanoseconds"},
		{&c.fetchLatency, "vela_fetch_latency_ns", "Latency of query fetches, retries included, in nanoseconds"},
	}
	for _, h := range histograms {
		inst, err := meter.Int64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ns"))
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&c.hits, "vela_get_hits_total", "Total number of cache hits"},
		{&c.misses, "vela_get_misses_total", "Total number of cache misses"},
		{&c.evictions, "vela_evictions_total", "Total number of entries evicted to make room"},
		{&c.expirations, "vela_expirations_total", "Total number of TTL-based expirations"},
		{&c.fetches, "vela_fetches_total", "Total number of completed fetches by result"},
		{&c.retries, "vela_retries_total", "Total number of retry attempts"},
		{&c.errorsRelayed, "vela_errors_relayed_total", "Total number of errors accepted by the error relay"},
		{&c.errorsCoalesce, "vela_errors_coalesced_total", "Total number of errors coalesced with a pending equal error"},
	}
	for _, ctr := range counters {
		inst, err := meter.Int64Counter(ctr.name, metric.WithDescription(ctr.desc))
		if err != nil {
			return nil, err
		}
		*ctr.dst = inst
	}

	return c, nil
}

// RecordGet records a cache Get latency and increments hits or misses.
func (c *OTelMetricsCollector) RecordGet(latencyNs int64, hit bool) {
	ctx := context.Background()
	c.getLatency.Record(ctx, latencyNs)
	if hit {
		c.hits.Add(ctx, 1)
	} else {
		c.misses.Add(ctx, 1)
	}
}

// RecordSet records a cache Set latency.
func (c *OTelMetricsCollector) RecordSet(latencyNs int64) {
	c.setLatency.Record(context.Background(), latencyNs)
}

// RecordDelete records a cache Delete latency.
func (c *OTelMetricsCollector) RecordDelete(latencyNs int64) {
	c.deleteLatency.Record(context.Background(), latencyNs)
}

// RecordEviction increments the evictions counter.
func (c *OTelMetricsCollector) RecordEviction() {
	c.evictions.Add(context.Background(), 1)
}

// RecordExpiration increments the expirations counter.
func (c *OTelMetricsCollector) RecordExpiration() {
	c.expirations.Add(context.Background(), 1)
}

// RecordFetch records a completed fetch. The result attribute is
// "success" or "failure".
func (c *OTelMetricsCollector) RecordFetch(latencyNs int64, success bool) {
	ctx := context.Background()
	if success {
		c.fetchLatency.Record(ctx, latencyNs, resultSuccess)
		c.fetches.Add(ctx, 1, resultSuccess)
		return
	}
	c.fetchLatency.Record(ctx, latencyNs, resultFailure)
	c.fetches.Add(ctx, 1, resultFailure)
}

// RecordRetry increments the retries counter.
func (c *OTelMetricsCollector) RecordRetry() {
	c.retries.Add(context.Background(), 1)
}

// RecordErrorRelayed increments the relayed errors counter.
func (c *OTelMetricsCollector) RecordErrorRelayed() {
	c.errorsRelayed.Add(context.Background(), 1)
}

// RecordErrorCoalesced increments the coalesced errors counter.
func (c *OTelMetricsCollector) RecordErrorCoalesced() {
	c.errorsCoalesce.Add(context.Background(), 1)
}

// Compile-time interface check
var _ vela.MetricsCollector = (*OTelMetricsCollector)(nil)
