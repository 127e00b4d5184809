// Package otel provides OpenTelemetry integration for vela metrics.
//
// # Overview
//
// This package implements the vela.MetricsCollector interface using
// OpenTelemetry. It is a separate module to keep the vela core lightweight:
// applications that don't need metrics don't pay for the OTEL dependencies.
//
// # Installation
//
//	go get github.com/agilira/vela/otel
//
// # Quick Start
//
//	import (
//	    "github.com/agilira/vela"
//	    velaotel "github.com/agilira/vela/otel"
//	    "go.opentelemetry.io/otel/exporters/prometheus"
//	    "go.opentelemetry.io/otel/sdk/metric"
//	)
//
//	exporter, err := prometheus.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	provider := metric.NewMeterProvider(metric.WithReader(exporter))
//	defer provider.Shutdown(context.Background())
//
//	collector, err := velaotel.NewOTelMetricsCollector(provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := vela.NewQueryClient(ctx, vela.Config{
//	    MetricsCollector: collector,
//	})
//
// # Metrics Exposed
//
// Inactive query cache:
//   - vela_get_latency_ns, vela_set_latency_ns, vela_delete_latency_ns (histograms)
//   - vela_get_hits_total, vela_get_misses_total
//   - vela_evictions_total: entries removed to make room
//   - vela_expirations_total: entries removed after GcTime
//
// Fetching:
//   - vela_fetch_latency_ns (histogram, attribute result=success|failure)
//   - vela_fetches_total (attribute result=success|failure)
//   - vela_retries_total
//
// Error relay:
//   - vela_errors_relayed_total: errors that took the pending slot
//   - vela_errors_coalesced_total: errors dropped as duplicates
//
// # Useful Queries (PromQL)
//
//	# Fetch failure ratio
//	sum(rate(vela_fetches_total{result="failure"}[5m])) / sum(rate(vela_fetches_total[5m]))
//
//	# p95 fetch latency
//	histogram_quantile(0.95, rate(vela_fetch_latency_ns_bucket[5m]))
//
//	# Retries per fetch
//	rate(vela_retries_total[5m]) / rate(vela_fetches_total[5m])
//
// # Thread Safety
//
// All methods are safe for concurrent use. OTEL instruments are lock-free.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package otel
