// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for hierarchy maintenance.
var (
	tracer = otel.Tracer("aleutian.hierarchy")
	meter  = otel.Meter("aleutian.hierarchy")
)

// Metrics for maintenance passes.
var (
	passLatency     metric.Float64Histogram
	passTotal       metric.Int64Counter
	eventsProcessed metric.Int64Counter
	edgesRejected   metric.Int64Counter
	entitiesRevoked metric.Int64Counter
	orderSize       metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passLatency, err = meter.Float64Histogram(
			"hierarchy_pass_duration_seconds",
			metric.WithDescription("Duration of hierarchy maintenance passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passTotal, err = meter.Int64Counter(
			"hierarchy_pass_total",
			metric.WithDescription("Total number of maintenance passes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		eventsProcessed, err = meter.Int64Counter(
			"hierarchy_relation_events_total",
			metric.WithDescription("Relation events consumed from the feed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesRejected, err = meter.Int64Counter(
			"hierarchy_edges_rejected_total",
			metric.WithDescription("Relation edges rejected by the validity checker"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		entitiesRevoked, err = meter.Int64Counter(
			"hierarchy_entities_revoked_total",
			metric.WithDescription("Entities revoked, including cascades"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		orderSize, err = meter.Int64Histogram(
			"hierarchy_order_size",
			metric.WithDescription("Entities in the topological order after a pass"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordPassMetrics records metrics for one maintenance pass.
func recordPassMetrics(ctx context.Context, duration time.Duration, stats PassStats) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("faulted", stats.Faults > 0))

	passLatency.Record(ctx, duration.Seconds(), attrs)
	passTotal.Add(ctx, 1, attrs)
	eventsProcessed.Add(ctx, int64(stats.Events))
	edgesRejected.Add(ctx, int64(stats.Rejected))
	entitiesRevoked.Add(ctx, int64(stats.Revoked))
	orderSize.Record(ctx, int64(stats.OrderLen))
}
