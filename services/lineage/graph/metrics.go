// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.lineage.graph")
	meter  = otel.Meter("aleutian.lineage.graph")
)

// Metrics for graph building and publishing.
var (
	buildLatency  metric.Float64Histogram
	buildTotal    metric.Int64Counter
	nodesCreated  metric.Int64Histogram
	edgesCreated  metric.Int64Histogram
	publishTotal  metric.Int64Counter
	snapshotNodes metric.Int64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments once. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var errs [6]error
		buildLatency, errs[0] = meter.Float64Histogram("lineage_graph_build_duration_seconds",
			metric.WithDescription("Duration of analysis graph builds"), metric.WithUnit("s"))
		buildTotal, errs[1] = meter.Int64Counter("lineage_graph_build_total",
			metric.WithDescription("Analysis graph builds by outcome"))
		nodesCreated, errs[2] = meter.Int64Histogram("lineage_graph_nodes_created",
			metric.WithDescription("Nodes per completed build"))
		edgesCreated, errs[3] = meter.Int64Histogram("lineage_graph_edges_created",
			metric.WithDescription("Edges per completed build"))
		publishTotal, errs[4] = meter.Int64Counter("lineage_snapshot_publish_total",
			metric.WithDescription("Snapshots published"))
		snapshotNodes, errs[5] = meter.Int64Gauge("lineage_snapshot_nodes",
			metric.WithDescription("Node count of the current snapshot"))
		metricsErr = errors.Join(errs[:]...)
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a build operation.
func recordBuildMetrics(ctx context.Context, duration time.Duration, nodeCount, edgeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		nodesCreated.Record(ctx, int64(nodeCount))
		edgesCreated.Record(ctx, int64(edgeCount))
	}
}

// recordPublishMetrics records a snapshot swap.
func recordPublishMetrics(ctx context.Context, nodeCount int) {
	if err := initMetrics(); err != nil {
		return
	}
	publishTotal.Add(ctx, 1)
	snapshotNodes.Record(ctx, int64(nodeCount))
}

// startBuildSpan creates a span for a build operation.
func startBuildSpan(ctx context.Context, programCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Build",
		trace.WithAttributes(
			attribute.Int("graph.program_count", programCount),
		),
	)
}
