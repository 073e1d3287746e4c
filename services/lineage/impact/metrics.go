// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

var (
	tracer = otel.Tracer("aleutian.lineage.impact")
	meter  = otel.Meter("aleutian.lineage.impact")
)

var (
	queryLatency   metric.Float64Histogram
	queryTotal     metric.Int64Counter
	itemsReturned  metric.Int64Histogram
	truncatedTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"lineage_impact_query_duration_seconds",
			metric.WithDescription("Duration of impact queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryTotal, err = meter.Int64Counter(
			"lineage_impact_query_total",
			metric.WithDescription("Total number of impact queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		itemsReturned, err = meter.Int64Histogram(
			"lineage_impact_items",
			metric.WithDescription("Impacted entities per query"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		truncatedTotal, err = meter.Int64Counter(
			"lineage_impact_truncated_total",
			metric.WithDescription("Impact queries cut short by a limit or deadline"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordAnalyzeMetrics records one query.
func recordAnalyzeMetrics(ctx context.Context, op string, duration time.Duration, items int, truncated bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", op))

	queryLatency.Record(ctx, duration.Seconds(), attrs)
	queryTotal.Add(ctx, 1, attrs)
	itemsReturned.Record(ctx, int64(items), attrs)
	if truncated {
		truncatedTotal.Add(ctx, 1, attrs)
	}
}

// startAnalyzeSpan creates a span for an impact query.
func startAnalyzeSpan(ctx context.Context, op string, seeds []*graph.Node, depth int) (context.Context, trace.Span) {
	ids := make([]string, 0, len(seeds))
	for _, s := range seeds {
		ids = append(ids, s.ID)
	}
	return tracer.Start(ctx, "impact."+op,
		trace.WithAttributes(
			attribute.StringSlice("impact.roots", ids),
			attribute.Int("impact.max_depth", depth),
		),
	)
}
