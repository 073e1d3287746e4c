// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.lineage.analysis")
	meter  = otel.Meter("aleutian.lineage.analysis")
)

var (
	runLatency    metric.Float64Histogram
	runTotal      metric.Int64Counter
	filesTotal    metric.Int64Counter
	cacheHits     metric.Int64Counter
	parseFailures metric.Int64Counter
	refreshTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"lineage_analysis_run_duration_seconds",
			metric.WithDescription("Duration of pipeline runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"lineage_analysis_run_total",
			metric.WithDescription("Total number of pipeline runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesTotal, err = meter.Int64Counter(
			"lineage_analysis_files_total",
			metric.WithDescription("Source files processed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheHits, err = meter.Int64Counter(
			"lineage_analysis_cache_hits_total",
			metric.WithDescription("Files served from the parse cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseFailures, err = meter.Int64Counter(
			"lineage_analysis_parse_failures_total",
			metric.WithDescription("Files replaced by a placeholder program"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		refreshTotal, err = meter.Int64Counter(
			"lineage_analysis_refresh_total",
			metric.WithDescription("Snapshot rebuilds by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRunMetrics records one pipeline run.
func recordRunMetrics(ctx context.Context, stats Stats, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))

	runLatency.Record(ctx, duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
	filesTotal.Add(ctx, int64(stats.Files))
	cacheHits.Add(ctx, int64(stats.CacheHits))
	parseFailures.Add(ctx, int64(stats.ParseFailures))
}

// recordRefresh records a rebuild outcome: "published", "partial" or
// "failed".
func recordRefresh(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// startRunSpan creates a span for a pipeline run.
func startRunSpan(ctx context.Context, files int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "analysis.Run",
		trace.WithAttributes(
			attribute.Int("analysis.files", files),
		),
	)
}

// setRunSpanResult records run statistics on the span.
func setRunSpanResult(span trace.Span, stats Stats) {
	span.SetAttributes(
		attribute.Int("analysis.programs", stats.Programs),
		attribute.Int("analysis.copybooks", stats.Copybooks),
		attribute.Int("analysis.jobs", stats.Jobs),
		attribute.Int("analysis.cache_hits", stats.CacheHits),
		attribute.Int("analysis.diagnostics", stats.Diagnostics),
	)
}
