// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for structural parsing.
var (
	tracer = otel.Tracer("aleutian.lineage.ast")
	meter  = otel.Meter("aleutian.lineage.ast")
)

var (
	parseLatency       metric.Float64Histogram
	parseTotal         metric.Int64Counter
	statementsParsed   metric.Int64Histogram
	diagnosticsEmitted metric.Int64Counter
	copiesExpanded     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"lineage_parse_duration_seconds",
			metric.WithDescription("Duration of structural parsing"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"lineage_parse_total",
			metric.WithDescription("Total number of parse operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		statementsParsed, err = meter.Int64Histogram(
			"lineage_parse_statements",
			metric.WithDescription("Statements classified per parse"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		diagnosticsEmitted, err = meter.Int64Counter(
			"lineage_parse_diagnostics_total",
			metric.WithDescription("Diagnostics emitted during parsing"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		copiesExpanded, err = meter.Int64Counter(
			"lineage_copybooks_expanded_total",
			metric.WithDescription("COPY statements expanded inline"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordParseMetrics records metrics for a parse operation.
func recordParseMetrics(ctx context.Context, kind string, duration time.Duration, prog *Program, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	)
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)

	if prog == nil {
		return
	}
	kindAttr := metric.WithAttributes(attribute.String("kind", kind))
	statementsParsed.Record(ctx, int64(prog.StatementCount()), kindAttr)
	for _, d := range prog.Diagnostics {
		diagnosticsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("diagnostic", string(d.Kind))))
	}
	expanded := 0
	for _, c := range prog.Copies {
		if c.Resolved {
			expanded++
		}
	}
	if expanded > 0 {
		copiesExpanded.Add(ctx, int64(expanded), kindAttr)
	}
}

// startParseSpan creates a span for a parse operation.
//
// Returns:
//   - ctx: Context with span
//   - span: The created span (caller must call span.End())
func startParseSpan(ctx context.Context, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Parser.Parse",
		trace.WithAttributes(
			attribute.String("lineage.file", filePath),
			attribute.Int("lineage.content_size", contentSize),
		),
	)
}

// setParseSpanResult sets the result attributes on a parse span.
func setParseSpanResult(span trace.Span, prog *Program) {
	span.SetAttributes(
		attribute.String("lineage.program", prog.ProgramID),
		attribute.Int("lineage.paragraphs", len(prog.Paragraphs)),
		attribute.Int("lineage.data_items", len(prog.DataItems)),
		attribute.Int("lineage.diagnostics", len(prog.Diagnostics)),
	)
}
