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
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// SnapshotSource supplies the snapshot a query runs against.
//
// *graph.Publisher satisfies it.
type SnapshotSource interface {
	Current() *graph.Snapshot
}

// fixedSource always returns the same snapshot.
type fixedSource struct{ snap *graph.Snapshot }

func (f fixedSource) Current() *graph.Snapshot { return f.snap }

// Fixed returns a SnapshotSource pinned to snap.
func Fixed(snap *graph.Snapshot) SnapshotSource {
	return fixedSource{snap: snap}
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRiskConfig overrides the risk thresholds.
func WithRiskConfig(c RiskConfig) Option {
	return func(a *Analyzer) { a.risk = c }
}

// WithAnalyzeOptions overrides the traversal bounds.
func WithAnalyzeOptions(o AnalyzeOptions) Option {
	return func(a *Analyzer) { a.opts = o }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// Analyzer answers impact queries.
//
// # Description
//
// Every query loads the current snapshot once and uses it to the end, so
// a snapshot published while the query runs does not affect it.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Queries take no locks.
type Analyzer struct {
	source SnapshotSource
	risk   RiskConfig
	opts   AnalyzeOptions
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer reading snapshots from source.
//
// # Example
//
//	analyzer := impact.NewAnalyzer(publisher)
//	report, err := analyzer.Analyze(ctx, graph.NodeCopybook, "CUSTREC", 3)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(report.RiskLevel, len(report.Items))
func NewAnalyzer(source SnapshotSource, opts ...Option) *Analyzer {
	a := &Analyzer{
		source: source,
		risk:   DefaultRiskConfig(),
		opts:   DefaultAnalyzeOptions(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.opts.MaxItems <= 0 {
		a.opts.MaxItems = DefaultMaxItems
	}
	return a
}

// Analyze computes the impact of changing one entity.
//
// # Inputs
//
//   - ctx: Bounds wall-clock time. On expiry the partial report is
//     returned with Truncated set.
//   - kind: Kind of the changed entity.
//   - id: Its name. Fields and paragraphs may be given as "OWNER/NAME";
//     a bare field name matches the field in every owner.
//   - maxDepth: Last structural level. Zero means DefaultMaxDepth.
//
// # Outputs
//
//   - *Report: Ranked result.
//   - error: ErrInvalidDepth, ErrNoSnapshot, or a *NotFoundError.
func (a *Analyzer) Analyze(ctx context.Context, kind graph.NodeKind, id string, maxDepth int) (*Report, error) {
	return a.AnalyzeRoots(ctx, []Root{{Kind: kind, ID: id}}, maxDepth)
}

// AnalyzeRoots computes the combined impact of a change set.
//
// # Description
//
// All roots are seeded at depth 0 and traversed together, so an entity
// reachable from several roots is reported once at its smallest depth.
// Every root must exist.
func (a *Analyzer) AnalyzeRoots(ctx context.Context, roots []Root, maxDepth int) (*Report, error) {
	if maxDepth < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, maxDepth)
	}
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	snap, err := a.snapshot()
	if err != nil {
		return nil, err
	}
	seeds, err := resolveRoots(snap, roots)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := startAnalyzeSpan(ctx, "Analyze", seeds, maxDepth)
	defer span.End()
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	t := newTraversal(ctx, snap.Graph, seeds, a.opts.MaxItems)
	t.run(maxDepth, a.opts.MaxCascadeDepth)

	report := a.report(snap, t, maxDepth)
	span.SetAttributes(
		attribute.Int("impact.items", len(report.Items)),
		attribute.String("impact.risk", string(report.RiskLevel)),
		attribute.Bool("impact.truncated", report.Truncated),
	)
	recordAnalyzeMetrics(ctx, "analyze", time.Since(start), len(report.Items), report.Truncated)
	if report.Truncated {
		a.logger.Warn("impact analysis truncated",
			slog.String("snapshot_id", snap.ID),
			slog.Any("roots", report.Roots),
			slog.String("reason", report.TruncatedReason))
	}
	return report, nil
}

// Instant returns direct and indirect counts and a risk level without
// ranking items or cascading.
//
// The traversal stops at InstantDepth, so IndirectCount covers depth 2
// only.
func (a *Analyzer) Instant(ctx context.Context, kind graph.NodeKind, id string) (*InstantImpact, error) {
	snap, err := a.snapshot()
	if err != nil {
		return nil, err
	}
	seeds, err := resolveRoots(snap, []Root{{Kind: kind, ID: id}})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := startAnalyzeSpan(ctx, "Instant", seeds, InstantDepth)
	defer span.End()

	t := newTraversal(ctx, snap.Graph, seeds, a.opts.MaxItems)
	t.run(InstantDepth, 0)

	out := &InstantImpact{Root: seeds[0].ID, Truncated: t.truncated != ""}
	counts := make(map[Severity]int, 4)
	for _, it := range t.items {
		counts[it.Severity]++
		if it.ChangeType == ChangeDirect {
			out.DirectCount++
		} else {
			out.IndirectCount++
		}
	}
	out.RiskLevel = a.riskLevel(counts, len(t.items))
	recordAnalyzeMetrics(ctx, "instant", time.Since(start), len(t.items), out.Truncated)
	return out, nil
}

// snapshot loads the current snapshot once.
func (a *Analyzer) snapshot() (*graph.Snapshot, error) {
	if a.source == nil {
		return nil, ErrNoSnapshot
	}
	snap := a.source.Current()
	if snap == nil || snap.Graph == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// resolveRoots maps roots to nodes, sorted and de-duplicated.
func resolveRoots(snap *graph.Snapshot, roots []Root) ([]*graph.Node, error) {
	seen := make(map[string]bool, len(roots))
	out := make([]*graph.Node, 0, len(roots))
	for _, r := range roots {
		nodes := snap.Find(r.Kind, r.ID)
		if len(nodes) == 0 {
			return nil, &NotFoundError{Kind: r.Kind, ID: r.ID, SnapshotID: snap.ID}
		}
		for _, n := range nodes {
			if !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// report ranks the traversal result and scores it.
func (a *Analyzer) report(snap *graph.Snapshot, t *traversal, maxDepth int) *Report {
	r := &Report{
		SnapshotID:      snap.ID,
		Roots:           make([]string, 0, len(t.seeds)),
		Items:           t.items,
		SeverityCounts:  make(map[Severity]int, 4),
		UnknownEffects:  t.unknownEffects(),
		MaxDepth:        maxDepth,
		Truncated:       t.truncated != "",
		TruncatedReason: t.truncated,
	}
	for _, s := range t.seeds {
		r.Roots = append(r.Roots, s.ID)
	}
	Rank(r.Items)

	for _, it := range r.Items {
		r.SeverityCounts[it.Severity]++
		switch it.ChangeType {
		case ChangeDirect:
			r.DirectCount++
		case ChangeIndirect:
			r.IndirectCount++
		case ChangeCascading:
			r.CascadingCount++
		}
	}
	r.TestingEffortHours = TestingEffort(r.Items)
	r.RiskLevel = a.riskLevel(r.SeverityCounts, len(r.Items))
	r.Summary = summary(r)
	r.Recommendation = recommendation(r)
	return r
}

// Rank sorts items by severity (most severe first), depth, kind and id.
func Rank(items []ImpactedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if ra, rb := a.Severity.rank(), b.Severity.rank(); ra != rb {
			return ra < rb
		}
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
}
