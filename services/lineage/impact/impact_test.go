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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// testSnapshot is a copybook included by two programs, a job running the
// main program, a file shared with a report program and a table updated
// by a posting program.
func testSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	g := graph.NewGraph()

	nodes := []*graph.Node{
		{ID: "copybook:CUSTREC", Kind: graph.NodeCopybook, Name: "CUSTREC", FileName: "copy/CUSTREC.cpy"},
		{ID: "field:CUSTREC/CUST-ID", Kind: graph.NodeField, Name: "CUST-ID", Owner: "CUSTREC", FileName: "copy/CUSTREC.cpy", Line: 1},
		{ID: "program:MAINPGM", Kind: graph.NodeProgram, Name: "MAINPGM", FileName: "MAINPGM.cbl"},
		{ID: "program:SUBPGM", Kind: graph.NodeProgram, Name: "SUBPGM", FileName: "SUBPGM.cbl"},
		{ID: "program:REPORTER", Kind: graph.NodeProgram, Name: "REPORTER", FileName: "REPORTER.cbl"},
		{ID: "program:POSTER", Kind: graph.NodeProgram, Name: "POSTER", FileName: "POSTER.cbl"},
		{ID: "field:MAINPGM/WS-A", Kind: graph.NodeField, Name: "WS-A", Owner: "MAINPGM", FileName: "MAINPGM.cbl", Line: 3},
		{ID: "field:MAINPGM/WS-B", Kind: graph.NodeField, Name: "WS-B", Owner: "MAINPGM", FileName: "MAINPGM.cbl", Line: 4},
		{ID: "paragraph:MAINPGM/MAIN-PARA", Kind: graph.NodeParagraph, Name: "MAIN-PARA", Owner: "MAINPGM"},
		{ID: "paragraph:MAINPGM/CALC", Kind: graph.NodeParagraph, Name: "CALC", Owner: "MAINPGM"},
		{ID: "file:CUSTFILE", Kind: graph.NodeFile, Name: "CUSTFILE"},
		{ID: "table:ACCOUNT", Kind: graph.NodeTable, Name: "ACCOUNT"},
		{ID: "external:WS-DYN", Kind: graph.NodeExternal, Name: "WS-DYN"},
		{ID: "job:NIGHTLY", Kind: graph.NodeJob, Name: "NIGHTLY", FileName: "NIGHTLY.jcl"},
	}
	for _, n := range nodes {
		_, err := g.AddNode(n)
		require.NoError(t, err)
	}

	edges := []graph.Edge{
		{FromID: "program:MAINPGM", ToID: "copybook:CUSTREC", Type: graph.EdgeTypeIncludes},
		{FromID: "program:SUBPGM", ToID: "copybook:CUSTREC", Type: graph.EdgeTypeIncludes},
		{FromID: "copybook:CUSTREC", ToID: "field:CUSTREC/CUST-ID", Type: graph.EdgeTypeDeclares},
		{FromID: "program:MAINPGM", ToID: "field:MAINPGM/WS-A", Type: graph.EdgeTypeDeclares},
		{FromID: "program:MAINPGM", ToID: "field:MAINPGM/WS-B", Type: graph.EdgeTypeDeclares},
		{FromID: "program:MAINPGM", ToID: "paragraph:MAINPGM/MAIN-PARA", Type: graph.EdgeTypeContains},
		{FromID: "program:MAINPGM", ToID: "paragraph:MAINPGM/CALC", Type: graph.EdgeTypeContains},
		{FromID: "paragraph:MAINPGM/MAIN-PARA", ToID: "paragraph:MAINPGM/CALC", Type: graph.EdgeTypePerforms},
		{FromID: "program:MAINPGM", ToID: "file:CUSTFILE", Type: graph.EdgeTypeReads},
		{FromID: "program:MAINPGM", ToID: "file:CUSTFILE", Type: graph.EdgeTypeWrites},
		{FromID: "program:MAINPGM", ToID: "table:ACCOUNT", Type: graph.EdgeTypeAccesses, Detail: "SELECT"},
		{FromID: "program:MAINPGM", ToID: "program:SUBPGM", Type: graph.EdgeTypeCalls},
		{FromID: "program:MAINPGM", ToID: "external:WS-DYN", Type: graph.EdgeTypeCalls, Weak: true},
		{FromID: "job:NIGHTLY", ToID: "program:MAINPGM", Type: graph.EdgeTypeExecutes},
		{FromID: "field:CUSTREC/CUST-ID", ToID: "field:MAINPGM/WS-A", Type: graph.EdgeTypeFlows},
		{FromID: "field:MAINPGM/WS-A", ToID: "field:MAINPGM/WS-B", Type: graph.EdgeTypeFlows},
		{FromID: "program:REPORTER", ToID: "file:CUSTFILE", Type: graph.EdgeTypeReads},
		{FromID: "program:POSTER", ToID: "table:ACCOUNT", Type: graph.EdgeTypeAccesses, Detail: "UPDATE"},
	}
	for _, e := range edges {
		_, err := g.AddEdge(e)
		require.NoError(t, err)
	}

	g.Freeze()
	snap, err := graph.NewSnapshot(g)
	require.NoError(t, err)
	return snap
}

func itemIDs(items []ImpactedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func itemByID(items []ImpactedItem, id string) (ImpactedItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return ImpactedItem{}, false
}

func TestAnalyze_Copybook(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	r, err := a.Analyze(context.Background(), graph.NodeCopybook, "custrec", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"copybook:CUSTREC"}, r.Roots)
	assert.Equal(t, []string{
		"program:MAINPGM",
		"program:SUBPGM",
		"file:CUSTFILE",
		"job:NIGHTLY",
		"program:REPORTER",
		"field:CUSTREC/CUST-ID",
		"field:MAINPGM/WS-A",
	}, itemIDs(r.Items))

	assert.Equal(t, 2, r.DirectCount)
	assert.Equal(t, 3, r.IndirectCount)
	assert.Equal(t, 2, r.CascadingCount)
	assert.Equal(t, 5, r.SeverityCounts[SeverityMedium])
	assert.Equal(t, 2, r.SeverityCounts[SeverityLow])
	assert.Equal(t, RiskMedium, r.RiskLevel)
	assert.InDelta(t, 12.0, r.TestingEffortHours, 1e-9)
	assert.Equal(t, []string{"WS-DYN"}, r.UnknownEffects)
	assert.False(t, r.Truncated)

	reporter, ok := itemByID(r.Items, "program:REPORTER")
	require.True(t, ok)
	assert.Equal(t, 3, reporter.Depth)
	assert.Equal(t, "READS", reporter.Via)
	assert.Equal(t, "file:CUSTFILE", reporter.From)

	wsA, ok := itemByID(r.Items, "field:MAINPGM/WS-A")
	require.True(t, ok)
	assert.Equal(t, ChangeCascading, wsA.ChangeType)
	assert.Equal(t, 2, wsA.Depth)

	_, ok = itemByID(r.Items, "field:MAINPGM/WS-B")
	assert.False(t, ok, "WS-B is beyond the cascade depth")
}

func TestAnalyze_StaticCallerIsCritical(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	r, err := a.Analyze(context.Background(), graph.NodeProgram, "SUBPGM", 0)
	require.NoError(t, err)

	require.NotEmpty(t, r.Items)
	assert.Equal(t, "program:MAINPGM", r.Items[0].ID)
	assert.Equal(t, SeverityCritical, r.Items[0].Severity)
	assert.Equal(t, ChangeDirect, r.Items[0].ChangeType)
	assert.Equal(t, RiskCritical, r.RiskLevel)
	assert.Equal(t, 1, r.DirectCount)
	assert.Equal(t, 3, r.IndirectCount)
	assert.Equal(t, DefaultMaxDepth, r.MaxDepth)
	assert.Contains(t, r.Recommendation, "CRITICAL:")
	assert.Contains(t, r.Recommendation, "WS-DYN")
}

func TestAnalyze_ProgramWritesAffectReaders(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	r, err := a.Analyze(context.Background(), graph.NodeProgram, "MAINPGM", 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"job:NIGHTLY", "file:CUSTFILE"}, itemIDs(r.Items))
	_, ok := itemByID(r.Items, "table:ACCOUNT")
	assert.False(t, ok, "a SELECT does not change the table")
}

func TestAnalyze_TableUsers(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	r, err := a.Analyze(context.Background(), graph.NodeTable, "ACCOUNT", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"program:MAINPGM", "program:POSTER"}, itemIDs(r.Items))
	for _, it := range r.Items {
		assert.Equal(t, SeverityCritical, it.Severity, it.ID)
	}
}

func TestAnalyze_BareFieldName(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	r, err := a.Analyze(context.Background(), graph.NodeField, "ws-a", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"field:MAINPGM/WS-A"}, r.Roots)
	owner, ok := itemByID(r.Items, "program:MAINPGM")
	require.True(t, ok)
	assert.Equal(t, "DECLARES", owner.Via)

	derived, ok := itemByID(r.Items, "field:MAINPGM/WS-B")
	require.True(t, ok)
	assert.Equal(t, ChangeCascading, derived.ChangeType)
	assert.Equal(t, SeverityLow, derived.Severity)
	assert.Equal(t, 1, r.CascadingCount)
}

func TestAnalyzeRoots_KeepsMostSevereEdge(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	r, err := a.AnalyzeRoots(context.Background(), []Root{
		{Kind: graph.NodeProgram, ID: "SUBPGM"},
		{Kind: graph.NodeCopybook, ID: "CUSTREC"},
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"copybook:CUSTREC", "program:SUBPGM"}, r.Roots)
	main, ok := itemByID(r.Items, "program:MAINPGM")
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, main.Severity)
	assert.Equal(t, "CALLS", main.Via)
	assert.Equal(t, "program:SUBPGM", main.From)

	_, ok = itemByID(r.Items, "program:SUBPGM")
	assert.False(t, ok, "roots are not reported as impacted")
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	first, err := a.Analyze(context.Background(), graph.NodeCopybook, "CUSTREC", 3)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), graph.NodeCopybook, "CUSTREC", 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyze_Errors(t *testing.T) {
	snap := testSnapshot(t)
	a := NewAnalyzer(Fixed(snap))
	ctx := context.Background()

	t.Run("unknown root", func(t *testing.T) {
		_, err := a.Analyze(ctx, graph.NodeProgram, "NOPE", 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRootNotFound))

		var nf *NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "NOPE", nf.ID)
		assert.Equal(t, snap.ID, nf.SnapshotID)
	})

	t.Run("negative depth", func(t *testing.T) {
		_, err := a.Analyze(ctx, graph.NodeProgram, "MAINPGM", -1)
		assert.ErrorIs(t, err, ErrInvalidDepth)
	})

	t.Run("no roots", func(t *testing.T) {
		_, err := a.AnalyzeRoots(ctx, nil, 0)
		assert.ErrorIs(t, err, ErrNoRoots)
	})

	t.Run("no snapshot", func(t *testing.T) {
		_, err := NewAnalyzer(Fixed(nil)).Analyze(ctx, graph.NodeProgram, "MAINPGM", 0)
		assert.ErrorIs(t, err, ErrNoSnapshot)

		_, err = NewAnalyzer(graph.NewPublisher(nil)).Instant(ctx, graph.NodeProgram, "MAINPGM")
		assert.ErrorIs(t, err, ErrNoSnapshot)
	})
}

func TestAnalyze_ItemLimit(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)), WithAnalyzeOptions(AnalyzeOptions{MaxCascadeDepth: 2, MaxItems: 1}))

	r, err := a.Analyze(context.Background(), graph.NodeCopybook, "CUSTREC", 3)
	require.NoError(t, err)

	assert.True(t, r.Truncated)
	assert.Equal(t, "item limit (1) reached", r.TruncatedReason)
	assert.Len(t, r.Items, 1)
	assert.Contains(t, r.Summary, "Truncated")
}

func TestAnalyze_CancelledContextReturnsPartialReport(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := a.Analyze(ctx, graph.NodeCopybook, "CUSTREC", 3)
	require.NoError(t, err)
	assert.True(t, r.Truncated)
	assert.Equal(t, "cancelled", r.TruncatedReason)
	assert.Empty(t, r.Items)
}

func TestInstant(t *testing.T) {
	a := NewAnalyzer(Fixed(testSnapshot(t)))

	out, err := a.Instant(context.Background(), graph.NodeCopybook, "CUSTREC")
	require.NoError(t, err)

	assert.Equal(t, "copybook:CUSTREC", out.Root)
	assert.Equal(t, 2, out.DirectCount)
	assert.Equal(t, 2, out.IndirectCount)
	assert.Equal(t, RiskMedium, out.RiskLevel)
	assert.False(t, out.Truncated)
}

func TestAnalyzer_UsesPublishedSnapshot(t *testing.T) {
	pub := graph.NewPublisher(nil)
	a := NewAnalyzer(pub)

	_, err := pub.Publish(context.Background(), testSnapshot(t).Graph)
	require.NoError(t, err)

	r, err := a.Analyze(context.Background(), graph.NodeProgram, "SUBPGM", 1)
	require.NoError(t, err)
	assert.Equal(t, pub.Current().ID, r.SnapshotID)
}

func TestSeverityOf(t *testing.T) {
	field := &graph.Node{Kind: graph.NodeField}
	prog := &graph.Node{Kind: graph.NodeProgram}

	tests := []struct {
		name  string
		edge  graph.Edge
		node  *graph.Node
		ct    ChangeType
		depth int
		want  Severity
	}{
		{"static call direct", graph.Edge{Type: graph.EdgeTypeCalls}, prog, ChangeDirect, 1, SeverityCritical},
		{"static call indirect", graph.Edge{Type: graph.EdgeTypeCalls}, prog, ChangeIndirect, 2, SeverityHigh},
		{"dynamic call", graph.Edge{Type: graph.EdgeTypeCalls, Weak: true}, prog, ChangeDirect, 1, SeverityMedium},
		{"table access", graph.Edge{Type: graph.EdgeTypeAccesses}, prog, ChangeIndirect, 3, SeverityHigh},
		{"file read", graph.Edge{Type: graph.EdgeTypeReads}, prog, ChangeDirect, 1, SeverityMedium},
		{"include", graph.Edge{Type: graph.EdgeTypeIncludes}, prog, ChangeDirect, 1, SeverityMedium},
		{"cascading field", graph.Edge{Type: graph.EdgeTypeDeclares}, field, ChangeCascading, 1, SeverityLow},
		{"cascading flow", graph.Edge{Type: graph.EdgeTypeFlows}, field, ChangeCascading, 2, SeverityLow},
		{"cascading includer", graph.Edge{Type: graph.EdgeTypeIncludes}, prog, ChangeCascading, 2, SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.edge
			assert.Equal(t, tt.want, severityOf(&e, tt.node, tt.ct, tt.depth))
		})
	}
}

func TestRiskLevel(t *testing.T) {
	a := NewAnalyzer(nil)

	tests := []struct {
		name   string
		counts map[Severity]int
		total  int
		want   RiskLevel
	}{
		{"nothing", map[Severity]int{}, 0, RiskLow},
		{"few low", map[Severity]int{SeverityLow: 3}, 3, RiskLow},
		{"many low", map[Severity]int{SeverityLow: 4}, 4, RiskMedium},
		{"one medium", map[Severity]int{SeverityMedium: 1}, 1, RiskMedium},
		{"ten low", map[Severity]int{SeverityLow: 10}, 10, RiskHigh},
		{"one high", map[Severity]int{SeverityHigh: 1}, 1, RiskHigh},
		{"one critical", map[Severity]int{SeverityCritical: 1}, 1, RiskCritical},
		{"twenty low", map[Severity]int{SeverityLow: 20}, 20, RiskCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.riskLevel(tt.counts, tt.total))
		})
	}
}

func TestTestingEffort(t *testing.T) {
	items := []ImpactedItem{
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityLow},
	}
	assert.InDelta(t, 13.0, TestingEffort(items), 1e-9)
	assert.Zero(t, TestingEffort(nil))
}

func TestRiskLevel_ParseAndExceeds(t *testing.T) {
	level, ok := ParseRiskLevel(" high ")
	require.True(t, ok)
	assert.Equal(t, RiskHigh, level)

	_, ok = ParseRiskLevel("severe")
	assert.False(t, ok)

	assert.True(t, RiskCritical.Exceeds(RiskHigh))
	assert.False(t, RiskHigh.Exceeds(RiskHigh))
	assert.False(t, RiskLow.Exceeds(RiskMedium))
}
