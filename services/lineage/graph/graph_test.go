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
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
)

func field(name string, level, line int, copybook string) ast.DataItem {
	return ast.DataItem{Name: name, Level: level, Parent: ast.NoParent, Line: line, Copybook: copybook}
}

func move(line int, from, to string) ast.Statement {
	return ast.Statement{
		Kind:   ast.StmtMove,
		Line:   line,
		Block:  -1,
		Assign: &ast.Assignment{Sources: []ast.Operand{{Name: from}}, Targets: []ast.Operand{{Name: to}}},
	}
}

// testBatch is a copybook, two programs including it and a job running
// the main program.
func testBatch() []*ast.Program {
	custRec := &ast.Program{
		ProgramID: "CUSTREC",
		FileName:  "copy/CUSTREC.cpy",
		Kind:      source.KindCopybook,
		DataItems: []ast.DataItem{field("CUST-ID", 5, 1, "")},
	}
	mainPgm := &ast.Program{
		ProgramID: "MAINPGM",
		FileName:  "MAINPGM.cbl",
		Kind:      source.KindProgram,
		DataItems: []ast.DataItem{
			field("CUST-REC", 1, 2, ""),
			field("WS-A", 1, 3, ""),
			field("WS-B", 1, 4, ""),
			field("CUST-ID", 5, 5, "CUSTREC"),
		},
		Files:  []ast.FileDefinition{{Name: "CUSTFILE", Line: 2, Records: []string{"CUST-REC"}}},
		Copies: []ast.CopyReference{{Name: "CUSTREC", Line: 5, Resolved: true}},
		Paragraphs: []ast.Paragraph{
			{Name: "MAIN-PARA", Line: 10, Statements: []ast.Statement{
				{Kind: ast.StmtPerform, Line: 11, Block: -1, Perform: &ast.PerformTarget{Target: "CALC"}},
				{Kind: ast.StmtCall, Line: 12, Block: -1, Call: &ast.CallTarget{Target: "SUBPGM", Via: "CALL"}},
				{Kind: ast.StmtCall, Line: 13, Block: -1, Call: &ast.CallTarget{Target: "WS-DYN", Dynamic: true, Via: "CALL"}},
				{Kind: ast.StmtOpen, Line: 14, Block: -1, FileIO: &ast.FileOperation{
					Files: []ast.FileRef{{Name: "CUSTFILE", Mode: "INPUT"}}}},
				{Kind: ast.StmtExecSQL, Line: 15, Block: -1, SQL: &ast.SQLBlock{
					Operation: "SELECT", Tables: []string{"ACCOUNT"}}},
				{Kind: ast.StmtWrite, Line: 16, Block: -1, FileIO: &ast.FileOperation{Record: "CUST-REC"}},
			}},
			{Name: "CALC", Line: 20, Statements: []ast.Statement{
				move(21, "CUST-ID", "WS-A"),
				move(22, "WS-A", "WS-B"),
			}},
		},
	}
	subPgm := &ast.Program{
		ProgramID:  "SUBPGM",
		FileName:   "SUBPGM.cbl",
		Kind:       source.KindProgram,
		DataItems:  []ast.DataItem{field("CUST-ID", 5, 3, "CUSTREC")},
		Copies:     []ast.CopyReference{{Name: "CUSTREC", Line: 3, Resolved: true}},
		Paragraphs: []ast.Paragraph{{Name: "ENTRY", Line: 6, Statements: []ast.Statement{{Kind: ast.StmtGoBack, Line: 7, Block: -1}}}},
	}
	job := &ast.Program{
		ProgramID: "NIGHTLY",
		FileName:  "NIGHTLY.jcl",
		Kind:      source.KindJCL,
		Job: &ast.Job{Name: "NIGHTLY", FileName: "NIGHTLY.jcl", HasJobCard: true,
			Steps: []ast.JobStep{{Name: "S1", Program: "MAINPGM", Line: 2}}},
	}
	return []*ast.Program{custRec, mainPgm, job, subPgm}
}

func buildTestGraph(t *testing.T) *Graph {
	t.Helper()
	result := Build(context.Background(), Input{Programs: testBatch()})
	require.True(t, result.Success(), "edge errors: %v", result.EdgeErrors)
	require.True(t, result.Graph.IsFrozen())
	return result.Graph
}

func edgeSet(g *Graph) map[string]bool {
	out := make(map[string]bool, g.EdgeCount())
	for _, e := range g.Edges() {
		out[e.FromID+" -"+e.Type.String()+"-> "+e.ToID] = true
	}
	return out
}

func TestBuild_Nodes(t *testing.T) {
	g := buildTestGraph(t)

	ids := make([]string, 0, g.NodeCount())
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{
		"copybook:CUSTREC",
		"external:WS-DYN",
		"field:CUSTREC/CUST-ID",
		"field:MAINPGM/CUST-REC",
		"field:MAINPGM/WS-A",
		"field:MAINPGM/WS-B",
		"file:CUSTFILE",
		"job:NIGHTLY",
		"paragraph:MAINPGM/CALC",
		"paragraph:MAINPGM/MAIN-PARA",
		"paragraph:SUBPGM/ENTRY",
		"program:MAINPGM",
		"program:SUBPGM",
		"table:ACCOUNT",
	}, ids)

	cust, ok := g.GetNode("copybook:CUSTREC")
	require.True(t, ok)
	assert.Equal(t, "copy/CUSTREC.cpy", cust.FileName)
}

func TestBuild_Edges(t *testing.T) {
	g := buildTestGraph(t)
	edges := edgeSet(g)

	for _, want := range []string{
		"program:MAINPGM -INCLUDES-> copybook:CUSTREC",
		"program:SUBPGM -INCLUDES-> copybook:CUSTREC",
		"copybook:CUSTREC -DECLARES-> field:CUSTREC/CUST-ID",
		"program:MAINPGM -DECLARES-> field:MAINPGM/WS-A",
		"program:MAINPGM -CONTAINS-> paragraph:MAINPGM/CALC",
		"paragraph:MAINPGM/MAIN-PARA -PERFORMS-> paragraph:MAINPGM/CALC",
		"program:MAINPGM -READS-> file:CUSTFILE",
		"program:MAINPGM -WRITES-> file:CUSTFILE",
		"program:MAINPGM -ACCESSES-> table:ACCOUNT",
		"program:MAINPGM -CALLS-> program:SUBPGM",
		"program:MAINPGM -CALLS-> external:WS-DYN",
		"job:NIGHTLY -EXECUTES-> program:MAINPGM",
		"field:CUSTREC/CUST-ID -FLOWS-> field:MAINPGM/WS-A",
		"field:MAINPGM/WS-A -FLOWS-> field:MAINPGM/WS-B",
	} {
		assert.True(t, edges[want], "missing edge %s", want)
	}
	assert.Equal(t, 18, g.EdgeCount())
	assert.Len(t, g.GetEdgesByType(EdgeTypeDeclares), 4, "copybook fields are declared once")
}

func TestBuild_CallStrength(t *testing.T) {
	g := buildTestGraph(t)
	main, _ := g.GetNode("program:MAINPGM")

	weak := map[string]bool{}
	for _, e := range main.Outgoing {
		if e.Type == EdgeTypeCalls {
			weak[e.ToID] = e.Weak
		}
	}
	assert.Equal(t, map[string]bool{"program:SUBPGM": false, "external:WS-DYN": true}, weak)
}

func TestBuild_Deterministic(t *testing.T) {
	a := Build(context.Background(), Input{Programs: testBatch()}).Graph.Export()
	b := Build(context.Background(), Input{Programs: testBatch()}).Graph.Export()
	a.Stats.BuiltAtMilli, b.Stats.BuiltAtMilli = 0, 0
	assert.Equal(t, a, b)
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Build(ctx, Input{Programs: testBatch()})
	assert.True(t, result.Incomplete)
	assert.False(t, result.Success())
	assert.True(t, result.Graph.IsFrozen())
	assert.Zero(t, result.Stats.ProgramsProcessed)
}

func TestBuild_CapacityStopsBuild(t *testing.T) {
	result := Build(context.Background(), Input{Programs: testBatch()}, WithMaxNodes(3))
	assert.True(t, result.Incomplete)
	assert.LessOrEqual(t, result.Graph.NodeCount(), 3)
}

func TestBuild_PlaceholderField(t *testing.T) {
	prog := &ast.Program{
		ProgramID: "LONER",
		Kind:      source.KindProgram,
		Paragraphs: []ast.Paragraph{{Name: "P", Statements: []ast.Statement{
			move(3, "UNDECLARED", "ALSO-UNDECLARED"),
		}}},
	}
	result := Build(context.Background(), Input{Programs: []*ast.Program{prog}})
	assert.Equal(t, 2, result.Stats.PlaceholderFields)

	n, ok := result.Graph.GetNode("field:LONER/UNDECLARED")
	require.True(t, ok)
	require.Len(t, n.Incoming, 1)
	assert.Equal(t, EdgeTypeDeclares, n.Incoming[0].Type)
}

func TestGraph_FrozenRejectsWrites(t *testing.T) {
	g := NewGraph()
	_, err := g.AddNode(&Node{ID: "program:A", Kind: NodeProgram, Name: "A"})
	require.NoError(t, err)
	_, err = g.AddNode(&Node{ID: "program:A", Kind: NodeProgram, Name: "A"})
	assert.ErrorIs(t, err, ErrDuplicateNode)
	_, err = g.AddNode(&Node{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = g.AddEdge(Edge{FromID: "program:A", ToID: "program:B", Type: EdgeTypeCalls})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	g.Freeze()
	_, err = g.AddNode(&Node{ID: "program:B", Kind: NodeProgram})
	assert.ErrorIs(t, err, ErrGraphFrozen)
	_, err = g.AddEdge(Edge{FromID: "program:A", ToID: "program:A", Type: EdgeTypeCalls})
	assert.ErrorIs(t, err, ErrGraphFrozen)
}

func TestGraph_DuplicateEdgeKeepsStrongCall(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"program:A", "program:B"} {
		_, err := g.AddNode(&Node{ID: id, Kind: NodeProgram})
		require.NoError(t, err)
	}
	added, err := g.AddEdge(Edge{FromID: "program:A", ToID: "program:B", Type: EdgeTypeCalls, Weak: true})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = g.AddEdge(Edge{FromID: "program:A", ToID: "program:B", Type: EdgeTypeCalls})
	require.NoError(t, err)
	assert.False(t, added)

	require.Equal(t, 1, g.EdgeCount())
	assert.False(t, g.Edges()[0].Weak)
}

func TestGraph_Find(t *testing.T) {
	g := buildTestGraph(t)

	tests := []struct {
		name string
		kind NodeKind
		in   string
		want []string
	}{
		{"program by name", NodeProgram, "mainpgm", []string{"program:MAINPGM"}},
		{"external program", NodeProgram, "WS-DYN", []string{"external:WS-DYN"}},
		{"scoped field", NodeField, "CUSTREC/CUST-ID", []string{"field:CUSTREC/CUST-ID"}},
		{"bare field", NodeField, "WS-A", []string{"field:MAINPGM/WS-A"}},
		{"paragraph", NodeParagraph, "ENTRY", []string{"paragraph:SUBPGM/ENTRY"}},
		{"unknown", NodeCopybook, "NOPE", []string{}},
		{"empty", NodeProgram, " ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]string, 0)
			for _, n := range g.Find(tt.kind, tt.in) {
				got = append(got, n.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNodeKind(t *testing.T) {
	k, ok := ParseNodeKind(" Copybook ")
	assert.True(t, ok)
	assert.Equal(t, NodeCopybook, k)
	_, ok = ParseNodeKind("symbol")
	assert.False(t, ok)
}

func TestEdgeType_JSON(t *testing.T) {
	data, err := json.Marshal(Edge{FromID: "a", ToID: "b", Type: EdgeTypeFlows})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"FLOWS"`)

	var e Edge
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, EdgeTypeFlows, e.Type)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"BOGUS"}`), &e))
}

func TestPublisher(t *testing.T) {
	p := NewPublisher(nil)
	assert.Nil(t, p.Current())

	_, err := p.Publish(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilGraph)

	_, err = NewSnapshot(NewGraph())
	assert.ErrorIs(t, err, ErrGraphNotFrozen)

	first, err := p.Publish(context.Background(), buildTestGraph(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Generation)
	assert.Same(t, first, p.Current())

	held := p.Current()
	second, err := p.Publish(context.Background(), NewGraph())
	require.NoError(t, err)
	assert.True(t, second.IsFrozen(), "publish freezes the graph")
	assert.Same(t, second, p.Current())
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 14, held.NodeCount(), "held snapshot is unchanged by a later publish")
	assert.Equal(t, uint64(2), p.Generation())
}

func TestPublisher_ConcurrentReaders(t *testing.T) {
	p := NewPublisher(nil)
	_, err := p.Publish(context.Background(), buildTestGraph(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := p.Current()
				if snap.NodeCount() != 0 && snap.NodeCount() != 14 {
					t.Errorf("torn snapshot with %d nodes", snap.NodeCount())
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		g := NewGraph()
		if i%2 == 0 {
			g = buildTestGraph(t)
		}
		_, err := p.Publish(context.Background(), g)
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, uint64(11), p.Generation())
}

func TestSnapshot_Export(t *testing.T) {
	snap, err := NewSnapshot(buildTestGraph(t))
	require.NoError(t, err)
	snap.Generation = 7

	doc := snap.Export()
	assert.Equal(t, snap.ID, doc.SnapshotID)
	assert.Equal(t, uint64(7), doc.Generation)
	assert.Len(t, doc.Nodes, 14)
	assert.Len(t, doc.Edges, 18)
	assert.Equal(t, 2, doc.Stats.EdgesByType["CALLS"])

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"from":"job:NIGHTLY"`)
}
