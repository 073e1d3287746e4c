// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
)

func para(name string, stmts ...ast.Statement) ast.Paragraph {
	return ast.Paragraph{Name: name, Statements: stmts}
}

func perform(line int, target, thru string) ast.Statement {
	return ast.Statement{
		Kind:    ast.StmtPerform,
		Line:    line,
		Block:   -1,
		Perform: &ast.PerformTarget{Target: target, Thru: thru},
	}
}

func goTo(line int, depending string, targets ...string) ast.Statement {
	return ast.Statement{
		Kind:  ast.StmtGoTo,
		Line:  line,
		Block: -1,
		GoTo:  &ast.GoToTarget{Targets: targets, DependingOn: depending},
	}
}

func stopRun() ast.Statement {
	return ast.Statement{Kind: ast.StmtStop, Content: "STOP RUN", Block: -1}
}

func move(line int) ast.Statement {
	return ast.Statement{
		Kind:   ast.StmtMove,
		Line:   line,
		Block:  -1,
		Assign: &ast.Assignment{Sources: []ast.Operand{{Name: "A"}}, Targets: []ast.Operand{{Name: "B"}}},
	}
}

func program(paras ...ast.Paragraph) *ast.Program {
	return &ast.Program{ProgramID: "TESTPGM", Paragraphs: paras}
}

func TestBuild_MutualPerform(t *testing.T) {
	g := Build(program(
		para("A", perform(10, "B", "")),
		para("B", perform(20, "A", "")),
	))

	want := []Edge{
		{From: "A", To: "B", Kind: EdgePerform, Line: 10, Count: 1},
		{From: "B", To: "A", Kind: EdgePerform, Line: 20, Count: 1},
	}
	if !reflect.DeepEqual(g.Edges, want) {
		t.Errorf("expected edges %+v, got %+v", want, g.Edges)
	}
	if g.CyclomaticComplexity != 2 {
		t.Errorf("expected complexity 2, got %d", g.CyclomaticComplexity)
	}
	if g.Entry != "A" {
		t.Errorf("expected entry A, got %s", g.Entry)
	}
}

func TestBuild_SelfLoopComplexity(t *testing.T) {
	tests := []struct {
		name  string
		paras []ast.Paragraph
	}{
		{"single paragraph", []ast.Paragraph{para("LOOP", perform(5, "LOOP", ""))}},
		{"loop beside other paragraphs", []ast.Paragraph{
			para("MAIN", stopRun()),
			para("LOOP", perform(7, "LOOP", "")),
			para("OTHER", move(9)),
		}},
		{"loop inside larger component", []ast.Paragraph{
			para("MAIN", perform(3, "WORK", ""), stopRun()),
			para("WORK", perform(6, "WORK", ""), perform(7, "MAIN", "")),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Build(program(tt.paras...))
			if g.CyclomaticComplexity < 2 {
				t.Errorf("expected complexity >= 2 with a self loop, got %d", g.CyclomaticComplexity)
			}
		})
	}
}

func TestBuild_PerformThruExpandsRange(t *testing.T) {
	g := Build(program(
		para("MAIN", perform(3, "B", "D"), stopRun()),
		para("B", move(5)),
		para("C", move(6)),
		para("D", move(7)),
		para("E", move(8)),
	))

	if len(g.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %+v", g.Edges)
	}
	for i, to := range []string{"B", "C", "D"} {
		e := g.Edges[i]
		if e.From != "MAIN" || e.To != to || !e.Thru || e.Kind != EdgePerform {
			t.Errorf("edge %d: unexpected %+v", i, e)
		}
	}
	if g.Components != 2 {
		t.Errorf("expected 2 components, got %d", g.Components)
	}
	if g.CyclomaticComplexity != 3-5+2*2 {
		t.Errorf("expected complexity 2, got %d", g.CyclomaticComplexity)
	}
}

func TestBuild_PerformThruReversedRange(t *testing.T) {
	g := Build(program(
		para("MAIN", perform(3, "C", "B")),
		para("B"),
		para("C"),
	))
	if len(g.Edges) != 1 || g.Edges[0].To != "C" {
		t.Errorf("expected a single edge to C, got %+v", g.Edges)
	}
	if len(g.Diagnostics) != 1 {
		t.Errorf("expected a diagnostic for the reversed range, got %v", g.Diagnostics)
	}
}

func TestBuild_GoToDependingOn(t *testing.T) {
	g := Build(program(
		para("DISPATCH", goTo(12, "WS-CODE", "P1", "P2", "P3")),
		para("P1"),
		para("P2"),
		para("P3"),
	))
	if len(g.Edges) != 3 {
		t.Fatalf("expected one edge per target, got %+v", g.Edges)
	}
	for _, e := range g.Edges {
		if e.Kind != EdgeGoTo || e.Line != 12 {
			t.Errorf("unexpected edge %+v", e)
		}
	}
	if got := g.Successors("DISPATCH"); !reflect.DeepEqual(got, []string{"P1", "P2", "P3"}) {
		t.Errorf("expected successors [P1 P2 P3], got %v", got)
	}
	if got := g.Predecessors("P2"); !reflect.DeepEqual(got, []string{"DISPATCH"}) {
		t.Errorf("expected predecessor DISPATCH, got %v", got)
	}
}

func TestBuild_UnresolvedTargets(t *testing.T) {
	g := Build(program(
		para("MAIN", perform(4, "MISSING", ""), goTo(5, "", "NOWHERE")),
	))
	if len(g.Edges) != 0 {
		t.Errorf("expected no edges, got %+v", g.Edges)
	}
	if len(g.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %v", g.Diagnostics)
	}
	for _, d := range g.Diagnostics {
		if d.Kind != ast.DiagUnresolvedReference {
			t.Errorf("expected UnresolvedReferenceWarning, got %s", d.Kind)
		}
	}
	if g.Diagnostics[0].Target != "MISSING" || g.Diagnostics[1].Target != "NOWHERE" {
		t.Errorf("unexpected targets %v", g.Diagnostics)
	}
}

func TestBuild_RepeatedPerformCollapses(t *testing.T) {
	g := Build(program(
		para("MAIN", perform(3, "WORK", ""), perform(4, "WORK", "")),
		para("WORK"),
	))
	if len(g.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %+v", g.Edges)
	}
	if g.Edges[0].Count != 2 || g.Edges[0].Line != 3 {
		t.Errorf("expected count 2 at line 3, got %+v", g.Edges[0])
	}
}

func TestBuild_NoParagraphs(t *testing.T) {
	g := Build(program())
	if g.Entry != "TESTPGM" {
		t.Errorf("expected entry TESTPGM, got %s", g.Entry)
	}
	if len(g.Nodes) != 1 || !g.Nodes[0].Synthetic {
		t.Errorf("expected a single synthetic node, got %+v", g.Nodes)
	}
	if g.CyclomaticComplexity != 1 {
		t.Errorf("expected complexity 1, got %d", g.CyclomaticComplexity)
	}
	if Build(nil) != nil {
		t.Error("expected nil graph for nil program")
	}
}

func TestReachable(t *testing.T) {
	g := Build(program(
		para("MAIN", perform(3, "WORK", ""), stopRun()),
		para("WORK", move(6), goTo(7, "", "FINISH")),
		para("DEAD", move(9)),
		para("FINISH", ast.Statement{Kind: ast.StmtExit, Content: "EXIT", Block: -1}),
	))

	if got := g.Reachable(); !reflect.DeepEqual(got, []string{"MAIN", "WORK", "FINISH"}) {
		t.Errorf("expected [MAIN WORK FINISH], got %v", got)
	}
	if got := g.Unreachable(); !reflect.DeepEqual(got, []string{"DEAD"}) {
		t.Errorf("expected [DEAD], got %v", got)
	}
}

func TestReachable_FallThrough(t *testing.T) {
	g := Build(program(
		para("FIRST", move(3)),
		para("SECOND", move(5)),
		para("THIRD", ast.Statement{Kind: ast.StmtGoBack, Content: "GOBACK", Block: -1}),
		para("AFTER", move(9)),
	))
	if got := g.Unreachable(); !reflect.DeepEqual(got, []string{"AFTER"}) {
		t.Errorf("expected [AFTER], got %v", got)
	}
}

func TestMermaid(t *testing.T) {
	g := Build(program(
		para("MAIN", perform(3, "WORK", ""), goTo(4, "", "END-PARA")),
		para("WORK", stopRun()),
		para("UNUSED", stopRun()),
		para("END-PARA", stopRun()),
	))
	out := g.Mermaid()

	for _, want := range []string{
		"flowchart TD\n",
		`n0(["MAIN"]):::entry`,
		"n0 -->|PERFORM| n1",
		"n0 -.->|GO TO| n3",
		`n2["UNUSED"]:::dead`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestGraph_JSONRoundTripKeepsLookups(t *testing.T) {
	g := Build(program(
		para("A", perform(10, "B", "")),
		para("B"),
	))
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ControlFlowGraph
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded.Node("B"); !ok {
		t.Error("expected node lookup to work on a decoded graph")
	}
	if got := decoded.Reachable(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("expected [A B], got %v", got)
	}
}

func TestBuild_FromParsedSource(t *testing.T) {
	const src = `       IDENTIFICATION DIVISION.
       PROGRAM-ID. LOOPER.
       PROCEDURE DIVISION.
       0000-MAIN.
           PERFORM 1000-READ THRU 1000-EXIT
           PERFORM 2000-WORK UNTIL WS-DONE = 'Y'
           STOP RUN.
       1000-READ.
           DISPLAY 'READ'.
       1000-EXIT.
           EXIT.
       2000-WORK.
           PERFORM 1000-READ.
`
	prog, err := ast.NewParser().Parse(context.Background(), []byte(src), "LOOPER.cbl")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	g := Build(prog)

	if g.Entry != "0000-MAIN" {
		t.Errorf("expected entry 0000-MAIN, got %s", g.Entry)
	}
	if len(g.Nodes) != 4 || len(g.Edges) != 4 {
		t.Fatalf("expected 4 nodes and 4 edges, got %d and %d: %+v", len(g.Nodes), len(g.Edges), g.Edges)
	}
	if g.CyclomaticComplexity != 2 {
		t.Errorf("expected complexity 2, got %d", g.CyclomaticComplexity)
	}
	if len(g.Unreachable()) != 0 {
		t.Errorf("expected every paragraph reachable, got %v", g.Unreachable())
	}
}
