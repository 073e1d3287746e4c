// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cfg builds paragraph-level control flow graphs.
//
// A node is a paragraph (or section). Edges come from PERFORM and GO TO
// statements only. Sequential fall-through between paragraphs is not an
// edge; it is considered by Reachable when looking for dead code.
package cfg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
)

// EdgeKind is the statement that transfers control along an edge.
type EdgeKind string

const (
	EdgePerform EdgeKind = "PERFORM"
	EdgeGoTo    EdgeKind = "GOTO"
)

// Node is one paragraph of the program.
type Node struct {
	Name      string `json:"name"`
	Line      int    `json:"line"`
	Section   string `json:"section,omitempty"`
	IsSection bool   `json:"is_section,omitempty"`

	// Synthetic marks the single node standing in for a program that has
	// no paragraphs. It is named after the program id.
	Synthetic bool `json:"synthetic,omitempty"`

	Statements int `json:"statements"`

	// Terminal is true when the paragraph ends in an unconditional
	// transfer (GO TO, STOP RUN, GOBACK, EXIT PROGRAM) and so does not
	// fall through to the next paragraph.
	Terminal bool `json:"terminal,omitempty"`
}

// Edge is a control transfer between two paragraphs.
//
// Repeated transfers between the same pair with the same kind collapse
// into one edge; Count records how many statements produced it and Line
// the first of them.
type Edge struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Kind  EdgeKind `json:"kind"`
	Line  int      `json:"line"`
	Count int      `json:"count"`

	// Thru marks edges produced by expanding PERFORM ... THRU.
	Thru bool `json:"thru,omitempty"`
}

// ControlFlowGraph is the paragraph graph of one program.
//
// Thread Safety:
//
//	Immutable after Build returns. Safe for concurrent reads.
type ControlFlowGraph struct {
	ProgramID string `json:"program_id"`

	// Entry is the first paragraph, or the program id when the program
	// has no paragraphs.
	Entry string `json:"entry"`

	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	// Components is the number of weakly connected components.
	Components int `json:"components"`

	// CyclomaticComplexity is E - N + 2P.
	CyclomaticComplexity int `json:"cyclomatic_complexity"`

	// Diagnostics lists PERFORM and GO TO targets that name no paragraph.
	Diagnostics []ast.Diagnostic `json:"diagnostics,omitempty"`

	index map[string]int
}

// Build derives the control flow graph of p.
//
// Description:
//
//	Creates one node per paragraph in declaration order. Every
//	non-inline PERFORM adds a PERFORM edge from the enclosing paragraph to
//	the target; PERFORM A THRU B adds an edge to each paragraph from A to
//	B in declaration order. Every GO TO target (all targets of GO TO ...
//	DEPENDING ON) adds a GOTO edge. Targets that name no paragraph add an
//	UnresolvedReferenceWarning and no edge.
//
//	A program without paragraphs gets a single synthetic node named after
//	its program id, giving a complexity of 1.
//
// Inputs:
//   - p: A parsed program. Not modified.
//
// Outputs:
//   - *ControlFlowGraph: The graph. Nil when p is nil.
//
// Example:
//
//	g := cfg.Build(prog)
//	fmt.Println(g.CyclomaticComplexity)
func Build(p *ast.Program) *ControlFlowGraph {
	if p == nil {
		return nil
	}

	g := &ControlFlowGraph{
		ProgramID: p.ProgramID,
		Nodes:     make([]Node, 0, len(p.Paragraphs)),
		Edges:     make([]Edge, 0),
		index:     make(map[string]int, len(p.Paragraphs)),
	}

	if len(p.Paragraphs) == 0 {
		g.Entry = p.ProgramID
		g.Nodes = append(g.Nodes, Node{Name: p.ProgramID, Synthetic: true, Terminal: true})
		g.index[p.ProgramID] = 0
		g.finish()
		return g
	}

	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		g.index[para.Name] = len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{
			Name:       para.Name,
			Line:       para.Line,
			Section:    para.Section,
			IsSection:  para.IsSection,
			Statements: len(para.Statements),
			Terminal:   endsInTransfer(para),
		})
	}
	g.Entry = g.Nodes[0].Name

	seen := make(map[edgeKey]int)
	addEdge := func(e Edge) {
		k := edgeKey{from: e.From, to: e.To, kind: e.Kind}
		if i, ok := seen[k]; ok {
			g.Edges[i].Count++
			return
		}
		e.Count = 1
		seen[k] = len(g.Edges)
		g.Edges = append(g.Edges, e)
	}
	unresolved := func(line int, kind EdgeKind, from, target string) {
		g.Diagnostics = append(g.Diagnostics, ast.NewDiagnostic(ast.DiagUnresolvedReference, line, target,
			"%s target %s in paragraph %s does not exist", kind, target, from))
	}

	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		for j := range para.Statements {
			st := &para.Statements[j]
			switch {
			case st.Perform != nil && !st.Perform.Inline && st.Perform.Target != "":
				g.addPerform(para.Name, st, addEdge, unresolved)
			case st.GoTo != nil:
				for _, target := range st.GoTo.Targets {
					if _, ok := g.index[target]; !ok {
						unresolved(st.Line, EdgeGoTo, para.Name, target)
						continue
					}
					addEdge(Edge{From: para.Name, To: target, Kind: EdgeGoTo, Line: st.Line})
				}
			}
		}
	}

	g.finish()
	return g
}

type edgeKey struct {
	from, to string
	kind     EdgeKind
}

// addPerform adds the edges of one PERFORM statement.
func (g *ControlFlowGraph) addPerform(from string, st *ast.Statement, addEdge func(Edge), unresolved func(int, EdgeKind, string, string)) {
	first, ok := g.index[st.Perform.Target]
	if !ok {
		unresolved(st.Line, EdgePerform, from, st.Perform.Target)
		return
	}
	if st.Perform.Thru == "" {
		addEdge(Edge{From: from, To: st.Perform.Target, Kind: EdgePerform, Line: st.Line})
		return
	}

	last, ok := g.index[st.Perform.Thru]
	switch {
	case !ok:
		unresolved(st.Line, EdgePerform, from, st.Perform.Thru)
		last = first
	case last < first:
		g.Diagnostics = append(g.Diagnostics, ast.NewDiagnostic(ast.DiagUnresolvedReference, st.Line, st.Perform.Thru,
			"PERFORM %s THRU %s in paragraph %s: range is reversed", st.Perform.Target, st.Perform.Thru, from))
		last = first
	}
	for i := first; i <= last; i++ {
		addEdge(Edge{From: from, To: g.Nodes[i].Name, Kind: EdgePerform, Line: st.Line, Thru: true})
	}
}

// finish computes components and complexity.
func (g *ControlFlowGraph) finish() {
	g.Components = g.weakComponents()
	g.CyclomaticComplexity = Complexity(len(g.Edges), len(g.Nodes), g.Components)
}

// Complexity returns McCabe's E - N + 2P, never less than 1 for a
// non-empty graph.
func Complexity(edges, nodes, components int) int {
	if nodes == 0 {
		return 0
	}
	m := edges - nodes + 2*components
	if m < 1 {
		return 1
	}
	return m
}

// weakComponents counts weakly connected components with union-find.
func (g *ControlFlowGraph) weakComponents() int {
	parent := make([]int, len(g.Nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	components := len(g.Nodes)
	for _, e := range g.Edges {
		a, b := find(g.indexOf(e.From)), find(g.indexOf(e.To))
		if a != b {
			parent[a] = b
			components--
		}
	}
	return components
}

// indexOf returns the node index of name or -1. Graphs decoded from JSON
// have no index and fall back to a scan.
func (g *ControlFlowGraph) indexOf(name string) int {
	if g.index != nil {
		if i, ok := g.index[name]; ok {
			return i
		}
		return -1
	}
	for i := range g.Nodes {
		if g.Nodes[i].Name == name {
			return i
		}
	}
	return -1
}

// Node returns the named node.
func (g *ControlFlowGraph) Node(name string) (Node, bool) {
	if i := g.indexOf(name); i >= 0 {
		return g.Nodes[i], true
	}
	return Node{}, false
}

// Successors returns the distinct targets of edges leaving name, sorted.
func (g *ControlFlowGraph) Successors(name string) []string {
	return g.neighbors(name, func(e Edge) (string, string) { return e.From, e.To })
}

// Predecessors returns the distinct sources of edges entering name, sorted.
func (g *ControlFlowGraph) Predecessors(name string) []string {
	return g.neighbors(name, func(e Edge) (string, string) { return e.To, e.From })
}

func (g *ControlFlowGraph) neighbors(name string, ends func(Edge) (string, string)) []string {
	set := make(map[string]struct{})
	for _, e := range g.Edges {
		if at, other := ends(e); at == name {
			set[other] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Reachable returns the paragraphs reachable from the entry, in
// declaration order.
//
// Description:
//
//	Follows PERFORM and GO TO edges and sequential fall-through from a
//	paragraph to the next one unless the paragraph is Terminal.
func (g *ControlFlowGraph) Reachable() []string {
	if len(g.Nodes) == 0 {
		return nil
	}
	adj := make([][]int, len(g.Nodes))
	for _, e := range g.Edges {
		from, to := g.indexOf(e.From), g.indexOf(e.To)
		if from >= 0 && to >= 0 {
			adj[from] = append(adj[from], to)
		}
	}

	start := g.indexOf(g.Entry)
	if start < 0 {
		start = 0
	}
	visited := make([]bool, len(g.Nodes))
	queue := []int{start}
	visited[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := adj[cur]
		if !g.Nodes[cur].Terminal && cur+1 < len(g.Nodes) {
			next = append(next[:len(next):len(next)], cur+1)
		}
		for _, n := range next {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}

	out := make([]string, 0, len(g.Nodes))
	for i, ok := range visited {
		if ok {
			out = append(out, g.Nodes[i].Name)
		}
	}
	return out
}

// Unreachable returns the paragraphs Reachable does not visit, in
// declaration order. These are dead code candidates.
func (g *ControlFlowGraph) Unreachable() []string {
	reached := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Reachable() {
		reached[n] = struct{}{}
	}
	out := make([]string, 0)
	for _, n := range g.Nodes {
		if _, ok := reached[n.Name]; !ok {
			out = append(out, n.Name)
		}
	}
	return out
}

// String returns a one-line summary.
func (g *ControlFlowGraph) String() string {
	return fmt.Sprintf("cfg %s: %d nodes, %d edges, complexity %d",
		g.ProgramID, len(g.Nodes), len(g.Edges), g.CyclomaticComplexity)
}

// endsInTransfer reports whether the last sentence-level statement of
// para leaves the paragraph for good.
func endsInTransfer(para *ast.Paragraph) bool {
	for i := len(para.Statements) - 1; i >= 0; i-- {
		st := &para.Statements[i]
		if st.Block != -1 {
			continue
		}
		switch st.Kind {
		case ast.StmtGoTo:
			return st.GoTo != nil && st.GoTo.DependingOn == ""
		case ast.StmtStop, ast.StmtGoBack:
			return true
		case ast.StmtExit:
			return containsWord(st.Content, "PROGRAM")
		case ast.StmtScopeEnd:
			continue
		}
		return false
	}
	return false
}

func containsWord(text, word string) bool {
	for _, f := range strings.Fields(strings.ToUpper(text)) {
		if strings.TrimSuffix(f, ".") == word {
			return true
		}
	}
	return false
}
