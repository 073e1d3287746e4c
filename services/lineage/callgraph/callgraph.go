// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callgraph builds program-to-program call graphs.
//
// BuildProgram extracts the calls of one program. Merge combines a batch
// of programs into a single graph, resolving call targets against the
// program ids of the batch. Targets outside the batch are kept as
// EXTERNAL nodes and listed in UnresolvedCalls.
package callgraph

import (
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
)

// NodeKind classifies a call graph node.
type NodeKind string

const (
	// NodeMain is a batch program no other batch program calls.
	NodeMain NodeKind = "MAIN"

	// NodeSubprogram is a batch program called by another batch program.
	NodeSubprogram NodeKind = "SUBPROGRAM"

	// NodeExternal is a call target not present in the batch.
	NodeExternal NodeKind = "EXTERNAL"

	// NodeJob is a JCL job stream.
	NodeJob NodeKind = "JOB"
)

// CallType tells whether the target was named by a literal or a variable.
type CallType string

const (
	CallStatic  CallType = "STATIC"
	CallDynamic CallType = "DYNAMIC"
)

// EdgeKind distinguishes program calls from job step execution.
type EdgeKind string

const (
	EdgeCalls    EdgeKind = "CALLS"
	EdgeExecutes EdgeKind = "EXECUTES"
)

// Node is a program, job or external target.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	FileName string   `json:"file_name,omitempty"`
}

// Edge is one CALL statement, CICS LINK/XCTL or JCL EXEC step.
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Kind     EdgeKind `json:"kind"`
	CallType CallType `json:"call_type"`

	// Paragraph is the calling paragraph, or the step name for EXECUTES.
	Paragraph string `json:"paragraph"`
	Line      int    `json:"line"`

	// Via is "CALL", "CICS LINK", "CICS XCTL" or "EXEC".
	Via string `json:"via"`

	// Variable is the data name of a dynamic call. When the variable has
	// a literal VALUE, To is that literal.
	Variable string `json:"variable,omitempty"`
}

// ProgramCalls is the call graph of a single program.
type ProgramCalls struct {
	ProgramID string `json:"program_id"`

	// Nodes holds the MAIN node of the program followed by one node per
	// distinct target, in first-call order. Targets are SUBPROGRAM until
	// Merge resolves them.
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// BuildProgram extracts the calls made by p.
//
// Description:
//
//	Walks every statement of every paragraph. CALL and EXEC CICS LINK or
//	XCTL produce an edge; CANCEL does not. A literal target is STATIC. A
//	variable target is DYNAMIC; if the variable is declared with a
//	literal VALUE the edge points at that literal, otherwise at the
//	variable name. For a JCL member, each EXEC PGM= step produces an
//	EXECUTES edge from the job.
//
// Inputs:
//   - p: A parsed program. Not modified.
//
// Outputs:
//   - *ProgramCalls: The per-program graph. Nil when p is nil.
func BuildProgram(p *ast.Program) *ProgramCalls {
	if p == nil {
		return nil
	}
	pc := &ProgramCalls{
		ProgramID: p.ProgramID,
		Nodes:     []Node{{ID: p.ProgramID, Kind: NodeMain, FileName: p.FileName}},
		Edges:     make([]Edge, 0),
	}
	if p.Job != nil {
		pc.Nodes[0].Kind = NodeJob
	}
	seen := map[string]bool{p.ProgramID: true}
	add := func(e Edge) {
		pc.Edges = append(pc.Edges, e)
		if !seen[e.To] {
			seen[e.To] = true
			pc.Nodes = append(pc.Nodes, Node{ID: e.To, Kind: NodeSubprogram})
		}
	}

	if p.Job != nil {
		for _, step := range p.Job.Steps {
			if step.Program == "" {
				continue
			}
			add(Edge{
				From:      p.ProgramID,
				To:        step.Program,
				Kind:      EdgeExecutes,
				CallType:  CallStatic,
				Paragraph: step.Name,
				Line:      step.Line,
				Via:       "EXEC",
			})
		}
		return pc
	}

	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		for j := range para.Statements {
			st := &para.Statements[j]
			if st.Call == nil || st.Call.Via == "CANCEL" || st.Call.Target == "" {
				continue
			}
			e := Edge{
				From:      p.ProgramID,
				To:        st.Call.Target,
				Kind:      EdgeCalls,
				CallType:  CallStatic,
				Paragraph: para.Name,
				Line:      st.Line,
				Via:       st.Call.Via,
			}
			if st.Call.Dynamic {
				e.CallType = CallDynamic
				e.Variable = st.Call.Target
				if lit, ok := literalValue(p, st.Call.Target); ok {
					e.To = lit
				}
			}
			add(e)
		}
	}
	return pc
}

// literalValue returns the quoted literal VALUE of the named data item.
func literalValue(p *ast.Program, name string) (string, bool) {
	i := p.DataItemIndex(name)
	if i < 0 {
		return "", false
	}
	v := strings.TrimSpace(p.DataItems[i].Value)
	if len(v) < 2 {
		return "", false
	}
	if q := v[0]; (q == '\'' || q == '"') && v[len(v)-1] == q {
		lit := strings.ToUpper(strings.TrimSpace(v[1 : len(v)-1]))
		return lit, lit != ""
	}
	return "", false
}

// CallGraph is the cross-program call graph of a batch.
//
// Thread Safety:
//
//	Immutable after Merge returns. Safe for concurrent reads.
type CallGraph struct {
	// Nodes are sorted by ID.
	Nodes []Node `json:"nodes"`

	// Edges are sorted by caller, line and target.
	Edges []Edge `json:"edges"`

	// UnresolvedCalls lists EXTERNAL node ids, sorted and unique.
	UnresolvedCalls []string `json:"unresolved_calls"`

	index map[string]int
}

// Merge combines the calls of a batch of programs.
//
// Description:
//
//	Copybooks are not callable and contribute nothing. Every other
//	program becomes a node: MAIN unless another batch program calls it,
//	then SUBPROGRAM. Calls to ids outside the batch create EXTERNAL nodes
//	listed in UnresolvedCalls. JCL jobs become JOB nodes; a job whose name
//	equals a program id is renamed with a ".JCL" suffix.
//
// Inputs:
//   - programs: The batch. Nil entries are skipped.
//
// Outputs:
//   - *CallGraph: The merged graph. Never nil.
//
// Example:
//
//	cg := callgraph.Merge(programs)
//	for _, id := range cg.UnresolvedCalls {
//	    fmt.Println("unknown downstream effect:", id)
//	}
func Merge(programs []*ast.Program) *CallGraph {
	nodes := make(map[string]*Node)
	edges := make([]Edge, 0)

	for _, p := range programs {
		if callable(p) {
			nodes[p.ProgramID] = &Node{ID: p.ProgramID, Kind: NodeMain, FileName: p.FileName}
		}
	}

	for _, p := range programs {
		if p == nil || p.Kind == source.KindCopybook {
			continue
		}
		pc := BuildProgram(p)
		from := p.ProgramID
		if p.Job != nil {
			if _, clash := nodes[from]; clash {
				from += ".JCL"
			}
			nodes[from] = &Node{ID: from, Kind: NodeJob, FileName: p.FileName}
		}
		for _, e := range pc.Edges {
			e.From = from
			edges = append(edges, e)
		}
	}

	unresolved := make(map[string]struct{})
	for _, e := range edges {
		n, ok := nodes[e.To]
		switch {
		case !ok:
			nodes[e.To] = &Node{ID: e.To, Kind: NodeExternal}
			unresolved[e.To] = struct{}{}
		case n.Kind == NodeExternal:
		case e.Kind == EdgeCalls && e.From != e.To && n.Kind == NodeMain:
			if caller, ok := nodes[e.From]; ok && caller.Kind != NodeJob {
				n.Kind = NodeSubprogram
			}
		}
	}

	cg := &CallGraph{
		Nodes:           make([]Node, 0, len(nodes)),
		Edges:           edges,
		UnresolvedCalls: make([]string, 0, len(unresolved)),
		index:           make(map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		cg.Nodes = append(cg.Nodes, *n)
	}
	sort.Slice(cg.Nodes, func(i, j int) bool { return cg.Nodes[i].ID < cg.Nodes[j].ID })
	for i, n := range cg.Nodes {
		cg.index[n.ID] = i
	}
	sort.SliceStable(cg.Edges, func(i, j int) bool {
		a, b := cg.Edges[i], cg.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.To < b.To
	})
	for id := range unresolved {
		cg.UnresolvedCalls = append(cg.UnresolvedCalls, id)
	}
	sort.Strings(cg.UnresolvedCalls)
	return cg
}

// callable reports whether p can be the target of a CALL.
func callable(p *ast.Program) bool {
	return p != nil && p.Job == nil && p.Kind != source.KindCopybook && p.Kind != source.KindSQL
}

// Node returns the node with the given id.
func (g *CallGraph) Node(id string) (Node, bool) {
	if g.index == nil {
		for _, n := range g.Nodes {
			if n.ID == id {
				return n, true
			}
		}
		return Node{}, false
	}
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Callers returns the distinct ids that call or execute id, sorted.
func (g *CallGraph) Callers(id string) []string {
	return distinct(g.Edges, func(e Edge) (string, bool) { return e.From, e.To == id })
}

// Callees returns the distinct ids called or executed by id, sorted.
func (g *CallGraph) Callees(id string) []string {
	return distinct(g.Edges, func(e Edge) (string, bool) { return e.To, e.From == id })
}

// EdgesFrom returns the edges leaving id in graph order.
func (g *CallGraph) EdgesFrom(id string) []Edge {
	out := make([]Edge, 0)
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// IsExternal reports whether id is an EXTERNAL node.
func (g *CallGraph) IsExternal(id string) bool {
	n, ok := g.Node(id)
	return ok && n.Kind == NodeExternal
}

func distinct(edges []Edge, pick func(Edge) (string, bool)) []string {
	set := make(map[string]struct{})
	for _, e := range edges {
		if id, ok := pick(e); ok {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
