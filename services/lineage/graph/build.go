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
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/callgraph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/cfg"
	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
)

// Input is the cross-program analysis of one batch.
//
// CallGraph, Lineage and ControlFlow are derived from Programs when nil.
type Input struct {
	Programs  []*ast.Program
	CallGraph *callgraph.CallGraph
	Lineage   *lineage.DataLineage

	// ControlFlow maps a program id to its control flow graph.
	ControlFlow map[string]*cfg.ControlFlowGraph
}

// BuildStats contains statistics about a build operation.
type BuildStats struct {
	// ProgramsProcessed counts the source units folded into the graph.
	ProgramsProcessed int `json:"programs_processed"`

	NodesCreated int `json:"nodes_created"`
	EdgesCreated int `json:"edges_created"`

	// ExternalNodes counts call targets outside the batch.
	ExternalNodes int `json:"external_nodes"`

	// PlaceholderFields counts fields referenced by data flow but never
	// declared in the referencing program.
	PlaceholderFields int `json:"placeholder_fields"`

	// DurationMicro is the total build time in microseconds.
	DurationMicro int64 `json:"duration_micro"`
}

// BuildResult contains the result of a graph build operation.
//
// A build never fails as a whole: edges that cannot be created are listed
// in EdgeErrors and the rest of the graph is kept.
type BuildResult struct {
	// Graph is the frozen graph. Partial when Incomplete is set.
	Graph *Graph

	EdgeErrors []EdgeError
	Stats      BuildStats

	// Incomplete is true if the build was cancelled or hit a capacity
	// limit.
	Incomplete bool
}

// Success returns true if the build completed without errors.
func (r *BuildResult) Success() bool {
	return !r.Incomplete && len(r.EdgeErrors) == 0
}

// builder carries the state of one Build call.
type builder struct {
	g      *Graph
	result *BuildResult

	// owners maps a program id to the node id of its owning entity.
	owners map[string]string

	// fields maps a program id to its declared field node ids by name.
	fields map[string]map[string]string

	// stop is set once a capacity limit is reached.
	stop error
}

// Build merges the analysis of a batch into a frozen Analysis Graph.
//
// Description:
//
//	Build is the single writer of a graph. Per program it adds the owning
//	node (program, copybook or job), the fields it declares, its
//	paragraphs and PERFORM edges, copybook inclusion, file access and
//	EXEC SQL table access. It then adds the merged call graph, creating
//	external nodes for unresolved targets, and the data flow edges of the
//	lineage. The graph is frozen before it is returned.
//
// Inputs:
//
//	ctx - Checked between programs. Cancellation yields an Incomplete result.
//	in - The batch analysis.
//	opts - Graph capacity options.
//
// Outputs:
//
//	*BuildResult - Never nil. Graph is always frozen.
//
// Thread Safety:
//
//	Safe to call concurrently with different inputs. The inputs are not
//	modified.
func Build(ctx context.Context, in Input, opts ...GraphOption) *BuildResult {
	start := time.Now()
	ctx, span := startBuildSpan(ctx, len(in.Programs))
	defer span.End()

	b := &builder{
		g:      NewGraph(opts...),
		result: &BuildResult{},
		owners: make(map[string]string),
		fields: make(map[string]map[string]string),
	}
	b.result.Graph = b.g

	cg := in.CallGraph
	if cg == nil {
		cg = callgraph.Merge(in.Programs)
	}
	dl := in.Lineage
	if dl == nil {
		dl = lineage.Analyze(in.Programs)
	}

	for _, p := range in.Programs {
		if p == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			b.result.Incomplete = true
			span.RecordError(errors.Join(ErrBuildCancelled, err))
			break
		}
		b.addProgram(p, controlFlow(in.ControlFlow, p))
		b.result.Stats.ProgramsProcessed++
		if b.stop != nil {
			break
		}
	}

	if !b.result.Incomplete && b.stop == nil {
		b.addCalls(cg)
	}
	if !b.result.Incomplete && b.stop == nil {
		b.addFlows(dl)
	}
	if b.stop != nil {
		b.result.Incomplete = true
		span.SetStatus(codes.Error, b.stop.Error())
	}

	b.g.Freeze()
	b.result.Stats.NodesCreated = b.g.NodeCount()
	b.result.Stats.EdgesCreated = b.g.EdgeCount()
	b.result.Stats.ExternalNodes = len(b.g.nodesByKind[NodeExternal])
	b.result.Stats.DurationMicro = time.Since(start).Microseconds()

	span.SetAttributes(
		attribute.Int("graph.node_count", b.g.NodeCount()),
		attribute.Int("graph.edge_count", b.g.EdgeCount()),
		attribute.Bool("graph.incomplete", b.result.Incomplete),
	)
	recordBuildMetrics(ctx, time.Since(start), b.g.NodeCount(), b.g.EdgeCount(), !b.result.Incomplete)
	return b.result
}

// controlFlow returns the CFG of p from the input map or builds it.
func controlFlow(m map[string]*cfg.ControlFlowGraph, p *ast.Program) *cfg.ControlFlowGraph {
	if g, ok := m[p.ProgramID]; ok && g != nil {
		return g
	}
	if p.Job != nil || p.Kind == source.KindCopybook || p.Kind == source.KindSQL {
		return nil
	}
	return cfg.Build(p)
}

// ensure adds n unless a node with its ID exists and returns the stored node.
func (b *builder) ensure(n *Node) *Node {
	if existing, ok := b.g.nodes[n.ID]; ok {
		return existing
	}
	if b.stop != nil {
		return nil
	}
	stored, err := b.g.AddNode(n)
	if err != nil {
		b.stop = err
		return nil
	}
	return stored
}

// link adds an edge between two existing nodes.
func (b *builder) link(e Edge) {
	if b.stop != nil {
		return
	}
	if _, err := b.g.AddEdge(e); err != nil {
		if errors.Is(err, ErrMaxEdgesExceeded) {
			b.stop = err
			return
		}
		b.result.EdgeErrors = append(b.result.EdgeErrors, EdgeError{
			FromID: e.FromID, ToID: e.ToID, EdgeType: e.Type, Err: err,
		})
	}
}

// ownerNode returns the node that owns everything p declares.
func (b *builder) ownerNode(p *ast.Program) *Node {
	var n *Node
	switch {
	case p.Job != nil:
		n = &Node{ID: NodeID(NodeJob, p.ProgramID), Kind: NodeJob, Name: p.ProgramID}
	case p.Kind == source.KindCopybook:
		n = &Node{ID: NodeID(NodeCopybook, p.ProgramID), Kind: NodeCopybook, Name: p.ProgramID}
	case p.Kind == source.KindSQL:
		return nil
	default:
		n = &Node{ID: NodeID(NodeProgram, p.ProgramID), Kind: NodeProgram, Name: p.ProgramID}
	}
	n.FileName = p.FileName
	stored := b.ensure(n)
	if stored != nil && stored.FileName == "" {
		// A copybook first seen through a COPY statement gains its file.
		stored.FileName = p.FileName
	}
	return stored
}

// addProgram adds the per-program part of the graph.
func (b *builder) addProgram(p *ast.Program, flow *cfg.ControlFlowGraph) {
	owner := b.ownerNode(p)
	if owner == nil {
		return
	}
	if _, seen := b.owners[p.ProgramID]; !seen || owner.Kind == NodeProgram {
		b.owners[p.ProgramID] = owner.ID
	}

	for _, c := range p.Copies {
		from := owner
		if c.Parent != "" {
			from = b.ensure(&Node{ID: NodeID(NodeCopybook, c.Parent), Kind: NodeCopybook, Name: c.Parent})
		}
		to := b.ensure(&Node{ID: NodeID(NodeCopybook, c.Name), Kind: NodeCopybook, Name: c.Name})
		if from == nil || to == nil {
			return
		}
		b.link(Edge{FromID: from.ID, ToID: to.ID, Type: EdgeTypeIncludes,
			Location: lineage.Location{Program: p.ProgramID, Line: c.Line}})
	}

	b.addFields(p, owner)
	if p.Job != nil {
		return
	}
	b.addParagraphs(p, owner, flow)

	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		for j := range para.Statements {
			st := &para.Statements[j]
			loc := lineage.Location{Program: p.ProgramID, Paragraph: para.Name, Line: st.Line}
			if st.FileIO != nil {
				b.addFileAccess(p, owner, st, loc)
			}
			if st.SQL != nil {
				for _, table := range st.SQL.Tables {
					t := b.ensure(&Node{ID: NodeID(NodeTable, table), Kind: NodeTable, Name: table})
					if t == nil {
						return
					}
					b.link(Edge{FromID: owner.ID, ToID: t.ID, Type: EdgeTypeAccesses,
						Detail: st.SQL.Operation, Location: loc})
				}
			}
		}
	}
}

// addFields adds a node per named data item and its DECLARES edge.
//
// Items expanded from a copybook belong to the copybook, so every program
// including it shares one field node.
func (b *builder) addFields(p *ast.Program, owner *Node) {
	byName := b.fields[p.ProgramID]
	if byName == nil {
		byName = make(map[string]string, len(p.DataItems))
		b.fields[p.ProgramID] = byName
	}
	for i := range p.DataItems {
		it := &p.DataItems[i]
		if it.Name == "" || it.Name == "FILLER" {
			continue
		}
		decl := owner
		if it.Copybook != "" && it.Copybook != owner.Name {
			decl = b.ensure(&Node{ID: NodeID(NodeCopybook, it.Copybook), Kind: NodeCopybook, Name: it.Copybook})
		}
		if decl == nil {
			return
		}
		n := &Node{
			ID:    ScopedID(NodeField, decl.Name, it.Name),
			Kind:  NodeField,
			Name:  it.Name,
			Owner: decl.Name,
		}
		if decl == owner {
			n.FileName, n.Line = p.FileName, it.Line
		}
		f := b.ensure(n)
		if f == nil {
			return
		}
		// An expanded copybook item only knows the COPY line; the
		// copybook's own source supplies the real position.
		if decl == owner && f.FileName == "" {
			f.FileName, f.Line = p.FileName, it.Line
		}
		if _, dup := byName[it.Name]; !dup {
			byName[it.Name] = f.ID
		}
		b.link(Edge{FromID: decl.ID, ToID: f.ID, Type: EdgeTypeDeclares,
			Location: lineage.Location{Program: p.ProgramID, Line: it.Line}})
	}
}

// addParagraphs adds paragraph nodes and the PERFORM and GO TO edges of
// the program's control flow graph.
func (b *builder) addParagraphs(p *ast.Program, owner *Node, flow *cfg.ControlFlowGraph) {
	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		n := b.ensure(&Node{
			ID:       ScopedID(NodeParagraph, p.ProgramID, para.Name),
			Kind:     NodeParagraph,
			Name:     para.Name,
			Owner:    p.ProgramID,
			FileName: p.FileName,
			Line:     para.Line,
		})
		if n == nil {
			return
		}
		b.link(Edge{FromID: owner.ID, ToID: n.ID, Type: EdgeTypeContains,
			Location: lineage.Location{Program: p.ProgramID, Paragraph: para.Name, Line: para.Line}})
	}
	if flow == nil {
		return
	}
	for _, e := range flow.Edges {
		from := ScopedID(NodeParagraph, p.ProgramID, e.From)
		to := ScopedID(NodeParagraph, p.ProgramID, e.To)
		if _, ok := b.g.nodes[from]; !ok {
			continue
		}
		if _, ok := b.g.nodes[to]; !ok {
			continue
		}
		b.link(Edge{FromID: from, ToID: to, Type: EdgeTypePerforms, Detail: string(e.Kind),
			Location: lineage.Location{Program: p.ProgramID, Paragraph: e.From, Line: e.Line}})
	}
}

// addFileAccess adds READS and WRITES edges for one file statement.
func (b *builder) addFileAccess(p *ast.Program, owner *Node, st *ast.Statement, loc lineage.Location) {
	access := func(name string, types ...EdgeType) {
		n := &Node{ID: NodeID(NodeFile, name), Kind: NodeFile, Name: name}
		if fd, ok := p.File(name); ok {
			n.FileName, n.Line = p.FileName, fd.Line
		}
		f := b.ensure(n)
		if f == nil {
			return
		}
		for _, t := range types {
			b.link(Edge{FromID: owner.ID, ToID: f.ID, Type: t, Detail: st.Kind.String(), Location: loc})
		}
	}

	op := st.FileIO
	for _, ref := range op.Files {
		switch ref.Mode {
		case "INPUT":
			access(ref.Name, EdgeTypeReads)
		case "OUTPUT", "EXTEND":
			access(ref.Name, EdgeTypeWrites)
		case "I-O", "SORT":
			access(ref.Name, EdgeTypeReads, EdgeTypeWrites)
		default:
			switch st.Kind {
			case ast.StmtRead, ast.StmtReturn, ast.StmtStart:
				access(ref.Name, EdgeTypeReads)
			case ast.StmtDelete:
				access(ref.Name, EdgeTypeWrites)
			}
		}
	}
	if op.Record != "" {
		if fd, ok := p.FileForRecord(op.Record); ok {
			access(fd.Name, EdgeTypeWrites)
		}
	}
}

// addCalls adds the merged call graph.
func (b *builder) addCalls(cg *callgraph.CallGraph) {
	jobs := make(map[string]string)
	for _, n := range cg.Nodes {
		if n.Kind == callgraph.NodeJob {
			jobs[n.ID] = NodeID(NodeJob, strings.TrimSuffix(n.ID, ".JCL"))
		}
	}

	resolve := func(id string) *Node {
		if jobID, ok := jobs[id]; ok {
			return b.g.nodes[jobID]
		}
		if n, ok := b.g.nodes[NodeID(NodeProgram, id)]; ok {
			return n
		}
		if cg.IsExternal(id) {
			return b.ensure(&Node{ID: NodeID(NodeExternal, id), Kind: NodeExternal, Name: id})
		}
		n, _ := cg.Node(id)
		return b.ensure(&Node{ID: NodeID(NodeProgram, id), Kind: NodeProgram, Name: id, FileName: n.FileName})
	}

	for _, e := range cg.Edges {
		from, to := resolve(e.From), resolve(e.To)
		if from == nil || to == nil {
			if b.stop != nil {
				return
			}
			b.result.EdgeErrors = append(b.result.EdgeErrors, EdgeError{
				FromID: e.From, ToID: e.To, EdgeType: EdgeTypeCalls, Err: ErrNodeNotFound,
			})
			continue
		}
		typ := EdgeTypeCalls
		if e.Kind == callgraph.EdgeExecutes {
			typ = EdgeTypeExecutes
		}
		b.link(Edge{
			FromID:   from.ID,
			ToID:     to.ID,
			Type:     typ,
			Weak:     e.CallType == callgraph.CallDynamic,
			Detail:   e.Via,
			Location: lineage.Location{Program: strings.TrimSuffix(e.From, ".JCL"), Paragraph: e.Paragraph, Line: e.Line},
		})
	}
}

// addFlows adds a FLOWS edge per distinct lineage edge.
func (b *builder) addFlows(dl *lineage.DataLineage) {
	for _, e := range dl.Edges {
		from := b.fieldNode(e.Location.Program, e.SourceField)
		to := b.fieldNode(e.Location.Program, e.TargetField)
		if from == nil || to == nil {
			return
		}
		if from.ID == to.ID {
			continue
		}
		b.link(Edge{FromID: from.ID, ToID: to.ID, Type: EdgeTypeFlows,
			Detail: string(e.Transformation), Location: e.Location})
	}
}

// fieldNode resolves a field named in program to its node. Qualified
// names ("A OF B") resolve by their first name. A field the program never
// declares gets a placeholder node owned by the program.
func (b *builder) fieldNode(program, name string) *Node {
	if i := strings.Index(name, " "); i > 0 {
		name = name[:i]
	}
	if id, ok := b.fields[program][name]; ok {
		return b.g.nodes[id]
	}
	owner := program
	if ownerID, ok := b.owners[program]; ok {
		owner = b.g.nodes[ownerID].Name
	}
	id := ScopedID(NodeField, owner, name)
	if n, ok := b.g.nodes[id]; ok {
		return n
	}
	n := b.ensure(&Node{ID: id, Kind: NodeField, Name: name, Owner: owner})
	if n == nil {
		return nil
	}
	b.result.Stats.PlaceholderFields++
	if ownerID, ok := b.owners[program]; ok {
		b.link(Edge{FromID: ownerID, ToID: n.ID, Type: EdgeTypeDeclares,
			Location: lineage.Location{Program: program}})
	}
	if b.fields[program] == nil {
		b.fields[program] = make(map[string]string)
	}
	b.fields[program][name] = n.ID
	return n
}
