// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineage derives field-level data flow and a where-used index.
//
// Data flow edges come from data-moving statements (MOVE, arithmetic,
// STRING, UNSTRING, INSPECT, READ INTO, WRITE FROM). The where-used index
// maps fields, paragraphs, copybooks, files, programs and SQL tables to
// every statement that references them.
package lineage

import (
	"encoding/json"
	"sort"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
)

// Transformation is how a value travels along a data flow edge.
type Transformation string

const (
	TransformMove     Transformation = "MOVE"
	TransformCompute  Transformation = "COMPUTE"
	TransformString   Transformation = "STRING"
	TransformUnstring Transformation = "UNSTRING"
	TransformInspect  Transformation = "INSPECT"
	TransformRefMod   Transformation = "REF-MOD"
)

// Location pins an edge or reference to a statement.
type Location struct {
	Program   string `json:"program"`
	Paragraph string `json:"paragraph"`
	Line      int    `json:"line"`
}

// DataFlowEdge records that a value flows from one field into another.
type DataFlowEdge struct {
	SourceField    string         `json:"source_field"`
	TargetField    string         `json:"target_field"`
	Transformation Transformation `json:"transformation"`
	Location       Location       `json:"location"`
}

// DataLineage is the lineage of a batch of programs.
//
// Thread Safety:
//
//	Immutable after Analyze or UnmarshalJSON returns. Safe for concurrent
//	reads.
type DataLineage struct {
	// Edges are ordered by program, line, paragraph, source and target.
	Edges []DataFlowEdge `json:"edges"`

	WhereUsed *WhereUsedIndex `json:"where_used"`

	forward  map[string][]int
	backward map[string][]int
}

// Analyze builds data flow edges and the where-used index of a batch.
//
// Description:
//
//	MOVE A TO B C yields A→B and A→C. COMPUTE R = expr yields an edge
//	from each operand of expr to R; ADD, SUBTRACT, MULTIPLY and DIVIDE
//	are COMPUTE too. STRING, UNSTRING and INSPECT edges run from their
//	sending fields to their receiving fields; INSPECT REPLACING and
//	CONVERTING produce a self edge. A reference-modified sender turns
//	the edge into REF-MOD. READ INTO and WRITE FROM move a record and
//	are MOVE edges. Literals and figurative constants produce nothing.
//
// Inputs:
//   - programs: The batch. Nil entries are skipped.
//
// Outputs:
//   - *DataLineage: Edges and index. Never nil.
//
// Example:
//
//	dl := lineage.Analyze(programs)
//	for _, ref := range dl.WhereUsed.Lookup(lineage.EntityField, "CUST-ID") {
//	    fmt.Println(ref.Program, ref.Paragraph, ref.Line, ref.Context)
//	}
func Analyze(programs []*ast.Program) *DataLineage {
	dl := &DataLineage{
		Edges:     make([]DataFlowEdge, 0),
		WhereUsed: NewWhereUsedIndex(),
	}
	for _, p := range programs {
		if p == nil {
			continue
		}
		dl.Edges = append(dl.Edges, ProgramEdges(p)...)
		indexProgram(dl.WhereUsed, p)
	}
	sort.SliceStable(dl.Edges, func(i, j int) bool {
		a, b := dl.Edges[i], dl.Edges[j]
		if a.Location.Program != b.Location.Program {
			return a.Location.Program < b.Location.Program
		}
		if a.Location.Line != b.Location.Line {
			return a.Location.Line < b.Location.Line
		}
		if a.Location.Paragraph != b.Location.Paragraph {
			return a.Location.Paragraph < b.Location.Paragraph
		}
		if a.SourceField != b.SourceField {
			return a.SourceField < b.SourceField
		}
		return a.TargetField < b.TargetField
	})
	dl.WhereUsed.finish()
	dl.buildAdjacency()
	return dl
}

// ProgramEdges returns the data flow edges of one program in statement
// order.
func ProgramEdges(p *ast.Program) []DataFlowEdge {
	edges := make([]DataFlowEdge, 0)
	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		for j := range para.Statements {
			st := &para.Statements[j]
			loc := Location{Program: p.ProgramID, Paragraph: para.Name, Line: st.Line}
			edges = append(edges, statementEdges(p, st, loc)...)
		}
	}
	return edges
}

// statementEdges returns the edges of one statement.
func statementEdges(p *ast.Program, st *ast.Statement, loc Location) []DataFlowEdge {
	if st.FileIO != nil {
		return fileEdges(p, st, loc)
	}
	if st.Assign == nil {
		return nil
	}
	t, ok := transformationFor(st.Kind)
	if !ok {
		return nil
	}
	if st.Kind == ast.StmtMove && st.Assign.Corresponding {
		if edges := correspondingEdges(p, st.Assign, loc); len(edges) > 0 {
			return edges
		}
	}

	edges := make([]DataFlowEdge, 0, len(st.Assign.Sources)*len(st.Assign.Targets))
	for _, src := range st.Assign.Sources {
		kind := t
		if src.RefMod {
			kind = TransformRefMod
		}
		for _, dst := range st.Assign.Targets {
			edges = append(edges, DataFlowEdge{
				SourceField:    src.Name,
				TargetField:    dst.Name,
				Transformation: kind,
				Location:       loc,
			})
		}
	}
	return edges
}

// transformationFor maps a statement kind to its edge transformation.
func transformationFor(k ast.StatementKind) (Transformation, bool) {
	switch {
	case k == ast.StmtMove:
		return TransformMove, true
	case k.IsArithmetic():
		return TransformCompute, true
	case k == ast.StmtString:
		return TransformString, true
	case k == ast.StmtUnstring:
		return TransformUnstring, true
	case k == ast.StmtInspect:
		return TransformInspect, true
	}
	return "", false
}

// fileEdges handles READ/RETURN INTO and WRITE/REWRITE/RELEASE FROM.
func fileEdges(p *ast.Program, st *ast.Statement, loc Location) []DataFlowEdge {
	op := st.FileIO
	edges := make([]DataFlowEdge, 0, 1)
	switch {
	case op.Into != "":
		for _, f := range op.Files {
			fd, ok := p.File(f.Name)
			if !ok {
				continue
			}
			for _, rec := range fd.Records {
				edges = append(edges, DataFlowEdge{SourceField: rec, TargetField: op.Into, Transformation: TransformMove, Location: loc})
			}
		}
	case op.From != "" && op.Record != "":
		edges = append(edges, DataFlowEdge{SourceField: op.From, TargetField: op.Record, Transformation: TransformMove, Location: loc})
	}
	return edges
}

// correspondingEdges pairs the same-named direct children of the sending
// and receiving groups of MOVE CORRESPONDING. Both ends are qualified
// ("NAME OF GROUP") since the names are equal.
func correspondingEdges(p *ast.Program, a *ast.Assignment, loc Location) []DataFlowEdge {
	if len(a.Sources) == 0 {
		return nil
	}
	src := p.DataItemIndex(a.Sources[0].Name)
	if src < 0 {
		return nil
	}
	edges := make([]DataFlowEdge, 0)
	for _, dst := range a.Targets {
		di := p.DataItemIndex(dst.Name)
		if di < 0 {
			continue
		}
		names := make(map[string]bool, len(p.DataItems[di].Children))
		for _, c := range p.DataItems[di].Children {
			names[p.DataItems[c].Name] = true
		}
		for _, c := range p.DataItems[src].Children {
			child := &p.DataItems[c]
			if child.IsConditionName || child.Name == "FILLER" || !names[child.Name] {
				continue
			}
			edges = append(edges, DataFlowEdge{
				SourceField:    child.Name + " OF " + p.DataItems[src].Name,
				TargetField:    child.Name + " OF " + p.DataItems[di].Name,
				Transformation: TransformMove,
				Location:       loc,
			})
		}
	}
	return edges
}

// buildAdjacency indexes edges by source and target field.
func (dl *DataLineage) buildAdjacency() {
	dl.forward = make(map[string][]int)
	dl.backward = make(map[string][]int)
	for i, e := range dl.Edges {
		dl.forward[e.SourceField] = append(dl.forward[e.SourceField], i)
		dl.backward[e.TargetField] = append(dl.backward[e.TargetField], i)
	}
}

// UnmarshalJSON decodes a lineage and rebuilds its edge index.
func (dl *DataLineage) UnmarshalJSON(data []byte) error {
	type wire DataLineage
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*dl = DataLineage(w)
	dl.buildAdjacency()
	return nil
}
