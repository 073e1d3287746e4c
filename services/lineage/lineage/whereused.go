// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

import (
	"sort"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/callgraph"
)

// EntityKind is the kind of name a where-used lookup is keyed by.
type EntityKind string

const (
	EntityField     EntityKind = "FIELD"
	EntityParagraph EntityKind = "PARAGRAPH"
	EntityCopybook  EntityKind = "COPYBOOK"
	EntityFile      EntityKind = "FILE"
	EntityProgram   EntityKind = "PROGRAM"
	EntityTable     EntityKind = "TABLE"
)

// Context is the kind of use a reference makes of an entity.
type Context string

const (
	ContextRead      Context = "READ"
	ContextWrite     Context = "WRITE"
	ContextCompute   Context = "COMPUTE"
	ContextCondition Context = "CONDITION"
	ContextPerform   Context = "PERFORM"
	ContextCall      Context = "CALL"
)

// Reference is one use of an entity.
type Reference struct {
	Program   string  `json:"program"`
	Paragraph string  `json:"paragraph,omitempty"`
	Line      int     `json:"line"`
	Context   Context `json:"context"`

	// Role is the operand direction within the statement.
	Role ast.Role `json:"role,omitempty"`

	// Declared is true when the referenced field is declared in the
	// referencing program (directly or through a resolved copybook).
	Declared bool `json:"declared,omitempty"`
}

// WhereUsedIndex maps entity names to the references made to them.
//
// Thread Safety:
//
//	Built by Analyze; safe for concurrent reads afterwards.
type WhereUsedIndex struct {
	// Entries holds references per kind and name, ordered by program,
	// line and paragraph.
	Entries map[EntityKind]map[string][]Reference `json:"entries"`
}

// NewWhereUsedIndex returns an empty index.
func NewWhereUsedIndex() *WhereUsedIndex {
	return &WhereUsedIndex{Entries: make(map[EntityKind]map[string][]Reference)}
}

func (w *WhereUsedIndex) add(kind EntityKind, name string, ref Reference) {
	if name == "" {
		return
	}
	byName, ok := w.Entries[kind]
	if !ok {
		byName = make(map[string][]Reference)
		w.Entries[kind] = byName
	}
	byName[name] = append(byName[name], ref)
}

// finish orders every reference list.
func (w *WhereUsedIndex) finish() {
	for _, byName := range w.Entries {
		for _, refs := range byName {
			sort.SliceStable(refs, func(i, j int) bool {
				a, b := refs[i], refs[j]
				if a.Program != b.Program {
					return a.Program < b.Program
				}
				if a.Line != b.Line {
					return a.Line < b.Line
				}
				return a.Paragraph < b.Paragraph
			})
		}
	}
}

// Lookup returns the references to name, or nil.
func (w *WhereUsedIndex) Lookup(kind EntityKind, name string) []Reference {
	if w == nil {
		return nil
	}
	return w.Entries[kind][name]
}

// Names returns the indexed names of one kind, sorted.
func (w *WhereUsedIndex) Names(kind EntityKind) []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.Entries[kind]))
	for name := range w.Entries[kind] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ContextFor maps a statement kind to the context of its references.
//
// MOVE, WRITE, REWRITE and DELETE are WRITE. COMPUTE, the arithmetic
// verbs, STRING, UNSTRING and INSPECT are COMPUTE. IF, EVALUATE, WHEN
// and SEARCH are CONDITION. PERFORM and GO TO are PERFORM. CALL and
// CICS program control are CALL. Everything else reads.
func ContextFor(k ast.StatementKind) Context {
	switch k {
	case ast.StmtMove, ast.StmtWrite, ast.StmtRewrite, ast.StmtDelete:
		return ContextWrite
	case ast.StmtCompute, ast.StmtAdd, ast.StmtSubtract, ast.StmtMultiply, ast.StmtDivide,
		ast.StmtString, ast.StmtUnstring, ast.StmtInspect:
		return ContextCompute
	case ast.StmtIf, ast.StmtEvaluate, ast.StmtWhen, ast.StmtSearch:
		return ContextCondition
	case ast.StmtPerform, ast.StmtGoTo:
		return ContextPerform
	case ast.StmtCall, ast.StmtCancel, ast.StmtExecCICS:
		return ContextCall
	default:
		return ContextRead
	}
}

// sqlContext maps an SQL operation to the context of its table use.
func sqlContext(op string) Context {
	switch op {
	case "INSERT", "UPDATE", "DELETE", "MERGE":
		return ContextWrite
	}
	return ContextRead
}

// indexProgram adds every reference made by p.
func indexProgram(w *WhereUsedIndex, p *ast.Program) {
	// p.Copies also lists COPY statements inside the PROCEDURE DIVISION,
	// so StmtCopy statements are not indexed again below.
	for _, c := range p.Copies {
		w.add(EntityCopybook, c.Name, Reference{Program: p.ProgramID, Line: c.Line, Context: ContextRead})
	}

	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		for j := range para.Statements {
			st := &para.Statements[j]
			ctx := ContextFor(st.Kind)
			base := Reference{Program: p.ProgramID, Paragraph: para.Name, Line: st.Line, Context: ctx}

			for _, ref := range st.References() {
				r := base
				r.Role = ref.Role
				r.Declared = p.DataItemIndex(ref.Name) >= 0
				w.add(EntityField, ref.Name, r)
			}
			for _, target := range st.Targets() {
				w.add(EntityParagraph, target, base)
			}
			if st.FileIO != nil {
				indexFileOp(w, p, st.FileIO, base)
			}
			if st.SQL != nil {
				r := base
				r.Context = sqlContext(st.SQL.Operation)
				for _, table := range st.SQL.Tables {
					w.add(EntityTable, table, r)
				}
			}
		}
	}

	if pc := callgraph.BuildProgram(p); pc != nil {
		for _, e := range pc.Edges {
			w.add(EntityProgram, e.To, Reference{
				Program:   p.ProgramID,
				Paragraph: e.Paragraph,
				Line:      e.Line,
				Context:   ContextCall,
			})
		}
	}
}

// indexFileOp records file references, including the file a WRITE record
// belongs to.
func indexFileOp(w *WhereUsedIndex, p *ast.Program, op *ast.FileOperation, base Reference) {
	seen := make(map[string]bool, len(op.Files)+1)
	for _, f := range op.Files {
		if !seen[f.Name] {
			seen[f.Name] = true
			w.add(EntityFile, f.Name, base)
		}
	}
	if op.Record == "" {
		return
	}
	if fd, ok := p.FileForRecord(op.Record); ok && !seen[fd.Name] {
		w.add(EntityFile, fd.Name, base)
	}
}
