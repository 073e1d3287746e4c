// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/callgraph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/cfg"
	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
	"github.com/AleutianAI/AleutianLineage/services/lineage/rules"
)

// SourceFile is one input unit: a program, copybook, JCL member or SQL
// script.
type SourceFile struct {
	// Path identifies the file. Used as the program's FileName and for
	// ordering.
	Path string `json:"path"`

	Content []byte `json:"-"`
}

// FileDiagnostic is a diagnostic together with the file it came from.
type FileDiagnostic struct {
	File    string `json:"file"`
	Program string `json:"program"`
	ast.Diagnostic
}

// Stats summarizes one run.
type Stats struct {
	Files         int   `json:"files"`
	Programs      int   `json:"programs"`
	Copybooks     int   `json:"copybooks"`
	Jobs          int   `json:"jobs"`
	CacheHits     int   `json:"cache_hits"`
	ParseFailures int   `json:"parse_failures"`
	Diagnostics   int   `json:"diagnostics"`
	DurationMicro int64 `json:"duration_micro"`
}

// SemanticAnalysisResult is everything the pipeline derives from a batch.
//
// Relations between entities are carried as id pairs (program ids,
// paragraph names, field names); no component holds pointers into
// another. The value is JSON-serializable.
type SemanticAnalysisResult struct {
	// Programs holds every parsed source unit, ordered by file path.
	Programs []*ast.Program `json:"programs"`

	CallGraph *callgraph.CallGraph `json:"call_graph"`
	Lineage   *lineage.DataLineage `json:"lineage"`

	// ControlFlow maps a program id to its control flow graph. Copybooks,
	// JCL and SQL scripts have none.
	ControlFlow map[string]*cfg.ControlFlowGraph `json:"control_flow"`

	Rules     []rules.Candidate       `json:"rules"`
	WhereUsed *lineage.WhereUsedIndex `json:"where_used"`

	// Diagnostics collects every program's diagnostics, ordered by file
	// and line.
	Diagnostics []FileDiagnostic `json:"diagnostics"`

	Stats Stats `json:"stats"`
}

// Program returns the program with the given id.
func (r *SemanticAnalysisResult) Program(id string) (*ast.Program, bool) {
	for _, p := range r.Programs {
		if p.ProgramID == id {
			return p, true
		}
	}
	return nil, false
}
