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
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/hierarchy"
)

const testBilling = `       IDENTIFICATION DIVISION.
       PROGRAM-ID. BILLING.
       ENVIRONMENT DIVISION.
       INPUT-OUTPUT SECTION.
       FILE-CONTROL.
           SELECT INV-FILE ASSIGN TO INVIN.
           SELECT OUT-FILE ASSIGN TO INVOUT.
       DATA DIVISION.
       FILE SECTION.
       FD  INV-FILE.
       01  INV-REC               PIC X(80).
       FD  OUT-FILE.
       01  OUT-REC               PIC X(80).
       WORKING-STORAGE SECTION.
       01  WS-INV.
           05  AMOUNT            PIC 9(7)V99.
           05  TAX               PIC 9(7)V99.
       01  WS-OUT.
           05  AMOUNT            PIC 9(7)V99.
           05  TAX               PIC 9(7)V99.
       01  WS-TOTAL              PIC 9(9)V99.
       01  WS-NAME               PIC X(30).
       01  WS-FIRST              PIC X(15).
       01  WS-LAST               PIC X(15).
       01  WS-COUNT              PIC 9(4).
       01  WS-CODE               PIC X(10).
       PROCEDURE DIVISION.
       MAIN-PARA.
           READ INV-FILE INTO WS-INV
           PERFORM CALC-PARA
           WRITE OUT-REC FROM WS-OUT
           STOP RUN.
       CALC-PARA.
           MOVE CORRESPONDING WS-INV TO WS-OUT
           COMPUTE WS-TOTAL = WS-TOTAL + WS-COUNT * 2
           ADD WS-COUNT TO WS-TOTAL
           STRING WS-FIRST DELIMITED BY SPACE
                  WS-LAST DELIMITED BY SIZE
                  INTO WS-NAME
           UNSTRING WS-NAME DELIMITED BY ',' INTO WS-FIRST WS-LAST
           INSPECT WS-NAME TALLYING WS-COUNT FOR ALL ','
           INSPECT WS-CODE CONVERTING 'abc' TO 'ABC'
           MOVE WS-NAME(1:5) TO WS-CODE
           MOVE SPACES TO WS-LAST
           IF WS-TOTAL > 1000
              CALL 'AUDITLOG' USING WS-TOTAL
           END-IF
           EXEC SQL
               INSERT INTO BILL_HIST (TOTAL) VALUES (:WS-TOTAL)
           END-EXEC.
`

func parseBilling(t *testing.T) *ast.Program {
	t.Helper()
	prog, err := ast.NewParser().Parse(context.Background(), []byte(testBilling), "BILLING.cbl")
	require.NoError(t, err)
	hierarchy.ResolveProgram(prog)
	return prog
}

// edgeSet renders edges as "SRC>DST:KIND" for compact assertions.
func edgeSet(edges []DataFlowEdge) map[string]bool {
	out := make(map[string]bool, len(edges))
	for _, e := range edges {
		out[e.SourceField+">"+e.TargetField+":"+string(e.Transformation)] = true
	}
	return out
}

func TestAnalyze_MoveInCalcParagraph(t *testing.T) {
	prog := &ast.Program{
		ProgramID: "SCENARIO",
		DataItems: []ast.DataItem{
			{Name: "FIELD-A", Level: 1, Parent: ast.NoParent},
			{Name: "FIELD-B", Level: 1, Parent: ast.NoParent},
		},
		Paragraphs: []ast.Paragraph{{
			Name: "CALC",
			Statements: []ast.Statement{{
				Kind:    ast.StmtMove,
				Line:    42,
				Content: "MOVE FIELD-A TO FIELD-B",
				Block:   -1,
				Assign: &ast.Assignment{
					Sources: []ast.Operand{{Name: "FIELD-A"}},
					Targets: []ast.Operand{{Name: "FIELD-B"}},
				},
			}},
		}},
	}

	dl := Analyze([]*ast.Program{prog})

	require.Len(t, dl.Edges, 1)
	assert.Equal(t, DataFlowEdge{
		SourceField:    "FIELD-A",
		TargetField:    "FIELD-B",
		Transformation: TransformMove,
		Location:       Location{Program: "SCENARIO", Paragraph: "CALC", Line: 42},
	}, dl.Edges[0])

	refs := dl.WhereUsed.Lookup(EntityField, "FIELD-A")
	require.Len(t, refs, 1)
	assert.Equal(t, ContextWrite, refs[0].Context)
	assert.Equal(t, ast.RoleSource, refs[0].Role)
	assert.True(t, refs[0].Declared)
}

func TestAnalyze_Edges(t *testing.T) {
	dl := Analyze([]*ast.Program{parseBilling(t)})
	got := edgeSet(dl.Edges)

	for _, want := range []string{
		"INV-REC>WS-INV:MOVE",
		"WS-OUT>OUT-REC:MOVE",
		"AMOUNT OF WS-INV>AMOUNT OF WS-OUT:MOVE",
		"TAX OF WS-INV>TAX OF WS-OUT:MOVE",
		"WS-TOTAL>WS-TOTAL:COMPUTE",
		"WS-COUNT>WS-TOTAL:COMPUTE",
		"WS-FIRST>WS-NAME:STRING",
		"WS-LAST>WS-NAME:STRING",
		"WS-NAME>WS-FIRST:UNSTRING",
		"WS-NAME>WS-LAST:UNSTRING",
		"WS-NAME>WS-COUNT:INSPECT",
		"WS-CODE>WS-CODE:INSPECT",
		"WS-NAME>WS-CODE:REF-MOD",
	} {
		assert.True(t, got[want], "missing edge %s", want)
	}

	for e := range got {
		assert.NotContains(t, e, "SPACES", "figurative constants must not produce edges")
	}
	assert.False(t, got["WS-INV>WS-OUT:MOVE"], "corresponding move should pair children")
}

func TestAnalyze_EndPrefixedTarget(t *testing.T) {
	src := `       IDENTIFICATION DIVISION.
       PROGRAM-ID. EOFFLOW.
       DATA DIVISION.
       WORKING-STORAGE SECTION.
       01  WS-FLAG       PIC X.
       01  END-OF-FILE   PIC X.
       PROCEDURE DIVISION.
       MAIN-PARA.
           MOVE WS-FLAG TO END-OF-FILE
           IF END-OF-FILE = 'Y'
              PERFORM END-ROUTINE
           END-IF.
       END-ROUTINE.
           EXIT.
`
	prog, err := ast.NewParser().Parse(context.Background(), []byte(src), "EOFFLOW.cbl")
	require.NoError(t, err)
	hierarchy.ResolveProgram(prog)

	dl := Analyze([]*ast.Program{prog})
	assert.True(t, edgeSet(dl.Edges)["WS-FLAG>END-OF-FILE:MOVE"], "edges: %v", dl.Edges)
	assert.Equal(t, []string{"WS-FLAG"}, dl.Upstream("END-OF-FILE"))

	refs := dl.WhereUsed.Lookup(EntityParagraph, "END-ROUTINE")
	require.NotEmpty(t, refs)
	assert.Equal(t, ContextPerform, refs[0].Context)
}

func TestAnalyze_EdgesAreOrdered(t *testing.T) {
	dl := Analyze([]*ast.Program{parseBilling(t)})
	for i := 1; i < len(dl.Edges); i++ {
		a, b := dl.Edges[i-1].Location, dl.Edges[i].Location
		assert.True(t, a.Program < b.Program || (a.Program == b.Program && a.Line <= b.Line),
			"edges out of order at %d: %+v then %+v", i, a, b)
	}
}

func TestWhereUsed(t *testing.T) {
	dl := Analyze([]*ast.Program{parseBilling(t)})
	w := dl.WhereUsed

	t.Run("field contexts", func(t *testing.T) {
		contexts := make(map[Context]bool)
		for _, r := range w.Lookup(EntityField, "WS-TOTAL") {
			contexts[r.Context] = true
			assert.Equal(t, "BILLING", r.Program)
		}
		assert.True(t, contexts[ContextCompute])
		assert.True(t, contexts[ContextCondition])
		assert.True(t, contexts[ContextCall])
		assert.True(t, contexts[ContextRead], "EXEC SQL host variable defaults to READ")
	})

	t.Run("paragraph", func(t *testing.T) {
		refs := w.Lookup(EntityParagraph, "CALC-PARA")
		require.Len(t, refs, 1)
		assert.Equal(t, ContextPerform, refs[0].Context)
		assert.Equal(t, "MAIN-PARA", refs[0].Paragraph)
	})

	t.Run("files", func(t *testing.T) {
		inv := w.Lookup(EntityFile, "INV-FILE")
		require.Len(t, inv, 1)
		assert.Equal(t, ContextRead, inv[0].Context)

		out := w.Lookup(EntityFile, "OUT-FILE")
		require.Len(t, out, 1, "WRITE of a record resolves its file")
		assert.Equal(t, ContextWrite, out[0].Context)
	})

	t.Run("program and table", func(t *testing.T) {
		calls := w.Lookup(EntityProgram, "AUDITLOG")
		require.Len(t, calls, 1)
		assert.Equal(t, ContextCall, calls[0].Context)

		tables := w.Lookup(EntityTable, "BILL_HIST")
		require.Len(t, tables, 1)
		assert.Equal(t, ContextWrite, tables[0].Context)
	})

	t.Run("ordering", func(t *testing.T) {
		for _, name := range w.Names(EntityField) {
			refs := w.Lookup(EntityField, name)
			for i := 1; i < len(refs); i++ {
				assert.LessOrEqual(t, refs[i-1].Line, refs[i].Line, "field %s", name)
			}
		}
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Nil(t, w.Lookup(EntityField, "NO-SUCH-FIELD"))
		var nilIndex *WhereUsedIndex
		assert.Nil(t, nilIndex.Lookup(EntityField, "X"))
	})
}

func TestWhereUsed_Copybooks(t *testing.T) {
	src := `       IDENTIFICATION DIVISION.
       PROGRAM-ID. USESCOPY.
       DATA DIVISION.
       WORKING-STORAGE SECTION.
       COPY CUSTREC.
       PROCEDURE DIVISION.
       MAIN-PARA.
           MOVE 'X' TO CUST-NAME.
`
	prog, err := ast.NewParser(ast.WithCopybookResolver(ast.CopybookMap{
		"CUSTREC": []byte("       01  CUSTOMER-REC.\n           05  CUST-NAME PIC X(30).\n"),
	})).Parse(context.Background(), []byte(src), "USESCOPY.cbl")
	require.NoError(t, err)

	dl := Analyze([]*ast.Program{prog})
	refs := dl.WhereUsed.Lookup(EntityCopybook, "CUSTREC")
	require.Len(t, refs, 1)
	assert.Equal(t, 5, refs[0].Line)

	field := dl.WhereUsed.Lookup(EntityField, "CUST-NAME")
	require.Len(t, field, 1)
	assert.True(t, field[0].Declared)
	assert.Equal(t, ast.RoleTarget, field[0].Role)
}

func TestContextFor(t *testing.T) {
	tests := []struct {
		kind ast.StatementKind
		want Context
	}{
		{ast.StmtMove, ContextWrite},
		{ast.StmtWrite, ContextWrite},
		{ast.StmtRewrite, ContextWrite},
		{ast.StmtDelete, ContextWrite},
		{ast.StmtCompute, ContextCompute},
		{ast.StmtDivide, ContextCompute},
		{ast.StmtInspect, ContextCompute},
		{ast.StmtIf, ContextCondition},
		{ast.StmtWhen, ContextCondition},
		{ast.StmtPerform, ContextPerform},
		{ast.StmtGoTo, ContextPerform},
		{ast.StmtCall, ContextCall},
		{ast.StmtRead, ContextRead},
		{ast.StmtDisplay, ContextRead},
		{ast.StmtOther, ContextRead},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ContextFor(tt.kind))
		})
	}
}

func TestUpstreamDownstream(t *testing.T) {
	dl := Analyze([]*ast.Program{parseBilling(t)})

	assert.Equal(t, []string{"WS-CODE", "WS-COUNT", "WS-FIRST", "WS-LAST", "WS-NAME", "WS-TOTAL"},
		dl.Downstream("WS-FIRST"))
	assert.Contains(t, dl.Upstream("WS-CODE"), "WS-NAME")
	assert.Contains(t, dl.Upstream("WS-CODE"), "WS-FIRST")
	assert.Empty(t, dl.Upstream("INV-REC"))
	assert.Equal(t, []string{"WS-INV"}, dl.Downstream("INV-REC"))

	into := dl.EdgesInto("WS-CODE")
	require.NotEmpty(t, into)
	for _, e := range into {
		assert.Equal(t, "WS-CODE", e.TargetField)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	dl := Analyze(nil)
	require.NotNil(t, dl)
	assert.Empty(t, dl.Edges)
	assert.Empty(t, dl.Downstream("X"))
}

func TestDataLineage_JSONRebuildsIndex(t *testing.T) {
	dl := Analyze([]*ast.Program{parseBilling(t)})
	raw, err := json.Marshal(dl)
	require.NoError(t, err)

	var decoded DataLineage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Edges, len(dl.Edges))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, dl.Downstream("WS-FIRST"), decoded.Downstream("WS-FIRST"))
			assert.Equal(t, dl.Upstream("WS-CODE"), decoded.Upstream("WS-CODE"))
			assert.Equal(t, dl.EdgesInto("WS-CODE"), decoded.EdgesInto("WS-CODE"))
		}()
	}
	wg.Wait()
	assert.Equal(t, dl.WhereUsed.Names(EntityField), decoded.WhereUsed.Names(EntityField))
}
