// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
)

const testRules = `       PROCEDURE DIVISION.
       CHECK-PARA.
           IF CUST-ID IS NOT NUMERIC
              MOVE 'Y' TO WS-ERROR-FLAG
           END-IF
           IF WS-BALANCE > 5000
              PERFORM APPROVE-PARA
           ELSE
              PERFORM REVIEW-PARA
           END-IF
           IF WS-REGION = WS-HOME-REGION
              DISPLAY 'LOCAL'
           END-IF.
       CALC-PARA.
           COMPUTE WS-INTEREST = WS-BALANCE * WS-RATE
           ADD 1 TO WS-COUNT
           STRING WS-FIRST DELIMITED BY SPACE INTO WS-NAME
           EVALUATE WS-CODE
              WHEN 1
                 MOVE 'A' TO WS-CLASS
              WHEN 2
                 MOVE 'B' TO WS-CLASS
              WHEN OTHER
                 MOVE 'Z' TO WS-CLASS
           END-EVALUATE.
       APPROVE-PARA.
           EXIT.
       REVIEW-PARA.
           EXIT.
`

func extractTest(t *testing.T, opts ...Option) []Candidate {
	t.Helper()
	prog, err := ast.NewParser().Parse(context.Background(), []byte(testRules), "RULES.cbl")
	require.NoError(t, err)
	return Extract(prog, opts...)
}

func TestExtract(t *testing.T) {
	got := extractTest(t)
	require.Len(t, got, 7)

	tests := []struct {
		line       int
		kind       Kind
		category   Category
		impact     Impact
		confidence float64
	}{
		{3, KindValidation, CategoryQuality, ImpactMedium, ConditionalConfidence},
		{6, KindConstraint, CategoryFinancial, ImpactHigh, ConditionalConfidence},
		{11, KindDecision, CategoryTechnical, ImpactLow, ConditionalConfidence},
		{15, KindCalculation, CategoryFinancial, ImpactHigh, ComputationalConfidence},
		{16, KindCalculation, CategoryOperational, ImpactMedium, ComputationalConfidence},
		{17, KindTransformation, CategoryTechnical, ImpactLow, ComputationalConfidence},
		{18, KindConstraint, CategoryTechnical, ImpactLow, ConditionalConfidence},
	}
	for i, tt := range tests {
		c := got[i]
		assert.Equal(t, tt.line, c.Location.Line, "candidate %d line", i)
		assert.Equal(t, tt.kind, c.Kind, "candidate %d kind", i)
		assert.Equal(t, tt.category, c.Category, "candidate %d category", i)
		assert.Equal(t, tt.impact, c.Impact, "candidate %d impact", i)
		assert.Equal(t, tt.confidence, c.Confidence, "candidate %d confidence", i)
		assert.Equal(t, "RULES", c.Location.Program)
	}
}

func TestExtract_IfBranches(t *testing.T) {
	c := extractTest(t)[1]
	assert.Equal(t, []string{"WS-BALANCE > 5000"}, c.Conditions)
	assert.Equal(t, []string{"PERFORM APPROVE-PARA", "PERFORM REVIEW-PARA"}, c.Actions)
	assert.Equal(t, "CHECK-PARA", c.Location.Paragraph)
}

func TestExtract_EvaluateFoldsWhen(t *testing.T) {
	c := extractTest(t)[6]
	assert.Equal(t, []string{"WS-CODE = 1", "WS-CODE = 2", "OTHER"}, c.Conditions)
	assert.Len(t, c.Actions, 3)
	assert.Equal(t, []string{"WS-CLASS", "WS-CODE"}, c.DataInvolved)
}

func TestExtract_Computation(t *testing.T) {
	c := extractTest(t)[3]
	assert.Empty(t, c.Conditions)
	assert.Equal(t, []string{"COMPUTE WS-INTEREST = WS-BALANCE * WS-RATE"}, c.Actions)
	assert.Equal(t, []string{"WS-BALANCE", "WS-INTEREST", "WS-RATE"}, c.DataInvolved)
}

func TestExtract_MaxActions(t *testing.T) {
	c := extractTest(t, WithMaxActions(1))[6]
	assert.Len(t, c.Actions, 1)
	assert.Equal(t, []string{"WS-CLASS", "WS-CODE"}, c.DataInvolved, "data is collected past the action bound")
}

func TestExtract_DeterministicIDs(t *testing.T) {
	first := extractTest(t)
	second := extractTest(t)
	require.Equal(t, len(first), len(second))

	seen := make(map[string]bool)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.False(t, seen[first[i].ID], "duplicate id %s", first[i].ID)
		seen[first[i].ID] = true

		id, err := uuid.Parse(first[i].ID)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(5), id.Version())
	}

	loc := lineage.Location{Program: "RULES", Paragraph: "CHECK-PARA", Line: 3}
	assert.Equal(t, CandidateID(loc, KindValidation), first[0].ID)
}

func TestExtract_Nil(t *testing.T) {
	got := Extract(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtractAll_OrdersByProgram(t *testing.T) {
	mk := func(id string) *ast.Program {
		return &ast.Program{ProgramID: id, Paragraphs: []ast.Paragraph{{
			Name: "P",
			Statements: []ast.Statement{{
				Kind:    ast.StmtAdd,
				Line:    7,
				Content: "ADD 1 TO X",
				Block:   -1,
				Assign:  &ast.Assignment{Targets: []ast.Operand{{Name: "X"}}},
			}},
		}}}
	}
	got := ExtractAll([]*ast.Program{mk("ZETA"), mk("ALPHA")})
	require.Len(t, got, 2)
	assert.Equal(t, "ALPHA", got[0].Location.Program)
	assert.Equal(t, "ZETA", got[1].Location.Program)
}

func TestClassifyCondition(t *testing.T) {
	tests := []struct {
		cond string
		want Kind
	}{
		{"WS-NAME = SPACES", KindValidation},
		{"WS-AMT IS NUMERIC", KindValidation},
		{"WS-STATUS = 'INVALID'", KindValidation},
		{"ERROR-FLAG = 'Y'", KindValidation},
		{"WS-AGE >= 18", KindConstraint},
		{"WS-QTY IS GREATER THAN 100", KindConstraint},
		{"WS-QTY NOT < -1", KindConstraint},
		{"WS-A = WS-B", KindDecision},
		{"END-OF-FILE", KindDecision},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCondition(tt.cond))
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"IF WS-TAX-AMT > 0", CategoryFinancial},
		{"IF ERROR-COUNT > 0", CategoryQuality},
		{"IF WS-REC-COUNT > 0", CategoryOperational},
		{"IF WS-X = WS-Y", CategoryTechnical},
		{"MOVE ERR-MSG TO WS-BALANCE", CategoryFinancial},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.text))
		})
	}
}

func TestImpactOf(t *testing.T) {
	assert.Equal(t, ImpactHigh, ImpactOf("IF CREDIT-LIMIT < 0", CategoryFinancial))
	assert.Equal(t, ImpactMedium, ImpactOf("IF WS-REC-COUNT > 0", CategoryOperational))
	assert.Equal(t, ImpactLow, ImpactOf("IF WS-X = WS-Y", CategoryTechnical))
}
