// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules extracts business rule candidates from procedure code.
//
// Extraction is deterministic: kinds, categories and impact come from
// fixed lexical rules over statement text and the confidence is a
// constant per extraction path.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
)

// Kind classifies a rule candidate.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindCalculation    Kind = "CALCULATION"
	KindDecision       Kind = "DECISION"
	KindConstraint     Kind = "CONSTRAINT"
	KindTransformation Kind = "TRANSFORMATION"
)

// Category is the business area a candidate belongs to.
type Category string

const (
	CategoryFinancial   Category = "FINANCIAL"
	CategoryQuality     Category = "QUALITY"
	CategoryOperational Category = "OPERATIONAL"
	CategoryTechnical   Category = "TECHNICAL"
)

// Impact is the estimated business impact of changing the rule.
type Impact string

const (
	ImpactHigh   Impact = "HIGH"
	ImpactMedium Impact = "MEDIUM"
	ImpactLow    Impact = "LOW"
)

// Fixed confidence per extraction path.
const (
	ConditionalConfidence   = 0.8
	ComputationalConfidence = 0.9
)

// DefaultMaxActions bounds the actions recorded per candidate.
const DefaultMaxActions = 10

// ruleNamespace is the UUIDv5 namespace for candidate ids.
var ruleNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("aleutian.lineage.rules"))

// Candidate is one business rule candidate.
type Candidate struct {
	// ID is a UUIDv5 of "program|paragraph|line|kind", stable across runs.
	ID string `json:"id"`

	Kind     Kind     `json:"kind"`
	Category Category `json:"category"`
	Impact   Impact   `json:"impact"`

	// Summary is a one-line description for listings.
	Summary string `json:"summary"`

	Conditions   []string `json:"conditions"`
	Actions      []string `json:"actions"`
	DataInvolved []string `json:"data_involved"`

	Confidence float64          `json:"confidence"`
	Location   lineage.Location `json:"location"`
}

// Option configures extraction.
type Option func(*options)

type options struct {
	maxActions int
}

// WithMaxActions bounds the actions recorded per candidate.
func WithMaxActions(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxActions = n
		}
	}
}

// Extract returns the rule candidates of one program in statement order.
//
// Description:
//
//	IF and EVALUATE statements become conditional candidates with
//	confidence 0.8: VALIDATION when the condition is a class test, a
//	comparison with SPACES, ZERO or similar, or mentions VALID, INVALID
//	or ERROR; CONSTRAINT when it compares against a numeric literal;
//	DECISION otherwise. WHEN branches are folded into their EVALUATE.
//	Arithmetic statements become CALCULATION and STRING, UNSTRING and
//	INSPECT become TRANSFORMATION, both with confidence 0.9.
//
// Inputs:
//   - p: A parsed program. Not modified.
//   - opts: Optional settings.
//
// Outputs:
//   - []Candidate: The candidates. Empty, never nil, for a nil program.
//
// Example:
//
//	for _, c := range rules.Extract(prog) {
//	    fmt.Printf("%s %s %s\n", c.Kind, c.Category, c.Summary)
//	}
func Extract(p *ast.Program, opts ...Option) []Candidate {
	o := options{maxActions: DefaultMaxActions}
	for _, opt := range opts {
		opt(&o)
	}
	out := make([]Candidate, 0)
	if p == nil {
		return out
	}

	for i := range p.Paragraphs {
		para := &p.Paragraphs[i]
		for j := range para.Statements {
			st := &para.Statements[j]
			var (
				c  Candidate
				ok bool
			)
			switch {
			case st.Kind == ast.StmtIf || st.Kind == ast.StmtEvaluate:
				c, ok = conditional(para, j, o), true
			case st.Kind.IsArithmetic():
				c, ok = computational(st, KindCalculation), true
			case st.Kind == ast.StmtString || st.Kind == ast.StmtUnstring || st.Kind == ast.StmtInspect:
				c, ok = computational(st, KindTransformation), true
			}
			if !ok {
				continue
			}
			c.Location = lineage.Location{Program: p.ProgramID, Paragraph: para.Name, Line: st.Line}
			finish(&c, st)
			out = append(out, c)
		}
	}
	return out
}

// ExtractAll extracts candidates from a batch, ordered by program and line.
func ExtractAll(programs []*ast.Program, opts ...Option) []Candidate {
	out := make([]Candidate, 0)
	for _, p := range programs {
		out = append(out, Extract(p, opts...)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Location, out[j].Location
		if a.Program != b.Program {
			return a.Program < b.Program
		}
		return a.Line < b.Line
	})
	return out
}

// conditional builds the candidate of the IF or EVALUATE at index idx.
func conditional(para *ast.Paragraph, idx int, o options) Candidate {
	st := &para.Statements[idx]
	c := Candidate{Confidence: ConditionalConfidence}
	data := operandNames(st.References())

	switch st.Kind {
	case ast.StmtIf:
		c.Conditions = []string{st.Cond.Predicate}
	case ast.StmtEvaluate:
		c.Conditions = evaluateConditions(para, idx)
	}

	c.Actions = make([]string, 0, 4)
	for j := idx + 1; j < len(para.Statements); j++ {
		if !within(para, j, idx) {
			continue
		}
		inner := &para.Statements[j]
		if inner.Kind == ast.StmtWhen {
			data = append(data, operandNames(inner.References())...)
			continue
		}
		if inner.Kind == ast.StmtElse || inner.Kind == ast.StmtScopeEnd {
			continue
		}
		data = append(data, operandNames(inner.References())...)
		if len(c.Actions) < o.maxActions {
			c.Actions = append(c.Actions, inner.Content)
		}
	}

	c.Kind = classifyCondition(strings.Join(c.Conditions, " "))
	c.DataInvolved = data
	return c
}

// evaluateConditions combines the EVALUATE subject with each WHEN value.
func evaluateConditions(para *ast.Paragraph, idx int) []string {
	subject := strings.TrimSpace(para.Statements[idx].Cond.Predicate)
	isTrue := strings.EqualFold(subject, "TRUE")
	conds := make([]string, 0, 4)
	for j := idx + 1; j < len(para.Statements); j++ {
		w := &para.Statements[j]
		if w.Kind != ast.StmtWhen || w.Branch == nil || !within(para, j, idx) {
			continue
		}
		if w.Branch.Other {
			conds = append(conds, "OTHER")
			continue
		}
		v := strings.Join(w.Branch.Values, " ")
		if isTrue {
			conds = append(conds, v)
		} else {
			conds = append(conds, subject+" = "+v)
		}
	}
	if len(conds) == 0 {
		conds = append(conds, subject)
	}
	return conds
}

// within reports whether statement j is nested, at any depth, inside
// the block opened by statement outer.
func within(para *ast.Paragraph, j, outer int) bool {
	for b, guard := para.Statements[j].Block, 0; b >= 0 && guard <= len(para.Statements); b, guard = para.Statements[b].Block, guard+1 {
		if b == outer {
			return true
		}
	}
	return false
}

// computational builds a CALCULATION or TRANSFORMATION candidate.
func computational(st *ast.Statement, kind Kind) Candidate {
	c := Candidate{
		Kind:         kind,
		Confidence:   ComputationalConfidence,
		Conditions:   []string{},
		Actions:      []string{st.Content},
		DataInvolved: operandNames(st.References()),
	}
	return c
}

// finish sets id, category, impact and summary.
func finish(c *Candidate, st *ast.Statement) {
	c.ID = CandidateID(c.Location, c.Kind)
	c.DataInvolved = uniqueSorted(c.DataInvolved)

	text := st.Content + " " + strings.Join(c.Actions, " ")
	c.Category = Categorize(text)
	c.Impact = ImpactOf(text, c.Category)
	c.Summary = fmt.Sprintf("%s in %s: %s", strings.ToLower(string(c.Kind)), c.Location.Paragraph, truncate(st.Content, 72))
}

// CandidateID returns the deterministic id for a candidate at loc.
func CandidateID(loc lineage.Location, kind Kind) string {
	name := fmt.Sprintf("%s|%s|%d|%s", loc.Program, loc.Paragraph, loc.Line, kind)
	return uuid.NewSHA1(ruleNamespace, []byte(name)).String()
}

func operandNames(refs []ast.Reference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Name)
	}
	return out
}

func uniqueSorted(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
