// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/services/lineage/rules"
)

var (
	rulesCategory string
	rulesKind     string
	rulesProgram  string
)

var rulesCmd = &cobra.Command{
	Use:   "rules [paths...]",
	Short: "List business rule candidates",
	Long: `Analyze the sources under the given paths and list the business rule
candidates found in conditional and computational statements.

Filters combine: --category FINANCIAL --program PAYROLL lists the financial
candidates of PAYROLL.

Categories: FINANCIAL, QUALITY, OPERATIONAL, TECHNICAL.
Kinds: VALIDATION, CALCULATION, DECISION, CONSTRAINT, TRANSFORMATION.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRules(cmd.Context(), current, args)
	},
}

func init() {
	rulesCmd.Flags().StringVar(&rulesCategory, "category", "",
		"Only candidates of this category")
	rulesCmd.Flags().StringVar(&rulesKind, "kind", "",
		"Only candidates of this kind")
	rulesCmd.Flags().StringVar(&rulesProgram, "program", "",
		"Only candidates of this program")
	rootCmd.AddCommand(rulesCmd)
}

// filterRules keeps the candidates matching every non-empty filter.
// Matching is case-insensitive.
func filterRules(in []rules.Candidate, category, kind, program string) []rules.Candidate {
	out := make([]rules.Candidate, 0, len(in))
	for _, c := range in {
		if category != "" && !strings.EqualFold(string(c.Category), category) {
			continue
		}
		if kind != "" && !strings.EqualFold(string(c.Kind), kind) {
			continue
		}
		if program != "" && !strings.EqualFold(c.Location.Program, program) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func runRules(ctx context.Context, a *app, roots []string) error {
	s, err := a.load(ctx, roots)
	if err != nil {
		return err
	}
	defer s.Close()

	candidates := filterRules(s.svc.Result().Rules, rulesCategory, rulesKind, rulesProgram)
	if a.json {
		return a.writeJSON(candidates)
	}

	p := a.printer
	p.Title(fmt.Sprintf("Rule candidates (%d)", len(candidates)))
	for _, c := range candidates {
		loc := fmt.Sprintf("%s/%s:%d", c.Location.Program, c.Location.Paragraph, c.Location.Line)
		p.Row([]int{32, 14, 11, 6}, loc, string(c.Kind), string(c.Category), p.Level(string(c.Impact)), c.Summary)
	}
	return nil
}
