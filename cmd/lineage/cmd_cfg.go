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
)

var (
	cfgProgram string
	cfgMermaid bool
)

var cfgCmd = &cobra.Command{
	Use:   "cfg [paths...]",
	Short: "Show the paragraph control flow graph of a program",
	Long: `Analyze the sources under the given paths and show the control flow
graph of one program: paragraphs, PERFORM and GO TO edges, cyclomatic
complexity and unreachable paragraphs.

--mermaid prints a Mermaid flowchart instead.

Examples:
  lineage cfg --program PAYROLL src/
  lineage cfg --program PAYROLL --mermaid src/ > payroll.mmd`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCFG(cmd.Context(), current, args)
	},
}

func init() {
	cfgCmd.Flags().StringVar(&cfgProgram, "program", "",
		"Program id")
	cfgCmd.Flags().BoolVar(&cfgMermaid, "mermaid", false,
		"Print a Mermaid flowchart")
	_ = cfgCmd.MarkFlagRequired("program")
	rootCmd.AddCommand(cfgCmd)
}

func runCFG(ctx context.Context, a *app, roots []string) error {
	id := strings.ToUpper(strings.TrimSpace(cfgProgram))
	s, err := a.load(ctx, roots)
	if err != nil {
		return err
	}
	defer s.Close()

	g, ok := s.svc.Result().ControlFlow[id]
	if !ok {
		return fmt.Errorf("no control flow graph for program %q", id)
	}
	if cfgMermaid {
		_, err := fmt.Fprint(a.out, g.Mermaid())
		return err
	}
	if a.json {
		return a.writeJSON(g)
	}

	p := a.printer
	p.Title("Control flow: " + g.ProgramID)
	p.KeyValue("Entry", g.Entry)
	p.KeyValue("Paragraphs", len(g.Nodes))
	p.KeyValue("Edges", len(g.Edges))
	p.KeyValue("Complexity", g.CyclomaticComplexity)

	p.Section("Edges")
	for _, e := range g.Edges {
		kind := string(e.Kind)
		if e.Thru {
			kind += " THRU"
		}
		p.Row([]int{30, 12}, e.From, kind, fmt.Sprintf("%s (line %d)", e.To, e.Line))
	}
	if unreachable := g.Unreachable(); len(unreachable) > 0 {
		p.Section("Unreachable")
		for _, name := range unreachable {
			p.Item(name)
		}
	}
	for _, d := range g.Diagnostics {
		p.Warning(fmt.Sprintf("line %d: %s", d.Line, d.Message))
	}
	return nil
}
