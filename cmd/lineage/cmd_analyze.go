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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/services/lineage/analysis"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

var (
	analyzeOut      string
	analyzeGraphOut string
	analyzeAllDiags bool
)

// maxListedDiagnostics bounds the diagnostics printed without --all.
const maxListedDiagnostics = 20

var analyzeCmd = &cobra.Command{
	Use:   "analyze [paths...]",
	Short: "Analyze a batch of sources and summarize the result",
	Long: `Analyze COBOL programs, copybooks, JCL and SQL under the given paths
(default: the working directory) and print a summary: counts, unresolved
calls and diagnostics.

--out writes the full semantic analysis (programs, call graph, lineage,
control flow, rules, where-used) as JSON. --graph-out writes the analysis
graph.

Examples:
  lineage analyze src/
  lineage analyze --out analysis.json src/ copylib/`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd.Context(), current, args)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "",
		"Write the full analysis result as JSON to this file")
	analyzeCmd.Flags().StringVar(&analyzeGraphOut, "graph-out", "",
		"Write the analysis graph as JSON to this file")
	analyzeCmd.Flags().BoolVar(&analyzeAllDiags, "all", false,
		"List every diagnostic")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeSummary is the --json output of analyze.
type analyzeSummary struct {
	SnapshotID      string                    `json:"snapshot_id"`
	Generation      uint64                    `json:"generation"`
	Stats           analysis.Stats            `json:"stats"`
	Graph           graph.GraphStats          `json:"graph"`
	Rules           int                       `json:"rules"`
	UnresolvedCalls []string                  `json:"unresolved_calls"`
	Diagnostics     []analysis.FileDiagnostic `json:"diagnostics"`
}

func runAnalyze(ctx context.Context, a *app, roots []string) error {
	s, err := a.load(ctx, roots)
	if err != nil {
		return err
	}
	defer s.Close()

	res := s.svc.Result()
	if analyzeOut != "" {
		if err := writeJSONFile(analyzeOut, res); err != nil {
			return err
		}
	}
	if analyzeGraphOut != "" {
		if err := writeJSONFile(analyzeGraphOut, s.snap.Export()); err != nil {
			return err
		}
	}

	summary := analyzeSummary{
		SnapshotID:      s.snap.ID,
		Generation:      s.snap.Generation,
		Stats:           res.Stats,
		Graph:           s.snap.Stats(),
		Rules:           len(res.Rules),
		UnresolvedCalls: res.CallGraph.UnresolvedCalls,
		Diagnostics:     res.Diagnostics,
	}
	if a.json {
		return a.writeJSON(summary)
	}
	printAnalyzeSummary(a, summary)
	return nil
}

func printAnalyzeSummary(a *app, s analyzeSummary) {
	p := a.printer
	p.Title("Analysis")
	p.KeyValue("Files", s.Stats.Files)
	p.KeyValue("Programs", s.Stats.Programs)
	p.KeyValue("Copybooks", s.Stats.Copybooks)
	p.KeyValue("Jobs", s.Stats.Jobs)
	p.KeyValue("Rule candidates", s.Rules)
	p.KeyValue("Graph nodes", s.Graph.NodeCount)
	p.KeyValue("Graph edges", s.Graph.EdgeCount)
	if s.Stats.CacheHits > 0 {
		p.KeyValue("Cache hits", s.Stats.CacheHits)
	}
	p.KeyValue("Snapshot", s.SnapshotID)

	if s.Stats.ParseFailures > 0 {
		p.Warning(fmt.Sprintf("%d file(s) could not be analyzed", s.Stats.ParseFailures))
	}

	if len(s.UnresolvedCalls) > 0 {
		p.Section(fmt.Sprintf("Unresolved calls (%d)", len(s.UnresolvedCalls)))
		for _, id := range s.UnresolvedCalls {
			p.Item(id)
		}
	}

	if len(s.Diagnostics) > 0 {
		p.Section(fmt.Sprintf("Diagnostics (%d)", len(s.Diagnostics)))
		for i, d := range s.Diagnostics {
			if i == maxListedDiagnostics && !analyzeAllDiags {
				p.Item(p.Muted(fmt.Sprintf("... %d more (use --all)", len(s.Diagnostics)-i)))
				break
			}
			p.Row([]int{28, 28}, fmt.Sprintf("%s:%d", d.File, d.Line), string(d.Kind), d.Message)
		}
	}
}

// writeJSONFile writes v indented to path.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
