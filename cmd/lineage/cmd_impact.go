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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/impact"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Change selection flags
	impactKind string
	impactID   string
	impactDiff string

	// Analysis flags
	impactDepth     int
	impactThreshold string
	impactInstant   bool
	impactMaxItems  int
)

// maxListedItems bounds the impacted items printed in text mode.
const maxListedItems = 50

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var impactCmd = &cobra.Command{
	Use:   "impact [paths...]",
	Short: "Compute the blast radius of a change",
	Long: `Analyze the sources under the given paths, then report every entity
affected by changing one entity (--kind/--id) or by a unified diff (--diff).

Kinds: program, copybook, field, paragraph, file, table, job.
Fields and paragraphs may be named OWNER/NAME.

Examples:
  lineage impact --kind copybook --id CUSTREC src/
  lineage impact --kind field --id CUSTREC/CUST-ID --depth 2 src/
  git diff | lineage impact --diff - src/
  lineage impact --kind program --id PAYROLL --instant src/

CI/CD Integration:
  git diff main | lineage impact --diff - --threshold medium --json src/
  (exits 1 if risk exceeds threshold)`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImpact(cmd.Context(), current, cmd.InOrStdin(), args)
	},
}

func init() {
	impactCmd.Flags().StringVar(&impactKind, "kind", "",
		"Kind of the changed entity")
	impactCmd.Flags().StringVar(&impactID, "id", "",
		"Name of the changed entity")
	impactCmd.Flags().StringVar(&impactDiff, "diff", "",
		"Unified diff file naming the changes (- for stdin)")

	impactCmd.Flags().IntVar(&impactDepth, "depth", 0,
		"Structural depth (0 = config default)")
	impactCmd.Flags().StringVar(&impactThreshold, "threshold", "",
		"Risk threshold for exit code: low, medium, high, critical (default from config)")
	impactCmd.Flags().BoolVar(&impactInstant, "instant", false,
		"Only count direct and indirect impact")
	impactCmd.Flags().IntVar(&impactMaxItems, "max-items", 0,
		"Stop after this many impacted entities (0 = config default)")
	rootCmd.AddCommand(impactCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// impactRequest is the parsed flag set of one impact run.
type impactRequest struct {
	kind      graph.NodeKind
	id        string
	diff      string
	depth     int
	threshold impact.RiskLevel
	instant   bool
	maxItems  int
}

// parseImpactRequest validates the flags against the configuration.
func parseImpactRequest(a *app) (impactRequest, error) {
	req := impactRequest{
		id:       strings.TrimSpace(impactID),
		diff:     impactDiff,
		depth:    impactDepth,
		instant:  impactInstant,
		maxItems: impactMaxItems,
	}

	switch {
	case req.diff != "" && (impactKind != "" || req.id != ""):
		return req, errors.New("use either --diff or --kind/--id, not both")
	case req.diff == "" && (impactKind == "" || req.id == ""):
		return req, errors.New("--kind and --id are required without --diff")
	case req.diff != "" && req.instant:
		return req, errors.New("--instant takes a single entity, not --diff")
	}
	if impactKind != "" {
		kind, ok := graph.ParseNodeKind(impactKind)
		if !ok {
			return req, fmt.Errorf("unknown kind %q", impactKind)
		}
		req.kind = kind
	}

	if req.depth < 0 {
		return req, impact.ErrInvalidDepth
	}
	if req.depth == 0 {
		req.depth = a.cfg.Impact.MaxDepth
	}
	if req.maxItems == 0 {
		req.maxItems = a.cfg.Impact.MaxItems
	}

	threshold := impactThreshold
	if threshold == "" {
		threshold = a.cfg.Impact.Threshold
	}
	level, ok := impact.ParseRiskLevel(threshold)
	if !ok {
		return req, fmt.Errorf("unknown threshold %q", threshold)
	}
	req.threshold = level
	return req, nil
}

// newAnalyzer builds an analyzer from the configuration.
func (a *app) newAnalyzer(source impact.SnapshotSource, maxItems int) *impact.Analyzer {
	ic := a.cfg.Impact
	return impact.NewAnalyzer(source,
		impact.WithRiskConfig(impact.RiskConfig{
			CriticalThreshold: ic.CriticalThreshold,
			HighThreshold:     ic.HighThreshold,
			MediumThreshold:   ic.MediumThreshold,
		}),
		impact.WithAnalyzeOptions(impact.AnalyzeOptions{
			MaxCascadeDepth: ic.MaxCascadeDepth,
			MaxItems:        maxItems,
			Timeout:         ic.Timeout,
		}),
		impact.WithLogger(a.logger.Slog()),
	)
}

func runImpact(ctx context.Context, a *app, stdin io.Reader, roots []string) error {
	req, err := parseImpactRequest(a)
	if err != nil {
		return err
	}

	var patch []byte
	if req.diff != "" {
		patch, err = readDiff(req.diff, stdin)
		if err != nil {
			return err
		}
	}

	s, err := a.load(ctx, roots)
	if err != nil {
		return err
	}
	defer s.Close()

	analyzer := a.newAnalyzer(impact.Fixed(s.snap), req.maxItems)

	var level impact.RiskLevel
	switch {
	case req.instant:
		inst, err := analyzer.Instant(ctx, req.kind, req.id)
		if err != nil {
			return err
		}
		if a.json {
			if err := a.writeJSON(inst); err != nil {
				return err
			}
		} else {
			printInstant(a, inst)
		}
		level = inst.RiskLevel

	default:
		changes := []impact.Root{{Kind: req.kind, ID: req.id}}
		if patch != nil {
			changes, err = impact.ChangeSetFromDiff(patch, s.snap)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				a.logger.Info("diff touches no analyzed entity")
				if a.json {
					return a.writeJSON(&impact.Report{SnapshotID: s.snap.ID, RiskLevel: impact.RiskLow})
				}
				a.printer.Success("The diff touches no analyzed entity")
				return nil
			}
		}
		report, err := analyzer.AnalyzeRoots(ctx, changes, req.depth)
		if err != nil {
			return err
		}
		if a.json {
			if err := a.writeJSON(report); err != nil {
				return err
			}
		} else {
			printReport(a, report)
		}
		level = report.RiskLevel
	}

	if level.Exceeds(req.threshold) {
		return &exitError{code: ExitRiskFound}
	}
	return nil
}

// readDiff reads a patch from a file or, for "-", from stdin.
func readDiff(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read the diff: %w", err)
	}
	return data, nil
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

func printInstant(a *app, r *impact.InstantImpact) {
	p := a.printer
	p.Title("Impact: " + r.Root)
	p.KeyValue("Risk", p.Level(string(r.RiskLevel)))
	p.KeyValue("Direct", r.DirectCount)
	p.KeyValue("Indirect", r.IndirectCount)
	if r.Truncated {
		p.Warning("Traversal truncated")
	}
}

func printReport(a *app, r *impact.Report) {
	p := a.printer
	p.Title("Impact: " + strings.Join(r.Roots, ", "))
	p.KeyValue("Risk", p.Level(string(r.RiskLevel)))
	p.KeyValue("Direct", r.DirectCount)
	p.KeyValue("Indirect", r.IndirectCount)
	p.KeyValue("Cascading", r.CascadingCount)
	p.KeyValue("Testing effort", fmt.Sprintf("%.1fh", r.TestingEffortHours))

	if r.Truncated {
		p.Warning("Traversal truncated: " + r.TruncatedReason)
	}

	if len(r.Items) > 0 {
		p.Section(fmt.Sprintf("Impacted (%d)", len(r.Items)))
		for i, it := range r.Items {
			if i == maxListedItems {
				p.Item(p.Muted(fmt.Sprintf("... %d more (use --json)", len(r.Items)-i)))
				break
			}
			p.Row([]int{10, 40, 6}, p.Level(string(it.Severity)), it.ID,
				fmt.Sprintf("d=%d", it.Depth), it.Via+" from "+it.From)
		}
	}

	if len(r.UnknownEffects) > 0 {
		p.Section("Unknown effects")
		for _, id := range r.UnknownEffects {
			p.Item(id)
		}
	}

	p.Box("Summary", r.Summary+"\n"+r.Recommendation)
}
