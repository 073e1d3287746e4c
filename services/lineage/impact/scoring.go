// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// severityOf grades an entity by the edge it was reached through.
//
// Data access and static calls are high, dynamic calls and file I/O are
// medium, fields reached by propagation are low. A high entity at depth 1
// becomes critical.
func severityOf(e *graph.Edge, target *graph.Node, ct ChangeType, depth int) Severity {
	var s Severity
	switch {
	case ct == ChangeCascading && (e.Type == graph.EdgeTypeFlows || target.Kind == graph.NodeField):
		s = SeverityLow
	case e.Type == graph.EdgeTypeAccesses:
		s = SeverityHigh
	case e.Type == graph.EdgeTypeCalls && !e.Weak:
		s = SeverityHigh
	case e.Type == graph.EdgeTypeCalls:
		s = SeverityMedium
	case e.Type == graph.EdgeTypeReads, e.Type == graph.EdgeTypeWrites:
		s = SeverityMedium
	default:
		s = SeverityMedium
	}
	if s == SeverityHigh && depth == 1 {
		s = SeverityCritical
	}
	return s
}

// riskLevel combines the worst severity with the size of the impact.
func (a *Analyzer) riskLevel(counts map[Severity]int, total int) RiskLevel {
	switch {
	case counts[SeverityCritical] > 0 || total >= a.risk.CriticalThreshold:
		return RiskCritical
	case counts[SeverityHigh] > 0 || total >= a.risk.HighThreshold:
		return RiskHigh
	case counts[SeverityMedium] > 0 || total >= a.risk.MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TestingEffort estimates the hours needed to retest items.
//
// Each entity costs BaseEffortHours times its severity weight.
func TestingEffort(items []ImpactedItem) float64 {
	var hours float64
	for _, it := range items {
		hours += BaseEffortHours * it.Severity.Weight()
	}
	return hours
}

// summary creates a one-line description of the report.
func summary(r *Report) string {
	parts := []string{
		fmt.Sprintf("Risk Level: %s", r.RiskLevel),
		fmt.Sprintf("Direct: %d", r.DirectCount),
	}

	if r.IndirectCount > 0 {
		parts = append(parts, fmt.Sprintf("Indirect: %d", r.IndirectCount))
	}

	if r.CascadingCount > 0 {
		parts = append(parts, fmt.Sprintf("Cascading: %d", r.CascadingCount))
	}

	if len(r.UnknownEffects) > 0 {
		parts = append(parts, fmt.Sprintf("Unknown external calls: %d", len(r.UnknownEffects)))
	}

	parts = append(parts, fmt.Sprintf("Testing effort: %.1fh", r.TestingEffortHours))

	if r.Truncated {
		parts = append(parts, fmt.Sprintf("(Truncated: %s)", r.TruncatedReason))
	}

	return strings.Join(parts, " | ")
}

// recommendation creates actionable advice.
func recommendation(r *Report) string {
	programs := countKind(r.Items, graph.NodeProgram) + countKind(r.Items, graph.NodeJob)

	var advice string
	switch r.RiskLevel {
	case RiskCritical:
		advice = fmt.Sprintf("CRITICAL: %d critical dependents and %d affected programs or jobs. Coordinate the change and run a full regression of every affected batch flow.",
			r.SeverityCounts[SeverityCritical], programs)
	case RiskHigh:
		advice = fmt.Sprintf("HIGH RISK: %d programs or jobs need review. Retest all direct dependents before release.", programs)
	case RiskMedium:
		advice = fmt.Sprintf("MEDIUM RISK: Review %d direct dependents and verify file and data flow behavior.", r.DirectCount)
	case RiskLow:
		if len(r.Items) == 0 {
			advice = "LOW RISK: No dependents found. Verify the entity is not called dynamically or from outside the analyzed sources."
		} else {
			advice = fmt.Sprintf("LOW RISK: Only %d dependent(s). Update and test.", len(r.Items))
		}
	default:
		return "Unable to determine risk level."
	}

	if len(r.UnknownEffects) > 0 {
		advice += fmt.Sprintf(" External calls with unknown effects: %s.", strings.Join(r.UnknownEffects, ", "))
	}
	return advice
}

func countKind(items []ImpactedItem, kind graph.NodeKind) int {
	n := 0
	for _, it := range items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}
