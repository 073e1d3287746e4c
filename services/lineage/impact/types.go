// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact estimates the ripple effect of changing a program,
// copybook, field or other entity of the Analysis Graph.
//
// A query is a bounded breadth-first traversal over one immutable
// graph.Snapshot. It moves through the phases Seed, Direct, Indirect,
// Cascading and Report, scores each impacted entity and ranks the result
// deterministically, so the same query on the same snapshot always
// returns the same report.
package impact

import (
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// Defaults for AnalyzeOptions.
const (
	DefaultMaxDepth        = 3
	DefaultMaxCascadeDepth = 2
	DefaultMaxItems        = 10_000

	// InstantDepth bounds the traversal of Instant.
	InstantDepth = 2

	// BaseEffortHours is the testing effort of one impacted entity of
	// weight 1.
	BaseEffortHours = 2.0
)

// Severity grades one impacted entity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// rank orders severities, most severe first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// Weight is the testing effort multiplier of the severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0.5
	}
}

// ChangeType tells how an entity was reached.
type ChangeType string

const (
	// ChangeDirect is a structural dependent at depth 1.
	ChangeDirect ChangeType = "direct"

	// ChangeIndirect is a structural dependent at depth 2 and beyond.
	ChangeIndirect ChangeType = "indirect"

	// ChangeCascading is reached through copybook and data flow
	// propagation after the structural phases.
	ChangeCascading ChangeType = "cascading"
)

// RiskLevel indicates the risk associated with a change.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// riskRank orders risk levels, lowest first.
var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Exceeds reports whether r is strictly above threshold.
func (r RiskLevel) Exceeds(threshold RiskLevel) bool {
	return riskRank[r] > riskRank[threshold]
}

// ParseRiskLevel maps a case-insensitive name to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for level := range riskRank {
		if strings.EqualFold(string(level), strings.TrimSpace(s)) {
			return level, true
		}
	}
	return "", false
}

// Root names one changed entity.
type Root struct {
	Kind graph.NodeKind `json:"kind"`
	ID   string         `json:"id"`
}

// ImpactedItem is one entity affected by the change.
type ImpactedItem struct {
	Kind       graph.NodeKind `json:"kind"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Owner      string         `json:"owner,omitempty"`
	FileName   string         `json:"file_name,omitempty"`
	Severity   Severity       `json:"severity"`
	ChangeType ChangeType     `json:"change_type"`

	// Depth is the BFS level from the nearest root.
	Depth int `json:"depth"`

	// Via is the type of the edge the entity was reached through.
	Via string `json:"via"`

	// From is the node the entity was reached from.
	From string `json:"from"`
}

// Report is the full result of an impact query.
type Report struct {
	SnapshotID string `json:"snapshot_id"`

	// Roots are the resolved root node ids, sorted.
	Roots []string `json:"roots"`

	// Items are ranked by severity (most severe first), depth, kind and id.
	Items []ImpactedItem `json:"items"`

	DirectCount    int              `json:"direct_count"`
	IndirectCount  int              `json:"indirect_count"`
	CascadingCount int              `json:"cascading_count"`
	SeverityCounts map[Severity]int `json:"severity_counts"`

	// UnknownEffects lists external call targets reached by impacted
	// programs. What they do is outside the batch, so they are reported
	// and never expanded.
	UnknownEffects []string `json:"unknown_effects"`

	TestingEffortHours float64   `json:"testing_effort_hours"`
	RiskLevel          RiskLevel `json:"risk_level"`
	MaxDepth           int       `json:"max_depth"`

	Truncated       bool   `json:"truncated"`
	TruncatedReason string `json:"truncated_reason,omitempty"`

	Summary        string `json:"summary"`
	Recommendation string `json:"recommendation"`
}

// InstantImpact is the cheap summary of an impact query.
type InstantImpact struct {
	Root          string    `json:"root"`
	DirectCount   int       `json:"direct_count"`
	IndirectCount int       `json:"indirect_count"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Truncated     bool      `json:"truncated"`
}

// AnalyzeOptions configures a traversal.
//
// # Fields
//
//   - MaxCascadeDepth: Levels of copybook and data flow propagation after
//     the structural phases (default 2). Zero disables cascading.
//   - MaxItems: Stop after this many impacted entities (default 10,000).
//   - Timeout: Maximum wall-clock time per query. Zero means only the
//     caller's context bounds it.
type AnalyzeOptions struct {
	MaxCascadeDepth int           `json:"max_cascade_depth"`
	MaxItems        int           `json:"max_items"`
	Timeout         time.Duration `json:"timeout"`
}

// DefaultAnalyzeOptions returns options with sensible defaults.
func DefaultAnalyzeOptions() AnalyzeOptions {
	return AnalyzeOptions{
		MaxCascadeDepth: DefaultMaxCascadeDepth,
		MaxItems:        DefaultMaxItems,
	}
}

// RiskConfig allows customizing risk level thresholds.
//
// # Fields
//
//   - CriticalThreshold: Impacted entities >= this is CRITICAL (default 20).
//   - HighThreshold: Impacted entities >= this is HIGH (default 10).
//   - MediumThreshold: Impacted entities >= this is MEDIUM (default 4).
type RiskConfig struct {
	CriticalThreshold int `json:"critical_threshold"`
	HighThreshold     int `json:"high_threshold"`
	MediumThreshold   int `json:"medium_threshold"`
}

// DefaultRiskConfig returns risk thresholds with sensible defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		CriticalThreshold: 20,
		HighThreshold:     10,
		MediumThreshold:   4,
	}
}
