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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/impact"
	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
)

// setImpactFlags sets the impact flags for one test and restores them.
func setImpactFlags(t *testing.T, kind, id, diff, threshold string) {
	t.Helper()
	impactKind, impactID, impactDiff, impactThreshold = kind, id, diff, threshold
	t.Cleanup(func() {
		impactKind, impactID, impactDiff, impactThreshold = "", "", "", ""
		impactDepth, impactInstant, impactMaxItems = 0, false, 0
	})
}

func TestParseImpactRequest(t *testing.T) {
	var buf bytes.Buffer
	a := testApp(&buf)

	t.Run("defaults from config", func(t *testing.T) {
		setImpactFlags(t, "Copybook", "CUSTREC", "", "")
		req, err := parseImpactRequest(a)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.kind != graph.NodeCopybook {
			t.Errorf("expected copybook, got %s", req.kind)
		}
		if req.depth != a.cfg.Impact.MaxDepth || req.maxItems != a.cfg.Impact.MaxItems {
			t.Errorf("expected config defaults, got depth %d items %d", req.depth, req.maxItems)
		}
		if req.threshold != impact.RiskHigh {
			t.Errorf("expected HIGH threshold, got %s", req.threshold)
		}
	})

	tests := []struct {
		name                      string
		kind, id, diff, threshold string
		depth                     int
		instant                   bool
		wantErr                   error
	}{
		{name: "diff and kind", kind: "program", id: "A", diff: "x.patch"},
		{name: "missing id", kind: "program"},
		{name: "unknown kind", kind: "widget", id: "A"},
		{name: "unknown threshold", kind: "program", id: "A", threshold: "extreme"},
		{name: "instant with diff", diff: "x.patch", instant: true},
		{name: "negative depth", kind: "program", id: "A", depth: -1, wantErr: impact.ErrInvalidDepth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setImpactFlags(t, tt.kind, tt.id, tt.diff, tt.threshold)
			impactDepth, impactInstant = tt.depth, tt.instant
			_, err := parseImpactRequest(a)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRunImpact(t *testing.T) {
	src, lib := testTree(t)

	t.Run("below threshold", func(t *testing.T) {
		var buf bytes.Buffer
		a := testApp(&buf)
		setImpactFlags(t, "program", "SUBPGM", "", "critical")

		if err := runImpact(context.Background(), a, nil, []string{src, lib}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var report impact.Report
		if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}
		found := false
		for _, it := range report.Items {
			if it.ID == "program:MAINPGM" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected the caller MAINPGM to be impacted, got %+v", report.Items)
		}
	})

	t.Run("risk exceeds threshold", func(t *testing.T) {
		var buf bytes.Buffer
		a := testApp(&buf)
		a.cfg.Impact.MediumThreshold = 1
		setImpactFlags(t, "program", "SUBPGM", "", "low")

		err := runImpact(context.Background(), a, nil, []string{src, lib})
		var ee *exitError
		if !errors.As(err, &ee) || ee.code != ExitRiskFound {
			t.Fatalf("expected exit code %d, got %v", ExitRiskFound, err)
		}
	})

	t.Run("unknown entity", func(t *testing.T) {
		var buf bytes.Buffer
		a := testApp(&buf)
		setImpactFlags(t, "program", "NOPE", "", "critical")

		err := runImpact(context.Background(), a, nil, []string{src, lib})
		if !errors.Is(err, impact.ErrRootNotFound) {
			t.Errorf("expected ErrRootNotFound, got %v", err)
		}
	})

	t.Run("instant", func(t *testing.T) {
		var buf bytes.Buffer
		a := testApp(&buf)
		setImpactFlags(t, "program", "SUBPGM", "", "critical")
		impactInstant = true

		if err := runImpact(context.Background(), a, nil, []string{src, lib}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var inst impact.InstantImpact
		if err := json.Unmarshal(buf.Bytes(), &inst); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}
		if inst.DirectCount == 0 {
			t.Errorf("expected direct impact, got %+v", inst)
		}
	})

	t.Run("diff from stdin", func(t *testing.T) {
		var buf bytes.Buffer
		a := testApp(&buf)
		setImpactFlags(t, "", "", "-", "critical")

		rel := "src/subpgm.cbl"
		patch := "--- a/" + rel + "\n+++ b/" + rel + "\n" +
			"@@ -4,2 +4,2 @@\n" +
			"       ENTRY-PARA.\n" +
			"-           GOBACK.\n" +
			"+           STOP RUN.\n"

		if err := runImpact(context.Background(), a, strings.NewReader(patch), []string{src, lib}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var report impact.Report
		if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}
		if len(report.Roots) != 1 || report.Roots[0] != "program:SUBPGM" {
			t.Errorf("expected SUBPGM as the changed entity, got %v", report.Roots)
		}
	})
}

func TestRunWhereUsed(t *testing.T) {
	src, lib := testTree(t)
	t.Cleanup(func() {
		whereUsedKind, whereUsedName, whereUsedLineage = "field", "", false
	})

	var buf bytes.Buffer
	a := testApp(&buf)
	whereUsedKind, whereUsedName, whereUsedLineage = "field", "cust-id", true

	if err := runWhereUsed(context.Background(), a, []string{src, lib}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got whereUsedResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if got.Kind != lineage.EntityField || got.Name != "CUST-ID" {
		t.Errorf("expected FIELD CUST-ID, got %s %s", got.Kind, got.Name)
	}
	if len(got.References) == 0 || got.References[0].Program != "MAINPGM" {
		t.Errorf("expected a reference from MAINPGM, got %+v", got.References)
	}
	if len(got.Downstream) != 1 || got.Downstream[0] != "WS-TOTAL" {
		t.Errorf("expected WS-TOTAL downstream, got %v", got.Downstream)
	}

	buf.Reset()
	whereUsedKind, whereUsedName, whereUsedLineage = "program", "", false
	if err := runWhereUsed(context.Background(), a, []string{src, lib}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got = whereUsedResult{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(got.Names) != 1 || got.Names[0] != "SUBPGM" {
		t.Errorf("expected SUBPGM as the only called program, got %v", got.Names)
	}

	whereUsedKind, whereUsedName, whereUsedLineage = "program", "SUBPGM", true
	if err := runWhereUsed(context.Background(), a, []string{src, lib}); err == nil {
		t.Error("expected --lineage to need the field kind")
	}
}

func TestRunCFG(t *testing.T) {
	src, lib := testTree(t)
	t.Cleanup(func() { cfgProgram, cfgMermaid = "", false })

	var buf bytes.Buffer
	a := testApp(&buf)
	cfgProgram, cfgMermaid = "mainpgm", true

	if err := runCFG(context.Background(), a, []string{src, lib}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "MAIN-PARA") {
		t.Errorf("expected a flowchart with MAIN-PARA, got %q", buf.String())
	}

	cfgProgram = "CUSTREC"
	if err := runCFG(context.Background(), a, []string{src, lib}); err == nil {
		t.Error("expected an error for a copybook")
	}
}
