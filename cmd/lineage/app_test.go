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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianLineage/cmd/lineage/config"
	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/pkg/ux"
	"github.com/AleutianAI/AleutianLineage/services/lineage/analysis"
	"github.com/AleutianAI/AleutianLineage/services/lineage/rules"
)

const (
	testMain = `       IDENTIFICATION DIVISION.
       PROGRAM-ID. MAINPGM.
       DATA DIVISION.
       WORKING-STORAGE SECTION.
           COPY CUSTREC.
       01  WS-TOTAL        PIC 9(7).
       PROCEDURE DIVISION.
       MAIN-PARA.
           MOVE CUST-ID TO WS-TOTAL
           CALL 'SUBPGM'
           STOP RUN.
`

	testSub = `       IDENTIFICATION DIVISION.
       PROGRAM-ID. SUBPGM.
       PROCEDURE DIVISION.
       ENTRY-PARA.
           GOBACK.
`

	testCustrec = `       01  CUST-REC.
           05  CUST-ID     PIC 9(5).
`
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testApp returns an app writing JSON to buf with the default config.
func testApp(buf *bytes.Buffer) *app {
	return &app{
		cfg:     config.DefaultConfig(),
		logger:  logging.New(logging.Config{Quiet: true}),
		out:     buf,
		printer: ux.NewPrinter(buf, true),
		json:    true,
	}
}

// testTree writes a batch with the copybook in a separate library.
func testTree(t *testing.T) (src, lib string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/mainpgm.cbl", testMain)
	writeFile(t, root, "src/subpgm.cbl", testSub)
	writeFile(t, root, "src/README.md", "not a source")
	writeFile(t, root, "lib/custrec.cpy", testCustrec)
	return filepath.Join(root, "src"), filepath.Join(root, "lib")
}

func TestCollectSources(t *testing.T) {
	src, lib := testTree(t)

	t.Run("directories are prefixed", func(t *testing.T) {
		files, err := collectSources([]string{src, lib}, analysis.Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 3 {
			t.Fatalf("expected 3 files, got %d", len(files))
		}
		want := filepath.ToSlash(filepath.Join(src, "mainpgm.cbl"))
		if files[0].Path != want {
			t.Errorf("expected %s, got %s", want, files[0].Path)
		}
		if !strings.HasSuffix(files[2].Path, "lib/custrec.cpy") {
			t.Errorf("expected the library copybook last, got %s", files[2].Path)
		}
	})

	t.Run("single file and duplicate roots", func(t *testing.T) {
		file := filepath.Join(src, "subpgm.cbl")
		files, err := collectSources([]string{file, src}, analysis.Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("expected the duplicate dropped, got %d files", len(files))
		}
		if files[0].Path != filepath.ToSlash(file) {
			t.Errorf("expected %s, got %s", file, files[0].Path)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := collectSources([]string{filepath.Join(src, "nope")}, analysis.Filter{}); err == nil {
			t.Error("expected an error for a missing root")
		}
	})
}

func TestDirResolver(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/custrec.cpy", "A")
	writeFile(t, root, "a/PROD/ADDR", "LIB")
	writeFile(t, root, "b/ADDR.copy", "B")

	r := newDirResolver([]string{filepath.Join(root, "a"), filepath.Join(root, "b")})

	tests := []struct {
		name, member, library string
		want                  string
		found                 bool
	}{
		{"lower-case member", "CUSTREC", "", "A", true},
		{"library subdirectory", "ADDR", "PROD", "LIB", true},
		{"second directory", "ADDR", "", "B", true},
		{"missing", "NOPE", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ok := r.ResolveCopybook(tt.member, tt.library)
			if ok != tt.found {
				t.Fatalf("expected found=%v, got %v", tt.found, ok)
			}
			if string(data) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, data)
			}
		})
	}
}

func TestRunAnalyze(t *testing.T) {
	src, lib := testTree(t)
	var buf bytes.Buffer
	a := testApp(&buf)
	a.cfg.Sources.CopybookDirs = []string{lib}

	if err := runAnalyze(context.Background(), a, []string{src}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got analyzeSummary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, buf.String())
	}
	if got.Stats.Files != 2 || got.Stats.Programs != 2 {
		t.Errorf("expected 2 files and 2 programs, got %+v", got.Stats)
	}
	if got.Generation != 1 || got.SnapshotID == "" {
		t.Errorf("expected the first snapshot, got %d/%q", got.Generation, got.SnapshotID)
	}
	if len(got.UnresolvedCalls) != 0 {
		t.Errorf("expected every call resolved, got %v", got.UnresolvedCalls)
	}
	for _, d := range got.Diagnostics {
		if strings.Contains(d.Message, "CUSTREC") {
			t.Errorf("expected the copybook to resolve from the library, got %v", d)
		}
	}
}

func TestRunAnalyze_TextAndFiles(t *testing.T) {
	src, lib := testTree(t)
	var buf bytes.Buffer
	a := testApp(&buf)
	a.json = false
	out := filepath.Join(t.TempDir(), "analysis.json")

	analyzeOut = out
	t.Cleanup(func() { analyzeOut = "" })

	if err := runAnalyze(context.Background(), a, []string{src, lib}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Programs\t2") {
		t.Errorf("expected a plain summary, got %q", buf.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("expected --out to be written: %v", err)
	}
	var res analysis.SemanticAnalysisResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("invalid result JSON: %v", err)
	}
	if len(res.Programs) != 3 {
		t.Errorf("expected 3 programs in the result, got %d", len(res.Programs))
	}
}

func TestParseEntityKind(t *testing.T) {
	for name := range entityKinds {
		if _, err := parseEntityKind(strings.ToUpper(name)); err != nil {
			t.Errorf("expected %s to parse, got %v", name, err)
		}
	}
	if _, err := parseEntityKind("widget"); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

func TestFilterRules(t *testing.T) {
	in := []rules.Candidate{
		{Kind: rules.KindCalculation, Category: rules.CategoryFinancial},
		{Kind: rules.KindValidation, Category: rules.CategoryQuality},
	}
	in[0].Location.Program = "PAYROLL"
	in[1].Location.Program = "EDIT"

	if got := filterRules(in, "financial", "", ""); len(got) != 1 || got[0].Location.Program != "PAYROLL" {
		t.Errorf("expected the financial candidate, got %v", got)
	}
	if got := filterRules(in, "", "", "edit"); len(got) != 1 {
		t.Errorf("expected one candidate of EDIT, got %d", len(got))
	}
	if got := filterRules(in, "financial", "validation", ""); len(got) != 0 {
		t.Errorf("expected filters to combine, got %v", got)
	}
	if got := filterRules(in, "", "", ""); len(got) != 2 {
		t.Errorf("expected no filter to keep everything, got %d", len(got))
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&exitError{code: ExitError, err: inner})
	if !errors.Is(err, inner) {
		t.Error("expected exitError to unwrap")
	}
	if got := (&exitError{code: ExitRiskFound}).Error(); got != "exit status 1" {
		t.Errorf("expected a default message, got %q", got)
	}
}
