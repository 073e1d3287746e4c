// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestDiscover(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/PAYROLL.cbl":    testPayroll,
		"src/legacy/OLD.CBL": testTaxcalc,
		"copy/CUSTREC.cpy":   testCustrec,
		"jcl/payjob.jcl":     testJob,
		"README.md":          "docs",
		".git/objects/x.cbl": "ignored",
		"build/out/GEN.cbl":  testTaxcalc,
	})

	t.Run("default filter", func(t *testing.T) {
		files, err := Discover(root, Filter{})
		require.NoError(t, err)
		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		assert.Equal(t, []string{
			"build/out/GEN.cbl",
			"copy/CUSTREC.cpy",
			"jcl/payjob.jcl",
			"src/PAYROLL.cbl",
			"src/legacy/OLD.CBL",
		}, paths)
		assert.Equal(t, testCustrec, string(files[1].Content))
	})

	t.Run("include and exclude", func(t *testing.T) {
		files, err := Discover(root, Filter{
			Include: []string{"**/*.cbl", "copy/*.cpy"},
			Exclude: []string{"build/**"},
		})
		require.NoError(t, err)
		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		assert.Equal(t, []string{"copy/CUSTREC.cpy", "src/PAYROLL.cbl"}, paths)
	})

	t.Run("single file", func(t *testing.T) {
		files, err := Discover(filepath.Join(root, "src", "PAYROLL.cbl"), Filter{})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "PAYROLL.cbl", files[0].Path)
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := Discover(root, Filter{Include: []string{"src/[.cbl"}})
		assert.ErrorIs(t, err, ErrBadPattern)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := Discover(filepath.Join(root, "nope"), Filter{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestFilter_Match(t *testing.T) {
	f := Filter{Exclude: []string{"**/test/**"}}
	assert.True(t, f.Match("src/A.cob"))
	assert.False(t, f.Match("src/test/A.cob"))
	assert.False(t, f.Match("notes.txt"))
}
