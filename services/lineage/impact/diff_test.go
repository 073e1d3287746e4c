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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

const testPatch = `diff --git a/src/MAINPGM.cbl b/src/MAINPGM.cbl
--- a/src/MAINPGM.cbl
+++ b/src/MAINPGM.cbl
@@ -2,3 +2,3 @@
        01 CUST-REC.
-       01 WS-A PIC X.
+       01 WS-A PIC X(2).
        01 WS-B PIC X.
diff --git a/src/copy/CUSTREC.cpy b/src/copy/CUSTREC.cpy
--- a/src/copy/CUSTREC.cpy
+++ b/src/copy/CUSTREC.cpy
@@ -1 +1 @@
-           05 CUST-ID PIC 9(5).
+           05 CUST-ID PIC 9(7).
`

func TestChangeSetFromDiff(t *testing.T) {
	snap := testSnapshot(t)

	roots, err := ChangeSetFromDiff([]byte(testPatch), snap)
	require.NoError(t, err)

	assert.Equal(t, []Root{
		{Kind: graph.NodeCopybook, ID: "CUSTREC"},
		{Kind: graph.NodeField, ID: "CUSTREC/CUST-ID"},
		{Kind: graph.NodeField, ID: "MAINPGM/WS-A"},
		{Kind: graph.NodeProgram, ID: "MAINPGM"},
	}, roots)

	r, err := NewAnalyzer(Fixed(snap)).AnalyzeRoots(context.Background(), roots, 1)
	require.NoError(t, err)
	assert.Len(t, r.Roots, 4)
}

func TestChangeSetFromDiff_UnknownFile(t *testing.T) {
	patch := "--- a/OTHER.cbl\n+++ b/OTHER.cbl\n@@ -1 +1 @@\n-x\n+y\n"
	roots, err := ChangeSetFromDiff([]byte(patch), testSnapshot(t))
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestChangeSetFromDiff_NoSnapshot(t *testing.T) {
	_, err := ChangeSetFromDiff([]byte(testPatch), nil)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSamePath(t *testing.T) {
	assert.True(t, samePath("MAINPGM.cbl", "src/MAINPGM.cbl"))
	assert.True(t, samePath("/work/src/MAINPGM.cbl", "src/MAINPGM.cbl"))
	assert.False(t, samePath("XMAINPGM.cbl", "MAINPGM.cbl"))
}
