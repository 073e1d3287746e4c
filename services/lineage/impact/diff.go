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
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// ChangeSetFromDiff maps a unified diff to the roots it changes.
//
// Description:
//
//	Every program, copybook and job whose source file appears in the diff
//	becomes a root. A field becomes a root when its declaration line is
//	added or removed. Paths are compared by suffix after stripping the
//	"a/" and "b/" prefixes, so a diff taken at the repository root matches
//	sources analyzed from a subdirectory and the reverse.
//
// Inputs:
//   - patch: A unified diff, possibly covering several files.
//   - snap: The snapshot to resolve against.
//
// Outputs:
//   - []Root: Sorted by kind and id, without duplicates.
//   - error: ErrInvalidDiff when the diff cannot be parsed, ErrNoSnapshot
//     when snap is nil.
func ChangeSetFromDiff(patch []byte, snap *graph.Snapshot) ([]Root, error) {
	if snap == nil || snap.Graph == nil {
		return nil, ErrNoSnapshot
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(bytes.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDiff, err)
	}

	seen := make(map[string]bool)
	roots := make([]Root, 0)
	add := func(n *graph.Node) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		roots = append(roots, Root{Kind: n.Kind, ID: strings.TrimPrefix(n.ID, string(n.Kind)+":")})
	}

	for _, fd := range fileDiffs {
		path := stripDiffPrefix(fd.NewName)
		if fd.NewName == "/dev/null" || path == "" {
			path = stripDiffPrefix(fd.OrigName)
		}
		if path == "" || path == "/dev/null" {
			continue
		}
		lines := changedLines(fd)

		for _, n := range snap.Nodes() {
			if n.FileName == "" || !samePath(n.FileName, path) {
				continue
			}
			switch n.Kind {
			case graph.NodeProgram, graph.NodeCopybook, graph.NodeJob:
				add(n)
			case graph.NodeField:
				if lines[n.Line] {
					add(n)
				}
			}
		}
	}

	sort.Slice(roots, func(i, j int) bool {
		if roots[i].Kind != roots[j].Kind {
			return roots[i].Kind < roots[j].Kind
		}
		return roots[i].ID < roots[j].ID
	})
	return roots, nil
}

// changedLines returns the new-side line numbers touched by fd. A removed
// line is attributed to the position it was removed at.
func changedLines(fd *diff.FileDiff) map[int]bool {
	out := make(map[int]bool)
	for _, hunk := range fd.Hunks {
		cur := int(hunk.NewStartLine)
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if line == "" {
				continue
			}
			switch line[0] {
			case '+':
				out[cur] = true
				cur++
			case '-':
				out[cur] = true
			case '\\':
			default:
				cur++
			}
		}
	}
	return out
}

func stripDiffPrefix(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		name = name[2:]
	}
	return filepath.ToSlash(name)
}

// samePath reports whether a and b name the same file, allowing either to
// be a suffix of the other at a path separator.
func samePath(a, b string) bool {
	a, b = filepath.ToSlash(filepath.Clean(a)), filepath.ToSlash(filepath.Clean(b))
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}
