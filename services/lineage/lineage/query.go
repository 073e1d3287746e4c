// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

import (
	"sort"
)

// Upstream returns every field whose value can reach field, sorted.
//
// Follows edges backwards transitively. The field itself is included
// only when it lies on a cycle.
func (dl *DataLineage) Upstream(field string) []string {
	return dl.walk(field, false)
}

// Downstream returns every field field's value can reach, sorted.
func (dl *DataLineage) Downstream(field string) []string {
	return dl.walk(field, true)
}

// EdgesFrom returns the edges whose source is field, in edge order.
func (dl *DataLineage) EdgesFrom(field string) []DataFlowEdge {
	return dl.collect(dl.forward[field])
}

// EdgesInto returns the edges whose target is field, in edge order.
func (dl *DataLineage) EdgesInto(field string) []DataFlowEdge {
	return dl.collect(dl.backward[field])
}

func (dl *DataLineage) collect(idx []int) []DataFlowEdge {
	out := make([]DataFlowEdge, 0, len(idx))
	for _, i := range idx {
		out = append(out, dl.Edges[i])
	}
	return out
}

func (dl *DataLineage) walk(field string, forward bool) []string {
	adj, next := dl.backward, func(e DataFlowEdge) string { return e.SourceField }
	if forward {
		adj, next = dl.forward, func(e DataFlowEdge) string { return e.TargetField }
	}

	visited := make(map[string]bool)
	queue := []string{field}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, i := range adj[cur] {
			n := next(dl.Edges[i])
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}

	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
