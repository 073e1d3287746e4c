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
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// phase is a state of the traversal.
type phase int

const (
	phaseSeed phase = iota
	phaseDirect
	phaseIndirect
	phaseCascading
	phaseReport
)

// String returns the name of the phase.
func (p phase) String() string {
	switch p {
	case phaseSeed:
		return "seed"
	case phaseDirect:
		return "direct"
	case phaseIndirect:
		return "indirect"
	case phaseCascading:
		return "cascading"
	case phaseReport:
		return "report"
	default:
		return "unknown"
	}
}

// writeOperations are SQL operations that change table contents.
var writeOperations = map[string]bool{"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true}

// traversal is the state of one bounded BFS over a snapshot.
//
// It is owned by a single query goroutine.
type traversal struct {
	ctx      context.Context
	g        *graph.Graph
	seeds    []*graph.Node
	maxItems int

	// depth holds the BFS level of every visited node; roots are 0.
	depth map[string]int

	items []ImpactedItem

	// reached lists visited nodes in discovery order, roots first.
	reached []*graph.Node

	phase     phase
	truncated string
}

func newTraversal(ctx context.Context, g *graph.Graph, seeds []*graph.Node, maxItems int) *traversal {
	return &traversal{
		ctx:      ctx,
		g:        g,
		seeds:    seeds,
		maxItems: maxItems,
		depth:    make(map[string]int),
		items:    make([]ImpactedItem, 0),
	}
}

// run drives the traversal through its phases.
//
// Seed marks the roots. Direct and Indirect expand structural dependents
// level by level up to maxDepth. Cascading then follows copybook and data
// flow propagation from everything reached, for up to maxCascade levels.
// Any truncation jumps straight to Report.
func (t *traversal) run(maxDepth, maxCascade int) {
	var frontier []*graph.Node
	level := 1

	for t.phase = phaseSeed; t.phase != phaseReport; {
		switch t.phase {
		case phaseSeed:
			for _, s := range t.seeds {
				t.depth[s.ID] = 0
				t.reached = append(t.reached, s)
			}
			frontier = t.seeds
			t.phase = phaseDirect

		case phaseDirect, phaseIndirect:
			if level > maxDepth || len(frontier) == 0 {
				t.phase = phaseCascading
				continue
			}
			ct := ChangeIndirect
			if t.phase == phaseDirect {
				ct = ChangeDirect
			}
			frontier = t.expand(frontier, structuralDependents, ct)
			level++
			t.phase = phaseIndirect

		case phaseCascading:
			frontier = append([]*graph.Node(nil), t.reached...)
			for round := 0; round < maxCascade && len(frontier) > 0 && t.truncated == ""; round++ {
				frontier = t.expand(frontier, cascadeDependents, ChangeCascading)
			}
			t.phase = phaseReport
		}

		if t.truncated != "" {
			t.phase = phaseReport
		}
	}
}

// neighbors calls visit for each dependent of n with the edge leading to it.
type neighbors func(n *graph.Node, visit func(id string, e *graph.Edge))

// structuralDependents yields the entities that depend on n directly:
// callers, includers, file and table users, jobs, declaring owners,
// performing paragraphs and containing programs. A program also affects
// the files it writes and the tables it modifies.
func structuralDependents(n *graph.Node, visit func(string, *graph.Edge)) {
	for _, e := range n.Incoming {
		switch e.Type {
		case graph.EdgeTypeCalls, graph.EdgeTypeIncludes, graph.EdgeTypeReads, graph.EdgeTypeWrites,
			graph.EdgeTypeAccesses, graph.EdgeTypeExecutes, graph.EdgeTypeDeclares,
			graph.EdgeTypePerforms, graph.EdgeTypeContains:
			visit(e.FromID, e)
		}
	}
	if n.Kind != graph.NodeProgram {
		return
	}
	for _, e := range n.Outgoing {
		switch {
		case e.Type == graph.EdgeTypeWrites:
			visit(e.ToID, e)
		case e.Type == graph.EdgeTypeAccesses && writeOperations[e.Detail]:
			visit(e.ToID, e)
		}
	}
}

// cascadeDependents yields copybook and field propagation: the fields a
// copybook declares and the programs including it, the fields derived
// from a field and the owners declaring it.
func cascadeDependents(n *graph.Node, visit func(string, *graph.Edge)) {
	switch n.Kind {
	case graph.NodeCopybook:
		for _, e := range n.Outgoing {
			if e.Type == graph.EdgeTypeDeclares {
				visit(e.ToID, e)
			}
		}
		for _, e := range n.Incoming {
			if e.Type == graph.EdgeTypeIncludes {
				visit(e.FromID, e)
			}
		}
	case graph.NodeField:
		for _, e := range n.Outgoing {
			if e.Type == graph.EdgeTypeFlows {
				visit(e.ToID, e)
			}
		}
		for _, e := range n.Incoming {
			if e.Type == graph.EdgeTypeDeclares {
				visit(e.FromID, e)
			}
		}
	}
}

// expand visits the dependents of frontier and returns the newly reached
// nodes sorted by ID.
//
// A node reached from several frontier nodes in the same level keeps the
// most severe edge.
func (t *traversal) expand(frontier []*graph.Node, next neighbors, ct ChangeType) []*graph.Node {
	sorted := append([]*graph.Node(nil), frontier...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	found := make(map[string]int)
	discovered := make([]*graph.Node, 0)

	for _, n := range sorted {
		if err := t.ctx.Err(); err != nil {
			t.truncated = contextReason(err)
			break
		}
		if n.Kind == graph.NodeExternal && t.depth[n.ID] > 0 {
			continue
		}
		d := t.depth[n.ID] + 1

		next(n, func(id string, e *graph.Edge) {
			if t.truncated != "" {
				return
			}
			target, ok := t.g.GetNode(id)
			if !ok {
				return
			}
			sev := severityOf(e, target, ct, d)
			if i, seen := found[id]; seen {
				if sev.rank() < t.items[i].Severity.rank() {
					t.items[i].Severity, t.items[i].Via, t.items[i].From = sev, e.Type.String(), n.ID
				}
				return
			}
			if _, visited := t.depth[id]; visited {
				return
			}
			if len(t.items) >= t.maxItems {
				t.truncated = fmt.Sprintf("item limit (%d) reached", t.maxItems)
				return
			}
			t.depth[id] = d
			found[id] = len(t.items)
			t.items = append(t.items, ImpactedItem{
				Kind:       target.Kind,
				ID:         target.ID,
				Name:       target.Name,
				Owner:      target.Owner,
				FileName:   target.FileName,
				Severity:   sev,
				ChangeType: ct,
				Depth:      d,
				Via:        e.Type.String(),
				From:       n.ID,
			})
			discovered = append(discovered, target)
		})
		if t.truncated != "" {
			break
		}
	}

	t.reached = append(t.reached, discovered...)
	sort.Slice(discovered, func(i, j int) bool { return discovered[i].ID < discovered[j].ID })
	return discovered
}

// unknownEffects lists the external targets called by reached programs.
func (t *traversal) unknownEffects() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, n := range t.reached {
		if n.Kind != graph.NodeProgram {
			continue
		}
		for _, e := range n.Outgoing {
			if e.Type != graph.EdgeTypeCalls {
				continue
			}
			target, ok := t.g.GetNode(e.ToID)
			if !ok || target.Kind != graph.NodeExternal || seen[target.Name] {
				continue
			}
			seen[target.Name] = true
			out = append(out, target.Name)
		}
	}
	sort.Strings(out)
	return out
}

// contextReason describes why the context ended.
func contextReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "cancelled"
}
