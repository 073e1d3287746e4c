// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

// Document is the serializable form of a Snapshot. Relations are
// expressed as node id pairs.
type Document struct {
	SnapshotID string     `json:"snapshot_id,omitempty"`
	Generation uint64     `json:"generation,omitempty"`
	Stats      GraphStats `json:"stats"`
	Nodes      []Node     `json:"nodes"`
	Edges      []Edge     `json:"edges"`
}

// Export returns the graph as a Document with nodes ordered by ID and
// edges in insertion order.
func (g *Graph) Export() Document {
	doc := Document{
		Stats: g.Stats(),
		Nodes: make([]Node, 0, len(g.nodes)),
		Edges: make([]Edge, 0, len(g.edges)),
	}
	for _, n := range g.Nodes() {
		c := *n
		c.Outgoing, c.Incoming = nil, nil
		doc.Nodes = append(doc.Nodes, c)
	}
	for _, e := range g.edges {
		doc.Edges = append(doc.Edges, *e)
	}
	return doc
}

// Export returns the snapshot as a Document stamped with its identity.
func (s *Snapshot) Export() Document {
	doc := s.Graph.Export()
	doc.SnapshotID = s.ID
	doc.Generation = s.Generation
	return doc
}
