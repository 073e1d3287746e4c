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

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
)

// Capacity limits applied when no GraphOption overrides them. A mainframe
// portfolio of a few thousand members stays far below both.
const (
	DefaultMaxNodes = 1_000_000
	DefaultMaxEdges = 10_000_000
)

// GraphState is Building until Freeze, ReadOnly after.
type GraphState int

const (
	GraphStateBuilding GraphState = iota
	GraphStateReadOnly
)

func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// NodeKind classifies an entity of the Analysis Graph.
type NodeKind string

const (
	NodeProgram   NodeKind = "program"
	NodeCopybook  NodeKind = "copybook"
	NodeField     NodeKind = "field"
	NodeParagraph NodeKind = "paragraph"
	NodeFile      NodeKind = "file"
	NodeTable     NodeKind = "table"
	NodeJob       NodeKind = "job"

	// NodeExternal is a call target that is not part of the batch.
	NodeExternal NodeKind = "external"
)

// ParseNodeKind maps a case-insensitive kind name to a NodeKind.
func ParseNodeKind(s string) (NodeKind, bool) {
	switch k := NodeKind(strings.ToLower(strings.TrimSpace(s))); k {
	case NodeProgram, NodeCopybook, NodeField, NodeParagraph, NodeFile,
		NodeTable, NodeJob, NodeExternal:
		return k, true
	}
	return "", false
}

// EdgeType defines the type of relationship between two entities.
type EdgeType int

const (
	EdgeTypeUnknown EdgeType = iota

	// EdgeTypeCalls indicates a program calls another program.
	EdgeTypeCalls

	// EdgeTypeIncludes indicates a program or copybook copies a copybook.
	EdgeTypeIncludes

	// EdgeTypeReads indicates a program reads a file.
	EdgeTypeReads

	// EdgeTypeWrites indicates a program writes a file.
	EdgeTypeWrites

	// EdgeTypeAccesses indicates a program uses a database table.
	EdgeTypeAccesses

	// EdgeTypeExecutes indicates a JCL job step runs a program.
	EdgeTypeExecutes

	// EdgeTypeDeclares indicates a program or copybook declares a field.
	EdgeTypeDeclares

	// EdgeTypeFlows indicates a value moves from one field into another.
	EdgeTypeFlows

	// EdgeTypeContains indicates a program owns a paragraph.
	EdgeTypeContains

	// EdgeTypePerforms indicates a PERFORM or GO TO between paragraphs.
	EdgeTypePerforms

	// NumEdgeTypes sizes the per-type edge index.
	NumEdgeTypes
)

var edgeTypeNames = [NumEdgeTypes]string{
	EdgeTypeUnknown:  "UNKNOWN",
	EdgeTypeCalls:    "CALLS",
	EdgeTypeIncludes: "INCLUDES",
	EdgeTypeReads:    "READS",
	EdgeTypeWrites:   "WRITES",
	EdgeTypeAccesses: "ACCESSES",
	EdgeTypeExecutes: "EXECUTES",
	EdgeTypeDeclares: "DECLARES",
	EdgeTypeFlows:    "FLOWS",
	EdgeTypeContains: "CONTAINS",
	EdgeTypePerforms: "PERFORMS",
}

func (t EdgeType) String() string {
	if t.valid() {
		return edgeTypeNames[t]
	}
	return "UNKNOWN"
}

func (t EdgeType) valid() bool { return t >= 0 && t < NumEdgeTypes }

// MarshalText encodes the edge type as its name.
func (t EdgeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (t *EdgeType) UnmarshalText(text []byte) error {
	for i, name := range edgeTypeNames {
		if name == string(text) {
			*t = EdgeType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown edge type %q", text)
}

// Edge represents a directed relationship between two entities.
type Edge struct {
	// Read as "FromID <Type> ToID": MAINPGM CALLS SUBPGM, a FLOWS edge
	// moves the value of FromID into ToID.
	FromID string   `json:"from"`
	ToID   string   `json:"to"`
	Type   EdgeType `json:"type"`

	// Weak marks a dynamic CALL, whose target was named by a variable.
	Weak bool `json:"weak,omitempty"`

	// Detail refines the type: the lineage transformation of a FLOWS edge,
	// the SQL operation of an ACCESSES edge, the call mechanism of a
	// CALLS edge or the transfer kind of a PERFORMS edge.
	Detail string `json:"detail,omitempty"`

	// Location is where the relationship is expressed in source.
	Location lineage.Location `json:"location"`
}

// Node is one entity of the Analysis Graph with its relationships.
type Node struct {
	// ID is "kind:name", with fields and paragraphs scoped by their owner
	// ("field:OWNER/NAME"). See NodeID and ScopedID.
	ID string `json:"id"`

	Kind NodeKind `json:"kind"`

	// Name is the COBOL name of the entity.
	Name string `json:"name"`

	// Owner is the program or copybook that declares a field, or the
	// program that contains a paragraph. Empty for other kinds.
	Owner string `json:"owner,omitempty"`

	FileName string `json:"file_name,omitempty"`
	Line     int    `json:"line,omitempty"`

	// Adjacency, filled by AddEdge. Not serialized; Export lists edges
	// separately.
	Outgoing []*Edge `json:"-"`
	Incoming []*Edge `json:"-"`
}

// NodeID returns the ID of an unscoped entity.
func NodeID(kind NodeKind, name string) string {
	return string(kind) + ":" + name
}

// ScopedID returns the ID of a field or paragraph declared by owner.
func ScopedID(kind NodeKind, owner, name string) string {
	return string(kind) + ":" + owner + "/" + name
}

// GraphOptions holds the capacity limits of a Graph. Build stops at the
// first limit hit and returns what it has, flagged Incomplete.
type GraphOptions struct {
	MaxNodes int
	MaxEdges int
}

// DefaultGraphOptions returns DefaultMaxNodes and DefaultMaxEdges.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{MaxNodes: DefaultMaxNodes, MaxEdges: DefaultMaxEdges}
}

// GraphOption adjusts GraphOptions.
type GraphOption func(*GraphOptions)

// WithMaxNodes caps the node count.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) { o.MaxNodes = n }
}

// WithMaxEdges caps the edge count.
func WithMaxEdges(n int) GraphOption {
	return func(o *GraphOptions) { o.MaxEdges = n }
}

// edgeKey identifies an edge for de-duplication.
type edgeKey struct {
	from, to string
	typ      EdgeType
}

// Graph is the merged dependency graph of one analysis batch.
//
// One goroutine writes it (Build). Once frozen it never changes and any
// number of goroutines may read it, which is what lets a Snapshot be
// shared without locks.
type Graph struct {
	// nodes maps node ID to Node.
	nodes map[string]*Node

	// order lists node IDs in insertion order until Freeze sorts it.
	order []string

	// edges contains all edges in insertion order.
	edges []*Edge

	// seen rejects a second edge with the same endpoints and type.
	seen map[edgeKey]*Edge

	// nodesByName maps an entity name to its nodes. Fields and paragraphs
	// share names across owners.
	nodesByName map[string][]*Node

	// nodesByKind maps a kind to its nodes.
	nodesByKind map[NodeKind][]*Node

	byType [NumEdgeTypes][]*Edge

	state   GraphState
	options GraphOptions

	// BuiltAtMilli is the Unix millisecond time of Freeze, 0 before.
	BuiltAtMilli int64
}

// NewGraph returns an empty graph in the Building state. It must be
// frozen before it is published.
func NewGraph(opts ...GraphOption) *Graph {
	options := DefaultGraphOptions()
	for _, apply := range opts {
		apply(&options)
	}

	return &Graph{
		nodes:       make(map[string]*Node),
		seen:        make(map[edgeKey]*Edge),
		nodesByName: make(map[string][]*Node),
		nodesByKind: make(map[NodeKind][]*Node),
		state:       GraphStateBuilding,
		options:     options,
	}
}

func (g *Graph) State() GraphState { return g.state }

// IsFrozen reports whether Freeze has run.
func (g *Graph) IsFrozen() bool {
	return g.state == GraphStateReadOnly
}

// Freeze sorts node order and every index by node ID, so two builds of
// the same input iterate identically, and rejects further writes with
// ErrGraphFrozen. A second call does nothing.
func (g *Graph) Freeze() {
	if g.IsFrozen() {
		return
	}
	sort.Strings(g.order)
	byID := func(nodes []*Node) {
		sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	}
	for _, nodes := range g.nodesByName {
		byID(nodes)
	}
	for _, nodes := range g.nodesByKind {
		byID(nodes)
	}
	g.seen = nil
	g.state = GraphStateReadOnly
	g.BuiltAtMilli = time.Now().UnixMilli()
}

func (g *Graph) NodeCount() int { return len(g.nodes) }
func (g *Graph) EdgeCount() int { return len(g.edges) }

// AddNode stores node, clearing its adjacency lists, and indexes it by
// name and kind. It fails with ErrGraphFrozen, ErrInvalidNode (no ID or
// Kind), ErrDuplicateNode or ErrMaxNodesExceeded.
func (g *Graph) AddNode(node *Node) (*Node, error) {
	if g.IsFrozen() {
		return nil, ErrGraphFrozen
	}
	if node == nil || node.ID == "" || node.Kind == "" {
		return nil, ErrInvalidNode
	}
	if _, exists := g.nodes[node.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}
	if len(g.nodes) >= g.options.MaxNodes {
		return nil, ErrMaxNodesExceeded
	}

	node.Outgoing = nil
	node.Incoming = nil
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	if node.Name != "" {
		g.nodesByName[node.Name] = append(g.nodesByName[node.Name], node)
	}
	g.nodesByKind[node.Kind] = append(g.nodesByKind[node.Kind], node)
	return node, nil
}

// GetNode looks a node up by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// AddEdge creates a directed edge between two existing nodes.
//
// Description:
//
//	A second edge with the same endpoints and type is not stored; the
//	first one, and its location, is kept. AddEdge reports whether the
//	edge was new.
//
// Both endpoints must exist (ErrNodeNotFound). A frozen graph returns
// ErrGraphFrozen and a full one ErrMaxEdgesExceeded.
func (g *Graph) AddEdge(e Edge) (bool, error) {
	if g.IsFrozen() {
		return false, ErrGraphFrozen
	}

	from, ok := g.nodes[e.FromID]
	if !ok {
		return false, fmt.Errorf("%w: source %s", ErrNodeNotFound, e.FromID)
	}
	to, ok := g.nodes[e.ToID]
	if !ok {
		return false, fmt.Errorf("%w: target %s", ErrNodeNotFound, e.ToID)
	}

	key := edgeKey{from: e.FromID, to: e.ToID, typ: e.Type}
	if prev, dup := g.seen[key]; dup {
		// A static call outranks a dynamic one between the same programs.
		if prev.Weak && !e.Weak {
			prev.Weak = false
		}
		return false, nil
	}
	if len(g.edges) >= g.options.MaxEdges {
		return false, ErrMaxEdgesExceeded
	}

	stored := &e
	g.seen[key] = stored
	g.edges = append(g.edges, stored)
	from.Outgoing = append(from.Outgoing, stored)
	to.Incoming = append(to.Incoming, stored)
	if e.Type.valid() {
		g.byType[e.Type] = append(g.byType[e.Type], stored)
	}
	return true, nil
}

// Nodes returns all nodes ordered by ID once the graph is frozen.
//
// Callers should NOT modify the returned nodes.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns every edge in insertion order. The slice is shared; do
// not modify it.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// GetNodesByKind returns the nodes of one kind.
//
// Returns a defensive copy to prevent external mutation.
func (g *Graph) GetNodesByKind(kind NodeKind) []*Node {
	return append([]*Node{}, g.nodesByKind[kind]...)
}

// GetNodesByName returns every node carrying the given entity name.
func (g *Graph) GetNodesByName(name string) []*Node {
	return append([]*Node{}, g.nodesByName[name]...)
}

// GetEdgesByType returns the edges of one type in insertion order.
func (g *Graph) GetEdgesByType(t EdgeType) []*Edge {
	if !t.valid() {
		return []*Edge{}
	}
	return append([]*Edge{}, g.byType[t]...)
}

// Find resolves a user-supplied entity name to nodes.
//
// Description:
//
//	The name is upper-cased. An exact ID match ("program:PAYROLL" or the
//	bare name combined with kind) wins. Fields and paragraphs may also be
//	given as "OWNER/NAME", or by bare name, which matches the entity in
//	every owner. A program query also matches an external node of the
//	same name, so an unresolved target can be analyzed.
//
// Outputs:
//
//	[]*Node - Matching nodes ordered by ID. Empty when none match.
func (g *Graph) Find(kind NodeKind, name string) []*Node {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return []*Node{}
	}
	if n, ok := g.nodes[string(kind)+":"+name]; ok {
		return []*Node{n}
	}

	switch kind {
	case NodeField, NodeParagraph:
		if strings.Contains(name, "/") {
			return []*Node{}
		}
		out := make([]*Node, 0, 2)
		for _, n := range g.nodesByName[name] {
			if n.Kind == kind {
				out = append(out, n)
			}
		}
		return out
	case NodeProgram:
		if n, ok := g.nodes[NodeID(NodeExternal, name)]; ok {
			return []*Node{n}
		}
	}
	return []*Node{}
}

// GraphStats summarizes a graph for the CLI and the watch server.
type GraphStats struct {
	NodeCount    int              `json:"node_count"`
	EdgeCount    int              `json:"edge_count"`
	NodesByKind  map[NodeKind]int `json:"nodes_by_kind"`
	EdgesByType  map[string]int   `json:"edges_by_type"`
	State        string           `json:"state"`
	BuiltAtMilli int64            `json:"built_at_milli"`
}

// Stats returns node and edge counts broken down by kind and type.
func (g *Graph) Stats() GraphStats {
	st := GraphStats{
		NodeCount:    len(g.nodes),
		EdgeCount:    len(g.edges),
		NodesByKind:  make(map[NodeKind]int, len(g.nodesByKind)),
		EdgesByType:  make(map[string]int),
		State:        g.state.String(),
		BuiltAtMilli: g.BuiltAtMilli,
	}
	for t, edges := range g.byType {
		if len(edges) > 0 {
			st.EdgesByType[EdgeType(t).String()] = len(edges)
		}
	}
	for kind, nodes := range g.nodesByKind {
		if len(nodes) > 0 {
			st.NodesByKind[kind] = len(nodes)
		}
	}
	return st
}
