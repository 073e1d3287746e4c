// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the Analysis Graph: the merged dependency graph of a
// batch of analyzed COBOL sources.
//
// Nodes are programs, copybooks, fields, paragraphs, files, tables, JCL
// jobs and unresolved external targets. Edges carry the relationships the
// per-program stages found: calls, copybook inclusion, file and database
// access, job step execution, field declaration, data flow and PERFORM
// control transfer.
//
// # Lifecycle
//
// A Graph is built by a single writer (Build), frozen, and published as an
// immutable Snapshot through a Publisher. Readers load the current
// Snapshot once per query and keep it for the whole query, so a refresh
// never changes a graph under a running traversal.
//
// # Thread Safety
//
// Graph is NOT safe for concurrent use while building. After Freeze the
// graph and every Snapshot wrapping it may be read from any goroutine.
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphFrozen rejects writes after Freeze.
	ErrGraphFrozen = errors.New("graph: frozen, writes rejected")

	// ErrGraphNotFrozen rejects publishing a graph still under construction.
	ErrGraphNotFrozen = errors.New("graph: publish requires a frozen graph")

	// ErrNodeNotFound means an edge endpoint or lookup id is absent.
	ErrNodeNotFound = errors.New("graph: no such node")

	ErrDuplicateNode = errors.New("graph: node id already present")

	// ErrMaxNodesExceeded and ErrMaxEdgesExceeded report that a
	// WithMaxNodes or WithMaxEdges limit was reached. Build stops and
	// returns the partial graph.
	ErrMaxNodesExceeded = errors.New("graph: node limit reached")
	ErrMaxEdgesExceeded = errors.New("graph: edge limit reached")

	// ErrInvalidNode rejects a node without id or kind.
	ErrInvalidNode = errors.New("graph: node needs id and kind")

	ErrNilGraph = errors.New("graph: nil graph")

	// ErrBuildCancelled is recorded on the build span when ctx ends
	// between programs.
	ErrBuildCancelled = errors.New("graph: build interrupted")
)

// EdgeError records one relationship Build could not add, for instance a
// call whose endpoint could not be created. The rest of the graph is kept.
type EdgeError struct {
	FromID   string
	ToID     string
	EdgeType EdgeType
	Err      error
}

func (e EdgeError) Error() string {
	return fmt.Sprintf("%s %s -> %s skipped: %v", e.EdgeType, e.FromID, e.ToID, e.Err)
}

func (e EdgeError) Unwrap() error { return e.Err }
