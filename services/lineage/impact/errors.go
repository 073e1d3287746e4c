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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// Sentinel errors for impact queries.
var (
	// ErrRootNotFound is wrapped by NotFoundError. Match it with errors.Is.
	ErrRootNotFound = errors.New("impact root not found")

	// ErrInvalidDepth is returned for a negative maximum depth.
	ErrInvalidDepth = errors.New("max depth must not be negative")

	// ErrNoSnapshot is returned when no analysis graph has been published.
	ErrNoSnapshot = errors.New("no analysis snapshot published")

	// ErrNoRoots is returned by AnalyzeRoots for an empty change set.
	ErrNoRoots = errors.New("no impact roots given")

	// ErrInvalidDiff is returned when a unified diff cannot be parsed.
	ErrInvalidDiff = errors.New("invalid unified diff")
)

// NotFoundError reports an impact root that is not in the snapshot.
//
// Example:
//
//	_, err := analyzer.Analyze(ctx, graph.NodeProgram, "PAYROLL", 3)
//	var nf *impact.NotFoundError
//	if errors.As(err, &nf) {
//	    fmt.Printf("no %s named %s\n", nf.Kind, nf.ID)
//	}
type NotFoundError struct {
	Kind graph.NodeKind
	ID   string

	// SnapshotID identifies the snapshot that was searched.
	SnapshotID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in snapshot %s", e.Kind, e.ID, e.SnapshotID)
}

// Unwrap returns ErrRootNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrRootNotFound
}
