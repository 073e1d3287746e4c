// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs the per-file and batch stages over a set of COBOL
// sources and publishes the resulting analysis graph.
//
// # Description
//
// Run is the batch entry point. Per-file work (normalize, parse, resolve
// the data hierarchy, build the control flow graph) runs in a bounded
// worker pool; a barrier separates it from the batch stages (call graph,
// lineage, rule extraction) that need every program. Service keeps the
// current file set, rebuilds on change and publishes an immutable
// snapshot that impact queries read without locks.
//
// # Thread Safety
//
// Run is safe for concurrent use. Service methods are safe for concurrent
// use; concurrent refreshes are coalesced into one rebuild.
package analysis
