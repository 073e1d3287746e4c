// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hierarchy rebuilds COBOL data item trees from level numbers.
//
// The parser records data description entries flat, in declaration order.
// Resolve links each entry to its enclosing item by the classic
// nearest-enclosing-level rule and infers storage types and lengths from
// PICTURE and USAGE. All functions are pure and allocate a new arena.
package hierarchy

import (
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
)

// Special level numbers.
const (
	LevelRecord    = 1
	LevelRenames   = 66
	LevelStandard  = 77
	LevelCondition = 88
)

// ValidLevel reports whether level is 01-49, 66, 77 or 88.
func ValidLevel(level int) bool {
	return (level >= 1 && level <= 49) || level == LevelRenames ||
		level == LevelStandard || level == LevelCondition
}

// Resolve links data items into trees and infers their types.
//
// Description:
//
//	Each item's parent is the nearest preceding item of the same section
//	with a strictly smaller level; the scan gives up at the first item
//	whose level is not greater than the candidate parent's. Levels 01 and
//	77 are always roots. A level-88 condition name belongs to the nearest
//	preceding item that is not itself a condition name. A level-66
//	RENAMES entry belongs to the current 01 record. Children lists follow
//	declaration order, so a pre-order walk (Flatten) reproduces the input.
//
//	Types and lengths come from InferPicture. Group items are
//	ALPHANUMERIC and their length is the sum of their children's lengths
//	times OCCURS, skipping condition names, RENAMES and REDEFINES.
//
// Inputs:
//   - items: Flat entries in declaration order. Not modified.
//
// Outputs:
//   - []ast.DataItem: A new arena with Parent, Children, DataType, Length
//     and EditMask set. Same order and length as items.
//   - []ast.Diagnostic: MalformedDataItemWarning for unreadable PICTURE
//     clauses and invalid levels; UnresolvedReferenceWarning for a
//     REDEFINES naming no preceding item.
//
// Example:
//
//	items, diags := hierarchy.Resolve(prog.DataItems)
func Resolve(items []ast.DataItem) ([]ast.DataItem, []ast.Diagnostic) {
	out := make([]ast.DataItem, len(items))
	var diags []ast.Diagnostic

	for i := range items {
		out[i] = items[i]
		out[i].Parent = ast.NoParent
		out[i].Children = nil
		if items[i].Values != nil {
			out[i].Values = append([]string(nil), items[i].Values...)
		}
	}

	var (
		stack     []int
		record    = -1
		lastData  = -1
		section   ast.DataSection
		sectionAt = false
	)
	link := func(child, parent int) {
		out[child].Parent = parent
		out[parent].Children = append(out[parent].Children, child)
	}

	for i := range out {
		it := &out[i]
		if !sectionAt || it.Section != section {
			section, sectionAt = it.Section, true
			stack, record, lastData = stack[:0], -1, -1
		}

		switch {
		case !ValidLevel(it.Level):
			// Kept as a root; the items after it start a new scope.
			diags = append(diags, ast.NewDiagnostic(ast.DiagMalformedDataItem, it.Line, it.Name,
				"%v: %s has level %d", ErrInvalidLevel, it.Name, it.Level))
			stack, record, lastData = stack[:0], -1, -1

		case it.Level == LevelCondition:
			it.IsConditionName = true
			if lastData >= 0 {
				link(i, lastData)
			}

		case it.Level == LevelRenames:
			stack = stack[:0]
			if record >= 0 {
				link(i, record)
				stack = append(stack, record)
			}
			// A following 88 names a value of the renamed range.
			lastData = i

		case it.Level == LevelRecord || it.Level == LevelStandard:
			stack = append(stack[:0], i)
			record = -1
			if it.Level == LevelRecord {
				record = i
			}
			lastData = i

		default:
			for len(stack) > 0 && out[stack[len(stack)-1]].Level >= it.Level {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				link(i, stack[len(stack)-1])
			}
			stack = append(stack, i)
			lastData = i
		}

		if it.Redefines != "" && !redefinesTargetExists(out[:i], it.Redefines) {
			diags = append(diags, ast.NewDiagnostic(ast.DiagUnresolvedReference, it.Line, it.Redefines,
				"%s REDEFINES unknown item %s", it.Name, it.Redefines))
		}
	}

	for i := range out {
		it := &out[i]
		if it.IsConditionName || it.Level == LevelRenames {
			continue
		}
		info, err := InferPicture(it.Picture, it.Usage)
		if err != nil {
			diags = append(diags, ast.NewDiagnostic(ast.DiagMalformedDataItem, it.Line, it.Name,
				"%s: %v", it.Name, err))
		}
		it.DataType = info.DataType
		it.Length = info.Length
		it.EditMask = info.EditMask
	}

	// Children always follow their parent, so a reverse sweep sees every
	// child's length before the group that contains it.
	for i := len(out) - 1; i >= 0; i-- {
		it := &out[i]
		if it.Picture != "" || len(it.Children) == 0 || it.IsConditionName || it.Level == LevelRenames {
			continue
		}
		total := 0
		for _, c := range it.Children {
			child := &out[c]
			if child.IsConditionName || child.Level == LevelRenames || child.Redefines != "" {
				continue
			}
			total += child.Length * occurrences(child)
		}
		if it.DataType == "" {
			it.DataType = ast.DataTypeAlphanumeric
		}
		if total > 0 {
			it.Length = total
		}
	}

	for i := range out {
		if out[i].DataType == "" && !out[i].IsConditionName && out[i].Level != LevelRenames {
			out[i].DataType = ast.DataTypeAlphanumeric
		}
	}
	return out, diags
}

// occurrences returns the storage multiplier of an OCCURS clause, using
// the upper bound of OCCURS n TO m.
func occurrences(it *ast.DataItem) int {
	switch {
	case it.OccursMax > 0:
		return it.OccursMax
	case it.Occurs > 0:
		return it.Occurs
	default:
		return 1
	}
}

func redefinesTargetExists(prev []ast.DataItem, name string) bool {
	for i := len(prev) - 1; i >= 0; i-- {
		if prev[i].Name == name {
			return true
		}
	}
	return false
}

// ResolveProgram resolves the data items of p in place and appends the
// diagnostics to p.Diagnostics.
//
// Thread Safety:
//
//	Not safe for concurrent use on the same Program. Call it before the
//	Program is shared.
func ResolveProgram(p *ast.Program) {
	if p == nil {
		return
	}
	items, diags := Resolve(p.DataItems)
	p.DataItems = items
	p.Diagnostics = append(p.Diagnostics, diags...)
}

// Roots returns the arena indices of items without a parent, in order.
func Roots(items []ast.DataItem) []int {
	roots := make([]int, 0, 4)
	for i := range items {
		if items[i].Parent == ast.NoParent {
			roots = append(roots, i)
		}
	}
	return roots
}

// Flatten returns arena indices in pre-order: each root followed by its
// descendants in Children order.
func Flatten(items []ast.DataItem) []int {
	order := make([]int, 0, len(items))
	var walk func(i int)
	walk = func(i int) {
		order = append(order, i)
		for _, c := range items[i].Children {
			walk(c)
		}
	}
	for _, r := range Roots(items) {
		walk(r)
	}
	return order
}

// Path returns the qualified name of item i ("NAME OF GROUP OF RECORD").
func Path(items []ast.DataItem, i int) string {
	if i < 0 || i >= len(items) {
		return ""
	}
	parts := make([]string, 0, 4)
	for j, guard := i, 0; j != ast.NoParent && guard <= len(items); j, guard = items[j].Parent, guard+1 {
		parts = append(parts, items[j].Name)
	}
	return strings.Join(parts, " OF ")
}

// Descendants returns all arena indices below item i in pre-order.
func Descendants(items []ast.DataItem, i int) []int {
	if i < 0 || i >= len(items) {
		return nil
	}
	out := make([]int, 0, len(items[i].Children))
	var walk func(j int)
	walk = func(j int) {
		for _, c := range items[j].Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(i)
	return out
}
