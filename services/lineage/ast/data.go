// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strconv"
	"strings"
)

// dataClauseWords start a clause of a data description entry. A second
// token that is one of these means the entry has no name (implicit FILLER).
var dataClauseWords = map[string]struct{}{
	"PIC": {}, "PICTURE": {}, "USAGE": {}, "VALUE": {}, "VALUES": {},
	"OCCURS": {}, "REDEFINES": {}, "RENAMES": {}, "SIGN": {}, "JUSTIFIED": {},
	"JUST": {}, "BLANK": {}, "SYNC": {}, "SYNCHRONIZED": {}, "EXTERNAL": {},
	"GLOBAL": {}, "INDEXED": {}, "ASCENDING": {}, "DESCENDING": {},
	"COMP": {}, "COMP-1": {}, "COMP-2": {}, "COMP-3": {}, "COMP-4": {}, "COMP-5": {},
	"COMPUTATIONAL": {}, "COMPUTATIONAL-1": {}, "COMPUTATIONAL-2": {},
	"COMPUTATIONAL-3": {}, "COMPUTATIONAL-4": {}, "COMPUTATIONAL-5": {},
	"BINARY": {}, "PACKED-DECIMAL": {}, "DISPLAY": {}, "INDEX": {}, "POINTER": {},
	"NATIONAL": {},
}

// usageWords maps USAGE spellings to their canonical form.
var usageWords = map[string]string{
	"COMP":            "COMP",
	"COMPUTATIONAL":   "COMP",
	"COMP-4":          "COMP-4",
	"COMPUTATIONAL-4": "COMP-4",
	"COMP-5":          "COMP-5",
	"COMPUTATIONAL-5": "COMP-5",
	"COMP-1":          "COMP-1",
	"COMPUTATIONAL-1": "COMP-1",
	"COMP-2":          "COMP-2",
	"COMPUTATIONAL-2": "COMP-2",
	"COMP-3":          "COMP-3",
	"COMPUTATIONAL-3": "COMP-3",
	"PACKED-DECIMAL":  "COMP-3",
	"BINARY":          "BINARY",
	"DISPLAY":         "DISPLAY",
	"INDEX":           "INDEX",
	"POINTER":         "POINTER",
	"NATIONAL":        "NATIONAL",
}

// isLevelToken reports whether a token can start a data entry.
func isLevelToken(t token) bool {
	if t.literal || t.upper == "" || len(t.upper) > 2 {
		return false
	}
	for i := 0; i < len(t.upper); i++ {
		if t.upper[i] < '0' || t.upper[i] > '9' {
			return false
		}
	}
	return true
}

// parseDataEntry builds a DataItem from the tokens of one entry.
//
// Only clauses are captured here. Parent links, data types and lengths are
// computed by the hierarchy resolver once all entries are known.
func parseDataEntry(toks []token, line int, section DataSection) DataItem {
	item := DataItem{
		Name:    "FILLER",
		Parent:  NoParent,
		Section: section,
		Line:    line,
	}
	if len(toks) == 0 {
		return item
	}

	item.Level, _ = strconv.Atoi(toks[0].upper)
	i := 1
	if i < len(toks) && !toks[i].literal {
		if _, isClause := dataClauseWords[toks[i].upper]; !isClause {
			item.Name = toks[i].upper
			i++
		}
	}
	if item.Level == 88 {
		item.IsConditionName = true
	}

	next := func() string {
		for i < len(toks) && (toks[i].upper == "IS" || toks[i].upper == "ARE") {
			i++
		}
		if i >= len(toks) {
			return ""
		}
		v := toks[i]
		i++
		return v.upper
	}

	for i < len(toks) {
		t := toks[i]
		i++
		if t.literal {
			continue
		}
		switch w := t.upper; w {
		case "PIC", "PICTURE":
			item.Picture = next()
		case "USAGE":
			if u, ok := usageWords[next()]; ok {
				item.Usage = u
			}
		case "VALUE", "VALUES":
			values := collectValues(toks, &i)
			if item.IsConditionName {
				item.Values = values
			}
			if len(values) > 0 {
				item.Value = values[0]
			}
		case "OCCURS":
			item.Occurs, _ = strconv.Atoi(next())
			if i < len(toks) && toks[i].upper == "TO" {
				i++
				item.OccursMax, _ = strconv.Atoi(next())
			}
		case "DEPENDING":
			if i < len(toks) && toks[i].upper == "ON" {
				i++
			}
			item.DependingOn = next()
		case "INDEXED":
			if i < len(toks) && toks[i].upper == "BY" {
				i++
			}
			for i < len(toks) && IsDataName(toks[i].upper) {
				if _, isClause := dataClauseWords[toks[i].upper]; isClause {
					break
				}
				i++
			}
		case "REDEFINES":
			item.Redefines = next()
		case "RENAMES":
			from := next()
			if i < len(toks) && (toks[i].upper == "THRU" || toks[i].upper == "THROUGH") {
				i++
				from += " THRU " + next()
			}
			item.Renames = from
		default:
			if u, ok := usageWords[w]; ok {
				item.Usage = u
			}
		}
	}
	return item
}

// collectValues reads VALUE clause literals up to the next clause word.
// "A THRU B" ranges are kept as one value.
func collectValues(toks []token, i *int) []string {
	values := make([]string, 0, 1)
	for *i < len(toks) {
		t := toks[*i]
		if !t.literal {
			if t.upper == "IS" || t.upper == "ARE" || t.upper == "ALL" {
				*i++
				continue
			}
			if t.upper == "THRU" || t.upper == "THROUGH" {
				*i++
				if *i < len(toks) && len(values) > 0 {
					values[len(values)-1] += " THRU " + toks[*i].text
					*i++
				}
				continue
			}
			if _, isClause := dataClauseWords[t.upper]; isClause {
				return values
			}
		}
		values = append(values, t.text)
		*i++
	}
	return values
}

// parseFileDescription parses an FD or SD entry.
func parseFileDescription(toks []token, line int) FileDefinition {
	fd := FileDefinition{Kind: toks[0].upper, Line: line}
	if len(toks) > 1 {
		fd.Name = toks[1].upper
	}
	return fd
}

// parseSelect parses a FILE-CONTROL SELECT entry.
//
//	SELECT [OPTIONAL] name ASSIGN [TO] ext
//	    [ORGANIZATION IS org] [ACCESS MODE IS mode] ...
func parseSelect(toks []token, line int) FileDefinition {
	fd := FileDefinition{Kind: "SELECT", Line: line}
	i := 1
	if i < len(toks) && toks[i].upper == "OPTIONAL" {
		i++
	}
	if i < len(toks) {
		fd.Name = toks[i].upper
		i++
	}

	skip := func(words ...string) {
		for i < len(toks) {
			matched := false
			for _, w := range words {
				if toks[i].upper == w {
					matched = true
					break
				}
			}
			if !matched {
				return
			}
			i++
		}
	}
	value := func() string {
		if i >= len(toks) {
			return ""
		}
		v := toks[i]
		i++
		if v.literal {
			return strings.Trim(v.text, `'"`)
		}
		return v.upper
	}

	for i < len(toks) {
		w := toks[i].upper
		i++
		switch w {
		case "ASSIGN":
			skip("TO", "USING")
			fd.Assign = value()
		case "ORGANIZATION":
			skip("IS")
			fd.Organization = value()
			if fd.Organization == "LINE" {
				skip("SEQUENTIAL")
				fd.Organization = "LINE SEQUENTIAL"
			}
		case "ACCESS":
			skip("MODE", "IS")
			fd.Access = value()
		case "SEQUENTIAL", "INDEXED", "RELATIVE":
			if fd.Organization == "" {
				fd.Organization = w
			}
		}
	}
	return fd
}
