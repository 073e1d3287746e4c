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
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/sql"
)

var (
	hostVariableRe = regexp.MustCompile(`:([A-Za-z][A-Za-z0-9_-]*)`)
	sqlLexRe       = regexp.MustCompile(`'(?:[^']|'')*'|"[^"]*"|:[A-Za-z][A-Za-z0-9_-]*|[A-Za-z0-9_$#@]+|[.,();*=<>]`)
)

// tableKeywords introduce a table name in SQL text.
var tableKeywords = map[string]struct{}{
	"FROM": {}, "JOIN": {}, "INTO": {}, "UPDATE": {}, "TABLE": {},
}

// sqlStopWords can follow a table keyword without naming a table.
var sqlStopWords = map[string]struct{}{
	"SELECT": {}, "WHERE": {}, "SET": {}, "VALUES": {}, "ON": {}, "AS": {},
	"GROUP": {}, "ORDER": {}, "HAVING": {}, "UNION": {}, "WITH": {}, "FOR": {},
	"INNER": {}, "LEFT": {}, "RIGHT": {}, "OUTER": {}, "FULL": {}, "CROSS": {},
	"LATERAL": {}, "FETCH": {}, "CURSOR": {},
}

// extractSQL analyzes the text of an EXEC SQL block.
//
// Description:
//
//	Tokens come from the tree-sitter SQL grammar when it produces a tree,
//	and from a keyword lexer otherwise. Embedded SQL is often a fragment
//	the grammar does not accept (DECLARE CURSOR, FETCH, INCLUDE), and
//	tree-sitter keeps every leaf even inside ERROR nodes, so both paths feed
//	the same table scan. Host variables (":NAME") are read from the raw
//	text because the grammar splits hyphenated names.
func extractSQL(ctx context.Context, text string) *SQLBlock {
	block := &SQLBlock{
		Text:      text,
		Operation: strings.ToUpper(firstWord(text)),
	}

	// Host variables become parameter markers so neither tokenizer can
	// mistake them for table names.
	scan := hostVariableRe.ReplaceAllString(text, "?")
	leaves := sqlLeaves(ctx, scan)
	if len(leaves) == 0 {
		leaves = lexSQL(scan)
	}
	block.Tables = scanTables(leaves)

	upper := strings.ToUpper(text)
	intoStart, intoEnd := -1, -1
	if block.Operation == "SELECT" || block.Operation == "FETCH" {
		if i := strings.Index(upper, " INTO "); i >= 0 {
			intoStart = i
			intoEnd = len(upper)
			if j := strings.Index(upper[i+6:], " FROM "); j >= 0 {
				intoEnd = i + 6 + j
			}
		}
	}

	seen := make(map[string]bool)
	for _, m := range hostVariableRe.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToUpper(text[m[2]:m[3]])
		op := Operand{Name: name}
		if m[0] > intoStart && m[0] < intoEnd {
			block.IntoVariables = append(block.IntoVariables, op)
			continue
		}
		if !seen[name] {
			seen[name] = true
			block.HostVariables = append(block.HostVariables, op)
		}
	}
	return block
}

// sqlLeaves returns the text of every leaf of the tree-sitter parse.
func sqlLeaves(ctx context.Context, text string) []string {
	src := []byte(text)
	parser := sitter.NewParser()
	parser.SetLanguage(sql.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	leaves := make([]string, 0, 32)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		count := int(n.ChildCount())
		if count == 0 {
			if c := strings.TrimSpace(n.Content(src)); c != "" {
				leaves = append(leaves, c)
			}
			return
		}
		for i := 0; i < count; i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	return leaves
}

// lexSQL is the fallback tokenizer.
func lexSQL(text string) []string {
	return sqlLexRe.FindAllString(text, -1)
}

// scanTables collects table names following FROM, JOIN, INTO, UPDATE and
// TABLE. Comma-separated FROM lists and schema-qualified names are handled.
func scanTables(leaves []string) []string {
	tables := make([]string, 0, 2)
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}

	// readName reads ident ("." ident)* starting at i.
	readName := func(i int) (string, int) {
		if i >= len(leaves) || !isSQLIdent(leaves[i]) {
			return "", i
		}
		name := strings.ToUpper(leaves[i])
		i++
		for i+1 < len(leaves) && leaves[i] == "." && isSQLIdent(leaves[i+1]) {
			name += "." + strings.ToUpper(leaves[i+1])
			i += 2
		}
		return name, i
	}

	for i := 0; i < len(leaves); i++ {
		kw := strings.ToUpper(leaves[i])
		if _, ok := tableKeywords[kw]; !ok {
			continue
		}
		name, next := readName(i + 1)
		if name == "" {
			continue
		}
		add(name)
		if kw != "FROM" {
			continue
		}
		// FROM a [alias], b [alias] ...
		j := next
		for j < len(leaves) {
			if isSQLIdent(leaves[j]) {
				j++
				continue
			}
			if leaves[j] != "," {
				break
			}
			n, k := readName(j + 1)
			if n == "" {
				break
			}
			add(n)
			j = k
		}
	}
	return tables
}

// isSQLIdent reports whether s can be a table identifier.
func isSQLIdent(s string) bool {
	if s == "" || strings.HasPrefix(s, ":") {
		return false
	}
	upper := strings.ToUpper(s)
	if _, stop := sqlStopWords[upper]; stop {
		return false
	}
	if _, kw := tableKeywords[upper]; kw {
		return false
	}
	c := s[0]
	if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_' || c == '"') {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '$' || c == '#' || c == '@' || c == '"' || c == '.') {
			return false
		}
	}
	return true
}
