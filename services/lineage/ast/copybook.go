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
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
)

// CopybookResolver supplies copybook text for COPY expansion.
//
// Implementations must be safe for concurrent use: the pipeline parses
// files in parallel against one resolver.
type CopybookResolver interface {
	// ResolveCopybook returns the text of the named copybook. library is
	// the OF/IN qualifier and may be empty.
	ResolveCopybook(name, library string) ([]byte, bool)
}

// CopybookResolverFunc adapts a function to CopybookResolver.
type CopybookResolverFunc func(name, library string) ([]byte, bool)

// ResolveCopybook calls f(name, library).
func (f CopybookResolverFunc) ResolveCopybook(name, library string) ([]byte, bool) {
	return f(name, library)
}

// CopybookMap resolves copybooks from memory, keyed by upper-case name.
type CopybookMap map[string][]byte

// ResolveCopybook looks the name up, ignoring the library.
func (m CopybookMap) ResolveCopybook(name, _ string) ([]byte, bool) {
	content, ok := m[strings.ToUpper(name)]
	return content, ok
}

// CopybookDigest returns the hex SHA-256 of copybook text.
func CopybookDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// precompilerMembers are supplied by the DB2 precompiler and are never
// expected to be found on disk.
var precompilerMembers = map[string]struct{}{
	"SQLCA": {},
	"SQLDA": {},
}

var (
	copyRe = regexp.MustCompile(`(?i)(?:^|[\s.])(COPY)\s+(?:'([^']+)'|"([^"]+)"|([A-Z0-9][A-Z0-9-]*))` +
		`(?:\s+(?:OF|IN)\s+([A-Z0-9][A-Z0-9-]*))?(?:\s+REPLACING\s+(.*?))?\s*(?:\.(?:\s|$)|$)`)
	sqlIncludeRe    = regexp.MustCompile(`(?i)(EXEC)\s+SQL\s+INCLUDE\s+([A-Z0-9][A-Z0-9-]*)\s+END-EXEC\s*(?:\.|$)`)
	replacingPairRe = regexp.MustCompile(`(?is)(==.*?==|\S+)\s+BY\s+(==.*?==|\S+)`)
)

// srcLine is a logical line after COPY expansion.
type srcLine struct {
	number int
	text   string

	// copybook names the copybook the line was expanded from.
	copybook string

	// copyRef is the index into Program.Copies for a COPY marker line,
	// -1 for ordinary code.
	copyRef int
}

// copyMatch is one COPY statement (or EXEC SQL INCLUDE) found in a line.
type copyMatch struct {
	start, end int
	name       string
	library    string
	replacing  string
}

// findCopy locates the first COPY statement outside literals.
func findCopy(text string) (copyMatch, bool) {
	for offset := 0; offset < len(text); {
		sub := text[offset:]
		m := copyRe.FindStringSubmatchIndex(sub)
		inc := sqlIncludeRe.FindStringSubmatchIndex(sub)

		if inc != nil && (m == nil || inc[2] < m[2]) {
			if inLiteral(text, offset+inc[2]) {
				offset += inc[1]
				continue
			}
			return copyMatch{
				start: offset + inc[2],
				end:   offset + inc[1],
				name:  strings.ToUpper(sub[inc[4]:inc[5]]),
			}, true
		}
		if m == nil {
			return copyMatch{}, false
		}
		if inLiteral(text, offset+m[2]) {
			offset += m[3]
			continue
		}

		cm := copyMatch{start: offset + m[2], end: offset + m[1]}
		for _, g := range []int{4, 6, 8} {
			if m[g] >= 0 {
				cm.name = strings.ToUpper(sub[m[g]:m[g+1]])
				break
			}
		}
		if m[10] >= 0 {
			cm.library = strings.ToUpper(sub[m[10]:m[11]])
		}
		if m[12] >= 0 {
			cm.replacing = strings.TrimSpace(sub[m[12]:m[13]])
		}
		return cm, true
	}
	return copyMatch{}, false
}

// inLiteral reports whether position idx of s lies inside a literal.
func inLiteral(s string, idx int) bool {
	var quote byte
	for i := 0; i < idx && i < len(s); i++ {
		c := s[i]
		switch {
		case quote == 0 && isQuote(c):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		}
	}
	return quote != 0
}

// expand replaces COPY statements with the text they include.
//
// Every COPY is replaced by a marker line followed by the expanded lines.
// Lines expanded from a copybook carry the line number of the outermost
// COPY statement (at), so locations always point into the analyzed file.
func (p *Parser) expand(prog *Program, lines []source.LogicalLine, parent string, depth int, stack []string, at int) []srcLine {
	out := make([]srcLine, 0, len(lines))
	for _, l := range lines {
		number := l.Number
		if at > 0 {
			number = at
		}
		text := l.Text
		for {
			m, ok := findCopy(text)
			if !ok {
				break
			}
			if prefix := text[:m.start]; strings.TrimSpace(prefix) != "" {
				out = append(out, srcLine{number: number, text: prefix, copybook: parent, copyRef: -1})
			}
			out = append(out, p.include(prog, m, number, parent, depth, stack)...)
			text = text[m.end:]
		}
		if strings.TrimSpace(text) != "" {
			out = append(out, srcLine{number: number, text: text, copybook: parent, copyRef: -1})
		}
	}
	return out
}

// include resolves one COPY and returns its marker plus expansion.
func (p *Parser) include(prog *Program, m copyMatch, line int, parent string, depth int, stack []string) []srcLine {
	ref := CopyReference{
		Name:      m.name,
		Library:   m.library,
		Replacing: m.replacing,
		Line:      line,
		Parent:    parent,
	}
	idx := len(prog.Copies)
	marker := srcLine{number: line, copybook: parent, copyRef: idx}

	switch {
	case depth >= p.maxCopyDepth:
		prog.addDiagnostic(DiagUnresolvedReference, line, m.name,
			"%v: COPY %s at depth %d", ErrCopyDepthExceeded, m.name, depth)
	case containsString(stack, m.name):
		prog.addDiagnostic(DiagUnresolvedReference, line, m.name,
			"recursive COPY %s ignored", m.name)
	default:
		var content []byte
		ok := false
		if p.resolver != nil {
			content, ok = p.resolver.ResolveCopybook(m.name, m.library)
		}
		if ok {
			ref.Resolved = true
			ref.Digest = CopybookDigest(content)
			prog.Copies = append(prog.Copies, ref)

			norm := source.Normalize(string(content), p.normalize...)
			expanded := applyReplacing(norm.Lines, m.replacing)
			next := append(append(make([]string, 0, len(stack)+1), stack...), m.name)
			return append([]srcLine{marker}, p.expand(prog, expanded, m.name, depth+1, next, line)...)
		}
		if _, builtin := precompilerMembers[m.name]; !builtin {
			prog.addDiagnostic(DiagUnresolvedReference, line, m.name,
				"copybook %s not found", m.name)
		}
	}
	prog.Copies = append(prog.Copies, ref)
	return []srcLine{marker}
}

// applyReplacing applies a COPY ... REPLACING clause to copybook lines.
//
// Pseudo-text operands (==text==) replace substrings. Word operands
// replace whole COBOL words. Matching ignores case.
func applyReplacing(lines []source.LogicalLine, replacing string) []source.LogicalLine {
	if replacing == "" {
		return lines
	}
	type rule struct {
		re   *regexp.Regexp
		repl string
	}
	rules := make([]rule, 0, 2)
	for _, pair := range replacingPairRe.FindAllStringSubmatch(replacing, -1) {
		from, to := pair[1], pair[2]
		fromPseudo := strings.HasPrefix(from, "==")
		from = strings.TrimSpace(strings.Trim(from, "="))
		to = strings.TrimSpace(strings.Trim(to, "="))
		if from == "" {
			continue
		}
		escaped := strings.ReplaceAll(to, "$", "$$")
		if fromPseudo {
			rules = append(rules, rule{re: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(from)), repl: escaped})
			continue
		}
		rules = append(rules, rule{
			re:   regexp.MustCompile(`(?i)(^|[^A-Za-z0-9-])` + regexp.QuoteMeta(from) + `([^A-Za-z0-9-]|$)`),
			repl: "${1}" + escaped + "${2}",
		})
	}
	if len(rules) == 0 {
		return lines
	}

	out := make([]source.LogicalLine, len(lines))
	for i, l := range lines {
		text := l.Text
		for _, r := range rules {
			text = r.re.ReplaceAllString(text, r.repl)
		}
		out[i] = source.LogicalLine{Number: l.Number, Text: text}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
