// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source turns raw COBOL source text into normalized logical lines.
//
// # Description
//
// COBOL source arrives in one of two layouts. Fixed format reserves columns
// 1-6 for sequence numbers, column 7 for an indicator (comment, continuation,
// debugging line) and ignores everything past column 72. Free format has no
// column rules and uses "*>" for comments. The normalizer hides both layouts
// behind a single ordered list of LogicalLine values whose Number is always
// the 1-based line of the original text, so every later stage can report
// locations against what the user sees in their editor.
//
// The package also classifies a source unit (program, copybook, JCL, SQL)
// from its file name and content.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package source

import (
	"strings"
)

// Format identifies the reference format of a source unit.
type Format int

const (
	// FormatAuto asks the normalizer to detect the format.
	FormatAuto Format = iota

	// FormatFixed is the classic 80-column card layout.
	FormatFixed

	// FormatFree is free-form source with "*>" comments.
	FormatFree
)

// String returns the string representation of the Format.
func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatFixed:
		return "fixed"
	case FormatFree:
		return "free"
	default:
		return "unknown"
	}
}

const (
	// sequenceAreaEnd is the last column of the sequence area (1-based).
	sequenceAreaEnd = 6

	// indicatorColumn is the 0-based index of the indicator column.
	indicatorColumn = 6

	// codeAreaEnd is the last column of area B (1-based, exclusive slice bound).
	codeAreaEnd = 72

	// DefaultTabWidth is the tab stop used when expanding tabs.
	DefaultTabWidth = 8
)

// LogicalLine is one normalized line of code.
type LogicalLine struct {
	// Number is the 1-based line number in the original text. For lines
	// joined through continuation this is the first physical line.
	Number int `json:"number"`

	// Text is the code with sequence/indicator/identification areas and
	// comments removed. Trailing whitespace is trimmed.
	Text string `json:"text"`
}

// Normalized is the result of normalizing a source unit.
type Normalized struct {
	// Lines holds the logical lines in source order. Blank and comment
	// lines are not included.
	Lines []LogicalLine `json:"lines"`

	// Format is the format that was applied (never FormatAuto).
	Format Format `json:"format"`

	// CommentLines counts physical lines dropped as comments.
	CommentLines int `json:"comment_lines"`

	// ContinuationLines counts physical lines merged into a previous line.
	ContinuationLines int `json:"continuation_lines"`

	// PhysicalLines is the number of lines in the original text.
	PhysicalLines int `json:"physical_lines"`
}

// Options configures normalization.
type Options struct {
	// Format forces a reference format. Default: FormatAuto.
	Format Format

	// DebugLines keeps fixed-format debugging lines (indicator D).
	// Default: false (treated as comments).
	DebugLines bool

	// TabWidth is the tab stop used for tab expansion. Default: 8.
	TabWidth int
}

// Option is a functional option for Normalize.
type Option func(*Options)

// DefaultOptions returns the default normalization options.
func DefaultOptions() Options {
	return Options{
		Format:   FormatAuto,
		TabWidth: DefaultTabWidth,
	}
}

// WithFormat forces the reference format.
func WithFormat(f Format) Option {
	return func(o *Options) {
		o.Format = f
	}
}

// WithDebugLines keeps or drops fixed-format debugging lines.
func WithDebugLines(keep bool) Option {
	return func(o *Options) {
		o.DebugLines = keep
	}
}

// WithTabWidth sets the tab stop used for tab expansion.
func WithTabWidth(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.TabWidth = n
		}
	}
}

// Normalize strips layout areas and comments from COBOL source text.
//
// Description:
//
//	Splits the text into physical lines, applies the fixed or free format
//	rules and merges continuation lines into their predecessor. Compiler
//	directives (">>SOURCE FORMAT ...") switch the format for the lines that
//	follow and are themselves dropped. Normalization never fails: text that
//	does not fit the format is passed through as code.
//
// Inputs:
//
//	text - Decoded source text. CRLF and LF line endings are accepted.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Normalized - Logical lines with original line numbers. Never nil.
//
// Example:
//
//	n := source.Normalize(string(content))
//	for _, line := range n.Lines {
//	    fmt.Printf("%5d %s\n", line.Number, line.Text)
//	}
func Normalize(text string, opts ...Option) *Normalized {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	physical := splitLines(text)
	for i, line := range physical {
		physical[i] = expandTabs(line, options.TabWidth)
	}

	format := options.Format
	if format == FormatAuto {
		format = DetectFormat(physical)
	}

	n := &Normalized{
		Lines:         make([]LogicalLine, 0, len(physical)),
		Format:        format,
		PhysicalLines: len(physical),
	}

	// pending holds untrimmed code per logical line so literal
	// continuations keep their significant trailing spaces.
	var pending []string

	flush := func() {
		for i := range n.Lines {
			n.Lines[i].Text = strings.TrimRight(pending[i], " ")
		}
	}

	for idx, raw := range physical {
		lineNo := idx + 1

		if dir, ok := directive(raw); ok {
			if f := directiveFormat(dir); f != FormatAuto {
				format = f
			}
			continue
		}

		var code string
		var continuation bool

		switch format {
		case FormatFixed:
			indicator, body, ok := fixedLine(raw)
			if !ok {
				continue
			}
			switch indicator {
			case '*', '/':
				n.CommentLines++
				continue
			case 'D', 'd':
				if !options.DebugLines {
					n.CommentLines++
					continue
				}
			case '-':
				continuation = true
			}
			code = stripInlineComment(body)

		default:
			trimmed := strings.TrimLeft(raw, " ")
			if strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/") {
				n.CommentLines++
				continue
			}
			code = stripInlineComment(raw)
		}

		if strings.TrimSpace(code) == "" {
			if continuation {
				n.ContinuationLines++
			}
			continue
		}

		if continuation && len(n.Lines) > 0 {
			last := len(pending) - 1
			pending[last] = joinContinuation(pending[last], code)
			n.ContinuationLines++
			continue
		}

		n.Lines = append(n.Lines, LogicalLine{Number: lineNo})
		pending = append(pending, code)
	}

	flush()

	// Drop lines that became empty after trimming (indicator-only lines).
	out := n.Lines[:0]
	for _, l := range n.Lines {
		if strings.TrimSpace(l.Text) != "" {
			out = append(out, l)
		}
	}
	n.Lines = out

	return n
}

// DetectFormat guesses the reference format from physical lines.
//
// Description:
//
//	A line votes for fixed format when its sequence area holds only digits
//	or spaces and its indicator column holds a valid indicator. A line with
//	code starting inside the sequence area votes for free format. Ties and
//	empty input resolve to fixed format, the historical default.
//
// Inputs:
//
//	lines - Physical lines with tabs already expanded.
//
// Outputs:
//
//	Format - FormatFixed or FormatFree.
func DetectFormat(lines []string) Format {
	fixedVotes, freeVotes := 0, 0

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, ok := directive(line); ok {
			if f := directiveFormat(strings.ToUpper(line)); f != FormatAuto {
				return f
			}
			continue
		}

		if looksFixed(line) {
			fixedVotes++
		} else {
			freeVotes++
		}
	}

	if freeVotes > fixedVotes {
		return FormatFree
	}
	return FormatFixed
}

// looksFixed reports whether a line is consistent with fixed format.
func looksFixed(line string) bool {
	if len(line) <= indicatorColumn {
		// Short lines only carry a sequence number (or nothing at all).
		return isSequenceArea(line)
	}
	if !isSequenceArea(line[:sequenceAreaEnd]) {
		return false
	}
	switch line[indicatorColumn] {
	case ' ', '*', '/', '-', 'D', 'd':
		return true
	default:
		return false
	}
}

// isSequenceArea reports whether s contains only digits or spaces.
//
// Some shops put alphanumeric change tags in columns 1-6; those are accepted
// when they contain at least one digit and no spaces in between.
func isSequenceArea(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != ' ' && (c < '0' || c > '9') {
			return isChangeTag(s)
		}
	}
	return true
}

// isChangeTag accepts tags like "CHG001" or "AB1234" in the sequence area.
func isChangeTag(s string) bool {
	if len(s) != sequenceAreaEnd {
		return false
	}
	hasDigit := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return hasDigit
}

// fixedLine splits a fixed-format line into indicator and code area.
//
// Returns ok=false when the line carries no code at all.
func fixedLine(raw string) (indicator byte, code string, ok bool) {
	if len(raw) <= indicatorColumn {
		return 0, "", false
	}
	indicator = raw[indicatorColumn]
	end := len(raw)
	if end > codeAreaEnd {
		end = codeAreaEnd
	}
	if end <= indicatorColumn+1 {
		return indicator, "", indicator == '-'
	}
	return indicator, raw[indicatorColumn+1 : end], true
}

// joinContinuation appends a continuation line to the previous code.
//
// A continued alphanumeric literal resumes after the first quote on the
// continuation line. Any other continuation joins the word directly.
func joinContinuation(prev, cont string) string {
	cont = strings.TrimLeft(cont, " ")
	if quote, open := openLiteral(prev); open {
		if len(cont) > 0 && cont[0] == quote {
			return prev + cont[1:]
		}
		return prev + cont
	}
	return strings.TrimRight(prev, " ") + cont
}

// openLiteral reports whether s ends inside an unterminated literal.
func openLiteral(s string) (byte, bool) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		}
	}
	return quote, quote != 0
}

// stripInlineComment removes a "*>" comment outside of literals.
func stripInlineComment(s string) string {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && c == '*' && i+1 < len(s) && s[i+1] == '>':
			return s[:i]
		}
	}
	return s
}

// directive returns the upper-cased directive text when the line is a
// compiler directive (">>..." or a "$SET" line).
func directive(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if len(line) > indicatorColumn && line[indicatorColumn] == '$' {
		return strings.ToUpper(trimmed), true
	}
	// Directives may sit in the sequence area in fixed format.
	if idx := strings.Index(trimmed, ">>"); idx >= 0 && idx <= sequenceAreaEnd {
		return strings.ToUpper(trimmed[idx:]), true
	}
	return "", false
}

// directiveFormat extracts a format switch from a directive.
func directiveFormat(dir string) Format {
	if !strings.Contains(dir, "SOURCE") {
		return FormatAuto
	}
	switch {
	case strings.Contains(dir, "FREE"):
		return FormatFree
	case strings.Contains(dir, "FIXED"):
		return FormatFixed
	default:
		return FormatAuto
	}
}

// splitLines splits text into lines, accepting LF and CRLF.
func splitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// expandTabs replaces tabs with spaces up to the next tab stop.
func expandTabs(line string, width int) string {
	if !strings.Contains(line, "\t") {
		return line
	}
	if width <= 0 {
		width = DefaultTabWidth
	}
	var b strings.Builder
	col := 0
	for _, r := range line {
		if r == '\t' {
			pad := width - col%width
			b.WriteString(strings.Repeat(" ", pad))
			col += pad
			continue
		}
		b.WriteRune(r)
		col++
	}
	return b.String()
}
