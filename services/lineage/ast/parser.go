// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast builds the structural model of COBOL programs.
//
// The parser consumes normalized logical lines (see package source),
// expands COPY statements, and produces a Program: divisions, sections,
// paragraphs with classified statements, raw data description entries and
// file definitions. Malformed input never aborts parsing; problems are
// recorded as Diagnostics on the Program.
package ast

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
)

const (
	// DefaultMaxFileSize is the maximum file size the parser will accept (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold at which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024

	// DefaultMaxCopyDepth bounds nested COPY expansion.
	DefaultMaxCopyDepth = 8

	// cancelCheckInterval is how many lines are processed between
	// context checks.
	cancelCheckInterval = 256

	// areaBIndent is the indentation (relative to column 8) where area B
	// starts. Paragraph names are written in area A.
	areaBIndent = 4
)

// ParserOption configures a Parser instance.
type ParserOption func(*Parser)

// WithCopybookResolver sets the resolver used for COPY expansion.
func WithCopybookResolver(r CopybookResolver) ParserOption {
	return func(p *Parser) {
		p.resolver = r
	}
}

// WithMaxCopyDepth bounds nested COPY expansion.
func WithMaxCopyDepth(depth int) ParserOption {
	return func(p *Parser) {
		if depth > 0 {
			p.maxCopyDepth = depth
		}
	}
}

// WithMaxFileSize sets the maximum file size the parser will accept.
func WithMaxFileSize(bytes int64) ParserOption {
	return func(p *Parser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithNormalizeOptions passes options to the source normalizer.
func WithNormalizeOptions(opts ...source.Option) ParserOption {
	return func(p *Parser) {
		p.normalize = append(p.normalize, opts...)
	}
}

// Parser builds Programs from COBOL source.
//
// Thread Safety:
//
//	A Parser holds only configuration and is safe for concurrent use,
//	provided the CopybookResolver is.
type Parser struct {
	resolver     CopybookResolver
	maxCopyDepth int
	maxFileSize  int64
	normalize    []source.Option
}

// NewParser creates a Parser with the given options.
//
// Example:
//
//	parser := ast.NewParser(ast.WithCopybookResolver(ast.CopybookMap{
//	    "CUSTREC": custrec,
//	}))
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		maxCopyDepth: DefaultMaxCopyDepth,
		maxFileSize:  DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse builds the structural model of one source file.
//
// Description:
//
//	Normalizes the text, expands COPY statements through the resolver and
//	walks the logical lines once, tracking the current division, section
//	and paragraph. Data description entries are captured raw; parent
//	links and types are filled in by the hierarchy resolver. Statements
//	are split at verbs, classified and nested by their enclosing
//	IF/ELSE/EVALUATE/WHEN/inline PERFORM. Unrecognized text is kept as an
//	OTHER statement with a StructuralParseWarning.
//
//	A file without PROGRAM-ID gets its id from the file name (upper-case,
//	without extension), or "UNKNOWN" when no name is given.
//
// Inputs:
//   - ctx: Context for cancellation. Checked periodically while walking lines.
//   - content: Raw source bytes. Invalid UTF-8 is replaced and reported.
//   - fileName: Path used for locations and the fallback program id.
//
// Outputs:
//   - *Program: The structural model. Never nil on success.
//   - error: Non-nil only for unusable input:
//   - ErrInvalidContent: nil content or binary data
//   - ErrFileTooLarge: content exceeds the size limit
//   - ErrContextCanceled: the context was canceled
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *Parser) Parse(ctx context.Context, content []byte, fileName string) (*Program, error) {
	ctx, span := startParseSpan(ctx, fileName, len(content))
	defer span.End()

	start := time.Now()
	fail := func(kind string, err error) (*Program, error) {
		recordParseMetrics(ctx, kind, time.Since(start), nil, false)
		span.RecordError(err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail("unknown", NewParseError(fileName, 0, "parse canceled before start",
			fmt.Errorf("%w: %w", ErrContextCanceled, err)))
	}
	if content == nil {
		return fail("unknown", NewParseError(fileName, 0, "nil content", ErrInvalidContent))
	}
	if int64(len(content)) > p.maxFileSize {
		return fail("unknown", fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize))
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return fail("unknown", NewParseError(fileName, 0, "binary content", ErrInvalidContent))
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", fileName),
			slog.Int("size_bytes", len(content)))
	}

	text := string(content)
	hash := sha256.Sum256(content)

	kind := source.DetectKind(text, fileName)
	prog := &Program{
		ProgramID:   fallbackProgramID(fileName),
		FileName:    fileName,
		Kind:        kind,
		Divisions:   make([]Division, 0, 4),
		Paragraphs:  make([]Paragraph, 0),
		DataItems:   make([]DataItem, 0),
		ContentHash: hex.EncodeToString(hash[:]),
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
		prog.addDiagnostic(DiagStructuralParse, 0, "", "content is not valid UTF-8; invalid bytes replaced")
	}

	norm := source.Normalize(text, p.normalize...)
	prog.LineCount = norm.PhysicalLines

	switch kind {
	case source.KindJCL:
		prog.Job = ParseJCL([]byte(text), fileName)
		prog.ProgramID = prog.Job.Name
		prog.ProgramIDFound = prog.Job.HasJobCard
	case source.KindSQL:
		// Standalone SQL carries no COBOL structure.
	default:
		lines := p.expand(prog, norm.Lines, "", 0, nil, 0)
		st := newParseState(ctx, prog)
		for i, l := range lines {
			if i%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return fail(string(kind), NewParseError(fileName, l.number, "parse canceled",
						fmt.Errorf("%w: %w", ErrContextCanceled, err)))
				}
			}
			st.line(l)
		}
		st.finish()
	}

	setParseSpanResult(span, prog)
	recordParseMetrics(ctx, string(kind), time.Since(start), prog, true)
	return prog, nil
}

// fallbackProgramID derives a program id from a file name.
func fallbackProgramID(fileName string) string {
	if stem := fileStem(fileName); stem != "" {
		return stem
	}
	return "UNKNOWN"
}

// entryKind identifies what an open declaration accumulates.
type entryKind int

const (
	entryData entryKind = iota
	entrySelect
	entryFD
)

// parseState tracks position while walking the lines of one program.
type parseState struct {
	ctx  context.Context
	prog *Program

	division    DivisionKind
	dataSection DataSection
	procSection string
	fd          string

	expectProgramID bool
	skipExec        bool

	// Open declaration (data entry, SELECT or FD).
	entry         []token
	entryLine     int
	entryKind     entryKind
	entryCopybook string

	// Open statement.
	stmt     []token
	stmtLine int
	inExec   bool

	para   int
	blocks []int
}

func newParseState(ctx context.Context, prog *Program) *parseState {
	return &parseState{ctx: ctx, prog: prog, para: -1}
}

// line processes one expanded logical line.
func (s *parseState) line(l srcLine) {
	if l.copyRef >= 0 {
		s.copyMarker(l)
		return
	}
	toks := tokenize(l.text)
	if len(toks) == 0 {
		return
	}

	if !s.inExec && len(toks) >= 2 && toks[1].upper == "DIVISION" {
		if kind, ok := divisionKind(toks[0].upper); ok {
			s.flushEntry()
			s.flushStatement(true)
			s.openDivision(kind, toks, l.number)
			return
		}
	}
	if isCompilerDirective(toks) {
		return
	}

	if s.expectProgramID {
		s.expectProgramID = false
		s.setProgramID(toks[0])
		return
	}

	switch s.division {
	case DivisionIdentification:
		s.identification(toks)
	case DivisionEnvironment:
		s.environment(toks, l)
	case DivisionData:
		s.data(toks, l)
	case DivisionProcedure:
		s.procedure(toks, l)
	default:
		// Copybooks and fragments have no division headers.
		switch {
		case toks[0].upper == "PROGRAM-ID":
			s.identification(toks)
		case s.stmt == nil && (s.entry != nil || isLevelToken(toks[0]) || toks[0].upper == "FD" || toks[0].upper == "SD"):
			s.data(toks, l)
		default:
			s.procedure(toks, l)
		}
	}
}

// isCompilerDirective reports whether the line is a listing directive.
func isCompilerDirective(toks []token) bool {
	if len(toks) != 1 {
		return false
	}
	switch toks[0].upper {
	case "EJECT", "SKIP1", "SKIP2", "SKIP3", "DECLARATIVES":
		return true
	}
	return false
}

func divisionKind(word string) (DivisionKind, bool) {
	switch word {
	case "IDENTIFICATION", "ID":
		return DivisionIdentification, true
	case "ENVIRONMENT":
		return DivisionEnvironment, true
	case "DATA":
		return DivisionData, true
	case "PROCEDURE":
		return DivisionProcedure, true
	}
	return "", false
}

func (s *parseState) openDivision(kind DivisionKind, toks []token, line int) {
	d := Division{Kind: kind, Line: line}
	if kind == DivisionProcedure {
		if u := indexWord(toks, 2, "USING"); u >= 0 {
			for _, op := range parseOperands(toks[u+1:]) {
				d.Using = append(d.Using, op.Name)
			}
		}
	}
	s.prog.Divisions = append(s.prog.Divisions, d)
	s.division = kind
	s.dataSection = SectionNone
	s.procSection = ""
	s.fd = ""
	s.para = -1
	s.blocks = s.blocks[:0]
}

// addSection records a section in the current division.
func (s *parseState) addSection(name string, line int) {
	if n := len(s.prog.Divisions); n > 0 {
		d := &s.prog.Divisions[n-1]
		d.Sections = append(d.Sections, Section{Name: name, Line: line})
	}
}

func isSectionHeader(toks []token) bool {
	return len(toks) >= 2 && len(toks) <= 3 && !toks[0].literal &&
		toks[1].upper == "SECTION" && toks[len(toks)-1].endsSentence
}

func (s *parseState) identification(toks []token) {
	if toks[0].upper != "PROGRAM-ID" {
		return
	}
	if len(toks) < 2 {
		s.expectProgramID = true
		return
	}
	s.setProgramID(toks[1])
}

func (s *parseState) setProgramID(t token) {
	if s.prog.ProgramIDFound {
		return
	}
	id := strings.ToUpper(strings.Trim(t.text, `'"`))
	if id == "" {
		return
	}
	s.prog.ProgramID = id
	s.prog.ProgramIDFound = true
}

func (s *parseState) environment(toks []token, l srcLine) {
	if isSectionHeader(toks) {
		s.flushEntry()
		s.addSection(toks[0].upper, l.number)
		return
	}
	for _, t := range toks {
		if s.entry == nil {
			if t.upper != "SELECT" || t.literal {
				continue
			}
			s.openEntry(entrySelect, l)
		}
		s.entry = append(s.entry, t)
		if t.endsSentence {
			s.flushEntry()
		}
	}
}

func (s *parseState) data(toks []token, l srcLine) {
	if s.skipExec {
		s.skipToEndExec(toks)
		return
	}
	if isSectionHeader(toks) {
		s.flushEntry()
		name := toks[0].upper
		s.dataSection = DataSection(name)
		s.fd = ""
		s.addSection(name, l.number)
		return
	}
	if s.entry != nil && (isLevelToken(toks[0]) || toks[0].upper == "FD" || toks[0].upper == "SD") {
		s.flushEntry()
	}

	stray := false
	for i, t := range toks {
		if s.entry == nil {
			switch {
			case t.upper == "EXEC" && !t.literal:
				s.skipExec = true
				s.skipToEndExec(toks[i:])
				return
			case t.upper == "FD" || t.upper == "SD":
				s.openEntry(entryFD, l)
			case isLevelToken(t):
				s.openEntry(entryData, l)
			default:
				if !stray && t.upper != "" {
					stray = true
					s.prog.addDiagnostic(DiagStructuralParse, l.number, t.upper,
						"unexpected text in DATA DIVISION: %q", strings.TrimSpace(l.text))
				}
				continue
			}
		}
		s.entry = append(s.entry, t)
		if t.endsSentence {
			s.flushEntry()
		}
	}
}

// skipToEndExec drops tokens of an EXEC block inside the DATA DIVISION
// (DECLARE TABLE, BEGIN DECLARE SECTION).
func (s *parseState) skipToEndExec(toks []token) {
	for _, t := range toks {
		if t.upper == "END-EXEC" {
			s.skipExec = false
			return
		}
	}
}

func (s *parseState) openEntry(kind entryKind, l srcLine) {
	s.entry = make([]token, 0, 8)
	s.entryKind = kind
	s.entryLine = l.number
	s.entryCopybook = l.copybook
}

// flushEntry completes the open declaration.
func (s *parseState) flushEntry() {
	if s.entry == nil {
		return
	}
	toks := s.entry
	s.entry = nil

	switch s.entryKind {
	case entryData:
		item := parseDataEntry(toks, s.entryLine, s.dataSection)
		item.Copybook = s.entryCopybook
		if s.fd != "" && s.dataSection == SectionFile {
			item.File = s.fd
			if item.Level == 1 {
				if fd, ok := s.prog.File(s.fd); ok {
					fd.Records = append(fd.Records, item.Name)
				}
			}
		}
		s.prog.DataItems = append(s.prog.DataItems, item)

	case entryFD:
		fd := parseFileDescription(toks, s.entryLine)
		s.fd = fd.Name
		if existing, ok := s.prog.File(fd.Name); ok {
			existing.Kind = fd.Kind
			return
		}
		s.prog.Files = append(s.prog.Files, fd)

	case entrySelect:
		fd := parseSelect(toks, s.entryLine)
		if existing, ok := s.prog.File(fd.Name); ok {
			existing.Assign = fd.Assign
			existing.Organization = fd.Organization
			existing.Access = fd.Access
			return
		}
		s.prog.Files = append(s.prog.Files, fd)
	}
}

func (s *parseState) procedure(toks []token, l srcLine) {
	if !s.inExec {
		if isSectionHeader(toks) {
			s.flushStatement(true)
			s.procSection = toks[0].upper
			s.addSection(s.procSection, l.number)
			s.openParagraph(toks[0].upper, l.number, true)
			return
		}
		if len(toks) >= 2 && toks[0].upper == "END" && (toks[1].upper == "PROGRAM" || toks[1].upper == "DECLARATIVES") {
			s.flushStatement(true)
			return
		}
		if s.isParagraphHeader(toks, l) {
			s.flushStatement(true)
			s.openParagraph(toks[0].upper, l.number, false)
			toks = toks[1:]
		}
	}

	for i, t := range toks {
		if s.inExec {
			s.stmt = append(s.stmt, t)
			if t.upper == "END-EXEC" && !t.literal {
				s.inExec = false
				s.flushStatement(t.endsSentence)
			}
			continue
		}
		if t.upper == "" {
			// A lone separator period.
			s.flushStatement(true)
			continue
		}
		starts := startsStatement(toks, i)
		if starts || s.stmt == nil {
			s.flushStatement(false)
			s.stmt = []token{t}
			s.stmtLine = l.number
			if t.upper == "EXEC" && !t.literal {
				s.inExec = true
			}
		} else {
			s.stmt = append(s.stmt, t)
		}
		if t.endsSentence && !s.inExec {
			s.flushStatement(true)
		}
	}
}

// isParagraphHeader reports whether the line opens a paragraph: a name
// ending with a separator period, alone on the line or followed by a
// statement. While a statement is open the name must sit in area A so
// that a continued operand ("MOVE A TO" / "WS-B.") is not mistaken for a
// header.
func (s *parseState) isParagraphHeader(toks []token, l srcLine) bool {
	first := toks[0]
	if first.literal || !first.endsSentence || first.upper == "" {
		return false
	}
	if !IsIdentifier(first.upper) && !isDigits(first.upper) {
		return false
	}
	if startsStatement(toks, 0) || IsReserved(first.upper) {
		return false
	}
	if len(toks) > 1 && !startsStatement(toks, 1) {
		return false
	}
	if s.stmt != nil && indentOf(l.text) >= areaBIndent {
		return false
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func indentOf(s string) int {
	return len(s) - len(strings.TrimLeft(s, " "))
}

func (s *parseState) openParagraph(name string, line int, isSection bool) {
	if s.prog.ParagraphIndex(name) >= 0 {
		renamed := name
		for n := 2; s.prog.ParagraphIndex(renamed) >= 0; n++ {
			renamed = fmt.Sprintf("%s#%d", name, n)
		}
		s.prog.addDiagnostic(DiagStructuralParse, line, name,
			"duplicate paragraph %s renamed to %s", name, renamed)
		name = renamed
	}
	s.prog.Paragraphs = append(s.prog.Paragraphs, Paragraph{
		Name:       name,
		Line:       line,
		Section:    s.procSection,
		IsSection:  isSection,
		Statements: make([]Statement, 0, 8),
	})
	s.para = len(s.prog.Paragraphs) - 1
	s.blocks = s.blocks[:0]
}

// currentParagraph returns the open paragraph, creating the implicit one
// for statements that precede the first header.
func (s *parseState) currentParagraph(line int) *Paragraph {
	if s.para < 0 {
		s.prog.Paragraphs = append(s.prog.Paragraphs, Paragraph{
			Name:       s.prog.ProgramID,
			Line:       line,
			Implicit:   true,
			Statements: make([]Statement, 0, 8),
		})
		s.para = len(s.prog.Paragraphs) - 1
	}
	return &s.prog.Paragraphs[s.para]
}

// copyMarker handles the marker line emitted for each COPY.
func (s *parseState) copyMarker(l srcLine) {
	ref := s.prog.Copies[l.copyRef]
	if s.division != DivisionProcedure {
		s.flushEntry()
		return
	}
	s.flushStatement(false)
	s.addStatement(Statement{
		Kind:       StmtCopy,
		Line:       l.number,
		Content:    "COPY " + ref.Name,
		Confidence: recognizedConfidence,
		Copy: &CopyDirective{
			Name:     ref.Name,
			Library:  ref.Library,
			Resolved: ref.Resolved,
		},
	})
}

// flushStatement completes the open statement. endSentence closes every
// open block.
func (s *parseState) flushStatement(endSentence bool) {
	if s.stmt != nil {
		toks := s.stmt
		s.stmt = nil
		s.inExec = false

		st := buildStatement(s.ctx, toks, s.stmtLine)
		if st.Kind == StmtOther {
			s.prog.addDiagnostic(DiagStructuralParse, st.Line, toks[0].upper,
				"unrecognized statement: %q", truncate(st.Content, 80))
		}
		s.addStatement(st)
	}
	if endSentence {
		s.blocks = s.blocks[:0]
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// addStatement appends a statement to the current paragraph and applies
// block nesting.
func (s *parseState) addStatement(st Statement) {
	para := s.currentParagraph(st.Line)
	idx := len(para.Statements)

	kindAt := func(i int) StatementKind { return para.Statements[i].Kind }
	top := func() int {
		if len(s.blocks) == 0 {
			return -1
		}
		return s.blocks[len(s.blocks)-1]
	}
	popUntil := func(kinds ...StatementKind) bool {
		for len(s.blocks) > 0 {
			k := kindAt(top())
			for _, want := range kinds {
				if k == want {
					return true
				}
			}
			s.blocks = s.blocks[:len(s.blocks)-1]
		}
		return false
	}
	pop := func() {
		if len(s.blocks) > 0 {
			s.blocks = s.blocks[:len(s.blocks)-1]
		}
	}

	switch st.Kind {
	case StmtElse:
		// ELSE takes the place of its IF so a later ELSE pairs with an
		// outer IF.
		if popUntil(StmtIf) {
			st.Block = top()
			pop()
		} else {
			st.Block = top()
		}
		s.blocks = append(s.blocks, idx)
	case StmtWhen:
		popUntil(StmtEvaluate, StmtSearch)
		st.Block = top()
		s.blocks = append(s.blocks, idx)
	case StmtScopeEnd:
		switch strings.ToUpper(firstWord(st.Content)) {
		case "END-IF":
			if popUntil(StmtIf, StmtElse) {
				pop()
			}
		case "END-EVALUATE":
			if popUntil(StmtEvaluate) {
				pop()
			}
		case "END-SEARCH":
			if popUntil(StmtSearch) {
				pop()
			}
		case "END-PERFORM":
			if popUntil(StmtPerform) {
				pop()
			}
		}
		st.Block = top()
	case StmtPerform:
		st.Block = top()
		if st.Perform != nil && st.Perform.Inline {
			s.blocks = append(s.blocks, idx)
		}
	default:
		st.Block = top()
		if st.Kind.opensBlock() {
			s.blocks = append(s.blocks, idx)
		}
	}

	para.Statements = append(para.Statements, st)

	switch {
	case st.Perform != nil && st.Perform.Target != "":
		para.Performs = append(para.Performs, st.Perform.Target)
		if st.Perform.Thru != "" {
			para.Performs = append(para.Performs, st.Perform.Thru)
		}
	case st.GoTo != nil:
		para.GoTos = append(para.GoTos, st.GoTo.Targets...)
	}
}

// finish closes open declarations and statements and links record-level
// file statements to their files.
func (s *parseState) finish() {
	s.flushEntry()
	s.flushStatement(true)

	for pi := range s.prog.Paragraphs {
		stmts := s.prog.Paragraphs[pi].Statements
		for si := range stmts {
			io := stmts[si].FileIO
			if io == nil || io.Record == "" || len(io.Files) > 0 {
				continue
			}
			if fd, ok := s.prog.FileForRecord(io.Record); ok {
				io.Files = []FileRef{{Name: fd.Name}}
			}
		}
	}
}
