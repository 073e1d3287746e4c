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
	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
)

// Location identifies a position in analyzed source.
type Location struct {
	// FilePath is the source file the position belongs to.
	FilePath string `json:"file_path,omitempty"`

	// Program is the program id that owns the position.
	Program string `json:"program"`

	// Paragraph is the enclosing paragraph, empty outside PROCEDURE DIVISION.
	Paragraph string `json:"paragraph,omitempty"`

	// Line is the 1-based line number in the original text.
	Line int `json:"line"`
}

// DivisionKind names one of the four COBOL divisions.
type DivisionKind string

const (
	DivisionIdentification DivisionKind = "IDENTIFICATION"
	DivisionEnvironment    DivisionKind = "ENVIRONMENT"
	DivisionData           DivisionKind = "DATA"
	DivisionProcedure      DivisionKind = "PROCEDURE"
)

// Division is one division of a program with the sections declared in it.
type Division struct {
	Kind     DivisionKind `json:"kind"`
	Line     int          `json:"line"`
	Sections []Section    `json:"sections,omitempty"`

	// Using lists the PROCEDURE DIVISION USING parameters.
	Using []string `json:"using,omitempty"`
}

// Section is a named section inside a division.
type Section struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// DataSection is the DATA DIVISION section a data item is declared in.
type DataSection string

const (
	SectionNone           DataSection = ""
	SectionWorkingStorage DataSection = "WORKING-STORAGE"
	SectionLinkage        DataSection = "LINKAGE"
	SectionFile           DataSection = "FILE"
	SectionLocalStorage   DataSection = "LOCAL-STORAGE"
)

// DataType is the storage type inferred from PICTURE and USAGE clauses.
type DataType string

const (
	DataTypeAlphanumeric  DataType = "ALPHANUMERIC"
	DataTypeNumeric       DataType = "NUMERIC"
	DataTypeSignedNumeric DataType = "SIGNED_NUMERIC"
	DataTypeDecimal       DataType = "DECIMAL"
	DataTypeComp          DataType = "COMP"
	DataTypeComp3         DataType = "COMP-3"
	DataTypeBinary        DataType = "BINARY"
)

// NoParent marks a data item without an enclosing item.
const NoParent = -1

// DataItem is one data description entry.
//
// DataItems live in a per-program arena (Program.DataItems). Parent and
// Children are indices into that arena, never pointers, so a Program can
// be copied and serialized without reference cycles.
type DataItem struct {
	Name    string `json:"name"`
	Level   int    `json:"level"`
	Picture string `json:"picture,omitempty"`
	Usage   string `json:"usage,omitempty"`
	Value   string `json:"value,omitempty"`

	// Values holds the VALUE clause contents of a level-88 condition name.
	Values []string `json:"values,omitempty"`

	Occurs      int    `json:"occurs,omitempty"`
	OccursMax   int    `json:"occurs_max,omitempty"`
	DependingOn string `json:"depending_on,omitempty"`
	Redefines   string `json:"redefines,omitempty"`
	Renames     string `json:"renames,omitempty"`

	// Parent is the arena index of the enclosing item, NoParent for roots.
	Parent int `json:"parent"`

	// Children are arena indices of the directly subordinate items in
	// declaration order.
	Children []int `json:"children,omitempty"`

	Section  DataSection `json:"section"`
	DataType DataType    `json:"data_type,omitempty"`
	Length   int         `json:"length"`

	// EditMask is the PICTURE string when it contains editing symbols.
	EditMask string `json:"edit_mask,omitempty"`

	IsConditionName bool `json:"is_condition_name,omitempty"`

	// Line is where the entry starts. Items expanded from a copybook carry
	// the line of the COPY statement.
	Line int `json:"line"`

	// Copybook names the copybook the item was expanded from.
	Copybook string `json:"copybook,omitempty"`

	// File names the FD/SD the item belongs to (FILE SECTION records).
	File string `json:"file,omitempty"`
}

// IsGroup reports whether the item is a group item.
func (d *DataItem) IsGroup() bool {
	return d.Picture == "" && len(d.Children) > 0 && !d.IsConditionName
}

// FileDefinition describes a file declared through SELECT and FD/SD.
type FileDefinition struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Line         int      `json:"line"`
	Records      []string `json:"records,omitempty"`
	Assign       string   `json:"assign,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Access       string   `json:"access,omitempty"`
}

// CopyReference records one COPY statement (or EXEC SQL INCLUDE).
type CopyReference struct {
	Name      string `json:"name"`
	Library   string `json:"library,omitempty"`
	Replacing string `json:"replacing,omitempty"`
	Line      int    `json:"line"`
	Resolved  bool   `json:"resolved"`

	// Digest is the CopybookDigest of the text the COPY expanded to,
	// empty when it was not resolved.
	Digest string `json:"digest,omitempty"`

	// Parent is the copybook containing this COPY, empty for the program.
	Parent string `json:"parent,omitempty"`
}

// DiagnosticKind classifies a non-fatal problem found during analysis.
type DiagnosticKind string

const (
	// DiagStructuralParse marks a line or statement that could not be
	// classified. The text is kept as an OTHER statement.
	DiagStructuralParse DiagnosticKind = "StructuralParseWarning"

	// DiagUnresolvedReference marks a CALL, COPY, PERFORM or GO TO target
	// that could not be found.
	DiagUnresolvedReference DiagnosticKind = "UnresolvedReferenceWarning"

	// DiagMalformedDataItem marks a data entry whose PICTURE or level
	// could not be interpreted. The item is kept with default typing.
	DiagMalformedDataItem DiagnosticKind = "MalformedDataItemWarning"
)

// Diagnostic is a non-fatal finding attached to the owning Program.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
	Line    int            `json:"line,omitempty"`
	Target  string         `json:"target,omitempty"`
}

// Paragraph is a named procedure unit.
type Paragraph struct {
	Name    string `json:"name"`
	Line    int    `json:"line"`
	Section string `json:"section,omitempty"`

	// IsSection marks the unit opened by a PROCEDURE DIVISION section
	// header. Statements between the header and the first paragraph of
	// the section belong to it.
	IsSection bool `json:"is_section,omitempty"`

	// Implicit marks the unit holding statements that precede the first
	// paragraph header. It is named after the program id.
	Implicit bool `json:"implicit,omitempty"`

	Statements []Statement `json:"statements"`

	// Performs and GoTos list targets in statement order (duplicates kept).
	Performs []string `json:"performs,omitempty"`
	GoTos    []string `json:"gotos,omitempty"`
}

// Program is the structural model of one source unit.
//
// A Program is built once by the parser and the hierarchy resolver and is
// read-only afterwards. Every input file yields exactly one Program, even
// when no PROGRAM-ID is present.
type Program struct {
	ProgramID      string      `json:"program_id"`
	ProgramIDFound bool        `json:"program_id_found"`
	FileName       string      `json:"file_name"`
	Kind           source.Kind `json:"kind"`

	Divisions   []Division       `json:"divisions"`
	Paragraphs  []Paragraph      `json:"paragraphs"`
	DataItems   []DataItem       `json:"data_items"`
	Files       []FileDefinition `json:"files,omitempty"`
	Copies      []CopyReference  `json:"copies,omitempty"`
	Diagnostics []Diagnostic     `json:"diagnostics,omitempty"`

	// Job holds the job model of a JCL member, nil otherwise.
	Job *Job `json:"job,omitempty"`

	// LineCount is the number of physical lines in the source text.
	LineCount int `json:"line_count"`

	// ContentHash is the hex SHA-256 of the source text.
	ContentHash string `json:"content_hash,omitempty"`
}

// ParagraphIndex returns the index of the named paragraph or -1.
func (p *Program) ParagraphIndex(name string) int {
	for i := range p.Paragraphs {
		if p.Paragraphs[i].Name == name {
			return i
		}
	}
	return -1
}

// Paragraph returns the named paragraph.
func (p *Program) Paragraph(name string) (*Paragraph, bool) {
	if i := p.ParagraphIndex(name); i >= 0 {
		return &p.Paragraphs[i], true
	}
	return nil, false
}

// DataItemIndex returns the arena index of the first item with the given
// name, or -1. FILLER items are never matched.
func (p *Program) DataItemIndex(name string) int {
	if name == "" || name == "FILLER" {
		return -1
	}
	for i := range p.DataItems {
		if p.DataItems[i].Name == name {
			return i
		}
	}
	return -1
}

// HasDivision reports whether the program declares the given division.
func (p *Program) HasDivision(kind DivisionKind) bool {
	for _, d := range p.Divisions {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// File returns the file definition with the given name.
func (p *Program) File(name string) (*FileDefinition, bool) {
	for i := range p.Files {
		if p.Files[i].Name == name {
			return &p.Files[i], true
		}
	}
	return nil, false
}

// FileForRecord returns the file whose FD declares the given record.
func (p *Program) FileForRecord(record string) (*FileDefinition, bool) {
	for i := range p.Files {
		for _, r := range p.Files[i].Records {
			if r == record {
				return &p.Files[i], true
			}
		}
	}
	return nil, false
}

// StatementCount returns the number of statements across all paragraphs.
func (p *Program) StatementCount() int {
	n := 0
	for i := range p.Paragraphs {
		n += len(p.Paragraphs[i].Statements)
	}
	return n
}

// DiagnosticsOfKind returns the diagnostics of one kind.
func (p *Program) DiagnosticsOfKind(kind DiagnosticKind) []Diagnostic {
	out := make([]Diagnostic, 0)
	for _, d := range p.Diagnostics {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// FocusAreas names the aspects of a program worth documenting first:
// "data_structures" when it has a DATA DIVISION, "business_logic" when it
// has a PROCEDURE DIVISION and always "program_purpose".
func (p *Program) FocusAreas() []string {
	areas := make([]string, 0, 3)
	if p.HasDivision(DivisionData) {
		areas = append(areas, "data_structures")
	}
	if p.HasDivision(DivisionProcedure) {
		areas = append(areas, "business_logic")
	}
	return append(areas, "program_purpose")
}

// addDiagnostic appends a diagnostic.
func (p *Program) addDiagnostic(kind DiagnosticKind, line int, target, format string, args ...any) {
	p.Diagnostics = append(p.Diagnostics, newDiagnostic(kind, line, target, format, args...))
}
