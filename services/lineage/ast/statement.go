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
	"fmt"
)

// StatementKind is the closed set of statement kinds the parser produces.
type StatementKind uint8

const (
	StmtOther StatementKind = iota
	StmtMove
	StmtCompute
	StmtAdd
	StmtSubtract
	StmtMultiply
	StmtDivide
	StmtString
	StmtUnstring
	StmtInspect
	StmtInitialize
	StmtSet
	StmtAccept
	StmtDisplay
	StmtIf
	StmtElse
	StmtEvaluate
	StmtWhen
	StmtSearch
	StmtPerform
	StmtGoTo
	StmtCall
	StmtCancel
	StmtOpen
	StmtClose
	StmtRead
	StmtWrite
	StmtRewrite
	StmtDelete
	StmtStart
	StmtSort
	StmtMerge
	StmtRelease
	StmtReturn
	StmtExecSQL
	StmtExecCICS
	StmtCopy
	StmtScopeEnd
	StmtContinue
	StmtExit
	StmtStop
	StmtGoBack

	// NumStatementKinds is the number of statement kinds. Must be last.
	NumStatementKinds
)

var statementKindNames = [NumStatementKinds]string{
	StmtOther:      "OTHER",
	StmtMove:       "MOVE",
	StmtCompute:    "COMPUTE",
	StmtAdd:        "ADD",
	StmtSubtract:   "SUBTRACT",
	StmtMultiply:   "MULTIPLY",
	StmtDivide:     "DIVIDE",
	StmtString:     "STRING",
	StmtUnstring:   "UNSTRING",
	StmtInspect:    "INSPECT",
	StmtInitialize: "INITIALIZE",
	StmtSet:        "SET",
	StmtAccept:     "ACCEPT",
	StmtDisplay:    "DISPLAY",
	StmtIf:         "IF",
	StmtElse:       "ELSE",
	StmtEvaluate:   "EVALUATE",
	StmtWhen:       "WHEN",
	StmtSearch:     "SEARCH",
	StmtPerform:    "PERFORM",
	StmtGoTo:       "GO TO",
	StmtCall:       "CALL",
	StmtCancel:     "CANCEL",
	StmtOpen:       "OPEN",
	StmtClose:      "CLOSE",
	StmtRead:       "READ",
	StmtWrite:      "WRITE",
	StmtRewrite:    "REWRITE",
	StmtDelete:     "DELETE",
	StmtStart:      "START",
	StmtSort:       "SORT",
	StmtMerge:      "MERGE",
	StmtRelease:    "RELEASE",
	StmtReturn:     "RETURN",
	StmtExecSQL:    "EXEC SQL",
	StmtExecCICS:   "EXEC CICS",
	StmtCopy:       "COPY",
	StmtScopeEnd:   "END",
	StmtContinue:   "CONTINUE",
	StmtExit:       "EXIT",
	StmtStop:       "STOP",
	StmtGoBack:     "GOBACK",
}

// String returns the COBOL verb for the kind.
func (k StatementKind) String() string {
	if k < NumStatementKinds {
		return statementKindNames[k]
	}
	return fmt.Sprintf("StatementKind(%d)", k)
}

// MarshalText encodes the kind as its verb.
func (k StatementKind) MarshalText() ([]byte, error) {
	if k >= NumStatementKinds {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatementKind, k)
	}
	return []byte(statementKindNames[k]), nil
}

// UnmarshalText decodes a verb produced by MarshalText.
func (k *StatementKind) UnmarshalText(text []byte) error {
	kind, ok := ParseStatementKind(string(text))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatementKind, text)
	}
	*k = kind
	return nil
}

// ParseStatementKind maps a verb name back to its kind.
func ParseStatementKind(name string) (StatementKind, bool) {
	for i, n := range statementKindNames {
		if n == name {
			return StatementKind(i), true
		}
	}
	return StmtOther, false
}

// IsArithmetic reports whether the kind is COMPUTE or an arithmetic verb.
func (k StatementKind) IsArithmetic() bool {
	switch k {
	case StmtCompute, StmtAdd, StmtSubtract, StmtMultiply, StmtDivide:
		return true
	}
	return false
}

// IsFileIO reports whether the kind operates on a file.
func (k StatementKind) IsFileIO() bool {
	switch k {
	case StmtOpen, StmtClose, StmtRead, StmtWrite, StmtRewrite, StmtDelete,
		StmtStart, StmtSort, StmtMerge, StmtRelease, StmtReturn:
		return true
	}
	return false
}

// opensBlock reports whether statements following one of this kind nest
// inside it until a scope terminator or the end of the sentence.
func (k StatementKind) opensBlock() bool {
	switch k {
	case StmtIf, StmtElse, StmtEvaluate, StmtWhen, StmtSearch:
		return true
	}
	return false
}

// Operand is a data reference inside a statement.
type Operand struct {
	// Name is the referenced data name, upper case, without qualification
	// or subscripts.
	Name string `json:"name"`

	// Qualifier is the first OF/IN qualifier, if any.
	Qualifier string `json:"qualifier,omitempty"`

	// Subscripts holds identifier subscripts. Numeric subscripts are dropped.
	Subscripts []string `json:"subscripts,omitempty"`

	// RefMod is true for reference modification (NAME(start:length)).
	RefMod bool `json:"ref_mod,omitempty"`
}

// Assignment is the payload of data-moving and arithmetic statements.
type Assignment struct {
	Sources []Operand `json:"sources,omitempty"`
	Targets []Operand `json:"targets,omitempty"`

	// Expression holds the right-hand side of COMPUTE or the INSPECT mode.
	Expression string `json:"expression,omitempty"`

	Corresponding bool `json:"corresponding,omitempty"`
}

// Condition is the payload of IF, EVALUATE and SEARCH.
type Condition struct {
	// Predicate is the condition text (IF) or the selection subject
	// (EVALUATE, SEARCH).
	Predicate string    `json:"predicate"`
	Operands  []Operand `json:"operands,omitempty"`
}

// Branch is the payload of WHEN.
type Branch struct {
	Values   []string  `json:"values,omitempty"`
	Operands []Operand `json:"operands,omitempty"`

	// Other marks WHEN OTHER.
	Other bool `json:"other,omitempty"`
}

// PerformTarget is the payload of PERFORM.
type PerformTarget struct {
	// Target is the first paragraph or section performed, empty for an
	// inline PERFORM.
	Target string `json:"target,omitempty"`

	// Thru is the last paragraph of a PERFORM ... THRU range.
	Thru string `json:"thru,omitempty"`

	Until   string `json:"until,omitempty"`
	Varying string `json:"varying,omitempty"`
	Times   string `json:"times,omitempty"`

	Inline bool `json:"inline,omitempty"`

	// Operands are the data names read by UNTIL, VARYING and TIMES.
	Operands []Operand `json:"operands,omitempty"`
}

// GoToTarget is the payload of GO TO.
type GoToTarget struct {
	Targets     []string `json:"targets"`
	DependingOn string   `json:"depending_on,omitempty"`
}

// CallTarget is the payload of CALL, CANCEL and EXEC CICS LINK/XCTL.
type CallTarget struct {
	// Target is the literal program name for static calls, or the data
	// name holding the program name for dynamic calls.
	Target string `json:"target"`

	Dynamic bool      `json:"dynamic,omitempty"`
	Using   []Operand `json:"using,omitempty"`

	// Returning is the RETURNING data name, if any.
	Returning string `json:"returning,omitempty"`

	// Via is "CALL", "CANCEL", "CICS LINK" or "CICS XCTL".
	Via string `json:"via"`
}

// FileRef names a file used by a file statement with its OPEN mode.
type FileRef struct {
	Name string `json:"name"`
	Mode string `json:"mode,omitempty"`
}

// FileOperation is the payload of file statements.
type FileOperation struct {
	Files []FileRef `json:"files,omitempty"`

	// Record is the record name written by WRITE, REWRITE and RELEASE.
	Record string `json:"record,omitempty"`

	// Into and From name the data items of READ INTO, RETURN INTO and
	// WRITE/REWRITE/RELEASE FROM.
	Into string `json:"into,omitempty"`
	From string `json:"from,omitempty"`

	// Key is the KEY IS data name of READ and START.
	Key string `json:"key,omitempty"`
}

// SQLBlock is the payload of EXEC SQL.
type SQLBlock struct {
	// Text is the SQL between EXEC SQL and END-EXEC.
	Text string `json:"text"`

	// Operation is the leading SQL keyword (SELECT, INSERT, ...).
	Operation string `json:"operation"`

	Tables        []string  `json:"tables,omitempty"`
	HostVariables []Operand `json:"host_variables,omitempty"`

	// IntoVariables are the host variables after INTO in SELECT/FETCH.
	IntoVariables []Operand `json:"into_variables,omitempty"`
}

// CopyDirective is the payload of COPY inside the PROCEDURE DIVISION.
type CopyDirective struct {
	Name     string `json:"name"`
	Library  string `json:"library,omitempty"`
	Resolved bool   `json:"resolved"`
}

// Statement is one classified procedure statement.
//
// Exactly one payload pointer is set, chosen by Kind (see Validate).
// Kinds without structure (ELSE, scope terminators, CONTINUE, EXIT, STOP,
// GOBACK, OTHER) carry no payload.
type Statement struct {
	Kind    StatementKind `json:"kind"`
	Line    int           `json:"line"`
	Content string        `json:"content"`

	// Block is the index (within the paragraph) of the enclosing IF,
	// ELSE, EVALUATE, WHEN, SEARCH or inline PERFORM, -1 at sentence level.
	Block int `json:"block"`

	// Confidence is 1.0 for recognized statements and 0.3 for OTHER.
	Confidence float64 `json:"confidence"`

	Assign  *Assignment    `json:"assign,omitempty"`
	Cond    *Condition     `json:"cond,omitempty"`
	Branch  *Branch        `json:"branch,omitempty"`
	Perform *PerformTarget `json:"perform,omitempty"`
	GoTo    *GoToTarget    `json:"goto,omitempty"`
	Call    *CallTarget    `json:"call,omitempty"`
	FileIO  *FileOperation `json:"file_io,omitempty"`
	SQL     *SQLBlock      `json:"sql,omitempty"`
	Copy    *CopyDirective `json:"copy,omitempty"`
}

// payload identifies which payload field a kind uses.
type payload uint8

const (
	payloadNone payload = iota
	payloadAssign
	payloadCond
	payloadBranch
	payloadPerform
	payloadGoTo
	payloadCall
	payloadFileIO
	payloadSQL
	payloadCopy
)

// payloadFor maps each kind to its payload. EXEC CICS carries a call
// payload only for LINK and XCTL, so it is checked separately.
func payloadFor(k StatementKind) payload {
	switch k {
	case StmtMove, StmtCompute, StmtAdd, StmtSubtract, StmtMultiply, StmtDivide,
		StmtString, StmtUnstring, StmtInspect, StmtInitialize, StmtSet,
		StmtAccept, StmtDisplay:
		return payloadAssign
	case StmtIf, StmtEvaluate, StmtSearch:
		return payloadCond
	case StmtWhen:
		return payloadBranch
	case StmtPerform:
		return payloadPerform
	case StmtGoTo:
		return payloadGoTo
	case StmtCall, StmtCancel, StmtExecCICS:
		return payloadCall
	case StmtOpen, StmtClose, StmtRead, StmtWrite, StmtRewrite, StmtDelete,
		StmtStart, StmtSort, StmtMerge, StmtRelease, StmtReturn:
		return payloadFileIO
	case StmtExecSQL:
		return payloadSQL
	case StmtCopy:
		return payloadCopy
	default:
		return payloadNone
	}
}

// present lists the payloads set on the statement.
func (s *Statement) present() []payload {
	out := make([]payload, 0, 1)
	if s.Assign != nil {
		out = append(out, payloadAssign)
	}
	if s.Cond != nil {
		out = append(out, payloadCond)
	}
	if s.Branch != nil {
		out = append(out, payloadBranch)
	}
	if s.Perform != nil {
		out = append(out, payloadPerform)
	}
	if s.GoTo != nil {
		out = append(out, payloadGoTo)
	}
	if s.Call != nil {
		out = append(out, payloadCall)
	}
	if s.FileIO != nil {
		out = append(out, payloadFileIO)
	}
	if s.SQL != nil {
		out = append(out, payloadSQL)
	}
	if s.Copy != nil {
		out = append(out, payloadCopy)
	}
	return out
}

// Validate checks that the payload matches the kind.
//
// Outputs:
//
//	error - ErrPayloadMismatch when a payload other than the one the kind
//	requires is set or when more than one payload is set. EXEC CICS may
//	carry no payload.
func (s *Statement) Validate() error {
	if s.Kind >= NumStatementKinds {
		return fmt.Errorf("%w: %d", ErrUnknownStatementKind, s.Kind)
	}
	want := payloadFor(s.Kind)
	got := s.present()

	switch {
	case len(got) > 1:
		return fmt.Errorf("%w: %s has %d payloads", ErrPayloadMismatch, s.Kind, len(got))
	case len(got) == 0 && want != payloadNone && s.Kind != StmtExecCICS:
		return fmt.Errorf("%w: %s has no payload", ErrPayloadMismatch, s.Kind)
	case len(got) == 1 && got[0] != want:
		return fmt.Errorf("%w: %s has wrong payload", ErrPayloadMismatch, s.Kind)
	}
	return nil
}

// Reference is one data reference made by a statement.
type Reference struct {
	Operand
	Role Role
}

// Role is how a statement uses an operand.
type Role string

const (
	RoleSource  Role = "SOURCE"
	RoleTarget  Role = "TARGET"
	RoleOperand Role = "OPERAND"
)

// References lists every data reference of the statement with its role.
//
// Subscript identifiers are reported as operands in their own right.
// Control transfer targets (paragraphs, programs) are not data references
// and are not included, except for a dynamic CALL's target variable.
func (s *Statement) References() []Reference {
	refs := make([]Reference, 0, 4)
	add := func(role Role, ops ...Operand) {
		for _, op := range ops {
			refs = append(refs, Reference{Operand: op, Role: role})
			for _, sub := range op.Subscripts {
				refs = append(refs, Reference{Operand: Operand{Name: sub}, Role: RoleOperand})
			}
		}
	}
	named := func(role Role, names ...string) {
		for _, n := range names {
			if n != "" {
				add(role, Operand{Name: n})
			}
		}
	}

	switch {
	case s.Assign != nil:
		add(RoleSource, s.Assign.Sources...)
		add(RoleTarget, s.Assign.Targets...)
	case s.Cond != nil:
		add(RoleOperand, s.Cond.Operands...)
	case s.Branch != nil:
		add(RoleOperand, s.Branch.Operands...)
	case s.Perform != nil:
		add(RoleOperand, s.Perform.Operands...)
	case s.GoTo != nil:
		named(RoleOperand, s.GoTo.DependingOn)
	case s.Call != nil:
		if s.Call.Dynamic {
			named(RoleOperand, s.Call.Target)
		}
		add(RoleOperand, s.Call.Using...)
		named(RoleTarget, s.Call.Returning)
	case s.FileIO != nil:
		named(RoleTarget, s.FileIO.Into)
		named(RoleSource, s.FileIO.From)
		named(RoleOperand, s.FileIO.Key)
	case s.SQL != nil:
		add(RoleTarget, s.SQL.IntoVariables...)
		add(RoleOperand, s.SQL.HostVariables...)
	}
	return refs
}

// Targets returns the names of performed or jumped-to paragraphs.
func (s *Statement) Targets() []string {
	switch {
	case s.Perform != nil && s.Perform.Target != "":
		if s.Perform.Thru != "" {
			return []string{s.Perform.Target, s.Perform.Thru}
		}
		return []string{s.Perform.Target}
	case s.GoTo != nil:
		return s.GoTo.Targets
	}
	return nil
}
