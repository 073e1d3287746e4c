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
	"errors"
	"fmt"
)

// Most problems in COBOL source are not fatal: they become Diagnostics on
// the Program and parsing continues. The errors below are for input the
// parser cannot work with at all.
var (
	// ErrInvalidContent rejects nil, non-UTF-8 or binary (NUL bearing)
	// content.
	ErrInvalidContent = errors.New("ast: content is not COBOL source text")

	ErrContextCanceled = errors.New("ast: parse interrupted")

	// ErrFileTooLarge is returned above WithMaxFileSize.
	ErrFileTooLarge = errors.New("ast: source exceeds size limit")

	// ErrCopyDepthExceeded marks nested COPY expansion deeper than
	// WithMaxCopyDepth. It is reported as a diagnostic, not returned.
	ErrCopyDepthExceeded = errors.New("ast: copy nesting too deep")

	// ErrUnknownStatementKind and ErrPayloadMismatch come from decoding a
	// Statement, usually a stale cache entry.
	ErrUnknownStatementKind = errors.New("ast: unknown statement kind")
	ErrPayloadMismatch      = errors.New("ast: statement payload does not match kind")
)

// ParseError locates a fatal parse failure in a member.
//
//	if pe := (*ast.ParseError)(nil); errors.As(err, &pe) {
//	    log.Printf("%s line %d: %s", pe.FilePath, pe.Line, pe.Message)
//	}
type ParseError struct {
	FilePath string
	Line     int // 1-based, 0 when the failure has no line
	Message  string
	Cause    error
}

func (e *ParseError) Error() string {
	loc := e.FilePath
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.FilePath, e.Line)
	}
	return loc + ": " + e.Message
}

func (e *ParseError) Unwrap() error { return e.Cause }

// NewParseError creates a ParseError wrapping cause.
func NewParseError(filePath string, line int, message string, cause error) *ParseError {
	return &ParseError{FilePath: filePath, Line: line, Message: message, Cause: cause}
}

// WrapParseError attaches filePath to err unless err already carries a
// ParseError. Nil stays nil.
func WrapParseError(err error, filePath string) error {
	if err == nil || IsParseError(err) {
		return err
	}
	return NewParseError(filePath, 0, err.Error(), err)
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// newDiagnostic builds a Diagnostic with a formatted message.
func newDiagnostic(kind DiagnosticKind, line int, target, format string, args ...any) Diagnostic {
	return Diagnostic{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Target:  target,
	}
}

// NewDiagnostic builds a Diagnostic for use by later analysis stages.
func NewDiagnostic(kind DiagnosticKind, line int, target, format string, args ...any) Diagnostic {
	return newDiagnostic(kind, line, target, format, args...)
}
