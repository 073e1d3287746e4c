// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Kind classifies a source unit.
type Kind string

const (
	// KindUnknown means the unit could not be classified.
	KindUnknown Kind = "UNKNOWN"

	// KindProgram is a COBOL program with an IDENTIFICATION DIVISION.
	KindProgram Kind = "COBOL"

	// KindCopybook is an included COBOL fragment.
	KindCopybook Kind = "COPYBOOK"

	// KindJCL is a job control stream.
	KindJCL Kind = "JCL"

	// KindSQL is a standalone SQL script (DDL or queries).
	KindSQL Kind = "SQL"
)

// extensionKinds maps lower-case file extensions to kinds.
var extensionKinds = map[string]Kind{
	".cob":   KindProgram,
	".cobol": KindProgram,
	".cbl":   KindProgram,
	".cpy":   KindCopybook,
	".copy":  KindCopybook,
	".jcl":   KindJCL,
	".sql":   KindSQL,
	".pgsql": KindSQL,
}

var (
	identificationRe = regexp.MustCompile(`(?i)\b(IDENTIFICATION|ID)\s+DIVISION`)
	programIDRe      = regexp.MustCompile(`(?i)\bPROGRAM-ID\b`)
	procedureRe      = regexp.MustCompile(`(?i)\bPROCEDURE\s+DIVISION`)
	jclRe            = regexp.MustCompile(`(?im)^//[A-Z0-9@#$]+\s+(JOB|EXEC)\b`)
	recordLayoutRe   = regexp.MustCompile(`(?im)^\s*0?1\s+[A-Z0-9-]+(-RECORD|-REC)?\b`)
	recordNameRe     = regexp.MustCompile(`(?im)^\s*0?1\s+[A-Z0-9-]+-(RECORD|REC)\b`)
	sqlRe            = regexp.MustCompile(`(?is)\b(SELECT\s+.*\s+FROM|CREATE\s+TABLE|INSERT\s+INTO)\b`)
)

// Extensions returns the file extensions recognized by KindFromExtension.
func Extensions() []string {
	exts := make([]string, 0, len(extensionKinds))
	for ext := range extensionKinds {
		exts = append(exts, ext)
	}
	return exts
}

// KindFromExtension classifies a file by its extension alone.
func KindFromExtension(fileName string) Kind {
	if k, ok := extensionKinds[strings.ToLower(filepath.Ext(fileName))]; ok {
		return k
	}
	return KindUnknown
}

// DetectKind classifies a source unit from its file name and content.
//
// Description:
//
//	The extension wins when it is recognized. Otherwise the content is
//	inspected in this order: an IDENTIFICATION (or ID) DIVISION or a
//	PROGRAM-ID marks a program; a "//NAME JOB" or "//NAME EXEC" card marks
//	JCL; a level-01 record layout with neither PROGRAM-ID nor PROCEDURE
//	DIVISION marks a copybook; SELECT ... FROM, CREATE TABLE or INSERT INTO
//	marks SQL.
//
// Inputs:
//
//	text - Source text.
//	fileName - File name or path. May be empty.
//
// Outputs:
//
//	Kind - The detected kind, KindUnknown when nothing matched or the
//	content is shorter than 10 non-blank characters.
func DetectKind(text, fileName string) Kind {
	if fileName != "" {
		if k := KindFromExtension(fileName); k != KindUnknown {
			return k
		}
	}

	if len(strings.TrimSpace(text)) < 10 {
		return KindUnknown
	}

	if identificationRe.MatchString(text) || programIDRe.MatchString(text) {
		return KindProgram
	}
	if jclRe.MatchString(text) {
		return KindJCL
	}
	if !procedureRe.MatchString(text) {
		if recordNameRe.MatchString(text) {
			return KindCopybook
		}
		if recordLayoutRe.MatchString(text) && looksLikeDataEntries(text) {
			return KindCopybook
		}
	}
	if sqlRe.MatchString(text) {
		return KindSQL
	}
	return KindUnknown
}

// looksLikeDataEntries reports whether most non-blank lines of text look
// like data description entries (a level number followed by a name).
func looksLikeDataEntries(text string) bool {
	n := Normalize(text)
	if len(n.Lines) == 0 {
		return false
	}
	entries := 0
	for _, line := range n.Lines {
		fields := strings.Fields(line.Text)
		if len(fields) == 0 {
			continue
		}
		if isLevelNumber(fields[0]) {
			entries++
		}
	}
	return entries*2 >= len(n.Lines)
}

// isLevelNumber reports whether s is a one- or two-digit level number.
func isLevelNumber(s string) bool {
	if len(s) == 0 || len(s) > 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
