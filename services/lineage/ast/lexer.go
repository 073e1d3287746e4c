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
	"strings"
)

// token is one COBOL word, literal or parenthesized group.
type token struct {
	// text is the token as written.
	text string

	// upper is text upper-cased. Literals keep their case.
	upper string

	literal bool

	// endsSentence is set when a separator period follows the token.
	endsSentence bool
}

// tokenize splits one logical line into tokens.
//
// Spaces separate tokens. A comma or semicolon followed by a space is a
// separator. A period followed by a space (or the end of the line) ends
// the sentence and is recorded on the preceding token. Literals are kept
// whole, including doubled quotes and hex/national prefixes.
func tokenize(s string) []token {
	toks := make([]token, 0, 8)
	n := len(s)

	markEnd := func() {
		if len(toks) > 0 {
			toks[len(toks)-1].endsSentence = true
			return
		}
		toks = append(toks, token{endsSentence: true})
	}

	i := 0
	for i < n {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
			continue
		case (c == ',' || c == ';') && separatorFollows(s, i):
			i++
			continue
		case c == '.' && separatorFollows(s, i):
			markEnd()
			i++
			continue
		}

		if isQuote(c) || (isLiteralPrefix(c) && i+1 < n && isQuote(s[i+1])) {
			j := i
			if !isQuote(c) {
				j++
			}
			q := s[j]
			j++
			for j < n {
				if s[j] == q {
					if j+1 < n && s[j+1] == q {
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			tok := token{text: s[i:j], literal: true}
			tok.upper = tok.text
			i = j
			for i < n && (s[i] == '.' || s[i] == ',' || s[i] == ';') && separatorFollows(s, i) {
				if s[i] == '.' {
					tok.endsSentence = true
				}
				i++
			}
			toks = append(toks, tok)
			continue
		}

		j := i
		var q byte
		for j < n {
			ch := s[j]
			if q != 0 {
				if ch == q {
					q = 0
				}
				j++
				continue
			}
			if isQuote(ch) {
				q = ch
				j++
				continue
			}
			if ch == ' ' || ch == '\t' {
				break
			}
			j++
		}
		word := s[i:j]
		i = j

		tok := token{}
		for len(word) > 0 {
			last := word[len(word)-1]
			if last == '.' {
				tok.endsSentence = true
			} else if last != ',' && last != ';' {
				break
			}
			word = word[:len(word)-1]
		}
		if word == "" {
			if tok.endsSentence {
				markEnd()
			}
			continue
		}
		tok.text = word
		tok.upper = strings.ToUpper(word)
		toks = append(toks, tok)
	}
	return toks
}

func separatorFollows(s string, i int) bool {
	return i+1 >= len(s) || s[i+1] == ' ' || s[i+1] == '\t'
}

func isQuote(c byte) bool {
	return c == '\'' || c == '"'
}

func isLiteralPrefix(c byte) bool {
	switch c {
	case 'X', 'x', 'N', 'n', 'Z', 'z', 'G', 'g', 'B', 'b':
		return true
	}
	return false
}

// joinTokens rebuilds source text from tokens.
func joinTokens(toks []token) string {
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.text != "" {
			parts = append(parts, t.text)
		}
	}
	return strings.Join(parts, " ")
}

// words returns the upper-cased text of each token.
func words(toks []token) []string {
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		out = append(out, t.upper)
	}
	return out
}

// indexWord returns the index of the first non-literal token equal to one
// of the given words at or after start, or -1.
func indexWord(toks []token, start int, want ...string) int {
	for i := start; i < len(toks); i++ {
		if toks[i].literal {
			continue
		}
		for _, w := range want {
			if toks[i].upper == w {
				return i
			}
		}
	}
	return -1
}

// IsIdentifier reports whether s has the shape of a COBOL user-defined
// word: letters, digits, hyphens and underscores, at least one letter,
// not starting or ending with a hyphen.
func IsIdentifier(s string) bool {
	if s == "" || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	letter := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
			letter = true
		case c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return letter
}

// IsReserved reports whether an upper-case word is a COBOL reserved word
// or figurative constant that can never name user data.
func IsReserved(word string) bool {
	_, ok := reservedWords[word]
	return ok
}

// IsDataName reports whether word can be a reference to user data.
func IsDataName(word string) bool {
	return IsIdentifier(word) && !IsReserved(word)
}

// reservedWords holds keywords, verbs and figurative constants that
// appear inside statements.
var reservedWords = func() map[string]struct{} {
	list := []string{
		// figurative constants
		"SPACE", "SPACES", "ZERO", "ZEROS", "ZEROES", "HIGH-VALUE", "HIGH-VALUES",
		"LOW-VALUE", "LOW-VALUES", "QUOTE", "QUOTES", "NULL", "NULLS", "ALL",
		// connectives and phrases
		"TO", "FROM", "BY", "INTO", "GIVING", "ROUNDED", "REMAINDER", "OF", "IN",
		"IS", "ARE", "NOT", "AND", "OR", "THEN", "TRUE", "FALSE", "ALSO", "OTHER",
		"ANY", "EQUAL", "EQUALS", "GREATER", "LESS", "THAN", "NUMERIC", "ALPHABETIC",
		"ALPHABETIC-LOWER", "ALPHABETIC-UPPER", "POSITIVE", "NEGATIVE", "ON", "SIZE",
		"ERROR", "END", "AT", "INVALID", "KEY", "EXCEPTION", "OVERFLOW", "USING",
		"REFERENCE", "CONTENT", "VALUE", "RETURNING", "DELIMITED", "DELIMITER",
		"COUNT", "POINTER", "TALLYING", "REPLACING", "CONVERTING", "LEADING",
		"TRAILING", "FIRST", "CHARACTERS", "BEFORE", "AFTER", "INITIAL", "FOR",
		"UNTIL", "VARYING", "TIMES", "THRU", "THROUGH", "WITH", "TEST", "UPON",
		"CONSOLE", "DATE", "DAY", "TIME", "DAY-OF-WEEK", "CORRESPONDING", "CORR",
		"UP", "DOWN", "RECORD", "NEXT", "PREVIOUS", "INPUT", "OUTPUT", "I-O",
		"EXTEND", "LOCK", "NO", "REWIND", "ADVANCING", "LINE", "LINES", "PAGE",
		"DEPENDING", "ASCENDING", "DESCENDING", "SEQUENCE", "COLLATING", "LENGTH",
		"ADDRESS", "FUNCTION", "RUN", "PROGRAM", "SENTENCE", "OMITTED", "FOREVER",
		"PROCEDURE", "SECTION", "DIVISION", "WHEN", "ELSE", "IF", "ALPHANUMERIC",
		"DUPLICATES", "SORTED", "STATUS", "RETURN-CODE", "WHEN-COMPILED",
		"ENVIRONMENT-NAME", "ENVIRONMENT-VALUE", "ARGUMENT-VALUE", "ARGUMENT-NUMBER",
		"YYYYMMDD", "YYYYDDD", "STANDARD", "NATIVE", "CORRESPONDING", "SELF",
		// verbs
		"ACCEPT", "ADD", "CALL", "CANCEL", "CLOSE", "COMPUTE", "CONTINUE", "COPY",
		"DELETE", "DISPLAY", "DIVIDE", "EVALUATE", "EXEC", "EXIT", "GO", "GOBACK",
		"INITIALIZE", "INSPECT", "MERGE", "MOVE", "MULTIPLY", "OPEN", "PERFORM",
		"READ", "RELEASE", "RETURN", "REWRITE", "SEARCH", "SET", "SORT", "START",
		"STOP", "STRING", "SUBTRACT", "UNSTRING", "WRITE", "END-EXEC",
	}
	m := make(map[string]struct{}, len(list))
	for _, w := range list {
		m[w] = struct{}{}
	}
	return m
}()

// parseOperands extracts data references from a token run.
//
// Literals, numbers and reserved words are skipped. "A OF B" and "A IN B"
// become one operand qualified by B. Parenthesized groups directly after
// a data name are subscripts or a reference modification; elsewhere they
// are nested expressions whose data names are returned as operands.
func parseOperands(toks []token) []Operand {
	return operandsFromWords(operandWords(toks))
}

// operandWords joins parenthesized groups split by spaces and splits
// arithmetic and relational operators written without spaces.
func operandWords(toks []token) []string {
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.literal || t.upper == "" {
			out = append(out, "")
			continue
		}
		word := t.upper
		for strings.Count(word, "(") > strings.Count(word, ")") && i+1 < len(toks) {
			i++
			word += " " + toks[i].upper
		}
		out = append(out, splitOperators(word)...)
	}
	return out
}

// splitOperators splits a word on + * / = < > at parenthesis depth zero.
func splitOperators(word string) []string {
	if !strings.ContainsAny(word, "+*/=<>") || strings.HasPrefix(word, "(") {
		return []string{word}
	}
	parts := make([]string, 0, 3)
	depth, start := 0, 0
	for i := 0; i < len(word); i++ {
		switch c := word[i]; c {
		case '(':
			depth++
		case ')':
			depth--
		case '+', '*', '/', '=', '<', '>':
			if depth == 0 {
				if i > start {
					parts = append(parts, word[start:i])
				}
				parts = append(parts, "")
				start = i + 1
			}
		}
	}
	if start < len(word) {
		parts = append(parts, word[start:])
	}
	return parts
}

func operandsFromWords(ws []string) []Operand {
	ops := make([]Operand, 0, len(ws))
	last := -1
	lastWasOperand := false
	qualifyNext := false
	functionNext := false

	for _, word := range ws {
		if word == "" {
			lastWasOperand = false
			continue
		}

		if strings.HasPrefix(word, "(") {
			inner := strings.TrimSuffix(word[1:], ")")
			if lastWasOperand && last >= 0 {
				applySubscripts(&ops[last], inner)
			} else {
				ops = append(ops, parseOperands(tokenize(inner))...)
				last = len(ops) - 1
				lastWasOperand = false
			}
			continue
		}

		switch word {
		case "OF", "IN":
			qualifyNext = lastWasOperand
			continue
		case "FUNCTION":
			functionNext = true
			lastWasOperand = false
			continue
		}

		name, inner, hasParen := splitParen(word)

		if functionNext {
			functionNext = false
			if hasParen {
				ops = append(ops, parseOperands(tokenize(inner))...)
				last = len(ops) - 1
			}
			lastWasOperand = false
			continue
		}

		if qualifyNext {
			qualifyNext = false
			if IsDataName(name) && ops[last].Qualifier == "" {
				ops[last].Qualifier = name
			}
			if hasParen {
				applySubscripts(&ops[last], inner)
			}
			continue
		}

		if !IsDataName(name) {
			lastWasOperand = false
			continue
		}

		op := Operand{Name: name}
		if hasParen {
			applySubscripts(&op, inner)
		}
		ops = append(ops, op)
		last = len(ops) - 1
		lastWasOperand = true
	}
	return ops
}

// splitParen splits "NAME(ARGS)" into NAME and ARGS.
func splitParen(word string) (name, inner string, ok bool) {
	idx := strings.IndexByte(word, '(')
	if idx <= 0 {
		return word, "", false
	}
	inner = word[idx+1:]
	inner = strings.TrimSuffix(inner, ")")
	return word[:idx], inner, true
}

// applySubscripts records subscripts or a reference modification.
func applySubscripts(op *Operand, inner string) {
	if strings.Contains(inner, ":") {
		op.RefMod = true
		inner = strings.ReplaceAll(inner, ":", " ")
	}
	for _, sub := range parseOperands(tokenize(inner)) {
		op.Subscripts = append(op.Subscripts, sub.Name)
	}
}
