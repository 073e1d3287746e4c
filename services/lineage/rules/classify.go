// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"strings"
	"unicode"
)

// Lexical cues. Text is split into segments on anything that is not a
// letter or digit, so WS-TAX-AMT yields WS, TAX and AMT.
var (
	financialCues = cueSet("AMOUNT", "AMT", "BALANCE", "BAL", "PRICE", "COST", "TAX",
		"INTEREST", "RATE", "FEE", "PAY", "PAYMENT", "SALARY", "WAGE", "TOTAL", "CREDIT",
		"DEBIT", "ACCOUNT", "ACCT", "INVOICE", "BILL", "PREMIUM", "DISCOUNT", "CURRENCY",
		"LOAN", "DEPOSIT", "PENALTY", "REFUND", "GROSS", "NET")

	qualityCues = cueSet("VALID", "INVALID", "ERROR", "ERR", "CHECK", "VERIFY", "AUDIT",
		"REJECT", "EXCEPTION", "WARN", "WARNING", "EDIT", "MISSING", "DUPLICATE")

	operationalCues = cueSet("DATE", "TIME", "COUNT", "CNT", "FILE", "RECORD", "REC",
		"EOF", "BATCH", "JOB", "STEP", "PROCESS", "STATUS", "SEQ", "SEQUENCE", "CYCLE",
		"PERIOD", "MONTH", "YEAR", "DAY")

	highImpactCues = cueSet("BALANCE", "PAYMENT", "TAX", "INTEREST", "CREDIT", "DEBIT",
		"LIMIT", "FRAUD", "PREMIUM", "LOAN", "PENALTY", "OVERDRAFT", "COMPLIANCE",
		"REGULATORY", "SETTLEMENT")

	validationCues = cueSet("VALID", "INVALID", "ERROR")

	classTests = cueSet("NUMERIC", "ALPHABETIC", "ALPHABETIC-LOWER", "ALPHABETIC-UPPER")

	emptyValues = cueSet("SPACE", "SPACES", "ZERO", "ZEROS", "ZEROES", "LOW-VALUE",
		"LOW-VALUES", "HIGH-VALUE", "HIGH-VALUES", "NULL", "NULLS")

	relationalWords = cueSet(">", "<", ">=", "<=", "=", "NOT=", "GREATER", "LESS", "EQUAL", "EQUALS")

	connectiveWords = cueSet("THAN", "TO", "OR", "EQUAL", "NOT", "IS")
)

func cueSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func has(set map[string]struct{}, w string) bool {
	_, ok := set[w]
	return ok
}

// segments splits upper-cased text on non-alphanumeric characters.
func segments(text string) []string {
	return strings.FieldsFunc(strings.ToUpper(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// words splits text on white space, keeping hyphenated names and
// operators intact.
func words(text string) []string {
	return strings.Fields(strings.ToUpper(text))
}

// Categorize returns the category of text: FINANCIAL over QUALITY over
// OPERATIONAL, TECHNICAL when no cue matches.
func Categorize(text string) Category {
	var quality, operational bool
	for _, s := range segments(text) {
		switch {
		case has(financialCues, s):
			return CategoryFinancial
		case has(qualityCues, s):
			quality = true
		case has(operationalCues, s):
			operational = true
		}
	}
	switch {
	case quality:
		return CategoryQuality
	case operational:
		return CategoryOperational
	}
	return CategoryTechnical
}

// ImpactOf returns HIGH when text carries a high-impact cue, MEDIUM for a
// non-technical category and LOW otherwise.
func ImpactOf(text string, category Category) Impact {
	for _, s := range segments(text) {
		if has(highImpactCues, s) {
			return ImpactHigh
		}
	}
	if category != CategoryTechnical {
		return ImpactMedium
	}
	return ImpactLow
}

// classifyCondition picks the kind of a conditional candidate.
func classifyCondition(cond string) Kind {
	ws := words(cond)
	for _, w := range ws {
		if has(classTests, w) || has(emptyValues, w) {
			return KindValidation
		}
	}
	for _, s := range segments(cond) {
		if has(validationCues, s) {
			return KindValidation
		}
	}
	if comparesWithNumber(ws) {
		return KindConstraint
	}
	return KindDecision
}

// comparesWithNumber reports whether a relational operator is followed,
// past any connective words, by a numeric literal.
func comparesWithNumber(ws []string) bool {
	for i, w := range ws {
		if !has(relationalWords, w) {
			continue
		}
		for j := i + 1; j < len(ws); j++ {
			if has(connectiveWords, ws[j]) || has(relationalWords, ws[j]) {
				continue
			}
			if isNumber(ws[j]) {
				return true
			}
			break
		}
	}
	return false
}

func isNumber(w string) bool {
	w = strings.TrimRight(w, ")")
	w = strings.TrimLeft(w, "+-(")
	if w == "" {
		return false
	}
	digits := 0
	for _, r := range w {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == ',':
		default:
			return false
		}
	}
	return digits > 0
}
