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
)

const (
	// recognizedConfidence is assigned to every classified statement.
	recognizedConfidence = 1.0

	// otherConfidence is assigned to statements kept as OTHER.
	otherConfidence = 0.3
)

// verbKinds maps statement-starting verbs to kinds.
var verbKinds = map[string]StatementKind{
	"MOVE":       StmtMove,
	"COMPUTE":    StmtCompute,
	"ADD":        StmtAdd,
	"SUBTRACT":   StmtSubtract,
	"MULTIPLY":   StmtMultiply,
	"DIVIDE":     StmtDivide,
	"STRING":     StmtString,
	"UNSTRING":   StmtUnstring,
	"INSPECT":    StmtInspect,
	"INITIALIZE": StmtInitialize,
	"SET":        StmtSet,
	"ACCEPT":     StmtAccept,
	"DISPLAY":    StmtDisplay,
	"IF":         StmtIf,
	"ELSE":       StmtElse,
	"EVALUATE":   StmtEvaluate,
	"WHEN":       StmtWhen,
	"SEARCH":     StmtSearch,
	"PERFORM":    StmtPerform,
	"GO":         StmtGoTo,
	"CALL":       StmtCall,
	"CANCEL":     StmtCancel,
	"OPEN":       StmtOpen,
	"CLOSE":      StmtClose,
	"READ":       StmtRead,
	"WRITE":      StmtWrite,
	"REWRITE":    StmtRewrite,
	"DELETE":     StmtDelete,
	"START":      StmtStart,
	"SORT":       StmtSort,
	"MERGE":      StmtMerge,
	"RELEASE":    StmtRelease,
	"RETURN":     StmtReturn,
	"EXEC":       StmtExecSQL,
	"COPY":       StmtCopy,
	"CONTINUE":   StmtContinue,
	"EXIT":       StmtExit,
	"STOP":       StmtStop,
	"GOBACK":     StmtGoBack,
}

// unmodeledVerbs start a statement that is kept as OTHER.
var unmodeledVerbs = map[string]struct{}{
	"ALTER": {}, "ENTRY": {}, "INVOKE": {}, "XML": {}, "JSON": {},
	"GENERATE": {}, "INITIATE": {}, "TERMINATE": {}, "SUPPRESS": {},
	"USE": {}, "ALLOCATE": {}, "FREE": {}, "RAISE": {}, "RESUME": {},
	"COMMIT": {}, "ROLLBACK": {}, "UNLOCK": {}, "VALIDATE": {},
	"DISABLE": {}, "ENABLE": {}, "PURGE": {}, "RECEIVE": {}, "SEND": {},
}

// startsStatement reports whether toks[i] begins a new statement.
func startsStatement(toks []token, i int) bool {
	t := toks[i]
	if t.literal || t.upper == "" {
		return false
	}
	if _, ok := verbKinds[t.upper]; ok {
		return true
	}
	if _, ok := unmodeledVerbs[t.upper]; ok {
		return true
	}
	if t.upper == "NEXT" && i+1 < len(toks) && toks[i+1].upper == "SENTENCE" {
		return true
	}
	return isScopeTerminator(t.upper)
}

// scopeTerminators are the explicit scope terminators of the statements
// the parser models. Data and paragraph names such as END-OF-FILE share
// the prefix, so the set is closed.
var scopeTerminators = map[string]struct{}{
	"END-IF": {}, "END-EVALUATE": {}, "END-PERFORM": {}, "END-READ": {},
	"END-WRITE": {}, "END-REWRITE": {}, "END-DELETE": {}, "END-START": {},
	"END-RETURN": {}, "END-SEARCH": {}, "END-CALL": {}, "END-COMPUTE": {},
	"END-ADD": {}, "END-SUBTRACT": {}, "END-MULTIPLY": {}, "END-DIVIDE": {},
	"END-STRING": {}, "END-UNSTRING": {}, "END-ACCEPT": {}, "END-DISPLAY": {},
}

// isScopeTerminator reports whether w closes a statement scope.
func isScopeTerminator(w string) bool {
	_, ok := scopeTerminators[w]
	return ok
}

var cicsProgramRe = regexp.MustCompile(`(?i)PROGRAM\s*\(\s*(?:'([^']*)'|"([^"]*)"|([A-Z0-9][A-Z0-9-]*))\s*\)`)
var cicsCommareaRe = regexp.MustCompile(`(?i)COMMAREA\s*\(\s*([A-Z0-9][A-Z0-9-]*)`)

// buildStatement classifies the tokens of one statement.
func buildStatement(ctx context.Context, toks []token, line int) Statement {
	st := Statement{
		Line:       line,
		Content:    joinTokens(toks),
		Block:      -1,
		Confidence: recognizedConfidence,
	}
	if len(toks) == 0 {
		st.Confidence = otherConfidence
		return st
	}

	verb := toks[0].upper
	kind, known := verbKinds[verb]
	switch {
	case verb == "NEXT":
		kind, known = StmtContinue, true
	case isScopeTerminator(verb):
		kind, known = StmtScopeEnd, true
	}
	if !known || toks[0].literal {
		st.Kind = StmtOther
		st.Confidence = otherConfidence
		return st
	}
	st.Kind = kind
	rest := toks[1:]

	switch kind {
	case StmtMove:
		st.Assign = parseMove(rest)
	case StmtCompute:
		st.Assign = parseCompute(rest)
	case StmtAdd:
		st.Assign = parseArithmetic(rest, "TO")
	case StmtSubtract:
		st.Assign = parseArithmetic(rest, "FROM")
	case StmtMultiply:
		st.Assign = parseArithmetic(rest, "BY")
	case StmtDivide:
		st.Assign = parseDivide(rest)
	case StmtString:
		st.Assign = parseString(rest)
	case StmtUnstring:
		st.Assign = parseUnstring(rest)
	case StmtInspect:
		st.Assign = parseInspect(rest)
	case StmtInitialize:
		end := indexWord(rest, 0, "REPLACING", "WITH")
		if end < 0 {
			end = len(rest)
		}
		st.Assign = &Assignment{Targets: parseOperands(rest[:end])}
	case StmtSet:
		st.Assign = parseSet(rest)
	case StmtAccept:
		end := indexWord(rest, 0, "FROM", "AT", "ON", "EXCEPTION", "NOT")
		if end < 0 {
			end = len(rest)
		}
		st.Assign = &Assignment{Targets: parseOperands(rest[:end])}
	case StmtDisplay:
		end := indexWord(rest, 0, "UPON", "WITH", "NO")
		if end < 0 {
			end = len(rest)
		}
		st.Assign = &Assignment{Sources: parseOperands(rest[:end])}
	case StmtIf:
		pred := rest
		if n := len(pred); n > 0 && pred[n-1].upper == "THEN" {
			pred = pred[:n-1]
		}
		st.Cond = &Condition{Predicate: joinTokens(pred), Operands: parseOperands(pred)}
	case StmtEvaluate, StmtSearch:
		subj := rest
		if kind == StmtSearch {
			if end := indexWord(rest, 0, "AT", "VARYING"); end >= 0 {
				subj = rest[:end]
			}
		}
		st.Cond = &Condition{Predicate: joinTokens(subj), Operands: parseOperands(subj)}
	case StmtWhen:
		st.Branch = parseWhen(rest)
	case StmtPerform:
		st.Perform = parsePerform(rest)
	case StmtGoTo:
		st.GoTo = parseGoTo(rest)
	case StmtCall, StmtCancel:
		st.Call = parseCall(rest, verb)
	case StmtOpen, StmtClose, StmtRead, StmtWrite, StmtRewrite, StmtDelete,
		StmtStart, StmtSort, StmtMerge, StmtRelease, StmtReturn:
		st.FileIO = parseFileOp(kind, rest)
	case StmtExecSQL:
		return buildExec(ctx, st, rest)
	case StmtCopy:
		st.Copy = &CopyDirective{}
		if len(rest) > 0 {
			st.Copy.Name = strings.Trim(rest[0].upper, `'"`)
		}
		if i := indexWord(rest, 1, "OF", "IN"); i >= 0 && i+1 < len(rest) {
			st.Copy.Library = rest[i+1].upper
		}
	}
	return st
}

// buildExec classifies EXEC SQL and EXEC CICS blocks.
func buildExec(ctx context.Context, st Statement, rest []token) Statement {
	if len(rest) == 0 {
		st.Kind = StmtOther
		st.Confidence = otherConfidence
		return st
	}
	body := rest[1:]
	if n := len(body); n > 0 && body[n-1].upper == "END-EXEC" {
		body = body[:n-1]
	}
	text := joinTokens(body)

	switch rest[0].upper {
	case "SQL":
		st.Kind = StmtExecSQL
		st.SQL = extractSQL(ctx, text)
	case "CICS":
		st.Kind = StmtExecCICS
		if m := cicsProgramRe.FindStringSubmatch(text); m != nil {
			call := &CallTarget{Via: "CICS " + strings.ToUpper(firstWord(text))}
			switch {
			case m[1] != "":
				call.Target = strings.ToUpper(m[1])
			case m[2] != "":
				call.Target = strings.ToUpper(m[2])
			default:
				call.Target = strings.ToUpper(m[3])
				call.Dynamic = true
			}
			if c := cicsCommareaRe.FindStringSubmatch(text); c != nil {
				call.Using = []Operand{{Name: strings.ToUpper(c[1])}}
			}
			if call.Via == "CICS LINK" || call.Via == "CICS XCTL" {
				st.Call = call
			}
		}
	default:
		st.Kind = StmtOther
		st.Confidence = otherConfidence
	}
	return st
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// parseMove handles MOVE [CORRESPONDING] src TO dst...
func parseMove(rest []token) *Assignment {
	a := &Assignment{}
	if len(rest) > 0 && (rest[0].upper == "CORRESPONDING" || rest[0].upper == "CORR") {
		a.Corresponding = true
		rest = rest[1:]
	}
	to := indexWord(rest, 0, "TO")
	if to < 0 {
		a.Sources = parseOperands(rest)
		return a
	}
	a.Sources = parseOperands(rest[:to])
	a.Targets = parseOperands(rest[to+1:])
	return a
}

// parseCompute handles COMPUTE dst... [ROUNDED] = expr.
func parseCompute(rest []token) *Assignment {
	a := &Assignment{}
	eq := -1
	for i, t := range rest {
		if !t.literal && (t.upper == "=" || t.upper == "EQUAL") {
			eq = i
			break
		}
		if !t.literal && strings.Contains(t.upper, "=") {
			// "X=Y+1" written without spaces.
			parts := strings.SplitN(t.upper, "=", 2)
			a.Targets = parseOperands(append(rest[:i:i], token{text: parts[0], upper: parts[0]}))
			expr := append([]token{{text: parts[1], upper: parts[1]}}, rest[i+1:]...)
			expr = trimConditionalPhrase(expr)
			a.Expression = joinTokens(expr)
			a.Sources = parseOperands(expr)
			return a
		}
	}
	if eq < 0 {
		a.Targets = parseOperands(rest)
		return a
	}
	a.Targets = parseOperands(rest[:eq])
	expr := trimConditionalPhrase(rest[eq+1:])
	a.Expression = joinTokens(expr)
	a.Sources = parseOperands(expr)
	return a
}

// trimConditionalPhrase drops a trailing ON SIZE ERROR / NOT ON SIZE
// ERROR phrase.
func trimConditionalPhrase(toks []token) []token {
	if i := indexWord(toks, 0, "ON", "SIZE", "NOT"); i >= 0 {
		return toks[:i]
	}
	return toks
}

// parseArithmetic handles ADD/SUBTRACT/MULTIPLY with the given connective.
//
//	ADD a b TO c d            sources a b, targets c d
//	ADD a TO b GIVING c       sources a b, target c
func parseArithmetic(rest []token, connective string) *Assignment {
	rest = trimConditionalPhrase(rest)
	a := &Assignment{}
	if len(rest) > 0 && (rest[0].upper == "CORRESPONDING" || rest[0].upper == "CORR") {
		a.Corresponding = true
		rest = rest[1:]
	}
	conn := indexWord(rest, 0, connective)
	giving := indexWord(rest, 0, "GIVING")

	switch {
	case giving >= 0:
		a.Sources = parseOperands(rest[:giving])
		a.Targets = parseOperands(rest[giving+1:])
	case conn >= 0:
		a.Sources = parseOperands(rest[:conn])
		a.Targets = parseOperands(rest[conn+1:])
	default:
		a.Sources = parseOperands(rest)
	}
	return a
}

// parseDivide handles DIVIDE a INTO b [GIVING c] [REMAINDER r] and
// DIVIDE a BY b GIVING c [REMAINDER r].
func parseDivide(rest []token) *Assignment {
	rest = trimConditionalPhrase(rest)
	a := &Assignment{}
	rem := indexWord(rest, 0, "REMAINDER")
	if rem >= 0 {
		a.Targets = append(a.Targets, parseOperands(rest[rem+1:])...)
		rest = rest[:rem]
	}
	giving := indexWord(rest, 0, "GIVING")
	if giving >= 0 {
		a.Sources = parseOperands(rest[:giving])
		a.Targets = append(parseOperands(rest[giving+1:]), a.Targets...)
		return a
	}
	into := indexWord(rest, 0, "INTO")
	if into >= 0 {
		a.Sources = parseOperands(rest[:into])
		a.Targets = append(parseOperands(rest[into+1:]), a.Targets...)
		return a
	}
	a.Sources = parseOperands(rest)
	return a
}

// parseString handles STRING a [DELIMITED BY x] ... INTO t [WITH POINTER p].
func parseString(rest []token) *Assignment {
	rest = trimOverflow(rest)
	a := &Assignment{}
	into := indexWord(rest, 0, "INTO")
	if into < 0 {
		a.Sources = parseOperands(rest)
		return a
	}

	src := make([]token, 0, into)
	for i := 0; i < into; i++ {
		if rest[i].upper == "DELIMITED" && !rest[i].literal {
			i++
			if i < into && rest[i].upper == "BY" {
				i++
			}
			continue
		}
		src = append(src, rest[i])
	}
	a.Sources = parseOperands(src)

	tail := rest[into+1:]
	if ptr := indexWord(tail, 0, "WITH", "POINTER"); ptr >= 0 {
		tail = tail[:ptr]
	}
	a.Targets = parseOperands(tail)
	return a
}

// trimOverflow drops a trailing ON OVERFLOW / NOT ON OVERFLOW phrase.
func trimOverflow(toks []token) []token {
	for i := range toks {
		if toks[i].literal {
			continue
		}
		if toks[i].upper == "OVERFLOW" || (toks[i].upper == "ON" && i+1 < len(toks) && toks[i+1].upper == "OVERFLOW") ||
			(toks[i].upper == "NOT" && i+1 < len(toks) && (toks[i+1].upper == "ON" || toks[i+1].upper == "OVERFLOW")) {
			return toks[:i]
		}
	}
	return toks
}

// parseUnstring handles UNSTRING s DELIMITED BY ... INTO t1 t2 ....
func parseUnstring(rest []token) *Assignment {
	rest = trimOverflow(rest)
	a := &Assignment{}
	end := indexWord(rest, 0, "DELIMITED", "INTO")
	if end < 0 {
		a.Sources = parseOperands(rest)
		return a
	}
	a.Sources = parseOperands(rest[:end])
	into := indexWord(rest, end, "INTO")
	if into < 0 {
		return a
	}
	tail := rest[into+1:]
	if stop := indexWord(tail, 0, "WITH", "POINTER", "TALLYING"); stop >= 0 {
		tail = tail[:stop]
	}
	a.Targets = parseOperands(tail)
	return a
}

// parseInspect handles INSPECT f TALLYING c FOR ... / REPLACING / CONVERTING.
func parseInspect(rest []token) *Assignment {
	a := &Assignment{}
	mode := indexWord(rest, 0, "TALLYING", "REPLACING", "CONVERTING")
	if mode < 0 {
		a.Sources = parseOperands(rest)
		return a
	}
	subject := parseOperands(rest[:mode])
	a.Expression = rest[mode].upper
	a.Sources = subject

	switch rest[mode].upper {
	case "TALLYING":
		if forIdx := indexWord(rest, mode+1, "FOR"); forIdx > mode+1 {
			a.Targets = parseOperands(rest[mode+1 : forIdx])
		}
		if rep := indexWord(rest, mode+1, "REPLACING"); rep >= 0 {
			a.Expression = "TALLYING REPLACING"
			a.Targets = append(a.Targets, subject...)
		}
	default:
		a.Targets = subject
	}
	return a
}

// parseSet handles SET x TO y, SET x UP/DOWN BY n and SET cond TO TRUE.
func parseSet(rest []token) *Assignment {
	a := &Assignment{}
	i := indexWord(rest, 0, "TO", "UP", "DOWN")
	if i < 0 {
		a.Targets = parseOperands(rest)
		return a
	}
	a.Targets = parseOperands(rest[:i])
	tail := rest[i+1:]
	if len(tail) > 0 && tail[0].upper == "BY" {
		tail = tail[1:]
	}
	a.Sources = parseOperands(tail)
	return a
}

// parseWhen handles WHEN v [THRU w] [ALSO ...] and WHEN OTHER.
func parseWhen(rest []token) *Branch {
	b := &Branch{}
	if len(rest) > 0 && rest[0].upper == "OTHER" {
		b.Other = true
		return b
	}
	for _, t := range rest {
		if t.upper == "ALSO" && !t.literal {
			continue
		}
		b.Values = append(b.Values, t.text)
	}
	b.Operands = parseOperands(rest)
	return b
}

// performClauses end the target part of a PERFORM.
var performClauses = map[string]struct{}{
	"UNTIL": {}, "VARYING": {}, "WITH": {}, "TEST": {}, "TIMES": {}, "FOREVER": {},
}

// parsePerform handles out-of-line and inline PERFORM.
//
//	PERFORM para [THRU para2] [n TIMES | UNTIL cond | VARYING ...]
//	PERFORM [n TIMES | UNTIL cond | VARYING ...] statements END-PERFORM
func parsePerform(rest []token) *PerformTarget {
	p := &PerformTarget{}
	i := 0
	if len(rest) > 0 && !rest[0].literal {
		first := rest[0].upper
		_, clause := performClauses[first]
		isTimes := len(rest) > 1 && rest[1].upper == "TIMES"
		if !clause && !isTimes && IsIdentifier(first) || isParagraphNumber(first, rest) {
			p.Target = first
			i = 1
			if i < len(rest) && (rest[i].upper == "THRU" || rest[i].upper == "THROUGH") && i+1 < len(rest) {
				p.Thru = rest[i+1].upper
				i += 2
			}
		}
	}
	p.Inline = p.Target == ""

	tail := rest[i:]
	if u := indexWord(tail, 0, "UNTIL"); u >= 0 {
		p.Until = joinTokens(tail[u+1:])
		p.Operands = append(p.Operands, parseOperands(tail[u+1:])...)
		tail = tail[:u]
	}
	if v := indexWord(tail, 0, "VARYING"); v >= 0 {
		p.Varying = joinTokens(tail[v+1:])
		p.Operands = append(p.Operands, parseOperands(tail[v+1:])...)
		tail = tail[:v]
	}
	if t := indexWord(tail, 0, "TIMES"); t > 0 {
		p.Times = tail[t-1].text
		p.Operands = append(p.Operands, parseOperands(tail[t-1:t])...)
	}
	return p
}

// isParagraphNumber accepts all-digit paragraph names ("PERFORM 1000").
func isParagraphNumber(first string, rest []token) bool {
	if first == "" || (len(rest) > 1 && rest[1].upper == "TIMES") {
		return false
	}
	for i := 0; i < len(first); i++ {
		if first[i] < '0' || first[i] > '9' {
			return false
		}
	}
	return true
}

// parseGoTo handles GO [TO] a [b ... DEPENDING ON x].
func parseGoTo(rest []token) *GoToTarget {
	g := &GoToTarget{Targets: make([]string, 0, 1)}
	if len(rest) > 0 && rest[0].upper == "TO" {
		rest = rest[1:]
	}
	dep := indexWord(rest, 0, "DEPENDING")
	targets := rest
	if dep >= 0 {
		targets = rest[:dep]
		tail := rest[dep+1:]
		if len(tail) > 0 && tail[0].upper == "ON" {
			tail = tail[1:]
		}
		if len(tail) > 0 {
			g.DependingOn = tail[0].upper
		}
	}
	for _, t := range targets {
		if !t.literal && t.upper != "" {
			g.Targets = append(g.Targets, t.upper)
		}
	}
	return g
}

// parseCall handles CALL target [USING ...] [RETURNING r] and CANCEL.
func parseCall(rest []token, verb string) *CallTarget {
	c := &CallTarget{Via: verb}
	if len(rest) == 0 {
		return c
	}
	if rest[0].literal {
		c.Target = strings.ToUpper(strings.Trim(rest[0].text, `'"`))
	} else {
		c.Target = rest[0].upper
		c.Dynamic = true
	}

	tail := rest[1:]
	if stop := indexWord(tail, 0, "ON", "EXCEPTION", "OVERFLOW", "NOT"); stop >= 0 {
		tail = tail[:stop]
	}
	if r := indexWord(tail, 0, "RETURNING", "GIVING"); r >= 0 {
		if r+1 < len(tail) {
			c.Returning = tail[r+1].upper
		}
		tail = tail[:r]
	}
	if u := indexWord(tail, 0, "USING"); u >= 0 {
		c.Using = parseOperands(tail[u+1:])
	}
	return c
}

// parseFileOp handles the file verbs.
func parseFileOp(kind StatementKind, rest []token) *FileOperation {
	op := &FileOperation{}
	switch kind {
	case StmtOpen:
		mode := ""
		for _, t := range rest {
			switch t.upper {
			case "INPUT", "OUTPUT", "I-O", "EXTEND":
				mode = t.upper
			case "WITH", "NO", "REWIND", "LOCK", "SHARING", "ALL", "OTHER", "READ", "ONLY", "REVERSED":
			default:
				if IsDataName(t.upper) {
					op.Files = append(op.Files, FileRef{Name: t.upper, Mode: mode})
				}
			}
		}
	case StmtClose:
		for _, t := range rest {
			if IsDataName(t.upper) && t.upper != "REEL" && t.upper != "UNIT" && t.upper != "REMOVAL" {
				op.Files = append(op.Files, FileRef{Name: t.upper})
			}
		}
	case StmtRead, StmtReturn, StmtDelete, StmtStart:
		if len(rest) > 0 {
			op.Files = []FileRef{{Name: rest[0].upper}}
		}
		if i := indexWord(rest, 1, "INTO"); i >= 0 && i+1 < len(rest) {
			op.Into = rest[i+1].upper
		}
		if i := indexWord(rest, 1, "KEY"); i >= 0 {
			j := i + 1
			for j < len(rest) && (rest[j].upper == "IS" || rest[j].upper == "=" || rest[j].upper == "EQUAL" ||
				rest[j].upper == "TO" || rest[j].upper == "GREATER" || rest[j].upper == "THAN" || rest[j].upper == "NOT" ||
				rest[j].upper == "LESS" || rest[j].upper == ">" || rest[j].upper == ">=" || rest[j].upper == "OR") {
				j++
			}
			if j < len(rest) && IsDataName(rest[j].upper) {
				op.Key = rest[j].upper
			}
		}
	case StmtWrite, StmtRewrite, StmtRelease:
		if len(rest) > 0 {
			op.Record = rest[0].upper
		}
		if i := indexWord(rest, 1, "FROM"); i >= 0 && i+1 < len(rest) && IsDataName(rest[i+1].upper) {
			op.From = rest[i+1].upper
		}
	case StmtSort, StmtMerge:
		if len(rest) > 0 {
			op.Files = []FileRef{{Name: rest[0].upper, Mode: "SORT"}}
		}
		for _, phrase := range []struct{ word, mode string }{{"USING", "INPUT"}, {"GIVING", "OUTPUT"}} {
			i := indexWord(rest, 1, phrase.word)
			if i < 0 {
				continue
			}
			for j := i + 1; j < len(rest); j++ {
				w := rest[j].upper
				if !IsDataName(w) || w == "GIVING" || w == "USING" {
					break
				}
				op.Files = append(op.Files, FileRef{Name: w, Mode: phrase.mode})
			}
		}
	}
	return op
}
