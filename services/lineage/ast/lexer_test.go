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
	"testing"
)

func TestTokenize(t *testing.T) {
	t.Run("literal with doubled quote", func(t *testing.T) {
		toks := tokenize("MOVE 'IT''S' TO X.")
		if len(toks) != 4 {
			t.Fatalf("expected 4 tokens, got %d", len(toks))
		}
		if !toks[1].literal || toks[1].text != "'IT''S'" {
			t.Errorf("expected literal 'IT''S', got %+v", toks[1])
		}
		if !toks[3].endsSentence || toks[3].upper != "X" {
			t.Errorf("expected X to end the sentence, got %+v", toks[3])
		}
	})

	t.Run("hex literal and comma separator", func(t *testing.T) {
		toks := tokenize("DISPLAY X'FF', Y.")
		if len(toks) != 3 {
			t.Fatalf("expected 3 tokens, got %d", len(toks))
		}
		if !toks[1].literal || toks[1].text != "X'FF'" {
			t.Errorf("expected hex literal, got %+v", toks[1])
		}
		if toks[2].upper != "Y" || !toks[2].endsSentence {
			t.Errorf("expected Y ending the sentence, got %+v", toks[2])
		}
	})

	t.Run("two sentences on one line", func(t *testing.T) {
		toks := tokenize("MOVE A TO B. MOVE C TO D.")
		if len(toks) != 8 {
			t.Fatalf("expected 8 tokens, got %d", len(toks))
		}
		if !toks[3].endsSentence || !toks[7].endsSentence {
			t.Error("expected B and D to end sentences")
		}
		if toks[4].endsSentence {
			t.Error("second MOVE must not end a sentence")
		}
	})

	t.Run("embedded period is kept", func(t *testing.T) {
		toks := tokenize("PIC 9(3).99.")
		if len(toks) != 2 || toks[1].text != "9(3).99" {
			t.Fatalf("expected picture 9(3).99, got %+v", toks)
		}
	})

	t.Run("lone period", func(t *testing.T) {
		toks := tokenize(".")
		if len(toks) != 1 || toks[0].upper != "" || !toks[0].endsSentence {
			t.Fatalf("expected a single empty sentence end, got %+v", toks)
		}
	})

	t.Run("lower case is upper-cased", func(t *testing.T) {
		toks := tokenize("move ws-a to ws-b")
		if toks[0].upper != "MOVE" || toks[1].upper != "WS-A" || toks[1].text != "ws-a" {
			t.Errorf("unexpected tokens %+v", toks)
		}
	})
}

func TestParseOperands(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Operand
	}{
		{
			name: "plain names skip literals and reserved words",
			text: "WS-A 'LIT' 42 TO WS-B",
			want: []Operand{{Name: "WS-A"}, {Name: "WS-B"}},
		},
		{
			name: "qualified with subscript",
			text: "WS-A OF WS-GRP (I)",
			want: []Operand{{Name: "WS-A", Qualifier: "WS-GRP", Subscripts: []string{"I"}}},
		},
		{
			name: "function argument",
			text: "FUNCTION UPPER-CASE(WS-NAME)",
			want: []Operand{{Name: "WS-NAME"}},
		},
		{
			name: "operators without spaces",
			text: "A+B*C",
			want: []Operand{{Name: "A"}, {Name: "B"}, {Name: "C"}},
		},
		{
			name: "reference modification",
			text: "WS-X(1:5)",
			want: []Operand{{Name: "WS-X", RefMod: true}},
		},
		{
			name: "subscript split by spaces",
			text: "WS-TAB (IDX 2)",
			want: []Operand{{Name: "WS-TAB", Subscripts: []string{"IDX"}}},
		},
		{
			name: "nested expression",
			text: "(A + B) / C",
			want: []Operand{{Name: "A"}, {Name: "B"}, {Name: "C"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseOperands(tokenize(tt.text))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d operands, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i].Name != tt.want[i].Name || got[i].Qualifier != tt.want[i].Qualifier ||
					got[i].RefMod != tt.want[i].RefMod || len(got[i].Subscripts) != len(tt.want[i].Subscripts) {
					t.Errorf("operand %d: expected %+v, got %+v", i, tt.want[i], got[i])
					continue
				}
				for j := range got[i].Subscripts {
					if got[i].Subscripts[j] != tt.want[i].Subscripts[j] {
						t.Errorf("operand %d subscript %d: expected %s, got %s",
							i, j, tt.want[i].Subscripts[j], got[i].Subscripts[j])
					}
				}
			}
		})
	}
}

func TestIsIdentifier(t *testing.T) {
	valid := []string{"WS-A", "0000-MAIN", "A1", "CUST_NAME"}
	for _, s := range valid {
		if !IsIdentifier(s) {
			t.Errorf("expected %q to be an identifier", s)
		}
	}
	invalid := []string{"", "1000", "-A", "A-", "A.B", "'X'"}
	for _, s := range invalid {
		if IsIdentifier(s) {
			t.Errorf("expected %q not to be an identifier", s)
		}
	}
	if IsDataName("MOVE") || IsDataName("SPACES") {
		t.Error("reserved words must not be data names")
	}
	if !IsDataName("WS-TOTAL") {
		t.Error("expected WS-TOTAL to be a data name")
	}
}
