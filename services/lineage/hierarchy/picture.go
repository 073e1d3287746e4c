// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hierarchy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
)

// maxRepeat bounds a single "(n)" repetition count.
const maxRepeat = 1 << 24

// PictureInfo is what a PICTURE and USAGE pair says about an item.
type PictureInfo struct {
	DataType ast.DataType

	// Length is the storage length in bytes.
	Length int

	// Digits counts digit positions ("9").
	Digits int

	// Scale counts digit positions after the decimal point (V or ".").
	Scale int

	Signed bool

	// EditMask is the upper-cased PICTURE when it contains editing symbols.
	EditMask string
}

// symbol is one PICTURE symbol with its repetition count.
type symbol struct {
	sym string
	n   int
}

// pictureSymbols is the accepted PICTURE character set.
var pictureSymbols = map[string]struct{}{
	"9": {}, "X": {}, "A": {}, "S": {}, "V": {}, "P": {}, "Z": {}, "*": {},
	",": {}, ".": {}, "+": {}, "-": {}, "$": {}, "B": {}, "0": {}, "/": {},
	"N": {}, "G": {}, "E": {}, "1": {}, "CR": {}, "DB": {},
}

// numericEditSymbols and alphaEditSymbols mark an edited PICTURE.
var (
	numericEditSymbols = map[string]struct{}{
		"Z": {}, "*": {}, ",": {}, ".": {}, "+": {}, "-": {}, "$": {},
		"B": {}, "0": {}, "/": {}, "CR": {}, "DB": {}, "E": {},
	}
	alphaEditSymbols = map[string]struct{}{
		"B": {}, "0": {}, "/": {},
	}
)

// scanPicture splits a PICTURE string into symbols, applying "(n)"
// repetition to the preceding symbol.
func scanPicture(pic string) ([]symbol, error) {
	if pic == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedPicture)
	}
	syms := make([]symbol, 0, 4)
	for i := 0; i < len(pic); {
		c := pic[i]
		switch {
		case c == '(':
			end := strings.IndexByte(pic[i:], ')')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q: unbalanced parenthesis", ErrMalformedPicture, pic)
			}
			if len(syms) == 0 {
				return nil, fmt.Errorf("%w: %q: repetition without symbol", ErrMalformedPicture, pic)
			}
			n, err := strconv.Atoi(pic[i+1 : i+end])
			if err != nil || n <= 0 || n > maxRepeat {
				return nil, fmt.Errorf("%w: %q: bad repetition count", ErrMalformedPicture, pic)
			}
			syms[len(syms)-1].n += n - 1
			i += end + 1
			continue
		case (c == 'C' && i+1 < len(pic) && pic[i+1] == 'R') || (c == 'D' && i+1 < len(pic) && pic[i+1] == 'B'):
			syms = append(syms, symbol{sym: pic[i : i+2], n: 1})
			i += 2
			continue
		}
		s := string(c)
		if _, ok := pictureSymbols[s]; !ok {
			return nil, fmt.Errorf("%w: %q: unexpected symbol %q", ErrMalformedPicture, pic, s)
		}
		syms = append(syms, symbol{sym: s, n: 1})
		i++
	}
	return syms, nil
}

// InferPicture derives type, length and edit mask from PICTURE and USAGE.
//
// Description:
//
//	Numeric family when the picture has digit positions (9, Z, *) and no
//	alphanumeric symbols. Within it S gives SIGNED_NUMERIC, then V or "."
//	gives DECIMAL, then USAGE decides: COMP-3 → COMP-3, COMP/COMP-4/COMP-5
//	→ COMP, BINARY → BINARY, otherwise NUMERIC. X, A, N or G give
//	ALPHANUMERIC.
//
//	Display length counts every position except S, V and P. Packed items
//	take digits/2+1 bytes. Binary items take 2, 4 or 8 bytes for up to 4,
//	9 or 18 digits. COMP-1 and COMP-2 take 4 and 8 bytes and need no
//	PICTURE.
//
// Inputs:
//   - pic: The PICTURE string. May be empty for usage-only items.
//   - usage: Canonical USAGE ("COMP-3", "BINARY", ...). May be empty.
//
// Outputs:
//   - PictureInfo: Inferred attributes. DataType is empty for an item
//     with neither PICTURE nor a typed USAGE (a group item).
//   - error: ErrMalformedPicture when pic cannot be read.
func InferPicture(pic, usage string) (PictureInfo, error) {
	pic = strings.ToUpper(strings.TrimSpace(pic))
	usage = strings.ToUpper(usage)

	if pic == "" {
		return usageOnly(usage), nil
	}

	syms, err := scanPicture(pic)
	if err != nil {
		return PictureInfo{DataType: ast.DataTypeAlphanumeric}, err
	}

	var (
		info         PictureInfo
		alpha        bool
		positions    int
		hasS         bool
		decimal      bool
		afterPoint   bool
		displayBytes int
		edited       bool
	)
	for _, s := range syms {
		switch s.sym {
		case "9":
			info.Digits += s.n
			positions += s.n
			if afterPoint {
				info.Scale += s.n
			}
		case "Z", "*":
			positions += s.n
			if afterPoint {
				info.Scale += s.n
			}
		case "S":
			info.Signed, hasS = true, true
		case "V":
			decimal, afterPoint = true, true
		case ".":
			decimal, afterPoint = true, true
		case "X", "A", "1":
			alpha = true
		case "N", "G":
			alpha = true
			displayBytes += s.n
		case "+", "-", "CR", "DB":
			info.Signed = true
		}
		switch s.sym {
		case "S", "V", "P":
		case "CR", "DB":
			displayBytes += 2 * s.n
		default:
			displayBytes += s.n
		}
	}

	numeric := !alpha && positions > 0
	for _, s := range syms {
		edits := alphaEditSymbols
		if numeric {
			edits = numericEditSymbols
		}
		if _, ok := edits[s.sym]; ok {
			edited = true
			break
		}
	}
	if edited {
		info.EditMask = pic
	}

	if !numeric {
		info.DataType = ast.DataTypeAlphanumeric
		info.Signed = false
		info.Scale = 0
		info.Length = displayBytes
		return info, nil
	}

	switch {
	case hasS:
		info.DataType = ast.DataTypeSignedNumeric
	case decimal:
		info.DataType = ast.DataTypeDecimal
	default:
		info.DataType = usageType(usage)
	}
	info.Length = storageLength(usage, info.Digits, displayBytes)
	return info, nil
}

// usageType maps a USAGE to the numeric data type it implies.
func usageType(usage string) ast.DataType {
	switch usage {
	case "COMP-3":
		return ast.DataTypeComp3
	case "COMP", "COMP-4", "COMP-5":
		return ast.DataTypeComp
	case "BINARY":
		return ast.DataTypeBinary
	default:
		return ast.DataTypeNumeric
	}
}

// storageLength returns the byte length of a numeric item.
func storageLength(usage string, digits, displayBytes int) int {
	switch usage {
	case "COMP-3":
		return digits/2 + 1
	case "COMP", "COMP-4", "COMP-5", "BINARY":
		switch {
		case digits <= 4:
			return 2
		case digits <= 9:
			return 4
		default:
			return 8
		}
	case "COMP-1":
		return 4
	case "COMP-2":
		return 8
	}
	return displayBytes
}

// usageOnly types items declared with USAGE and no PICTURE.
func usageOnly(usage string) PictureInfo {
	switch usage {
	case "COMP-1":
		return PictureInfo{DataType: ast.DataTypeComp, Length: 4, Signed: true}
	case "COMP-2":
		return PictureInfo{DataType: ast.DataTypeComp, Length: 8, Signed: true}
	case "INDEX", "POINTER":
		return PictureInfo{DataType: ast.DataTypeBinary, Length: 4}
	}
	return PictureInfo{}
}
