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

import "errors"

// Sentinel errors for data hierarchy resolution.
//
// The resolver never fails as a whole. These errors describe single
// entries and are reported as MalformedDataItemWarning diagnostics.
var (
	// ErrMalformedPicture indicates a PICTURE string that cannot be read.
	//
	// Common causes:
	//   - Unbalanced or empty repetition "X(" / "9()"
	//   - Non-numeric or zero repetition count
	//   - A symbol outside the PICTURE character set
	ErrMalformedPicture = errors.New("malformed PICTURE clause")

	// ErrInvalidLevel indicates a level number outside 01-49, 66, 77, 88.
	ErrInvalidLevel = errors.New("invalid level number")
)
