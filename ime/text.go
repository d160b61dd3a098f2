// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package ime

import (
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// utf16Offset converts a character index into s to a UTF-16 offset into the
// NFC form of s. Indexes past the end clamp to the end.
func utf16Offset(s string, index int) int {
	if index <= 0 {
		return 0
	}
	i := 0
	for pos := range s {
		if i == index {
			return utf16Len(norm.NFC.String(s[:pos]))
		}
		i++
	}
	return utf16Len(norm.NFC.String(s))
}

// utf16Units splits s into UTF-16 code units, as the engine expects for
// character events.
func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(norm.NFC.String(s)))
}
