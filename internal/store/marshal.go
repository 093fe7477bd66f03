package store

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxTextLen bounds the text column; longer values are truncated on a rune
// boundary.
const maxTextLen = 4096

// normalizeText prepares event text for storage: NFC normalized so equal
// strings compare equal in SQL, invalid UTF-8 replaced, and truncated.
func normalizeText(s string) string {
	if !utf8.ValidString(s) {
		s = string([]rune(s))
	}
	s = norm.NFC.String(s)
	if len(s) <= maxTextLen {
		return s
	}
	cut := maxTextLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
