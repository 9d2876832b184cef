package util

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText drops NUL and other C0 control characters (keeping \n, \r, \t)
// and invalid UTF-8 that PDF extractors emit and Postgres text columns reject.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			continue
		}
		switch {
		case r == '\n', r == '\r', r == '\t':
			b.WriteRune(r)
		case r < 0x20, r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
