package research

import (
	"fmt"
	"strings"
)

// FlattenAndCleanTexts turns gathered items into the text stream fed to the
// index. Sequences are joined with single spaces, everything else is
// stringified, and items that are empty after trimming are dropped.
func FlattenAndCleanTexts(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		switch x := it.(type) {
		case nil:
			continue
		case string:
			s = x
		case []string:
			s = strings.Join(x, " ")
		case []any:
			parts := make([]string, 0, len(x))
			for _, p := range x {
				parts = append(parts, fmt.Sprint(p))
			}
			s = strings.Join(parts, " ")
		default:
			s = fmt.Sprint(x)
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Strings adapts a string slice for FlattenAndCleanTexts.
func Strings(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
