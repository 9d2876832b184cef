package util

import "testing"

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	in := "ab\x00cd\x01\x02\n\txy"
	out := SanitizeText(in)
	if out != "abcd\n\txy" {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}

func TestSanitizeTextDropsInvalidUTF8(t *testing.T) {
	out := SanitizeText("  caf\xc3\xa9 \xff ok  ")
	if out != "café  ok" {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}
