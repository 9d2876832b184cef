package util

import "strings"

// ChunkText splits text into windows of at most chunkSize runes, each starting
// overlap runes before the end of the previous one. A window is pulled back to
// the last whitespace in its second half so words are not cut in two.
func ChunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	runes := []rune(strings.TrimSpace(text))
	out := make([]string, 0, len(runes)/chunkSize+1)
	for start := 0; start < len(runes); {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes[start+chunkSize/2 : end]); cut > 0 || (cut == 0 && chunkSize/2 > 0) {
			end = start + chunkSize/2 + cut
		}
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == ' ' || rs[i] == '\n' || rs[i] == '\t' {
			return i
		}
	}
	return -1
}
