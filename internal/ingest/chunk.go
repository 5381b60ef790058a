package ingest

import (
	"strings"
	"unicode"
)

// Chunk splits content into pieces of at most size runes, each overlapping
// the previous by roughly overlap runes. Breaks prefer sentence ends, then
// whitespace.
func Chunk(content string, size, overlap int) []string {
	text := []rune(strings.TrimSpace(content))
	if len(text) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = start + breakPoint(text[start:end])
		}

		if piece := strings.TrimSpace(string(text[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		// Start the next chunk on a word boundary.
		for next < end && !unicode.IsSpace(text[next-1]) {
			next++
		}
		start = next
	}
	return chunks
}

// breakPoint returns the length of the window prefix to keep. Only the back
// half of the window is considered so chunks stay reasonably full.
func breakPoint(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i >= half; i-- {
		r := window[i]
		if r == '\n' || ((r == '.' || r == '?' || r == '!' || r == '।') && i+1 < len(window) && unicode.IsSpace(window[i+1])) {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= half; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return len(window)
}
