// Package chunking windows long document text so the semantic tier can embed
// documents larger than the embedding model's context.
package chunking

import (
	"strings"
	"unicode"
)

// Splitter cuts text into rune windows of Size with Overlap runes shared
// between neighbours. Cuts prefer the last whitespace inside a window.
type Splitter struct {
	Size    int
	Overlap int
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Splitter{Size: size, Overlap: overlap}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var out []string
	for start := 0; start < len(runes); {
		end := start + s.Size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes[start:end]); cut > s.Overlap {
			end = start + cut
		}

		if window := strings.TrimSpace(string(runes[start:end])); window != "" {
			out = append(out, window)
		}
		if end == len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
