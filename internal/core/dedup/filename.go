package dedup

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

type filenameMatch struct {
	EntryID  string
	Score    float64
	SizeNear bool
}

// judgeFilenames is the cheap half of tier 0. It commits only on extremes:
// a near-identical name with a near-identical size is a duplicate, a name far
// from everything in the window is unique, everything else escalates.
func judgeFilenames(entry *domain.JournalEntry, recent []domain.JournalEntry, cfg Config) Verdict {
	name := normalizeFilename(entry.OriginalFilename)

	var best, bestSized filenameMatch
	for i := range recent {
		candidate := &recent[i]
		if candidate.ID == entry.ID || candidate.IsDuplicate {
			continue
		}
		match := filenameMatch{
			EntryID:  candidate.ID,
			Score:    levenshteinRatio(name, normalizeFilename(candidate.OriginalFilename)),
			SizeNear: sizesNear(entry.SizeBytes, candidate.SizeBytes, cfg.SizeTolerance),
		}
		if match.Score > best.Score {
			best = match
		}
		if match.SizeNear && match.Score > bestSized.Score {
			bestSized = match
		}
	}

	switch {
	case bestSized.EntryID != "" && bestSized.Score >= cfg.FilenameHighThreshold:
		return Duplicate(bestSized.EntryID, bestSized.Score)
	case best.Score < cfg.FilenameLowThreshold:
		return Unique(best.Score)
	case best.Score >= cfg.FilenameHighThreshold:
		return Inconclusive(best.Score, "filename match with diverging size")
	default:
		return Inconclusive(best.Score, "filename similarity in gray zone")
	}
}

func normalizeFilename(raw string) string {
	base := strings.ToLower(strings.TrimSpace(filepath.Base(raw)))
	if base == "." || base == "/" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(base))
	lastSpace := true
	for _, r := range base {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// levenshteinRatio returns 1 - distance/maxLen over runes; two empty names
// carry no signal and score 0.
func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func sizesNear(a, b int64, tolerance float64) bool {
	if a == b {
		return true
	}
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi <= 0 {
		return true
	}
	return float64(hi-lo)/float64(hi) <= tolerance
}
