package dedup

import (
	"hash/fnv"
	"slices"
	"strings"
	"unicode"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// Shingles returns the bottom-k sketch of word k-gram hashes of text, sorted
// ascending and free of repeats.
func Shingles(text string, k, sketchSize int) []uint64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 || k <= 0 {
		return nil
	}
	if len(tokens) < k {
		return []uint64{hashShingle(tokens)}
	}

	hashes := make([]uint64, 0, len(tokens)-k+1)
	for i := 0; i+k <= len(tokens); i++ {
		hashes = append(hashes, hashShingle(tokens[i:i+k]))
	}
	slices.Sort(hashes)
	hashes = slices.Compact(hashes)
	if sketchSize > 0 && len(hashes) > sketchSize {
		hashes = hashes[:sketchSize]
	}
	return hashes
}

// Jaccard computes |a ∩ b| / |a ∪ b| over two sorted, repeat-free sketches.
func Jaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			intersection++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func judgeShingles(entryID string, sketch []uint64, prior []domain.Fingerprint, cfg Config) Verdict {
	var bestID string
	var best float64
	for _, fp := range prior {
		if fp.EntryID == entryID {
			continue
		}
		score := Jaccard(sketch, fp.Shingles)
		if score > best {
			best = score
			bestID = fp.EntryID
		}
	}

	switch {
	case bestID != "" && best >= cfg.ContentHighThreshold:
		return Duplicate(bestID, best)
	case best < cfg.ContentLowThreshold:
		return Unique(best)
	default:
		return Inconclusive(best, "content overlap in gray zone")
	}
}

// Tokenize lowercases text and splits it into letter and digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func hashShingle(tokens []string) uint64 {
	hasher := fnv.New64a()
	for i, token := range tokens {
		if i > 0 {
			_, _ = hasher.Write([]byte{' '})
		}
		_, _ = hasher.Write([]byte(token))
	}
	return hasher.Sum64()
}
