package dedup

import (
	"math"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// Cosine returns the cosine similarity of two equal-length vectors, or 0 when
// they are incomparable.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// judgeVectors is the tier of last resort: without a confident match the
// document is admitted, except for the strict-policy gray zone.
func judgeVectors(entryID string, matches []domain.VectorMatch, cfg Config) Verdict {
	var best domain.VectorMatch
	for _, m := range matches {
		if m.EntryID == entryID {
			continue
		}
		if m.Score > best.Score {
			best = m
		}
	}

	switch {
	case best.EntryID != "" && best.Score >= cfg.SemanticHighThreshold:
		return Duplicate(best.EntryID, best.Score)
	case cfg.Policy == PolicyStrict && best.EntryID != "" && best.Score >= cfg.SemanticGrayFloor:
		return Inconclusive(best.Score, "semantic similarity in gray zone")
	default:
		return Unique(best.Score)
	}
}
