package chunking

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

// MeanEmbedder embeds up to MaxWindows windows of a document and returns
// their normalised mean, so near-identical long documents land close together
// even when only the tail differs.
type MeanEmbedder struct {
	inner      ports.Embedder
	splitter   *Splitter
	maxWindows int
}

func NewMeanEmbedder(inner ports.Embedder, splitter *Splitter, maxWindows int) *MeanEmbedder {
	if maxWindows <= 0 {
		maxWindows = 8
	}
	return &MeanEmbedder{inner: inner, splitter: splitter, maxWindows: maxWindows}
}

func (e *MeanEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	windows := e.splitter.Split(text)
	if len(windows) == 0 {
		return nil, domain.WrapError(domain.ErrEmbeddingFailed, "embed document", errors.New("no text to embed"))
	}
	if len(windows) == 1 {
		return e.inner.Embed(ctx, windows[0])
	}
	windows = spread(windows, e.maxWindows)

	var sum []float64
	for i, window := range windows {
		vector, err := e.inner.Embed(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("embed window %d/%d: %w", i+1, len(windows), err)
		}
		if sum == nil {
			sum = make([]float64, len(vector))
		}
		if len(vector) != len(sum) {
			return nil, domain.WrapError(domain.ErrEmbeddingFailed, "embed document",
				fmt.Errorf("window %d has dimension %d, want %d", i+1, len(vector), len(sum)))
		}
		for j, v := range vector {
			sum[j] += float64(v)
		}
	}
	return normalize(sum), nil
}

// spread keeps n windows evenly spaced across the document, always including
// the first and the last.
func spread(windows []string, n int) []string {
	if len(windows) <= n {
		return windows
	}
	if n == 1 {
		return windows[:1]
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := i * (len(windows) - 1) / (n - 1)
		out = append(out, windows[idx])
	}
	return out
}

func normalize(sum []float64) []float32 {
	var norm float64
	for _, v := range sum {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(sum))
	if norm == 0 {
		return out
	}
	for i, v := range sum {
		out[i] = float32(v / norm)
	}
	return out
}
