package chunking

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

func TestSplitCutsOnWhitespaceWithOverlap(t *testing.T) {
	s := NewSplitter(12, 4)
	windows := s.Split("alpha beta gamma delta epsilon")
	if len(windows) < 2 {
		t.Fatalf("expected several windows, got %v", windows)
	}
	for _, w := range windows {
		if len([]rune(w)) > 12 {
			t.Fatalf("window %q exceeds size", w)
		}
	}
	if windows[0] != "alpha beta" {
		t.Fatalf("expected first cut on whitespace, got %q", windows[0])
	}
	if !strings.HasSuffix(windows[len(windows)-1], "epsilon") {
		t.Fatalf("last window must reach the end, got %q", windows[len(windows)-1])
	}
}

func TestSplitEmptyText(t *testing.T) {
	if got := NewSplitter(10, 2).Split("   "); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestNewSplitterClampsOverlap(t *testing.T) {
	s := NewSplitter(100, 150)
	if s.Overlap != 25 {
		t.Fatalf("expected overlap clamp to 25, got %d", s.Overlap)
	}
}

type countingEmbedder struct {
	calls []string
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls = append(c.calls, text)
	if strings.HasPrefix(text, "alpha") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func TestMeanEmbedderAveragesAndNormalises(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewMeanEmbedder(inner, NewSplitter(12, 0), 8)

	vector, err := e.Embed(context.Background(), "alpha alpha omega omega")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(inner.calls) != 2 {
		t.Fatalf("expected 2 window embeddings, got %d", len(inner.calls))
	}
	want := float32(1 / math.Sqrt2)
	if math.Abs(float64(vector[0]-want)) > 1e-6 || math.Abs(float64(vector[1]-want)) > 1e-6 {
		t.Fatalf("unexpected mean vector %v", vector)
	}
}

func TestMeanEmbedderCapsWindows(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewMeanEmbedder(inner, NewSplitter(6, 0), 3)
	if _, err := e.Embed(context.Background(), strings.Repeat("word ", 40)); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(inner.calls) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(inner.calls))
	}
}

func TestMeanEmbedderEmptyText(t *testing.T) {
	_, err := NewMeanEmbedder(&countingEmbedder{}, NewSplitter(10, 0), 2).Embed(context.Background(), " ")
	if !domain.IsKind(err, domain.ErrEmbeddingFailed) {
		t.Fatalf("expected embedding failure, got %v", err)
	}
}
