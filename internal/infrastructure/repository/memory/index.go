package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/kirillkom/evidence-journal/internal/core/dedup"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// EmbeddingIndex is an exact cosine index over a map. It is fine for
// development volumes; production uses qdrant.
type EmbeddingIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewEmbeddingIndex() *EmbeddingIndex {
	return &EmbeddingIndex{vectors: make(map[string][]float32)}
}

func (i *EmbeddingIndex) Upsert(_ context.Context, entryID string, vector []float32) error {
	if entryID == "" || len(vector) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "upsert vector", errors.New("entry id and vector are required"))
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.vectors[entryID] = slices.Clone(vector)
	return nil
}

func (i *EmbeddingIndex) Nearest(_ context.Context, vector []float32, limit int, excludeID string) ([]domain.VectorMatch, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	matches := make([]domain.VectorMatch, 0, len(i.vectors))
	for id, candidate := range i.vectors {
		if id == excludeID {
			continue
		}
		matches = append(matches, domain.VectorMatch{EntryID: id, Score: dedup.Cosine(vector, candidate)})
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
