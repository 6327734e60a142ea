package neo4jgraph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

func TestRecordDuplicateMergesEdge(t *testing.T) {
	var (
		gotQuery  string
		gotParams map[string]any
	)
	r := &Recorder{run: func(_ context.Context, query string, params map[string]any) error {
		gotQuery, gotParams = query, params
		return nil
	}}

	score := 0.93
	err := r.RecordDuplicate(context.Background(), &domain.JournalEntry{
		ID:              "dup",
		IsDuplicate:     true,
		DuplicateOfID:   "canon",
		DedupTier:       domain.TierContent,
		SimilarityScore: &score,
		SubmittedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("RecordDuplicate() error = %v", err)
	}
	if !strings.Contains(gotQuery, "DUPLICATE_OF") {
		t.Fatalf("unexpected query: %s", gotQuery)
	}
	if gotParams["canonical_id"] != "canon" || gotParams["tier"] != int64(1) || gotParams["score"] != 0.93 {
		t.Fatalf("unexpected params: %v", gotParams)
	}
}

func TestRecordDuplicateSkipsNonDuplicates(t *testing.T) {
	r := &Recorder{run: func(context.Context, string, map[string]any) error {
		t.Fatalf("must not run for a non-duplicate")
		return nil
	}}
	if err := r.RecordDuplicate(context.Background(), &domain.JournalEntry{ID: "a"}); err != nil {
		t.Fatalf("RecordDuplicate() error = %v", err)
	}
}

func TestRecordDuplicateFailureIsTemporary(t *testing.T) {
	r := &Recorder{run: func(context.Context, string, map[string]any) error {
		return errors.New("connection reset")
	}}
	err := r.RecordDuplicate(context.Background(), &domain.JournalEntry{ID: "d", IsDuplicate: true, DuplicateOfID: "c"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
