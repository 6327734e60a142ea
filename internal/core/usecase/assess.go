package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/evidence-journal/internal/core/dedup"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/rules"
)

type AssessEntryUseCase struct {
	queue    *QueueManager
	assessor *dedup.Assessor
	rules    *rules.Engine
}

func NewAssessEntryUseCase(queue *QueueManager, assessor *dedup.Assessor, engine *rules.Engine) *AssessEntryUseCase {
	return &AssessEntryUseCase{queue: queue, assessor: assessor, rules: engine}
}

// AssessByID runs deduplication and admission for one entry. On error the
// entry stays in assessing and the call may be repeated.
func (uc *AssessEntryUseCase) AssessByID(ctx context.Context, entryID string) (*domain.JournalEntry, error) {
	entry, started, err := uc.queue.BeginAssessment(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("begin assessment: %w", err)
	}
	if !started {
		slog.Info("assessment_skipped", "entry_id", entryID, "queue_status", string(entry.QueueStatus))
		return entry, nil
	}

	out, err := uc.assessor.Assess(ctx, entry)
	if err != nil {
		return nil, err
	}

	score := out.Verdict.Score
	outcome := domain.DedupOutcome{Tier: out.Tier, SimilarityScore: &score}
	if out.Verdict.Kind == dedup.KindDuplicate {
		outcome.IsDuplicate = true
		outcome.DuplicateOfID = out.Verdict.MatchID
		return uc.queue.MarkDuplicate(ctx, entry.ID, outcome)
	}

	extraction, extractErr := out.Extraction(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decision, err := uc.rules.ClassifyAndPrioritize(ctx, entry, rules.ExtractionResult{
		Extraction: extraction,
		Err:        extractErr,
	})
	if err != nil {
		return nil, err
	}
	cls := decision.Classification()

	if err := uc.assessor.Remember(ctx, entry, out); err != nil {
		return nil, &dedup.TierError{Tier: out.Tier, EntryID: entry.ID, Err: err}
	}

	switch {
	case out.Verdict.Kind == dedup.KindInconclusive:
		return uc.queue.HoldForReview(ctx, entry.ID, outcome, &cls,
			fmt.Sprintf("inconclusive at tier %s: %s", out.Tier, out.Verdict.Reason))
	case decision.RequiresReview:
		return uc.queue.HoldForReview(ctx, entry.ID, outcome, &cls, decision.ReviewReason)
	default:
		return uc.queue.Admit(ctx, entry.ID, outcome, cls)
	}
}
