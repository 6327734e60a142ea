package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/dedup"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/resilience"
)

// HandleSubmitted assesses one announced entry. Retryable failures are
// retried under the assessment policy and, once exhausted, leave the entry in
// assessing for the recovery sweep. Any other failure parks the entry in
// manual review so it never blocks silently.
func (a *App) HandleSubmitted(ctx context.Context, entryID string) error {
	assessCtx, cancel := context.WithTimeout(ctx, a.Config.AssessTimeout)
	defer cancel()

	a.Metrics.StartAssessment()
	start := time.Now()
	var entry *domain.JournalEntry
	err := a.AssessExecutor.Execute(assessCtx, "assess", func(ctx context.Context) error {
		assessed, err := a.AssessUC.AssessByID(ctx, entryID)
		if err != nil {
			return err
		}
		entry = assessed
		return nil
	}, resilience.DomainClassifier)
	a.Metrics.FinishAssessment(time.Since(start), entry, err)

	switch {
	case err == nil:
		if entry.AssessedAt != nil {
			a.Metrics.ObserveQueueLag(entry.AssessedAt.Sub(entry.SubmittedAt))
		}
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case domain.IsKind(err, domain.ErrEntryNotFound):
		slog.Warn("assessment_entry_missing", "entry_id", entryID)
		return nil
	case domain.IsRetryable(err), resilience.IsCircuitOpen(err):
		slog.Error("assessment_retries_exhausted", "entry_id", entryID, "error", err)
		return err
	}

	outcome := domain.DedupOutcome{Tier: domain.TierNone}
	var tierErr *dedup.TierError
	if errors.As(err, &tierErr) {
		outcome.Tier = tierErr.Tier
	}
	if _, holdErr := a.Queue.HoldForReview(ctx, entryID, outcome, nil, fmt.Sprintf("assessment error: %v", err)); holdErr != nil {
		return fmt.Errorf("hold %s for review after %v: %w", entryID, err, holdErr)
	}
	slog.Warn("assessment_held_for_review", "entry_id", entryID, "error", err)
	return nil
}

// RunAssessors consumes submitted events with n concurrent subscribers.
func (a *App) RunAssessors(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errCh <- a.Events.SubscribeEntrySubmitted(ctx, a.HandleSubmitted)
		}()
	}
	var firstErr error
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
