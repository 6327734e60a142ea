package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

// RecoveryUseCase re-announces entries whose assessment never finished,
// either because the submit notification was lost or because retries were
// exhausted while storage was down.
type RecoveryUseCase struct {
	journal ports.JournalStore
	events  ports.EventBus
	now     func() time.Time
	onSent  func(int)
}

func NewRecoveryUseCase(journal ports.JournalStore, events ports.EventBus) *RecoveryUseCase {
	return &RecoveryUseCase{
		journal: journal,
		events:  events,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnResubmitted registers a callback receiving the size of each non-empty
// sweep.
func (uc *RecoveryUseCase) OnResubmitted(fn func(int)) {
	uc.onSent = fn
}

func (uc *RecoveryUseCase) ResubmitStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := uc.journal.ListStale(ctx,
		[]domain.QueueStatus{domain.StatusPending, domain.StatusAssessing},
		uc.now().Add(-olderThan),
		limit,
	)
	if err != nil {
		return 0, fmt.Errorf("list stale entries: %w", err)
	}

	published := 0
	for _, entry := range stale {
		if err := uc.events.PublishEntrySubmitted(ctx, entry.ID); err != nil {
			return published, fmt.Errorf("republish %s: %w", entry.ID, err)
		}
		published++
	}
	if published > 0 {
		slog.Info("stale_entries_resubmitted", "count", published)
		if uc.onSent != nil {
			uc.onSent(published)
		}
	}
	return published, nil
}

// Run sweeps every interval until ctx is done.
func (uc *RecoveryUseCase) Run(ctx context.Context, interval, olderThan time.Duration, limit int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := uc.ResubmitStale(ctx, olderThan, limit); err != nil {
				slog.Warn("recovery_sweep_failed", "error", err)
			}
		}
	}
}
