package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

const (
	actorAssessor = "assessor"
	actorOperator = "operator"
)

// QueueManager owns every queue_status write. Each change is a
// compare-and-set transition checked against the domain state machine.
type QueueManager struct {
	journal ports.JournalStore
	events  ports.EventBus
	lineage ports.LineageRecorder
	now     func() time.Time
}

// NewQueueManager wires the manager. events and lineage may be nil.
func NewQueueManager(journal ports.JournalStore, events ports.EventBus, lineage ports.LineageRecorder) *QueueManager {
	return &QueueManager{
		journal: journal,
		events:  events,
		lineage: lineage,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *QueueManager) transition(ctx context.Context, id string, t domain.Transition) (*domain.JournalEntry, error) {
	if t.At.IsZero() {
		t.At = m.now()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	entry, err := m.journal.UpdateStatus(ctx, id, t)
	if err != nil {
		return nil, fmt.Errorf("transition %s %s -> %s: %w", id, t.From, t.To, err)
	}
	slog.Info("entry_transitioned",
		"entry_id", id,
		"from", string(t.From),
		"to", string(t.To),
		"actor", t.Actor,
	)
	return entry, nil
}

// BeginAssessment moves a pending entry to assessing and reports whether the
// caller owns the attempt. An entry already in assessing is resumed so
// retries and recovery can finish it. Losing the pending -> assessing race,
// or any other status, returns the current entry with started false.
func (m *QueueManager) BeginAssessment(ctx context.Context, id string) (entry *domain.JournalEntry, started bool, err error) {
	entry, err = m.journal.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	switch entry.QueueStatus {
	case domain.StatusAssessing:
		return entry, true, nil
	case domain.StatusPending:
	default:
		return entry, false, nil
	}

	updated, err := m.transition(ctx, id, domain.Transition{
		From:  domain.StatusPending,
		To:    domain.StatusAssessing,
		Actor: actorAssessor,
	})
	if domain.IsKind(err, domain.ErrStatusConflict) {
		current, getErr := m.journal.Get(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func (m *QueueManager) MarkDuplicate(ctx context.Context, id string, outcome domain.DedupOutcome) (*domain.JournalEntry, error) {
	if !outcome.IsDuplicate || outcome.DuplicateOfID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "mark duplicate", errors.New("duplicate_of_id is required"))
	}
	entry, err := m.transition(ctx, id, domain.Transition{
		From:  domain.StatusAssessing,
		To:    domain.StatusSkippedDuplicate,
		Actor: actorAssessor,
		Dedup: &outcome,
	})
	if err != nil {
		return nil, err
	}
	m.recordLineage(ctx, entry)
	return entry, nil
}

// RecordExactDuplicate stores a byte-identical resubmission directly as a
// tier-0 duplicate of the canonical entry holding its content hash.
func (m *QueueManager) RecordExactDuplicate(ctx context.Context, entry *domain.JournalEntry, canonical *domain.JournalEntry) (*domain.JournalEntry, error) {
	score := 1.0
	now := m.now()
	entry.QueueStatus = domain.StatusSkippedDuplicate
	entry.IsDuplicate = true
	entry.DuplicateOfID = canonical.ID
	entry.DedupTier = domain.TierIdentity
	entry.SimilarityScore = &score
	entry.AssessedAt = &now
	entry.UpdatedAt = now

	if err := m.journal.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create duplicate entry: %w", err)
	}
	slog.Info("exact_duplicate_recorded",
		"entry_id", entry.ID,
		"duplicate_of_id", canonical.ID,
		"source_channel", string(entry.SourceChannel),
	)
	m.recordLineage(ctx, entry)
	return entry, nil
}

func (m *QueueManager) recordLineage(ctx context.Context, entry *domain.JournalEntry) {
	if m.lineage == nil {
		return
	}
	if err := m.lineage.RecordDuplicate(ctx, entry); err != nil {
		slog.Warn("lineage_record_failed", "entry_id", entry.ID, "duplicate_of_id", entry.DuplicateOfID, "error", err)
	}
}

// Admit queues an assessed entry and wakes downstream processors.
func (m *QueueManager) Admit(ctx context.Context, id string, outcome domain.DedupOutcome, cls domain.Classification) (*domain.JournalEntry, error) {
	entry, err := m.transition(ctx, id, domain.Transition{
		From:           domain.StatusAssessing,
		To:             domain.StatusQueued,
		Actor:          actorAssessor,
		Dedup:          &outcome,
		Classification: &cls,
	})
	if err != nil {
		return nil, err
	}
	m.announceQueued(ctx, entry.ID)
	return entry, nil
}

func (m *QueueManager) HoldForReview(ctx context.Context, id string, outcome domain.DedupOutcome, cls *domain.Classification, reason string) (*domain.JournalEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hold for review", errors.New("review reason is required"))
	}
	return m.transition(ctx, id, domain.Transition{
		From:           domain.StatusAssessing,
		To:             domain.StatusSkippedManualReview,
		Actor:          actorAssessor,
		Dedup:          &outcome,
		Classification: cls,
		ReviewReason:   &reason,
	})
}

// ApproveReview releases an entry held for review into the queue.
func (m *QueueManager) ApproveReview(ctx context.Context, id, reviewer string) (*domain.JournalEntry, error) {
	if strings.TrimSpace(reviewer) == "" {
		reviewer = actorOperator
	}
	entry, err := m.transition(ctx, id, domain.Transition{
		From:  domain.StatusSkippedManualReview,
		To:    domain.StatusQueued,
		Actor: reviewer,
	})
	if err != nil {
		return nil, err
	}
	m.announceQueued(ctx, entry.ID)
	return entry, nil
}

func (m *QueueManager) announceQueued(ctx context.Context, id string) {
	if m.events == nil {
		return
	}
	if err := m.events.PublishEntryQueued(ctx, id); err != nil {
		slog.Warn("queued_notification_failed", "entry_id", id, "error", err)
	}
}

// Claim hands the next queued entry to workerID. A nil entry with a nil error
// means there was nothing to claim or another worker won the race.
func (m *QueueManager) Claim(ctx context.Context, workerID string) (*domain.JournalEntry, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "claim", errors.New("worker id is required"))
	}
	entry, err := m.journal.Claim(ctx, workerID, m.now())
	if err != nil {
		return nil, fmt.Errorf("claim next entry: %w", err)
	}
	if entry != nil {
		slog.Info("entry_claimed", "entry_id", entry.ID, "worker_id", workerID, "priority", entry.Priority)
	}
	return entry, nil
}

func (m *QueueManager) Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*domain.JournalEntry, error) {
	if len(result) > 0 && !json.Valid(result) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "complete", errors.New("result must be valid JSON"))
	}
	if err := m.ensureClaimedBy(ctx, id, workerID); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, domain.Transition{
		From:             domain.StatusProcessing,
		To:               domain.StatusCompleted,
		Actor:            workerID,
		ProcessingResult: result,
	})
}

func (m *QueueManager) Fail(ctx context.Context, id, workerID, reason string) (*domain.JournalEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fail", errors.New("failure reason is required"))
	}
	if err := m.ensureClaimedBy(ctx, id, workerID); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, domain.Transition{
		From:          domain.StatusProcessing,
		To:            domain.StatusFailed,
		Actor:         workerID,
		FailureReason: &reason,
	})
}

func (m *QueueManager) ensureClaimedBy(ctx context.Context, id, workerID string) error {
	if strings.TrimSpace(workerID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "check claim", errors.New("worker id is required"))
	}
	entry, err := m.journal.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.QueueStatus != domain.StatusProcessing {
		return domain.WrapError(domain.ErrInvalidTransition, "check claim",
			fmt.Errorf("entry %s is %s, not processing", id, entry.QueueStatus))
	}
	if entry.ClaimedBy != workerID {
		return domain.WrapError(domain.ErrStatusConflict, "check claim",
			fmt.Errorf("entry %s is claimed by %q", id, entry.ClaimedBy))
	}
	return nil
}

// Reprocess sends a finished entry back through assessment. It is only ever
// triggered explicitly; duplicates cannot be reprocessed because the
// canonical entry already owns their content hash.
func (m *QueueManager) Reprocess(ctx context.Context, id, reason string) (*domain.JournalEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "reprocess", errors.New("reason is required"))
	}
	entry, err := m.journal.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch entry.QueueStatus {
	case domain.StatusFailed, domain.StatusCompleted, domain.StatusSkippedManualReview:
	default:
		return nil, domain.WrapError(domain.ErrInvalidTransition, "reprocess",
			fmt.Errorf("entry %s in status %s cannot be reprocessed", id, entry.QueueStatus))
	}

	updated, err := m.transition(ctx, id, domain.Transition{
		From:            entry.QueueStatus,
		To:              domain.StatusPending,
		Actor:           actorOperator,
		ReprocessReason: &reason,
	})
	if err != nil {
		return nil, err
	}
	if m.events != nil {
		if err := m.events.PublishEntrySubmitted(ctx, id); err != nil {
			slog.Warn("reprocess_announce_failed", "entry_id", id, "error", err)
		}
	}
	return updated, nil
}

// ListQueued peeks at the queue in claim order without claiming.
func (m *QueueManager) ListQueued(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return m.journal.ListQueued(ctx, limit)
}
