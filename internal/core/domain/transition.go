package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

var allowedTransitions = map[QueueStatus][]QueueStatus{
	StatusPending:             {StatusAssessing},
	StatusAssessing:           {StatusQueued, StatusSkippedDuplicate, StatusSkippedManualReview},
	StatusQueued:              {StatusProcessing},
	StatusProcessing:          {StatusCompleted, StatusFailed},
	StatusSkippedManualReview: {StatusQueued, StatusPending},
	StatusFailed:              {StatusPending},
	StatusCompleted:           {StatusPending},
}

// CanTransition reports whether the queue state machine has an edge from -> to.
func CanTransition(from, to QueueStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports states the queue manager never leaves on its own.
func IsTerminal(s QueueStatus) bool {
	switch s {
	case StatusSkippedDuplicate, StatusSkippedManualReview, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

type DedupOutcome struct {
	IsDuplicate     bool
	DuplicateOfID   string
	Tier            DedupTier
	SimilarityScore *float64
}

type Classification struct {
	DocumentType   DocumentType
	Priority       int
	ComplianceTags []string
}

// Transition is one compare-and-set status change plus the fields it writes.
// Nil fields are left untouched.
type Transition struct {
	From  QueueStatus
	To    QueueStatus
	Actor string
	At    time.Time

	Dedup            *DedupOutcome
	Classification   *Classification
	ReviewReason     *string
	ClaimedBy        *string
	ProcessingResult json.RawMessage
	FailureReason    *string
	ReprocessReason  *string
}

func (t Transition) Validate() error {
	if !t.From.Valid() || !t.To.Valid() {
		return WrapError(ErrInvalidInput, "validate transition", fmt.Errorf("unknown status %q -> %q", t.From, t.To))
	}
	if !CanTransition(t.From, t.To) {
		return WrapError(ErrInvalidTransition, "validate transition", fmt.Errorf("%s -> %s", t.From, t.To))
	}
	return nil
}

// Apply mutates entry according to t. The entry must currently be in t.From.
func (t Transition) Apply(entry *JournalEntry) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if entry.QueueStatus != t.From {
		return WrapError(ErrStatusConflict, "apply transition",
			fmt.Errorf("entry %s is %s, expected %s", entry.ID, entry.QueueStatus, t.From))
	}

	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if t.Dedup != nil {
		entry.IsDuplicate = t.Dedup.IsDuplicate
		entry.DuplicateOfID = t.Dedup.DuplicateOfID
		entry.DedupTier = t.Dedup.Tier
		entry.SimilarityScore = t.Dedup.SimilarityScore
	}
	if t.Classification != nil {
		entry.DocumentType = t.Classification.DocumentType
		entry.Priority = t.Classification.Priority
		entry.ComplianceTags = append([]string(nil), t.Classification.ComplianceTags...)
	}
	if t.ReviewReason != nil {
		entry.ReviewReason = *t.ReviewReason
	}
	if t.ClaimedBy != nil {
		entry.ClaimedBy = *t.ClaimedBy
	}
	if len(t.ProcessingResult) > 0 {
		entry.ProcessingResult = append(json.RawMessage(nil), t.ProcessingResult...)
	}
	if t.FailureReason != nil {
		entry.FailureReason = *t.FailureReason
	}

	switch t.To {
	case StatusQueued:
		if t.From == StatusAssessing {
			entry.AssessedAt = &at
		}
		entry.QueuedAt = &at
	case StatusSkippedDuplicate, StatusSkippedManualReview:
		entry.AssessedAt = &at
	case StatusProcessing:
		entry.ProcessingStartedAt = &at
	case StatusCompleted, StatusFailed:
		entry.CompletedAt = &at
	case StatusPending:
		entry.ReprocessingRequested = true
		if t.ReprocessReason != nil {
			entry.ReprocessingReason = *t.ReprocessReason
		}
		entry.ClaimedBy = ""
		entry.FailureReason = ""
		entry.ReviewReason = ""
		entry.QueuedAt = nil
		entry.ProcessingStartedAt = nil
		entry.CompletedAt = nil
	}

	entry.QueueStatus = t.To
	entry.UpdatedAt = at
	return nil
}

// AuditEvent renders the history row written alongside the transition.
func (t Transition) AuditEvent(entryID string) AuditEvent {
	detail := map[string]any{}
	if t.Dedup != nil {
		detail["is_duplicate"] = t.Dedup.IsDuplicate
		detail["dedup_tier"] = t.Dedup.Tier.String()
		if t.Dedup.DuplicateOfID != "" {
			detail["duplicate_of_id"] = t.Dedup.DuplicateOfID
		}
		if t.Dedup.SimilarityScore != nil {
			detail["similarity_score"] = *t.Dedup.SimilarityScore
		}
	}
	if t.Classification != nil {
		detail["document_type"] = t.Classification.DocumentType
		detail["priority"] = t.Classification.Priority
	}
	if t.ReviewReason != nil {
		detail["review_reason"] = *t.ReviewReason
	}
	if t.FailureReason != nil {
		detail["failure_reason"] = *t.FailureReason
	}
	if t.ReprocessReason != nil {
		detail["reprocess_reason"] = *t.ReprocessReason
	}
	raw, _ := json.Marshal(detail)

	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return AuditEvent{
		EntryID:    entryID,
		Action:     AuditTransition,
		FromStatus: t.From,
		ToStatus:   t.To,
		Actor:      t.Actor,
		Detail:     raw,
		OccurredAt: at,
	}
}

// CreationEvent renders the history row written alongside a new entry.
func CreationEvent(entry *JournalEntry) AuditEvent {
	detail := map[string]any{
		"content_hash":      entry.ContentHash,
		"original_filename": entry.OriginalFilename,
		"source_channel":    entry.SourceChannel,
	}
	if entry.IsDuplicate {
		detail["duplicate_of_id"] = entry.DuplicateOfID
		detail["dedup_tier"] = entry.DedupTier.String()
	}
	raw, _ := json.Marshal(detail)
	return AuditEvent{
		EntryID:    entry.ID,
		Action:     AuditCreate,
		ToStatus:   entry.QueueStatus,
		Actor:      string(entry.SourceChannel),
		Detail:     raw,
		OccurredAt: entry.SubmittedAt,
	}
}
