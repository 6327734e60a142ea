package ports

import (
	"context"
	"encoding/json"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// DocumentSubmitter is the inbound contract for ingestion channels.
type DocumentSubmitter interface {
	Submit(ctx context.Context, submission domain.Submission) (*domain.JournalEntry, error)
}

// EntryAssessor runs deduplication, classification and admission for one entry.
type EntryAssessor interface {
	AssessByID(ctx context.Context, entryID string) (*domain.JournalEntry, error)
}

// WorkQueue is exposed to downstream processing collaborators.
type WorkQueue interface {
	Claim(ctx context.Context, workerID string) (*domain.JournalEntry, error)
	Complete(ctx context.Context, entryID, workerID string, result json.RawMessage) (*domain.JournalEntry, error)
	Fail(ctx context.Context, entryID, workerID, reason string) (*domain.JournalEntry, error)
	ListQueued(ctx context.Context, limit int) ([]domain.JournalEntry, error)
}

// Reprocessor resets finished entries back to pending.
type Reprocessor interface {
	Reprocess(ctx context.Context, entryID, reason string) (*domain.JournalEntry, error)
}

// ReviewApprover releases entries held for manual review.
type ReviewApprover interface {
	ApproveReview(ctx context.Context, entryID, reviewer string) (*domain.JournalEntry, error)
}

// JournalReader is the read-only query surface for dashboards.
type JournalReader interface {
	Get(ctx context.Context, id string) (*domain.JournalEntry, error)
	History(ctx context.Context, id string) ([]domain.AuditEvent, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
}
