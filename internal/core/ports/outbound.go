package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// JournalStore persists journal entries and their audit history. Every Create
// and UpdateStatus appends an audit event in the same transaction.
type JournalStore interface {
	// Create inserts a new entry. It fails with domain.ErrDuplicateHash when a
	// non-duplicate entry with the same content hash already exists.
	Create(ctx context.Context, entry *domain.JournalEntry) error
	Get(ctx context.Context, id string) (*domain.JournalEntry, error)
	// FindByHash returns the canonical (non-duplicate) entry for hash. If the
	// only entries with that hash were later judged duplicates, it follows
	// their duplicate_of_id to the entry they duplicate.
	FindByHash(ctx context.Context, hash string) (*domain.JournalEntry, error)
	// UpdateStatus applies t only if the entry is still in t.From.
	UpdateStatus(ctx context.Context, id string, t domain.Transition) (*domain.JournalEntry, error)
	// Claim moves the highest priority queued entry to processing. It returns
	// nil when nothing is claimable.
	Claim(ctx context.Context, workerID string, at time.Time) (*domain.JournalEntry, error)
	ListRecent(ctx context.Context, window domain.RecentWindow) ([]domain.JournalEntry, error)
	ListQueued(ctx context.Context, limit int) ([]domain.JournalEntry, error)
	// ListStale returns entries left in one of statuses since before, oldest
	// first. Recovery uses it to re-announce stuck entries.
	ListStale(ctx context.Context, statuses []domain.QueueStatus, before time.Time, limit int) ([]domain.JournalEntry, error)
	ListAudit(ctx context.Context, id string) ([]domain.AuditEvent, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// FingerprintStore keeps tier-1 shingle sketches of admitted entries.
type FingerprintStore interface {
	SaveFingerprint(ctx context.Context, fp domain.Fingerprint) error
	// ListFingerprints returns sketches of non-duplicate entries inside window.
	ListFingerprints(ctx context.Context, window domain.RecentWindow) ([]domain.Fingerprint, error)
}

// StepRecorder is the write-only assessment audit trail. Implementations must
// not fail the caller.
type StepRecorder interface {
	RecordStep(ctx context.Context, step domain.StepLog)
}

// ObjectStorage stores raw submitted bytes.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// EventBus fans out journal lifecycle events.
type EventBus interface {
	PublishEntrySubmitted(ctx context.Context, entryID string) error
	PublishEntryQueued(ctx context.Context, entryID string) error
	SubscribeEntrySubmitted(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor pulls plain text out of a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, entry *domain.JournalEntry) (domain.Extraction, error)
}

// Embedder turns document text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingIndex stores vectors of admitted entries and answers nearest
// neighbour queries by cosine similarity.
type EmbeddingIndex interface {
	Upsert(ctx context.Context, entryID string, vector []float32) error
	Nearest(ctx context.Context, vector []float32, limit int, excludeID string) ([]domain.VectorMatch, error)
}

type ClassifyInput struct {
	Filename string
	MimeType string
	Text     string
	Types    []domain.DocumentType
}

// DocumentClassifier detects a document type. Returning a type outside Types
// makes the rule engine fall back to unknown.
type DocumentClassifier interface {
	Classify(ctx context.Context, input ClassifyInput) (domain.DocumentType, error)
}

// RuleProvider exposes the current, validated rule table.
type RuleProvider interface {
	Current() *domain.RuleSet
}

// LineageRecorder projects duplicate links for dashboard lookups.
type LineageRecorder interface {
	RecordDuplicate(ctx context.Context, entry *domain.JournalEntry) error
}
