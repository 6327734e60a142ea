package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

const entryColumns = `id, content_hash, original_filename, mime_type, size_bytes, storage_key, source_channel, submitted_at,
	document_type, priority, compliance_tags, queue_status, is_duplicate, duplicate_of_id, dedup_tier, similarity_score,
	review_reason, reprocessing_requested, reprocessing_reason, claimed_by, processing_result, failure_reason,
	assessed_at, queued_at, processing_started_at, completed_at, updated_at`

type JournalRepository struct {
	db *sql.DB
}

func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, r.db)
}

func (r *JournalRepository) Create(ctx context.Context, entry *domain.JournalEntry) error {
	tagsJSON, err := json.Marshal(nonNilTags(entry.ComplianceTags))
	if err != nil {
		return fmt.Errorf("marshal compliance tags: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin create tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO journal_entries (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
`,
		entry.ID, entry.ContentHash, entry.OriginalFilename, entry.MimeType, entry.SizeBytes, entry.StorageKey,
		string(entry.SourceChannel), entry.SubmittedAt, string(entry.DocumentType), entry.Priority, tagsJSON,
		string(entry.QueueStatus), entry.IsDuplicate, nullString(entry.DuplicateOfID), int(entry.DedupTier),
		entry.SimilarityScore, entry.ReviewReason, entry.ReprocessingRequested, entry.ReprocessingReason,
		entry.ClaimedBy, nullJSON(entry.ProcessingResult), entry.FailureReason,
		entry.AssessedAt, entry.QueuedAt, entry.ProcessingStartedAt, entry.CompletedAt, entry.UpdatedAt,
	)
	if err != nil {
		return classify("insert journal entry", err)
	}
	if err := insertAudit(ctx, tx, domain.CreationEvent(entry)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit create tx", err)
	}
	return nil
}

func (r *JournalRepository) Get(ctx context.Context, id string) (*domain.JournalEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrEntryNotFound, "get entry", fmt.Errorf("id=%s", id))
		}
		return nil, classify("get entry", err)
	}
	return entry, nil
}

// FindByHash prefers the entry still holding hash. When only duplicates carry
// it, the oldest one is followed through duplicate_of_id.
func (r *JournalRepository) FindByHash(ctx context.Context, hash string) (*domain.JournalEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM journal_entries
WHERE content_hash = $1
ORDER BY (queue_status = 'skipped_duplicate'), submitted_at
LIMIT 1
`, hash)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrEntryNotFound, "find by hash", fmt.Errorf("hash=%s", hash))
		}
		return nil, classify("find by hash", err)
	}
	for hops := 0; hops < domain.MaxDuplicateHops; hops++ {
		if entry.QueueStatus != domain.StatusSkippedDuplicate || entry.DuplicateOfID == "" {
			break
		}
		next, err := r.Get(ctx, entry.DuplicateOfID)
		if err != nil {
			if domain.IsKind(err, domain.ErrEntryNotFound) {
				break
			}
			return nil, err
		}
		entry = next
	}
	return entry, nil
}

// UpdateStatus locks the row, applies t in memory and writes the result back
// together with its audit row.
func (r *JournalRepository) UpdateStatus(ctx context.Context, id string, t domain.Transition) (*domain.JournalEntry, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin transition tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id = $1 FOR UPDATE`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrEntryNotFound, "update status", fmt.Errorf("id=%s", id))
		}
		return nil, classify("lock entry", err)
	}
	if err := applyAndWrite(ctx, tx, entry, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit transition tx", err)
	}
	return entry, nil
}

// Claim takes the head of the queue with SKIP LOCKED so concurrent workers
// never block on, or receive, the same row.
func (r *JournalRepository) Claim(ctx context.Context, workerID string, at time.Time) (*domain.JournalEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin claim tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM journal_entries
WHERE queue_status = 'queued'
ORDER BY priority DESC, submitted_at ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED
`)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("select claimable entry", err)
	}

	t := domain.Transition{
		From:      domain.StatusQueued,
		To:        domain.StatusProcessing,
		Actor:     workerID,
		At:        at,
		ClaimedBy: &workerID,
	}
	if err := applyAndWrite(ctx, tx, entry, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit claim tx", err)
	}
	return entry, nil
}

func applyAndWrite(ctx context.Context, tx *sql.Tx, entry *domain.JournalEntry, t domain.Transition) error {
	if err := t.Apply(entry); err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(nonNilTags(entry.ComplianceTags))
	if err != nil {
		return fmt.Errorf("marshal compliance tags: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
UPDATE journal_entries
SET document_type = $2, priority = $3, compliance_tags = $4, queue_status = $5, is_duplicate = $6,
	duplicate_of_id = $7, dedup_tier = $8, similarity_score = $9, review_reason = $10,
	reprocessing_requested = $11, reprocessing_reason = $12, claimed_by = $13, processing_result = $14,
	failure_reason = $15, assessed_at = $16, queued_at = $17, processing_started_at = $18,
	completed_at = $19, updated_at = $20
WHERE id = $1
`,
		entry.ID, string(entry.DocumentType), entry.Priority, tagsJSON, string(entry.QueueStatus), entry.IsDuplicate,
		nullString(entry.DuplicateOfID), int(entry.DedupTier), entry.SimilarityScore, entry.ReviewReason,
		entry.ReprocessingRequested, entry.ReprocessingReason, entry.ClaimedBy, nullJSON(entry.ProcessingResult),
		entry.FailureReason, entry.AssessedAt, entry.QueuedAt, entry.ProcessingStartedAt,
		entry.CompletedAt, entry.UpdatedAt,
	)
	if err != nil {
		return classify("update journal entry", err)
	}
	return insertAudit(ctx, tx, t.AuditEvent(entry.ID))
}

func insertAudit(ctx context.Context, tx *sql.Tx, event domain.AuditEvent) error {
	detail := event.Detail
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO journal_audit (entry_id, action, from_status, to_status, actor, detail, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, event.EntryID, string(event.Action), string(event.FromStatus), string(event.ToStatus), event.Actor, []byte(detail), event.OccurredAt)
	if err != nil {
		return classify("insert audit event", err)
	}
	return nil
}

func (r *JournalRepository) ListRecent(ctx context.Context, window domain.RecentWindow) ([]domain.JournalEntry, error) {
	return r.list(ctx, "list recent entries", `
SELECT `+entryColumns+`
FROM journal_entries
WHERE is_duplicate = FALSE AND submitted_at >= $1 AND id <> $2
ORDER BY submitted_at DESC
LIMIT $3
`, window.Since, window.ExcludeID, limitOrAll(window.Limit))
}

func (r *JournalRepository) ListQueued(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	return r.list(ctx, "list queued entries", `
SELECT `+entryColumns+`
FROM journal_entries
WHERE queue_status = 'queued'
ORDER BY priority DESC, submitted_at ASC, id ASC
LIMIT $1
`, limitOrAll(limit))
}

func (r *JournalRepository) ListStale(ctx context.Context, statuses []domain.QueueStatus, before time.Time, limit int) ([]domain.JournalEntry, error) {
	raw := make([]string, 0, len(statuses))
	for _, s := range statuses {
		raw = append(raw, string(s))
	}
	return r.list(ctx, "list stale entries", `
SELECT `+entryColumns+`
FROM journal_entries
WHERE queue_status = ANY($1) AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3
`, raw, before, limitOrAll(limit))
}

func (r *JournalRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.JournalEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := make([]domain.JournalEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (r *JournalRepository) ListAudit(ctx context.Context, id string) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT entry_id, action, from_status, to_status, actor, detail, occurred_at
FROM journal_audit
WHERE entry_id = $1
ORDER BY id ASC
`, id)
	if err != nil {
		return nil, classify("list audit", err)
	}
	defer rows.Close()

	out := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var (
			event            domain.AuditEvent
			action, from, to string
			detail           []byte
		)
		if err := rows.Scan(&event.EntryID, &action, &from, &to, &event.Actor, &detail, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = domain.AuditAction(action)
		event.FromStatus = domain.QueueStatus(from)
		event.ToStatus = domain.QueueStatus(to)
		event.Detail = json.RawMessage(detail)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate audit", err)
	}
	return out, nil
}

func (r *JournalRepository) Stats(ctx context.Context) (domain.QueueStats, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT queue_status, is_duplicate, dedup_tier, COUNT(*)
FROM journal_entries
GROUP BY queue_status, is_duplicate, dedup_tier
`)
	if err != nil {
		return domain.QueueStats{}, classify("journal stats", err)
	}
	defer rows.Close()

	stats := domain.QueueStats{
		ByStatus: make(map[domain.QueueStatus]int),
		TierHits: make(map[string]int),
	}
	for rows.Next() {
		var (
			status    string
			duplicate bool
			tier      int
			count     int
		)
		if err := rows.Scan(&status, &duplicate, &tier, &count); err != nil {
			return domain.QueueStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Total += count
		stats.ByStatus[domain.QueueStatus(status)] += count
		if duplicate {
			stats.Duplicates += count
			stats.TierHits[domain.DedupTier(tier).String()] += count
		}
	}
	if err := rows.Err(); err != nil {
		return domain.QueueStats{}, classify("iterate stats", err)
	}
	stats.Finalize()
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.JournalEntry, error) {
	var (
		entry                   domain.JournalEntry
		channel, docType, state string
		tags, result            []byte
		duplicateOf             sql.NullString
		tier                    int
	)
	err := row.Scan(
		&entry.ID, &entry.ContentHash, &entry.OriginalFilename, &entry.MimeType, &entry.SizeBytes, &entry.StorageKey,
		&channel, &entry.SubmittedAt, &docType, &entry.Priority, &tags, &state, &entry.IsDuplicate, &duplicateOf,
		&tier, &entry.SimilarityScore, &entry.ReviewReason, &entry.ReprocessingRequested, &entry.ReprocessingReason,
		&entry.ClaimedBy, &result, &entry.FailureReason, &entry.AssessedAt, &entry.QueuedAt,
		&entry.ProcessingStartedAt, &entry.CompletedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &entry.ComplianceTags); err != nil {
			return nil, fmt.Errorf("unmarshal compliance tags: %w", err)
		}
	}
	if len(result) > 0 {
		entry.ProcessingResult = json.RawMessage(result)
	}
	entry.SourceChannel = domain.SourceChannel(channel)
	entry.DocumentType = domain.DocumentType(docType)
	entry.QueueStatus = domain.QueueStatus(state)
	entry.DuplicateOfID = duplicateOf.String
	entry.DedupTier = domain.DedupTier(tier)
	return &entry, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// limitOrAll turns a non-positive limit into NULL, which LIMIT treats as
// unbounded.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
