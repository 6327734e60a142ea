package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

const canonicalHashIndex = "journal_entries_canonical_hash_idx"

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the journal tables. The partial unique index is what
// keeps a content hash held by at most one non-duplicate entry.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS journal_entries (
	id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL,
	storage_key TEXT NOT NULL,
	source_channel TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	document_type TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	compliance_tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	queue_status TEXT NOT NULL,
	is_duplicate BOOLEAN NOT NULL DEFAULT FALSE,
	duplicate_of_id TEXT REFERENCES journal_entries(id),
	dedup_tier SMALLINT NOT NULL DEFAULT -1,
	similarity_score DOUBLE PRECISION,
	review_reason TEXT NOT NULL DEFAULT '',
	reprocessing_requested BOOLEAN NOT NULL DEFAULT FALSE,
	reprocessing_reason TEXT NOT NULL DEFAULT '',
	claimed_by TEXT NOT NULL DEFAULT '',
	processing_result JSONB,
	failure_reason TEXT NOT NULL DEFAULT '',
	assessed_at TIMESTAMPTZ,
	queued_at TIMESTAMPTZ,
	processing_started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS journal_entries_canonical_hash_idx
	ON journal_entries(content_hash) WHERE queue_status <> 'skipped_duplicate';
CREATE INDEX IF NOT EXISTS idx_journal_entries_claim
	ON journal_entries(priority DESC, submitted_at ASC) WHERE queue_status = 'queued';
CREATE INDEX IF NOT EXISTS idx_journal_entries_submitted_at ON journal_entries(submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_entries_status_updated ON journal_entries(queue_status, updated_at);

CREATE TABLE IF NOT EXISTS journal_audit (
	id BIGSERIAL PRIMARY KEY,
	entry_id TEXT NOT NULL REFERENCES journal_entries(id),
	action TEXT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	detail JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_audit_entry ON journal_audit(entry_id, id);

CREATE TABLE IF NOT EXISTS journal_fingerprints (
	entry_id TEXT PRIMARY KEY REFERENCES journal_entries(id),
	shingles BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_fingerprints_created_at ON journal_fingerprints(created_at DESC);

CREATE TABLE IF NOT EXISTS assessment_steps (
	id BIGSERIAL PRIMARY KEY,
	entry_id TEXT NOT NULL,
	attempt_id TEXT NOT NULL,
	tier SMALLINT NOT NULL,
	duration_ms DOUBLE PRECISION NOT NULL,
	outcome TEXT NOT NULL,
	score DOUBLE PRECISION,
	match_id TEXT NOT NULL DEFAULT '',
	candidates INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessment_steps_entry ON assessment_steps(entry_id, recorded_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// classify maps driver failures onto domain error kinds so callers can decide
// about retries without knowing about postgres.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == canonicalHashIndex {
				return domain.WrapError(domain.ErrDuplicateHash, op, err)
			}
			return domain.WrapError(domain.ErrInvalidInput, op, err)
		case "40001", "40P01", "55P03":
			return domain.WrapError(domain.ErrTemporary, op, err)
		case "57P01", "57P02", "57P03", "53300":
			return domain.WrapError(domain.ErrStorageUnavailable, op, err)
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	// Anything else below the SQL layer is a broken or unreachable server.
	return domain.WrapError(domain.ErrStorageUnavailable, op, err)
}
