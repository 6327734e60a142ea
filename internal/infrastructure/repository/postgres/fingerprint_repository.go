package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

type FingerprintRepository struct {
	db *sql.DB
}

func NewFingerprintRepository(db *sql.DB) *FingerprintRepository {
	return &FingerprintRepository{db: db}
}

func (r *FingerprintRepository) SaveFingerprint(ctx context.Context, fp domain.Fingerprint) error {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO journal_fingerprints (entry_id, shingles, created_at)
SELECT $1, $2, $3
WHERE EXISTS (SELECT 1 FROM journal_entries WHERE id = $1)
ON CONFLICT (entry_id) DO UPDATE SET shingles = EXCLUDED.shingles, created_at = EXCLUDED.created_at
`, fp.EntryID, packShingles(fp.Shingles), fp.CreatedAt)
	if err != nil {
		return classify("save fingerprint", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("save fingerprint rows affected", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrEntryNotFound, "save fingerprint", fmt.Errorf("id=%s", fp.EntryID))
	}
	return nil
}

func (r *FingerprintRepository) ListFingerprints(ctx context.Context, window domain.RecentWindow) ([]domain.Fingerprint, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT f.entry_id, f.shingles, f.created_at
FROM journal_fingerprints f
JOIN journal_entries e ON e.id = f.entry_id
WHERE e.is_duplicate = FALSE AND f.created_at >= $1 AND f.entry_id <> $2
ORDER BY f.created_at DESC
LIMIT $3
`, window.Since, window.ExcludeID, limitOrAll(window.Limit))
	if err != nil {
		return nil, classify("list fingerprints", err)
	}
	defer rows.Close()

	out := make([]domain.Fingerprint, 0)
	for rows.Next() {
		var (
			fp     domain.Fingerprint
			packed []byte
		)
		if err := rows.Scan(&fp.EntryID, &packed, &fp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fp.Shingles, err = unpackShingles(packed)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", fp.EntryID, err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate fingerprints", err)
	}
	return out, nil
}

// RecordStep appends one assessment step. Failures are logged and swallowed:
// the step trail never blocks an assessment.
func (r *FingerprintRepository) RecordStep(ctx context.Context, step domain.StepLog) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO assessment_steps (entry_id, attempt_id, tier, duration_ms, outcome, score, match_id, candidates, error, note, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		step.EntryID, step.AttemptID, int(step.Tier), float64(step.Duration.Microseconds())/1000,
		string(step.Outcome), step.Score, step.MatchID, step.Candidates, step.Error, step.Note, step.RecordedAt,
	)
	if err != nil {
		slog.Warn("assessment_step_not_recorded",
			"entry_id", step.EntryID,
			"attempt_id", step.AttemptID,
			"tier", step.Tier.String(),
			"error", err,
		)
	}
}

// packShingles lays sketches out as consecutive big-endian uint64 values.
func packShingles(shingles []uint64) []byte {
	out := make([]byte, 8*len(shingles))
	for i, s := range shingles {
		binary.BigEndian.PutUint64(out[i*8:], s)
	}
	return out
}

func unpackShingles(packed []byte) ([]uint64, error) {
	if len(packed)%8 != 0 {
		return nil, fmt.Errorf("packed shingles length %d is not a multiple of 8", len(packed))
	}
	out := make([]uint64, len(packed)/8)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(packed[i*8:])
	}
	return out, nil
}
