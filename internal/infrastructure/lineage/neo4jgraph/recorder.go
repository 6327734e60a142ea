package neo4jgraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

const mergeDuplicateQuery = `
MERGE (canonical:JournalEntry {id: $canonical_id})
MERGE (dup:JournalEntry {id: $entry_id})
SET dup.filename = $filename, dup.content_hash = $content_hash, dup.submitted_at = $submitted_at
MERGE (dup)-[edge:DUPLICATE_OF]->(canonical)
SET edge.tier = $tier, edge.score = $score, edge.recorded_at = $recorded_at
`

type runFunc func(ctx context.Context, query string, params map[string]any) error

// Recorder projects DUPLICATE_OF edges into neo4j so dashboards can walk a
// canonical document's copies.
type Recorder struct {
	driver neo4j.DriverWithContext
	run    runFunc
}

type Config struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

func New(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j uri is required")
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	database := cfg.Database
	return &Recorder{
		driver: driver,
		run: func(ctx context.Context, query string, params map[string]any) error {
			_, err := neo4j.ExecuteQuery(ctx, driver, query, params,
				neo4j.EagerResultTransformer,
				neo4j.ExecuteQueryWithDatabase(database),
				neo4j.ExecuteQueryWithWritersRouting(),
			)
			return err
		},
	}, nil
}

func (r *Recorder) RecordDuplicate(ctx context.Context, entry *domain.JournalEntry) error {
	if entry == nil || !entry.IsDuplicate || entry.DuplicateOfID == "" {
		return nil
	}
	var score float64
	if entry.SimilarityScore != nil {
		score = *entry.SimilarityScore
	}
	params := map[string]any{
		"canonical_id": entry.DuplicateOfID,
		"entry_id":     entry.ID,
		"filename":     entry.OriginalFilename,
		"content_hash": entry.ContentHash,
		"submitted_at": entry.SubmittedAt.UTC().Format(time.RFC3339Nano),
		"tier":         int64(entry.DedupTier),
		"score":        score,
		"recorded_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := r.run(ctx, mergeDuplicateQuery, params); err != nil {
		return domain.WrapError(domain.ErrTemporary, "neo4j record duplicate", err)
	}
	return nil
}

func (r *Recorder) Close(ctx context.Context) error {
	if r == nil || r.driver == nil {
		return nil
	}
	return r.driver.Close(ctx)
}
