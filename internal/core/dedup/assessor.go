package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

// Assessor runs the deduplication tiers in order of cost and stops at the
// first confident verdict.
type Assessor struct {
	cfg          Config
	journal      ports.JournalStore
	fingerprints ports.FingerprintStore
	extractor    ports.TextExtractor
	embedder     ports.Embedder
	index        ports.EmbeddingIndex
	steps        ports.StepRecorder
	now          func() time.Time
}

func NewAssessor(
	cfg Config,
	journal ports.JournalStore,
	fingerprints ports.FingerprintStore,
	extractor ports.TextExtractor,
	embedder ports.Embedder,
	index ports.EmbeddingIndex,
	steps ports.StepRecorder,
) *Assessor {
	return &Assessor{
		cfg:          cfg,
		journal:      journal,
		fingerprints: fingerprints,
		extractor:    extractor,
		embedder:     embedder,
		index:        index,
		steps:        steps,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Assessment is the result of one assessment attempt. It keeps the derived
// fingerprints so admission can remember them without recomputing.
type Assessment struct {
	AttemptID string
	EntryID   string
	Verdict   Verdict
	Tier      domain.DedupTier
	Shingles  []uint64
	Embedding []float32

	doc *document
}

// Extraction returns the extracted text, running the extractor at most once
// per attempt.
func (a *Assessment) Extraction(ctx context.Context) (domain.Extraction, error) {
	return a.doc.extract(ctx)
}

type document struct {
	entry     *domain.JournalEntry
	extractor ports.TextExtractor

	done       bool
	extraction domain.Extraction
	err        error
}

func (d *document) extract(ctx context.Context) (domain.Extraction, error) {
	if d.done {
		return d.extraction, d.err
	}
	if d.extractor == nil {
		d.done = true
		d.err = domain.WrapError(domain.ErrExtractionFailed, "extract text", errors.New("no extractor configured"))
		return d.extraction, d.err
	}
	extraction, err := d.extractor.Extract(ctx, d.entry)
	if err == nil && strings.TrimSpace(extraction.Text) == "" {
		err = domain.WrapError(domain.ErrExtractionFailed, "extract text", errors.New("empty extracted text"))
	}
	if err != nil && ctx.Err() != nil {
		// Cancellation is not a property of the document; allow a retry.
		return domain.Extraction{}, ctx.Err()
	}
	d.done = true
	d.extraction = extraction
	d.err = err
	return extraction, err
}

type tierFunc func(ctx context.Context, entry *domain.JournalEntry, window domain.RecentWindow, out *Assessment) (Verdict, int, error)

func (a *Assessor) Assess(ctx context.Context, entry *domain.JournalEntry) (*Assessment, error) {
	if entry == nil || entry.ID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "assess entry", errors.New("entry is required"))
	}

	out := &Assessment{
		AttemptID: uuid.NewString(),
		EntryID:   entry.ID,
		Tier:      domain.TierNone,
		doc:       &document{entry: entry, extractor: a.extractor},
	}
	window := domain.RecentWindow{
		Since:     a.now().Add(-a.cfg.LookbackWindow),
		Limit:     a.cfg.LookbackMaxEntries,
		ExcludeID: entry.ID,
	}

	tiers := []struct {
		tier domain.DedupTier
		run  tierFunc
	}{
		{domain.TierIdentity, a.runIdentity},
		{domain.TierContent, a.runContent},
		{domain.TierSemantic, a.runSemantic},
	}

	for _, t := range tiers {
		start := time.Now()
		verdict, candidates, err := t.run(ctx, entry, window, out)
		a.record(ctx, out, t.tier, verdict, candidates, err, time.Since(start))
		if err != nil {
			return nil, &TierError{Tier: t.tier, EntryID: entry.ID, Err: err}
		}

		out.Verdict = verdict
		out.Tier = t.tier
		if verdict.Kind != KindInconclusive {
			break
		}
	}

	slog.Info("assessment_complete",
		"entry_id", entry.ID,
		"attempt_id", out.AttemptID,
		"verdict", out.Verdict.Kind.String(),
		"tier", out.Tier.String(),
		"score", out.Verdict.Score,
		"match_id", out.Verdict.MatchID,
	)
	return out, nil
}

func (a *Assessor) runIdentity(ctx context.Context, entry *domain.JournalEntry, window domain.RecentWindow, _ *Assessment) (Verdict, int, error) {
	canonical, err := a.journal.FindByHash(ctx, entry.ContentHash)
	switch {
	case err == nil && canonical.ID != entry.ID:
		return Duplicate(canonical.ID, 1.0), 1, nil
	case err != nil && !domain.IsKind(err, domain.ErrEntryNotFound):
		return Verdict{}, 0, fmt.Errorf("find by content hash: %w", err)
	}

	recent, err := a.journal.ListRecent(ctx, window)
	if err != nil {
		return Verdict{}, 0, fmt.Errorf("list recent entries: %w", err)
	}
	return judgeFilenames(entry, recent, a.cfg), len(recent), nil
}

func (a *Assessor) runContent(ctx context.Context, entry *domain.JournalEntry, window domain.RecentWindow, out *Assessment) (Verdict, int, error) {
	extraction, err := out.doc.extract(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, 0, ctxErr
		}
		if domain.IsKind(err, domain.ErrStorageUnavailable) {
			return Verdict{}, 0, fmt.Errorf("extract text: %w", err)
		}
		slog.Info("tier_escalated", "entry_id", entry.ID, "tier", domain.TierContent.String(), "error", err)
		return Inconclusive(0, "extraction failed: "+err.Error()), 0, nil
	}

	sketch := Shingles(extraction.Text, a.cfg.ShingleSize, a.cfg.SketchSize)
	if len(sketch) == 0 {
		return Inconclusive(0, "no shingles in extracted text"), 0, nil
	}
	out.Shingles = sketch

	prior, err := a.fingerprints.ListFingerprints(ctx, window)
	if err != nil {
		return Verdict{}, 0, fmt.Errorf("list fingerprints: %w", err)
	}
	return judgeShingles(entry.ID, sketch, prior, a.cfg), len(prior), nil
}

func (a *Assessor) runSemantic(ctx context.Context, entry *domain.JournalEntry, _ domain.RecentWindow, out *Assessment) (Verdict, int, error) {
	if a.embedder == nil || a.index == nil {
		return a.degrade(entry, errors.New("semantic tier not configured")), 0, nil
	}
	extraction, err := out.doc.extract(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, 0, ctxErr
		}
		return a.degrade(entry, err), 0, nil
	}

	res, ok := a.bounded(ctx, func(tierCtx context.Context) semanticResult {
		return a.searchSemantic(tierCtx, extraction.Text, entry.ID)
	})
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, 0, ctxErr
		}
		return a.degrade(entry, domain.WrapError(domain.ErrEmbeddingFailed, "semantic tier",
			fmt.Errorf("timed out after %s", a.cfg.SemanticTimeout))), 0, nil
	}
	if res.err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, 0, ctxErr
		}
		return a.degrade(entry, res.err), 0, nil
	}
	out.Embedding = res.vector
	return judgeVectors(entry.ID, res.matches, a.cfg), len(res.matches), nil
}

// bounded runs fn under the semantic timeout and stops waiting when it
// expires, whether or not fn honours its context.
func (a *Assessor) bounded(ctx context.Context, fn func(context.Context) semanticResult) (semanticResult, bool) {
	tierCtx, cancel := context.WithTimeout(ctx, a.cfg.SemanticTimeout)
	defer cancel()

	done := make(chan semanticResult, 1)
	go func() {
		done <- fn(tierCtx)
	}()
	select {
	case res := <-done:
		return res, true
	case <-tierCtx.Done():
		return semanticResult{}, false
	}
}

type semanticResult struct {
	vector  []float32
	matches []domain.VectorMatch
	err     error
}

func (a *Assessor) searchSemantic(ctx context.Context, text, excludeID string) semanticResult {
	vector, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return semanticResult{err: domain.WrapError(domain.ErrEmbeddingFailed, "embed document", err)}
	}
	matches, err := a.index.Nearest(ctx, vector, a.cfg.SemanticCandidateLimit, excludeID)
	if err != nil {
		return semanticResult{err: domain.WrapError(domain.ErrEmbeddingFailed, "search embedding index", err)}
	}
	return semanticResult{vector: vector, matches: matches}
}

// degrade admits the document when the last tier cannot run. Earlier tiers
// already filtered the obvious duplicates.
func (a *Assessor) degrade(entry *domain.JournalEntry, cause error) Verdict {
	slog.Warn("tier_degraded",
		"entry_id", entry.ID,
		"tier", domain.TierSemantic.String(),
		"error", cause,
	)
	v := Unique(0)
	v.Reason = "degraded: " + cause.Error()
	return v
}

func (a *Assessor) record(ctx context.Context, out *Assessment, tier domain.DedupTier, v Verdict, candidates int, err error, took time.Duration) {
	if a.steps == nil {
		return
	}
	if err != nil {
		v = Errored(err.Error())
	}
	step := domain.StepLog{
		EntryID:    out.EntryID,
		AttemptID:  out.AttemptID,
		Tier:       tier,
		Duration:   took,
		Outcome:    v.Outcome(),
		MatchID:    v.MatchID,
		Candidates: candidates,
		Note:       v.Reason,
		RecordedAt: a.now(),
	}
	if err != nil {
		step.Error = err.Error()
	} else {
		score := v.Score
		step.Score = &score
	}
	a.steps.RecordStep(ctx, step)
}

// Remember stores the fingerprint and embedding of an admitted entry so later
// submissions can match it. Fingerprint storage errors are returned; the
// embedding index is best effort.
func (a *Assessor) Remember(ctx context.Context, entry *domain.JournalEntry, out *Assessment) error {
	if out == nil {
		return nil
	}

	if out.Shingles == nil {
		if extraction, err := out.doc.extract(ctx); err == nil {
			out.Shingles = Shingles(extraction.Text, a.cfg.ShingleSize, a.cfg.SketchSize)
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	if len(out.Shingles) > 0 {
		err := a.fingerprints.SaveFingerprint(ctx, domain.Fingerprint{
			EntryID:   entry.ID,
			Shingles:  out.Shingles,
			CreatedAt: a.now(),
		})
		if err != nil {
			return fmt.Errorf("save fingerprint: %w", err)
		}
	}

	if a.embedder == nil || a.index == nil {
		return nil
	}
	if out.Embedding == nil && a.cfg.IndexAdmitted {
		extraction, err := out.doc.extract(ctx)
		if err != nil {
			return nil
		}
		res, ok := a.bounded(ctx, func(embedCtx context.Context) semanticResult {
			vector, err := a.embedder.Embed(embedCtx, extraction.Text)
			return semanticResult{vector: vector, err: err}
		})
		if !ok {
			res.err = fmt.Errorf("embedding timed out after %s", a.cfg.SemanticTimeout)
		}
		if res.err != nil {
			slog.Warn("embedding_index_skipped", "entry_id", entry.ID, "error", res.err)
			return nil
		}
		out.Embedding = res.vector
	}
	if len(out.Embedding) == 0 {
		return nil
	}
	if err := a.index.Upsert(ctx, entry.ID, out.Embedding); err != nil {
		slog.Warn("embedding_index_skipped", "entry_id", entry.ID, "error", err)
	}
	return nil
}
