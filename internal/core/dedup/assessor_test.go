package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

type journalFake struct {
	byHash    map[string]*domain.JournalEntry
	recent    []domain.JournalEntry
	hashErr   error
	hashCalls int
	listCalls int
}

func (f *journalFake) Create(context.Context, *domain.JournalEntry) error { return nil }

func (f *journalFake) Get(context.Context, string) (*domain.JournalEntry, error) {
	return nil, domain.ErrEntryNotFound
}

func (f *journalFake) FindByHash(_ context.Context, hash string) (*domain.JournalEntry, error) {
	f.hashCalls++
	if f.hashErr != nil {
		return nil, f.hashErr
	}
	if entry, ok := f.byHash[hash]; ok {
		return entry, nil
	}
	return nil, domain.WrapError(domain.ErrEntryNotFound, "find by hash", errors.New(hash))
}

func (f *journalFake) UpdateStatus(context.Context, string, domain.Transition) (*domain.JournalEntry, error) {
	return nil, nil
}

func (f *journalFake) Claim(context.Context, string, time.Time) (*domain.JournalEntry, error) {
	return nil, nil
}

func (f *journalFake) ListRecent(context.Context, domain.RecentWindow) ([]domain.JournalEntry, error) {
	f.listCalls++
	return f.recent, nil
}

func (f *journalFake) ListQueued(context.Context, int) ([]domain.JournalEntry, error) {
	return nil, nil
}

func (f *journalFake) ListStale(context.Context, []domain.QueueStatus, time.Time, int) ([]domain.JournalEntry, error) {
	return nil, nil
}

func (f *journalFake) ListAudit(context.Context, string) ([]domain.AuditEvent, error) {
	return nil, nil
}

func (f *journalFake) Stats(context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{}, nil
}

type fingerprintFake struct {
	prior     []domain.Fingerprint
	saved     []domain.Fingerprint
	listErr   error
	listCalls int
}

func (f *fingerprintFake) SaveFingerprint(_ context.Context, fp domain.Fingerprint) error {
	f.saved = append(f.saved, fp)
	return nil
}

func (f *fingerprintFake) ListFingerprints(context.Context, domain.RecentWindow) ([]domain.Fingerprint, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.prior, nil
}

type textFake struct {
	text  string
	err   error
	calls int
}

func (f *textFake) Extract(context.Context, *domain.JournalEntry) (domain.Extraction, error) {
	f.calls++
	if f.err != nil {
		return domain.Extraction{}, f.err
	}
	return domain.Extraction{Text: f.text, Confidence: 1, Method: "plaintext"}, nil
}

type embedFake struct {
	vector []float32
	err    error
	block  bool
	calls  int
}

func (f *embedFake) Embed(ctx context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type indexFake struct {
	matches      []domain.VectorMatch
	upserted     map[string][]float32
	nearestCalls int
}

func (f *indexFake) Upsert(_ context.Context, entryID string, vector []float32) error {
	if f.upserted == nil {
		f.upserted = map[string][]float32{}
	}
	f.upserted[entryID] = vector
	return nil
}

func (f *indexFake) Nearest(context.Context, []float32, int, string) ([]domain.VectorMatch, error) {
	f.nearestCalls++
	return f.matches, nil
}

type stepsFake struct {
	steps []domain.StepLog
}

func (f *stepsFake) RecordStep(_ context.Context, step domain.StepLog) {
	f.steps = append(f.steps, step)
}

type assessorFixture struct {
	journal      *journalFake
	fingerprints *fingerprintFake
	text         *textFake
	embedder     *embedFake
	index        *indexFake
	steps        *stepsFake
}

func newFixture() *assessorFixture {
	return &assessorFixture{
		journal:      &journalFake{byHash: map[string]*domain.JournalEntry{}},
		fingerprints: &fingerprintFake{},
		text:         &textFake{text: words("w", 0, 100)},
		embedder:     &embedFake{vector: []float32{1, 0}},
		index:        &indexFake{},
		steps:        &stepsFake{},
	}
}

func (f *assessorFixture) assessor(cfg Config) *Assessor {
	return NewAssessor(cfg, f.journal, f.fingerprints, f.text, f.embedder, f.index, f.steps)
}

// grayZone makes tiers 0 and 1 inconclusive for the rescan entry below.
func (f *assessorFixture) grayZone() {
	f.journal.recent = []domain.JournalEntry{{ID: "prior", OriginalFilename: "contract_A.pdf", SizeBytes: 1000}}
	f.fingerprints.prior = []domain.Fingerprint{{
		EntryID:  "prior",
		Shingles: Shingles(words("w", 0, 60)+" "+words("x", 0, 40), 3, 512),
	}}
}

func rescanEntry() *domain.JournalEntry {
	return &domain.JournalEntry{
		ID:               "new",
		ContentHash:      "h-new",
		OriginalFilename: "contract_A_rescan.pdf",
		SizeBytes:        1400,
	}
}

func TestAssessExactHashStopsAtTierZero(t *testing.T) {
	f := newFixture()
	f.journal.byHash["h1"] = &domain.JournalEntry{ID: "canonical"}

	out, err := f.assessor(DefaultConfig()).Assess(context.Background(), &domain.JournalEntry{ID: "new", ContentHash: "h1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict.Kind != KindDuplicate || out.Verdict.MatchID != "canonical" || out.Verdict.Score != 1.0 {
		t.Fatalf("unexpected verdict: %+v", out.Verdict)
	}
	if out.Tier != domain.TierIdentity {
		t.Fatalf("expected tier 0, got %s", out.Tier)
	}
	if f.journal.listCalls != 0 || f.fingerprints.listCalls != 0 || f.index.nearestCalls != 0 {
		t.Fatalf("later tiers must not run: recent=%d fingerprints=%d nearest=%d",
			f.journal.listCalls, f.fingerprints.listCalls, f.index.nearestCalls)
	}
	if f.text.calls != 0 || f.embedder.calls != 0 {
		t.Fatalf("no extraction or embedding expected")
	}
	if len(f.steps.steps) != 1 || f.steps.steps[0].Outcome != domain.OutcomeDuplicate {
		t.Fatalf("expected one duplicate step log, got %+v", f.steps.steps)
	}
}

func TestAssessTierOneDuplicateSkipsTierTwo(t *testing.T) {
	f := newFixture()
	f.journal.recent = []domain.JournalEntry{{ID: "prior", OriginalFilename: "contract_A.pdf", SizeBytes: 1000}}
	f.text.text = words("w", 0, 400) + " countersigned copy"
	f.fingerprints.prior = []domain.Fingerprint{{EntryID: "prior", Shingles: Shingles(words("w", 0, 400), 3, 512)}}

	out, err := f.assessor(DefaultConfig()).Assess(context.Background(), rescanEntry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict.Kind != KindDuplicate || out.Tier != domain.TierContent || out.Verdict.MatchID != "prior" {
		t.Fatalf("expected tier 1 duplicate, got tier=%s verdict=%+v", out.Tier, out.Verdict)
	}
	if f.index.nearestCalls != 0 || f.embedder.calls != 0 {
		t.Fatalf("tier 2 must not run")
	}
	if len(out.Shingles) == 0 {
		t.Fatalf("sketch must be kept on the assessment")
	}
	if len(f.steps.steps) != 2 {
		t.Fatalf("expected two step logs, got %d", len(f.steps.steps))
	}
	if f.steps.steps[0].Outcome != domain.OutcomeInconclusive || f.steps.steps[1].Outcome != domain.OutcomeDuplicate {
		t.Fatalf("unexpected step outcomes: %+v", f.steps.steps)
	}
	if f.steps.steps[0].AttemptID != out.AttemptID || f.steps.steps[1].AttemptID != out.AttemptID {
		t.Fatalf("step logs must share the attempt id")
	}
}

func TestAssessEscalatesToTierTwoOnce(t *testing.T) {
	f := newFixture()
	f.grayZone()
	f.index.matches = []domain.VectorMatch{{EntryID: "prior", Score: 0.97}}

	out, err := f.assessor(DefaultConfig()).Assess(context.Background(), rescanEntry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.index.nearestCalls != 1 || f.embedder.calls != 1 {
		t.Fatalf("tier 2 must run exactly once: nearest=%d embed=%d", f.index.nearestCalls, f.embedder.calls)
	}
	if f.text.calls != 1 {
		t.Fatalf("text must be extracted once, got %d", f.text.calls)
	}
	if out.Verdict.Kind != KindDuplicate || out.Tier != domain.TierSemantic {
		t.Fatalf("expected tier 2 duplicate, got tier=%s verdict=%+v", out.Tier, out.Verdict)
	}
	if len(f.steps.steps) != 3 {
		t.Fatalf("expected three step logs, got %d", len(f.steps.steps))
	}
}

func TestAssessTierTwoTimeoutDegradesToUnique(t *testing.T) {
	f := newFixture()
	f.grayZone()
	f.embedder.block = true
	cfg := DefaultConfig()
	cfg.SemanticTimeout = 20 * time.Millisecond

	started := time.Now()
	out, err := f.assessor(cfg).Assess(context.Background(), rescanEntry())
	if err != nil {
		t.Fatalf("timeout must not fail the assessment: %v", err)
	}
	if time.Since(started) > 2*time.Second {
		t.Fatalf("assessment blocked for %s", time.Since(started))
	}
	if out.Verdict.Kind != KindUnique || out.Tier != domain.TierSemantic {
		t.Fatalf("expected degraded unique at tier 2, got tier=%s verdict=%+v", out.Tier, out.Verdict)
	}
	if f.index.nearestCalls != 0 {
		t.Fatalf("index must not be searched without a vector")
	}
}

// deafEmbedder ignores ctx and only returns once release is closed.
type deafEmbedder struct {
	release chan struct{}
}

func (e deafEmbedder) Embed(context.Context, string) ([]float32, error) {
	<-e.release
	return nil, errors.New("answered too late")
}

func TestAssessTierTwoTimeoutIgnoredByProviderStillDegrades(t *testing.T) {
	f := newFixture()
	f.grayZone()
	release := make(chan struct{})
	defer close(release)
	cfg := DefaultConfig()
	cfg.SemanticTimeout = 20 * time.Millisecond
	a := NewAssessor(cfg, f.journal, f.fingerprints, f.text, deafEmbedder{release: release}, f.index, f.steps)

	started := time.Now()
	out, err := a.Assess(context.Background(), rescanEntry())
	if err != nil {
		t.Fatalf("timeout must not fail the assessment: %v", err)
	}
	if took := time.Since(started); took > time.Second {
		t.Fatalf("assessment waited %s for a provider that ignores the deadline", took)
	}
	if out.Verdict.Kind != KindUnique || out.Tier != domain.TierSemantic || out.Embedding != nil {
		t.Fatalf("expected degraded unique at tier 2, got tier=%s verdict=%+v", out.Tier, out.Verdict)
	}
	last := f.steps.steps[len(f.steps.steps)-1]
	if !strings.Contains(last.Note, "timed out") {
		t.Fatalf("degraded step must mention the timeout, got %q", last.Note)
	}
}

func TestAssessEmbeddingFailureDegradesToUnique(t *testing.T) {
	f := newFixture()
	f.grayZone()
	f.embedder.err = errors.New("ollama down")

	out, err := f.assessor(DefaultConfig()).Assess(context.Background(), rescanEntry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict.Kind != KindUnique {
		t.Fatalf("expected unique, got %+v", out.Verdict)
	}
	last := f.steps.steps[len(f.steps.steps)-1]
	if last.Tier != domain.TierSemantic || last.Outcome != domain.OutcomeUnique || last.Note == "" {
		t.Fatalf("degraded step must be logged with a note, got %+v", last)
	}
}

func TestAssessExtractionFailureEscalates(t *testing.T) {
	f := newFixture()
	f.grayZone()
	f.text.err = domain.WrapError(domain.ErrExtractionFailed, "extract", errors.New("image only"))

	out, err := f.assessor(DefaultConfig()).Assess(context.Background(), rescanEntry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.fingerprints.listCalls != 0 {
		t.Fatalf("fingerprints must not be listed without text")
	}
	if f.text.calls != 1 {
		t.Fatalf("failed extraction must not be retried within an attempt, got %d calls", f.text.calls)
	}
	if out.Verdict.Kind != KindUnique || out.Tier != domain.TierSemantic {
		t.Fatalf("expected degraded unique at tier 2, got tier=%s verdict=%+v", out.Tier, out.Verdict)
	}
	if f.steps.steps[1].Outcome != domain.OutcomeInconclusive {
		t.Fatalf("tier 1 must be inconclusive, got %+v", f.steps.steps[1])
	}
}

func TestAssessStrictPolicyGrayZoneIsInconclusive(t *testing.T) {
	f := newFixture()
	f.grayZone()
	f.index.matches = []domain.VectorMatch{{EntryID: "prior", Score: 0.90}}
	cfg := DefaultConfig()
	cfg.Policy = PolicyStrict

	out, err := f.assessor(cfg).Assess(context.Background(), rescanEntry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict.Kind != KindInconclusive || out.Tier != domain.TierSemantic {
		t.Fatalf("expected inconclusive at tier 2, got tier=%s verdict=%+v", out.Tier, out.Verdict)
	}
}

func TestAssessStorageErrorIsFatal(t *testing.T) {
	f := newFixture()
	f.journal.recent = []domain.JournalEntry{{ID: "prior", OriginalFilename: "contract_A.pdf", SizeBytes: 1000}}
	f.fingerprints.listErr = domain.WrapError(domain.ErrStorageUnavailable, "list fingerprints", errors.New("connection refused"))

	_, err := f.assessor(DefaultConfig()).Assess(context.Background(), rescanEntry())
	var tierErr *TierError
	if !errors.As(err, &tierErr) {
		t.Fatalf("expected TierError, got %v", err)
	}
	if tierErr.Tier != domain.TierContent || tierErr.EntryID != "new" {
		t.Fatalf("unexpected tier error context: %+v", tierErr)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("storage failure must be retryable")
	}
	last := f.steps.steps[len(f.steps.steps)-1]
	if last.Outcome != domain.OutcomeError || last.Error == "" {
		t.Fatalf("expected error step log, got %+v", last)
	}
}

func TestRememberStoresFingerprintAndEmbedding(t *testing.T) {
	f := newFixture()
	f.journal.recent = []domain.JournalEntry{{ID: "other", OriginalFilename: "zzzz.txt"}}
	entry := &domain.JournalEntry{ID: "new", ContentHash: "h-new", OriginalFilename: "contract_A.pdf"}
	a := f.assessor(DefaultConfig())

	out, err := a.Assess(context.Background(), entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict.Kind != KindUnique || out.Tier != domain.TierIdentity {
		t.Fatalf("expected tier 0 unique, got tier=%s verdict=%+v", out.Tier, out.Verdict)
	}
	if err := a.Remember(context.Background(), entry, out); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if len(f.fingerprints.saved) != 1 || f.fingerprints.saved[0].EntryID != "new" {
		t.Fatalf("expected fingerprint for new, got %+v", f.fingerprints.saved)
	}
	if _, ok := f.index.upserted["new"]; !ok {
		t.Fatalf("expected embedding upsert for new")
	}
	if f.text.calls != 1 {
		t.Fatalf("text must be extracted once, got %d", f.text.calls)
	}
}
