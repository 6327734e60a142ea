package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/evidence-journal/internal/core/dedup"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/rules"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/repository/memory"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/rulesconfig"
)

type blobStorageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *blobStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = raw
	return nil
}

func (f *blobStorageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrEntryNotFound, "open object", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type eventBusFake struct {
	mu        sync.Mutex
	submitted []string
	queued    []string
	err       error
}

func (f *eventBusFake) PublishEntrySubmitted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, id)
	return nil
}

func (f *eventBusFake) PublishEntryQueued(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, id)
	return nil
}

func (f *eventBusFake) SubscribeEntrySubmitted(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

// storedTextExtractor reads the stored bytes back as plain text.
type storedTextExtractor struct {
	storage *blobStorageFake
}

func (e storedTextExtractor) Extract(ctx context.Context, entry *domain.JournalEntry) (domain.Extraction, error) {
	rc, err := e.storage.Open(ctx, entry.StorageKey)
	if err != nil {
		return domain.Extraction{}, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return domain.Extraction{}, err
	}
	return domain.Extraction{Text: string(raw), Confidence: 0.95, Method: "plaintext"}, nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)%7 + 1), 1}, nil
}

type lineageFake struct {
	mu      sync.Mutex
	records []string
}

func (f *lineageFake) RecordDuplicate(_ context.Context, entry *domain.JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, entry.ID+"->"+entry.DuplicateOfID)
	return nil
}

type harness struct {
	journal *memory.JournalStore
	storage *blobStorageFake
	events  *eventBusFake
	lineage *lineageFake
	queue   *QueueManager
	submit  *SubmitDocumentUseCase
	assess  *AssessEntryUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ruleSet, err := rulesconfig.Default()
	if err != nil {
		t.Fatalf("default rules: %v", err)
	}
	ruleStore := rulesconfig.NewStaticStore(ruleSet)

	h := &harness{
		journal: memory.NewJournalStore(),
		storage: &blobStorageFake{},
		events:  &eventBusFake{},
		lineage: &lineageFake{},
	}
	h.queue = NewQueueManager(h.journal, h.events, h.lineage)
	h.submit = NewSubmitDocumentUseCase(h.journal, h.storage, h.events, h.queue)
	assessor := dedup.NewAssessor(
		dedup.DefaultConfig(),
		h.journal,
		h.journal,
		storedTextExtractor{storage: h.storage},
		constEmbedder{},
		memory.NewEmbeddingIndex(),
		h.journal,
	)
	engine := rules.NewEngine(ruleStore, rules.NewHeuristicClassifier(ruleStore))
	h.assess = NewAssessEntryUseCase(h.queue, assessor, engine)
	return h
}

func (h *harness) submitText(t *testing.T, filename, text string) *domain.JournalEntry {
	t.Helper()
	entry, err := h.submit.Submit(context.Background(), domain.Submission{
		Filename:      filename,
		MimeType:      "text/plain",
		SourceChannel: domain.ChannelMobileUpload,
		Content:       []byte(text),
	})
	if err != nil {
		t.Fatalf("submit %s: %v", filename, err)
	}
	return entry
}

// legalText is a 400-word contract. Every nth clause word is swapped for a
// same-length word when editEvery > 0.
func legalText(extra ...string) string {
	return legalTextEdited(0, extra...)
}

func legalTextEdited(editEvery int, extra ...string) string {
	var b strings.Builder
	b.WriteString("This contract agreement is made between the parties.")
	for i := 0; i < 392; i++ {
		if editEvery > 0 && i%editEvery == editEvery-1 {
			fmt.Fprintf(&b, " copier%d", i)
			continue
		}
		fmt.Fprintf(&b, " clause%d", i)
	}
	for _, e := range extra {
		b.WriteString(" ")
		b.WriteString(e)
	}
	return b.String()
}
