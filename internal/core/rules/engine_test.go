package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

type staticRules struct {
	set *domain.RuleSet
}

func (s staticRules) Current() *domain.RuleSet { return s.set }

func testRules() staticRules {
	return staticRules{set: &domain.RuleSet{
		UrgentKeywords: []string{"court hearing"},
		UrgentBoost:    2,
		Rules: map[domain.DocumentType]domain.DocumentTypeRule{
			"legal_document": {
				DocumentType:            "legal_document",
				RequiresTextExtraction:  true,
				MinExtractionConfidence: 0.6,
				DefaultPriority:         9,
				ComplianceTags:          []string{"legal_hold"},
				Extensions:              []string{"pdf"},
				Keywords:                []string{"contract", "agreement"},
			},
			"invoice": {
				DocumentType:    "invoice",
				DefaultPriority: 5,
				Extensions:      []string{".pdf", "xlsx"},
				Keywords:        []string{"invoice", "amount due"},
			},
			"photo_evidence": {
				DocumentType:        "photo_evidence",
				RequiresHumanReview: true,
				DefaultPriority:     6,
				Extensions:          []string{"jpg"},
			},
			domain.DocumentTypeUnknown: {
				DocumentType:    domain.DocumentTypeUnknown,
				DefaultPriority: 1,
			},
		},
	}}
}

type classifierStub struct {
	detected domain.DocumentType
	err      error
	calls    int
}

func (s *classifierStub) Classify(context.Context, ports.ClassifyInput) (domain.DocumentType, error) {
	s.calls++
	return s.detected, s.err
}

func extracted(text string, confidence float64) ExtractionResult {
	return ExtractionResult{Extraction: domain.Extraction{Text: text, Confidence: confidence}}
}

func TestHeuristicClassifier(t *testing.T) {
	rules := testRules()
	c := NewHeuristicClassifier(rules)
	cases := []struct {
		filename string
		text     string
		want     domain.DocumentType
	}{
		{"contract_A.pdf", "This agreement is made between the parties of the contract.", "legal_document"},
		{"scan.pdf", "Invoice 42. Amount due: 100 EUR", "invoice"},
		{"IMG_0001.JPG", "", "photo_evidence"},
		{"notes.bin", "nothing to see", domain.DocumentTypeUnknown},
	}
	for _, tc := range cases {
		got, err := c.Classify(context.Background(), ports.ClassifyInput{Filename: tc.filename, Text: tc.text})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.filename, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.filename, got, tc.want)
		}
	}
}

func TestClassifyAndPrioritizeLegalDocument(t *testing.T) {
	engine := NewEngine(testRules(), &classifierStub{detected: "legal_document"})
	entry := &domain.JournalEntry{ID: "e1", OriginalFilename: "contract_A.pdf"}

	decision, err := engine.ClassifyAndPrioritize(context.Background(), entry, extracted("contract text", 0.9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.DocumentType != "legal_document" || decision.Priority != 9 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if decision.RequiresReview {
		t.Fatalf("review not expected: %s", decision.ReviewReason)
	}
	cls := decision.Classification()
	if len(cls.ComplianceTags) != 1 || cls.ComplianceTags[0] != "legal_hold" {
		t.Fatalf("compliance tags not carried: %+v", cls)
	}
}

func TestClassifyAndPrioritizeUrgentBoost(t *testing.T) {
	engine := NewEngine(testRules(), &classifierStub{detected: "invoice"})
	entry := &domain.JournalEntry{ID: "e1", OriginalFilename: "invoice.pdf"}

	decision, err := engine.ClassifyAndPrioritize(context.Background(), entry, extracted("Due before the COURT HEARING", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Urgent || decision.Priority != 7 {
		t.Fatalf("expected urgent priority 7, got %+v", decision)
	}
}

func TestUrgentKeywordsMatchWholeWords(t *testing.T) {
	rules := testRules()
	rules.set.UrgentKeywords = []string{"urgent", "court hearing"}
	engine := NewEngine(rules, &classifierStub{detected: "invoice"})
	entry := &domain.JournalEntry{ID: "e1", OriginalFilename: "invoice.pdf"}

	decision, err := engine.ClassifyAndPrioritize(context.Background(), entry, extracted("Report on insurgent activity near the courthouse hearings", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Urgent || decision.Priority != 5 {
		t.Fatalf("substrings must not count as urgent keywords, got %+v", decision)
	}

	decision, _ = engine.ClassifyAndPrioritize(context.Background(), entry, extracted("URGENT: pay now", 1))
	if !decision.Urgent || decision.Priority != 7 {
		t.Fatalf("expected whole-word match to boost priority, got %+v", decision)
	}
}

func TestClassifyAndPrioritizeUnknownFallback(t *testing.T) {
	engine := NewEngine(testRules(), &classifierStub{detected: "tax_form"})
	decision, err := engine.ClassifyAndPrioritize(context.Background(), &domain.JournalEntry{ID: "e1"}, extracted("", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.DocumentType != domain.DocumentTypeUnknown || decision.Priority != 1 {
		t.Fatalf("expected unknown with neutral priority, got %+v", decision)
	}
}

func TestClassifyAndPrioritizeReviewReasons(t *testing.T) {
	entry := &domain.JournalEntry{ID: "e1"}

	engine := NewEngine(testRules(), &classifierStub{detected: "photo_evidence"})
	decision, _ := engine.ClassifyAndPrioritize(context.Background(), entry, extracted("", 0))
	if !decision.RequiresReview || !strings.Contains(decision.ReviewReason, "requires human review") {
		t.Fatalf("expected mandatory review, got %+v", decision)
	}

	engine = NewEngine(testRules(), &classifierStub{detected: "legal_document"})
	decision, _ = engine.ClassifyAndPrioritize(context.Background(), entry, extracted("blurry", 0.3))
	if !decision.RequiresReview || !strings.Contains(decision.ReviewReason, "confidence") {
		t.Fatalf("expected low confidence review, got %+v", decision)
	}

	failed := ExtractionResult{Err: errors.New("scanned image")}
	decision, _ = engine.ClassifyAndPrioritize(context.Background(), entry, failed)
	if !decision.RequiresReview || !strings.Contains(decision.ReviewReason, "extraction failed") {
		t.Fatalf("expected extraction failure review, got %+v", decision)
	}
}

func TestClassifyAndPrioritizeSurfacesClassifierError(t *testing.T) {
	engine := NewEngine(testRules(), &classifierStub{err: errors.New("boom")})
	if _, err := engine.ClassifyAndPrioritize(context.Background(), &domain.JournalEntry{ID: "e1"}, extracted("", 0)); err == nil {
		t.Fatalf("expected classifier error")
	}
}

func TestFallbackClassifier(t *testing.T) {
	types := []domain.DocumentType{"legal_document", domain.DocumentTypeUnknown}
	input := ports.ClassifyInput{Filename: "contract.pdf", Types: types}

	primary := &classifierStub{detected: "legal_document"}
	fallback := &classifierStub{detected: domain.DocumentTypeUnknown}
	got, err := NewFallbackClassifier(primary, fallback).Classify(context.Background(), input)
	if err != nil || got != "legal_document" || fallback.calls != 0 {
		t.Fatalf("primary answer must win: got=%q err=%v fallback=%d", got, err, fallback.calls)
	}

	primary = &classifierStub{err: errors.New("llm down")}
	got, err = NewFallbackClassifier(primary, fallback).Classify(context.Background(), input)
	if err != nil || got != domain.DocumentTypeUnknown || fallback.calls != 1 {
		t.Fatalf("fallback expected on error: got=%q err=%v", got, err)
	}

	primary = &classifierStub{detected: "poem"}
	if _, err := NewFallbackClassifier(primary, fallback).Classify(context.Background(), input); err != nil || fallback.calls != 2 {
		t.Fatalf("fallback expected on unknown type: err=%v calls=%d", err, fallback.calls)
	}
}
