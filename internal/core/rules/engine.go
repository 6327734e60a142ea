package rules

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kirillkom/evidence-journal/internal/core/dedup"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

// Decision is the admission policy for one entry.
type Decision struct {
	DocumentType   domain.DocumentType
	Priority       int
	Rule           domain.DocumentTypeRule
	Urgent         bool
	RequiresReview bool
	ReviewReason   string
}

func (d Decision) Classification() domain.Classification {
	return domain.Classification{
		DocumentType:   d.DocumentType,
		Priority:       d.Priority,
		ComplianceTags: d.Rule.ComplianceTags,
	}
}

// ExtractionResult is what the assessment learned about the document text.
// Err is set when extraction failed; the rule decides whether that matters.
type ExtractionResult struct {
	Extraction domain.Extraction
	Err        error
}

type Engine struct {
	rules      ports.RuleProvider
	classifier ports.DocumentClassifier
}

func NewEngine(rules ports.RuleProvider, classifier ports.DocumentClassifier) *Engine {
	return &Engine{rules: rules, classifier: classifier}
}

func (e *Engine) ClassifyAndPrioritize(ctx context.Context, entry *domain.JournalEntry, extracted ExtractionResult) (Decision, error) {
	ruleSet := e.rules.Current()
	if ruleSet == nil {
		return Decision{}, domain.WrapError(domain.ErrInvalidInput, "classify entry", errors.New("no rule table loaded"))
	}

	detected, err := e.classifier.Classify(ctx, ports.ClassifyInput{
		Filename: entry.OriginalFilename,
		MimeType: entry.MimeType,
		Text:     extracted.Extraction.Text,
		Types:    ruleSet.Types(),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("classify entry %s: %w", entry.ID, err)
	}

	rule, found := ruleSet.Lookup(detected)
	decision := Decision{
		DocumentType: rule.DocumentType,
		Priority:     rule.DefaultPriority,
		Rule:         rule,
	}
	if !found {
		decision.DocumentType = domain.DocumentTypeUnknown
	}

	if containsKeyword(dedup.Tokenize(extracted.Extraction.Text+" "+entry.OriginalFilename), ruleSet.UrgentKeywords) {
		decision.Urgent = true
		decision.Priority += ruleSet.UrgentBoost
	}

	switch {
	case rule.RequiresHumanReview:
		decision.RequiresReview = true
		decision.ReviewReason = fmt.Sprintf("document type %s requires human review", decision.DocumentType)
	case rule.RequiresTextExtraction && extracted.Err != nil:
		decision.RequiresReview = true
		decision.ReviewReason = "text extraction failed: " + extracted.Err.Error()
	case rule.RequiresTextExtraction && extracted.Extraction.Confidence < rule.MinExtractionConfidence:
		decision.RequiresReview = true
		decision.ReviewReason = fmt.Sprintf("extraction confidence %.2f below %.2f",
			extracted.Extraction.Confidence, rule.MinExtractionConfidence)
	}
	return decision, nil
}

// containsKeyword matches each keyword as a whole run of words.
func containsKeyword(tokens []string, keywords []string) bool {
	for _, keyword := range keywords {
		needle := dedup.Tokenize(keyword)
		if len(needle) == 0 {
			continue
		}
		for i := 0; i+len(needle) <= len(tokens); i++ {
			if slices.Equal(tokens[i:i+len(needle)], needle) {
				return true
			}
		}
	}
	return false
}
