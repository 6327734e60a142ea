package domain

import (
	"fmt"
	"strings"
)

type DocumentTypeRule struct {
	DocumentType            DocumentType `json:"document_type" yaml:"document_type"`
	RequiresTextExtraction  bool         `json:"requires_text_extraction" yaml:"requires_text_extraction"`
	RequiresAIAnalysis      bool         `json:"requires_ai_analysis" yaml:"requires_ai_analysis"`
	RequiresHumanReview     bool         `json:"requires_human_review" yaml:"requires_human_review"`
	MinExtractionConfidence float64      `json:"min_extraction_confidence" yaml:"min_extraction_confidence"`
	DefaultPriority         int          `json:"default_priority" yaml:"default_priority"`
	ComplianceTags          []string     `json:"compliance_tags,omitempty" yaml:"compliance_tags"`

	// Classifier hints for the heuristic classifier.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions"`
	Keywords   []string `json:"keywords,omitempty" yaml:"keywords"`
}

// RuleSet is an immutable, validated rule table.
type RuleSet struct {
	Rules          map[DocumentType]DocumentTypeRule
	UrgentKeywords []string
	UrgentBoost    int
}

func (rs *RuleSet) Validate() error {
	if rs == nil || len(rs.Rules) == 0 {
		return WrapError(ErrInvalidInput, "validate rules", fmt.Errorf("rule table is empty"))
	}
	if _, ok := rs.Rules[DocumentTypeUnknown]; !ok {
		return WrapError(ErrInvalidInput, "validate rules", fmt.Errorf("rule for %q is required", DocumentTypeUnknown))
	}
	for key, rule := range rs.Rules {
		if strings.TrimSpace(string(key)) == "" {
			return WrapError(ErrInvalidInput, "validate rules", fmt.Errorf("document_type must not be empty"))
		}
		if rule.DocumentType != key {
			return WrapError(ErrInvalidInput, "validate rules", fmt.Errorf("rule key %q does not match document_type %q", key, rule.DocumentType))
		}
		if rule.MinExtractionConfidence < 0 || rule.MinExtractionConfidence > 1 {
			return WrapError(ErrInvalidInput, "validate rules",
				fmt.Errorf("%s: min_extraction_confidence must be within [0,1] (got %.2f)", key, rule.MinExtractionConfidence))
		}
	}
	if rs.UrgentBoost < 0 {
		return WrapError(ErrInvalidInput, "validate rules", fmt.Errorf("urgent_boost must be >= 0"))
	}
	return nil
}

// Lookup returns the rule for t, falling back to the unknown rule.
func (rs *RuleSet) Lookup(t DocumentType) (DocumentTypeRule, bool) {
	if rule, ok := rs.Rules[t]; ok {
		return rule, true
	}
	return rs.Rules[DocumentTypeUnknown], false
}

func (rs *RuleSet) Types() []DocumentType {
	out := make([]DocumentType, 0, len(rs.Rules))
	for t := range rs.Rules {
		out = append(out, t)
	}
	return out
}
