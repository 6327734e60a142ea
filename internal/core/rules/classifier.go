package rules

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

const extensionWeight = 2

// HeuristicClassifier scores each rule by extension and keyword hits taken
// from the rule table itself, so new types need no code change.
type HeuristicClassifier struct {
	rules ports.RuleProvider
}

func NewHeuristicClassifier(rules ports.RuleProvider) *HeuristicClassifier {
	return &HeuristicClassifier{rules: rules}
}

func (c *HeuristicClassifier) Classify(_ context.Context, input ports.ClassifyInput) (domain.DocumentType, error) {
	ruleSet := c.rules.Current()
	if ruleSet == nil {
		return domain.DocumentTypeUnknown, nil
	}

	ext := strings.ToLower(filepath.Ext(input.Filename))
	text := strings.ToLower(input.Text + " " + input.Filename)

	types := ruleSet.Types()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	best := domain.DocumentTypeUnknown
	bestScore := 0
	bestPriority := 0
	for _, t := range types {
		if t == domain.DocumentTypeUnknown {
			continue
		}
		rule := ruleSet.Rules[t]
		score := scoreRule(rule, ext, text)
		if score == 0 {
			continue
		}
		if score > bestScore || (score == bestScore && rule.DefaultPriority > bestPriority) {
			best, bestScore, bestPriority = t, score, rule.DefaultPriority
		}
	}
	return best, nil
}

func scoreRule(rule domain.DocumentTypeRule, ext, text string) int {
	score := 0
	if ext != "" {
		for _, candidate := range rule.Extensions {
			candidate = strings.ToLower(strings.TrimSpace(candidate))
			if !strings.HasPrefix(candidate, ".") {
				candidate = "." + candidate
			}
			if candidate == ext {
				score += extensionWeight
				break
			}
		}
	}
	for _, keyword := range rule.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(text, keyword) {
			score++
		}
	}
	return score
}

// FallbackClassifier asks primary first and falls back when it fails or
// answers with a type the rule table does not know.
type FallbackClassifier struct {
	primary  ports.DocumentClassifier
	fallback ports.DocumentClassifier
}

func NewFallbackClassifier(primary, fallback ports.DocumentClassifier) *FallbackClassifier {
	return &FallbackClassifier{primary: primary, fallback: fallback}
}

func (c *FallbackClassifier) Classify(ctx context.Context, input ports.ClassifyInput) (domain.DocumentType, error) {
	detected, err := c.primary.Classify(ctx, input)
	if err == nil && knownType(detected, input.Types) {
		return detected, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		slog.Warn("classifier_fallback", "filename", input.Filename, "error", err)
	} else {
		slog.Warn("classifier_fallback", "filename", input.Filename, "detected", detected)
	}
	return c.fallback.Classify(ctx, input)
}

func knownType(t domain.DocumentType, types []domain.DocumentType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
