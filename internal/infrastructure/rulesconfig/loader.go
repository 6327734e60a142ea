package rulesconfig

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

//go:embed default_rules.yaml
var defaultRules []byte

type fileFormat struct {
	UrgentBoost    int                       `yaml:"urgent_boost"`
	UrgentKeywords []string                  `yaml:"urgent_keywords"`
	DocumentTypes  []domain.DocumentTypeRule `yaml:"document_types"`
}

// Parse decodes and validates a rule table. Unknown keys are rejected so a
// typo cannot silently drop a policy field.
func Parse(data []byte) (*domain.RuleSet, error) {
	var raw fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules", err)
	}

	ruleSet := &domain.RuleSet{
		Rules:          make(map[domain.DocumentType]domain.DocumentTypeRule, len(raw.DocumentTypes)),
		UrgentKeywords: raw.UrgentKeywords,
		UrgentBoost:    raw.UrgentBoost,
	}
	for _, rule := range raw.DocumentTypes {
		rule.DocumentType = domain.DocumentType(strings.TrimSpace(string(rule.DocumentType)))
		if _, exists := ruleSet.Rules[rule.DocumentType]; exists {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules",
				fmt.Errorf("document_type %q declared twice", rule.DocumentType))
		}
		ruleSet.Rules[rule.DocumentType] = rule
	}
	if err := ruleSet.Validate(); err != nil {
		return nil, err
	}
	return ruleSet, nil
}

// Load reads a rule table from path; an empty path yields the built-in table.
func Load(path string) (*domain.RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

func Default() (*domain.RuleSet, error) {
	return Parse(defaultRules)
}
