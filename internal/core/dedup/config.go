package dedup

import (
	"fmt"
	"time"
)

type Policy string

const (
	// PolicyLenient admits anything tier 2 cannot confidently match.
	PolicyLenient Policy = "lenient"
	// PolicyStrict sends tier-2 gray-zone matches to manual review.
	PolicyStrict Policy = "strict"
)

// Config holds tier thresholds and lookback bounds. Thresholds are tuned
// per document population, so none of them are compiled in.
type Config struct {
	LookbackWindow     time.Duration
	LookbackMaxEntries int

	FilenameHighThreshold float64
	FilenameLowThreshold  float64
	// SizeTolerance is the max relative size difference for a tier-0 match.
	SizeTolerance float64

	ShingleSize            int
	SketchSize             int
	ContentHighThreshold   float64
	ContentLowThreshold    float64
	SemanticHighThreshold  float64
	SemanticGrayFloor      float64
	SemanticCandidateLimit int
	SemanticTimeout        time.Duration
	// IndexAdmitted embeds admitted entries that never reached tier 2 so
	// later submissions can match them semantically.
	IndexAdmitted bool

	Policy Policy
}

func DefaultConfig() Config {
	return Config{
		LookbackWindow:     30 * 24 * time.Hour,
		LookbackMaxEntries: 500,

		FilenameHighThreshold: 0.92,
		FilenameLowThreshold:  0.50,
		SizeTolerance:         0.10,

		ShingleSize:          3,
		SketchSize:           512,
		ContentHighThreshold: 0.70,
		ContentLowThreshold:  0.30,

		SemanticHighThreshold:  0.95,
		SemanticGrayFloor:      0.88,
		SemanticCandidateLimit: 5,
		SemanticTimeout:        10 * time.Second,
		IndexAdmitted:          true,

		Policy: PolicyLenient,
	}
}

func (c Config) Validate() error {
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback_window must be positive (got %v)", c.LookbackWindow)
	}
	if c.LookbackMaxEntries <= 0 {
		return fmt.Errorf("lookback_max_entries must be positive (got %d)", c.LookbackMaxEntries)
	}
	if err := validatePair("filename", c.FilenameLowThreshold, c.FilenameHighThreshold); err != nil {
		return err
	}
	if err := validatePair("content", c.ContentLowThreshold, c.ContentHighThreshold); err != nil {
		return err
	}
	if err := validatePair("semantic", c.SemanticGrayFloor, c.SemanticHighThreshold); err != nil {
		return err
	}
	if c.SizeTolerance < 0 || c.SizeTolerance > 1 {
		return fmt.Errorf("size_tolerance must be between 0.0 and 1.0 (got %.2f)", c.SizeTolerance)
	}
	if c.ShingleSize <= 0 {
		return fmt.Errorf("shingle_size must be positive (got %d)", c.ShingleSize)
	}
	if c.SketchSize <= 0 {
		return fmt.Errorf("sketch_size must be positive (got %d)", c.SketchSize)
	}
	if c.SemanticCandidateLimit <= 0 {
		return fmt.Errorf("semantic_candidate_limit must be positive (got %d)", c.SemanticCandidateLimit)
	}
	if c.SemanticTimeout <= 0 {
		return fmt.Errorf("semantic_timeout must be positive (got %v)", c.SemanticTimeout)
	}
	if c.Policy != PolicyLenient && c.Policy != PolicyStrict {
		return fmt.Errorf("policy must be %q or %q (got %q)", PolicyLenient, PolicyStrict, c.Policy)
	}
	return nil
}

func validatePair(name string, low, high float64) error {
	if low < 0 || low > 1 || high < 0 || high > 1 {
		return fmt.Errorf("%s thresholds must be between 0.0 and 1.0 (got low=%.2f high=%.2f)", name, low, high)
	}
	if low > high {
		return fmt.Errorf("%s low threshold %.2f exceeds high threshold %.2f", name, low, high)
	}
	return nil
}
