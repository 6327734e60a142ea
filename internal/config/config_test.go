package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/dedup"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/resilience"
)

func TestLoadDefaultsAreValid(t *testing.T) {
	t.Setenv("JOURNAL_BACKEND", "")
	t.Setenv("DEDUP_POLICY", "")
	t.Setenv("CLASSIFIER_MODE", "")

	cfg := Load()
	if cfg.JournalBackend != BackendPostgres {
		t.Fatalf("expected postgres backend by default, got %q", cfg.JournalBackend)
	}
	if cfg.Dedup != dedup.DefaultConfig() {
		t.Fatalf("expected dedup defaults, got %+v", cfg.Dedup)
	}
	if cfg.Resilience != resilience.DefaultConfig() || cfg.AssessResilience != resilience.AssessmentConfig() {
		t.Fatalf("expected resilience defaults, got %+v / %+v", cfg.Resilience, cfg.AssessResilience)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadReadsAssessmentPolicySeparately(t *testing.T) {
	t.Setenv("RETRY_MAX_BACKOFF", "1s")
	t.Setenv("ASSESS_RETRY_MAX_ATTEMPTS", "8")
	t.Setenv("ASSESS_RETRY_MAX_BACKOFF", "45s")
	t.Setenv("ASSESS_BREAKER_OPEN_TIMEOUT", "5m")
	t.Setenv("ASSESS_TIMEOUT", "10m")

	cfg := Load()
	if cfg.Resilience.RetryMaxBackoff != time.Second || cfg.Resilience.RetryMaxAttempts != resilience.DefaultConfig().RetryMaxAttempts {
		t.Fatalf("unexpected provider policy: %+v", cfg.Resilience)
	}
	got := cfg.AssessResilience
	if got.Name != "assessment" || got.RetryMaxAttempts != 8 || got.RetryMaxBackoff != 45*time.Second || got.BreakerOpenTimeout != 5*time.Minute {
		t.Fatalf("unexpected assessment policy: %+v", got)
	}
	if got.BreakerMinRequests != resilience.AssessmentConfig().BreakerMinRequests {
		t.Fatalf("unset keys must keep assessment defaults, got %d", got.BreakerMinRequests)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsAssessTimeoutBelowRetryBackoff(t *testing.T) {
	t.Setenv("ASSESS_RETRY_MAX_ATTEMPTS", "10")
	t.Setenv("ASSESS_RETRY_MAX_BACKOFF", "1m")
	t.Setenv("ASSESS_TIMEOUT", "2m")

	if err := Load().Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadParsesDedupOverrides(t *testing.T) {
	t.Setenv("DEDUP_LOOKBACK_WINDOW", "72h")
	t.Setenv("DEDUP_CONTENT_HIGH", "0.9")
	t.Setenv("DEDUP_SHINGLE_SIZE", "5")
	t.Setenv("DEDUP_POLICY", "STRICT")
	t.Setenv("DEDUP_SEMANTIC_TIMEOUT", "not-a-duration")

	cfg := Load()
	if cfg.Dedup.LookbackWindow != 72*time.Hour {
		t.Fatalf("expected 72h lookback, got %v", cfg.Dedup.LookbackWindow)
	}
	if cfg.Dedup.ContentHighThreshold != 0.9 || cfg.Dedup.ShingleSize != 5 {
		t.Fatalf("unexpected content settings: %+v", cfg.Dedup)
	}
	if cfg.Dedup.Policy != dedup.PolicyStrict {
		t.Fatalf("expected strict policy, got %q", cfg.Dedup.Policy)
	}
	if cfg.Dedup.SemanticTimeout != dedup.DefaultConfig().SemanticTimeout {
		t.Fatalf("expected invalid duration to fall back, got %v", cfg.Dedup.SemanticTimeout)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("DEDUP_FILENAME_HIGH", "0.4")
	t.Setenv("DEDUP_FILENAME_LOW", "0.6")

	if err := Load().Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("JOURNAL_BACKEND", "sqlite")
	if err := Load().Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("API_PORT=9999\nQDRANT_COLLECTION=from_file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("JOURNAL_ENV_FILE", "")
	t.Setenv("API_PORT", "7070")
	t.Setenv("QDRANT_COLLECTION", "")
	os.Unsetenv("QDRANT_COLLECTION")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("QDRANT_COLLECTION") })

	cfg := Load()
	if cfg.APIPort != "7070" {
		t.Fatalf("expected process env to win, got %q", cfg.APIPort)
	}
	if cfg.QdrantCollection != "from_file" {
		t.Fatalf("expected value from env file, got %q", cfg.QdrantCollection)
	}
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	t.Setenv("JOURNAL_ENV_FILE", "")
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}
