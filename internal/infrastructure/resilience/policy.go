package resilience

import (
	"fmt"
	"math"
	"time"
)

// Config is one retry-and-breaker policy. Breakers are keyed by Name and the
// operation, so two executors never share breaker state.
type Config struct {
	Name string

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig is the policy for single provider calls: NATS publishes and
// ollama requests ride out short blips with a few fast retries.
func DefaultConfig() Config {
	return Config{
		Name: "provider",

		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// AssessmentConfig is the policy for whole assessment attempts, which fail
// mostly on journal or blob storage outages lasting seconds to minutes.
func AssessmentConfig() Config {
	return Config{
		Name: "assessment",

		RetryMaxAttempts:    6,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     15 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      2 * time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}

// Backoff is the wait after the given failed attempt, counted from 1.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(c.RetryInitialBackoff) * math.Pow(c.RetryMultiplier, float64(attempt-1))
	if wait > float64(c.RetryMaxBackoff) {
		return c.RetryMaxBackoff
	}
	return time.Duration(wait)
}

// TotalBackoff is the time spent waiting if every attempt fails.
func (c Config) TotalBackoff() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < c.RetryMaxAttempts; attempt++ {
		total += c.Backoff(attempt)
	}
	return total
}

func (c Config) Validate() error {
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("%s: retry max attempts must be positive (got %d)", c.Name, c.RetryMaxAttempts)
	}
	if c.RetryInitialBackoff <= 0 || c.RetryMaxBackoff < c.RetryInitialBackoff {
		return fmt.Errorf("%s: retry backoff must satisfy 0 < initial <= max (got %s, %s)",
			c.Name, c.RetryInitialBackoff, c.RetryMaxBackoff)
	}
	if c.RetryMultiplier < 1 {
		return fmt.Errorf("%s: retry multiplier must be at least 1 (got %.2f)", c.Name, c.RetryMultiplier)
	}
	if c.BreakerEnabled && (c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1) {
		return fmt.Errorf("%s: breaker failure ratio must be in (0, 1] (got %.2f)", c.Name, c.BreakerFailureRatio)
	}
	return nil
}

// normalize fills unset fields from def.
func (c Config) normalize(def Config) Config {
	out := c
	if out.Name == "" {
		out.Name = def.Name
	}
	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return out
}
