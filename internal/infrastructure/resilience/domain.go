package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// DomainClassifier retries whatever the domain marks as retryable: storage
// outages and temporary provider failures. Cancellation is never retried and
// never trips a breaker.
func DomainClassifier(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if domain.IsRetryable(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{}
}
