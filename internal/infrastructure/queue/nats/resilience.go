package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/resilience"
)

// classifyNATSError decides retries for publishes. Domain kinds win over
// client sentinels: a StorageUnavailable or Temporary error from a wrapped
// call is retried, while InvalidInput is the caller's fault and never counts
// against the breaker.
func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case domain.IsKind(err, domain.ErrInvalidInput), isRejectedMessage(err):
		return resilience.ErrorClassification{}
	case domain.IsRetryable(err), resilience.IsCircuitOpen(err), isConnectivityLoss(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func isConnectivityLoss(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected)
}

// isRejectedMessage covers errors the server or client raises for the message
// itself; resending the same bytes cannot succeed.
func isRejectedMessage(err error) bool {
	return errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload)
}

// publishError tags a failed publish with the domain kind callers branch on.
func publishError(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrInvalidInput):
		return err
	case isRejectedMessage(err):
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", err)
	}
	if classifyNATSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
