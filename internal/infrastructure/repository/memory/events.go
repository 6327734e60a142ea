package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// EventBus is a process-local bus for single-process deployments. Submitted
// events are delivered once to one of the subscribers; queued events go to
// every queued subscriber.
type EventBus struct {
	submitted chan string

	mu     sync.Mutex
	queued []chan string
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &EventBus{submitted: make(chan string, buffer)}
}

func (b *EventBus) PublishEntrySubmitted(ctx context.Context, entryID string) error {
	select {
	case b.submitted <- entryID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.WrapError(domain.ErrTemporary, "publish entry submitted", errors.New("event buffer full"))
	}
}

func (b *EventBus) PublishEntryQueued(_ context.Context, entryID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.queued {
		select {
		case ch <- entryID:
		default:
			slog.Warn("queued_event_dropped", "entry_id", entryID)
		}
	}
	return nil
}

// SubscribeEntrySubmitted blocks until ctx is done.
func (b *EventBus) SubscribeEntrySubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	return consume(ctx, b.submitted, "submitted", handler)
}

func (b *EventBus) SubscribeEntryQueued(ctx context.Context, handler func(context.Context, string) error) error {
	ch := make(chan string, cap(b.submitted))
	b.mu.Lock()
	b.queued = append(b.queued, ch)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.queued {
			if c == ch {
				b.queued = append(b.queued[:i], b.queued[i+1:]...)
				break
			}
		}
	}()
	return consume(ctx, ch, "queued", handler)
}

func consume(ctx context.Context, ch <-chan string, subject string, handler func(context.Context, string) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case entryID := <-ch:
			if err := handler(ctx, entryID); err != nil {
				slog.Error("event_handler_failed", "subject", subject, "entry_id", entryID, "error", err)
			}
		}
	}
}
