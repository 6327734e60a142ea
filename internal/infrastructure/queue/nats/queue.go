package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/resilience"
)

const (
	DefaultSubmittedSubject = "entries.submitted"
	DefaultQueuedSubject    = "entries.queued"
	DefaultAssessorGroup    = "assessors"
)

// EventBus carries journal lifecycle events. Submitted events fan out to one
// assessor per queue group; queued events wake downstream processors.
type EventBus struct {
	conn             *nats.Conn
	submittedSubject string
	queuedSubject    string
	assessorGroup    string
	executor         *resilience.Executor
}

type Options struct {
	SubmittedSubject     string
	QueuedSubject        string
	AssessorGroup        string
	ClientName           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url string, options Options) (*EventBus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.ClientName
	if name == "" {
		name = "evidence-journal"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newEventBus(conn, options), nil
}

func newEventBus(conn *nats.Conn, options Options) *EventBus {
	bus := &EventBus{
		conn:             conn,
		submittedSubject: options.SubmittedSubject,
		queuedSubject:    options.QueuedSubject,
		assessorGroup:    options.AssessorGroup,
		executor:         options.ResilienceExecutor,
	}
	if bus.submittedSubject == "" {
		bus.submittedSubject = DefaultSubmittedSubject
	}
	if bus.queuedSubject == "" {
		bus.queuedSubject = DefaultQueuedSubject
	}
	if bus.assessorGroup == "" {
		bus.assessorGroup = DefaultAssessorGroup
	}
	return bus
}

func (b *EventBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Connected reports whether the underlying connection is usable.
func (b *EventBus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *EventBus) PublishEntrySubmitted(ctx context.Context, entryID string) error {
	return b.publish(ctx, b.submittedSubject, entryID)
}

func (b *EventBus) PublishEntryQueued(ctx context.Context, entryID string) error {
	return b.publish(ctx, b.queuedSubject, entryID)
}

func (b *EventBus) publish(ctx context.Context, subject, entryID string) error {
	if strings.TrimSpace(entryID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", errors.New("entry id is required"))
	}
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, []byte(entryID)); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishError(err)
	}
	return nil
}

// SubscribeEntrySubmitted blocks until ctx is done, then drains in-flight
// handlers before returning.
func (b *EventBus) SubscribeEntrySubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	return b.subscribe(ctx, b.submittedSubject, b.assessorGroup, handler)
}

// SubscribeEntryQueued is the wake-up feed for downstream processors.
func (b *EventBus) SubscribeEntryQueued(ctx context.Context, group string, handler func(context.Context, string) error) error {
	return b.subscribe(ctx, b.queuedSubject, group, handler)
}

func (b *EventBus) subscribe(ctx context.Context, subject, group string, handler func(context.Context, string) error) error {
	sub, err := b.conn.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		entryID := string(msg.Data)
		if err := handler(handlerCtx, entryID); err != nil {
			slog.Error("event_handler_failed", "subject", subject, "entry_id", entryID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
