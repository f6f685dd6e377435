package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/queue"
)

const handlerTimeout = 30 * time.Second

// Consumer pulls audit events from a durable JetStream consumer. A message is
// acked only after the handler succeeds; temporary failures are nak'ed for
// redelivery and invalid events are terminated.
type Consumer struct {
	conn *nats.Conn
	js   jetstream.JetStream
	opts Options
}

func NewConsumer(conn *nats.Conn, js jetstream.JetStream, opts Options) *Consumer {
	return &Consumer{conn: conn, js: js, opts: opts.normalize()}
}

func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, domain.AuditEvent) error) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.Stream, jetstream.ConsumerConfig{
		Durable:       c.opts.Durable,
		FilterSubject: c.opts.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.opts.AckWait,
		MaxDeliver:    c.opts.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create durable consumer %s: %w", c.opts.Durable, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := cons.Fetch(c.opts.FetchBatch, jetstream.FetchMaxWait(c.opts.PollWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("audit_fetch_failed", "error", err)
			if !sleep(ctx, c.opts.PollWait) {
				return nil
			}
			continue
		}

		for msg := range batch.Messages() {
			handleMessage(ctx, msg, handler)
		}
		if err := batch.Error(); err != nil && !isIdle(err) && ctx.Err() == nil {
			slog.Warn("audit_fetch_incomplete", "error", err)
		}
	}
}

func (c *Consumer) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}

// handleMessage runs the handler detached from ctx cancellation so that a
// write in flight at shutdown completes before the ack decision.
func handleMessage(ctx context.Context, msg jetstream.Msg, handler func(context.Context, domain.AuditEvent) error) {
	event, err := queue.DecodeEvent(msg.Data())
	if err != nil {
		slog.Error("audit_event_rejected", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
	defer cancel()

	if err := handler(handlerCtx, event); err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			slog.Error("audit_event_dropped", "event_id", event.EventID, "error", err)
			_ = msg.Term()
			return
		}
		slog.Warn("audit_event_failed", "event_id", event.EventID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Warn("audit_nak_failed", "event_id", event.EventID, "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Warn("audit_ack_failed", "event_id", event.EventID, "error", err)
	}
}

func isIdle(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
