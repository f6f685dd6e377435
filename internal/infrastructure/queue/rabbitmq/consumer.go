package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/queue"
)

const handlerTimeout = 30 * time.Second

// Consumer reads audit events with manual acks. Failed deliveries are
// requeued; undecodable or unrecordable ones are dropped.
type Consumer struct {
	conn *amqp.Connection
	opts Options
}

func NewConsumer(conn *amqp.Connection, opts Options) *Consumer {
	return &Consumer{conn: conn, opts: opts.normalize()}
}

func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, domain.AuditEvent) error) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := declareQueue(ch, c.opts.Queue); err != nil {
		return err
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", c.opts.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed")
			}
			handleDelivery(ctx, d, handler)
		}
	}
}

func (c *Consumer) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, handler func(context.Context, domain.AuditEvent) error) {
	event, err := queue.DecodeEvent(d.Body)
	if err != nil {
		slog.Error("audit_event_rejected", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
	defer cancel()

	if err := handler(handlerCtx, event); err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			slog.Error("audit_event_dropped", "event_id", event.EventID, "error", err)
			_ = d.Nack(false, false)
			return
		}
		slog.Warn("audit_event_failed", "event_id", event.EventID, "error", err)
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		slog.Warn("audit_ack_failed", "event_id", event.EventID, "error", err)
	}
}
