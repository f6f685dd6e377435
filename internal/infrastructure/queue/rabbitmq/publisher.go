package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/queue"
)

// Publisher sends persistent messages on a confirm-mode channel and waits
// for the broker confirm within the publish timeout.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	timeout time.Duration
}

func NewPublisher(conn *amqp.Connection, opts Options) (*Publisher, error) {
	opts = opts.normalize()

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := declareQueue(ch, opts.Queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, queue: opts.Queue, timeout: opts.PublishTimeout}, nil
}

func (p *Publisher) Publish(ctx context.Context, event domain.AuditEvent) bool {
	payload, err := queue.EncodeEvent(event)
	if err != nil {
		slog.Error("audit_publish_failed", "event_id", event.EventID, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  queue.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.Timestamp,
		Body:         payload,
	})
	if err != nil {
		slog.Warn("audit_publish_failed", "event_id", event.EventID, "queue", p.queue, "error", err)
		return false
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil || !acked {
		slog.Warn("audit_publish_unconfirmed", "event_id", event.EventID, "queue", p.queue, "error", err)
		return false
	}
	return true
}

func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
