package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/queue"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher writes audit events to JetStream and waits for the stream ack.
// The event id doubles as the message id so the server drops duplicates
// inside the dedup window. Publishes run behind a circuit breaker so a bus
// that stops acking is skipped until it recovers.
type Publisher struct {
	conn     *nats.Conn
	js       streamPublisher
	subject  string
	timeout  time.Duration
	executor *resilience.Executor
}

func NewPublisher(conn *nats.Conn, js jetstream.JetStream, opts Options) *Publisher {
	return newPublisher(conn, js, opts)
}

func newPublisher(conn *nats.Conn, js streamPublisher, opts Options) *Publisher {
	opts = opts.normalize()
	return &Publisher{
		conn:     conn,
		js:       js,
		subject:  opts.Subject,
		timeout:  opts.PublishTimeout,
		executor: opts.Executor,
	}
}

func (p *Publisher) Publish(ctx context.Context, event domain.AuditEvent) bool {
	payload, err := queue.EncodeEvent(event)
	if err != nil {
		slog.Error("audit_publish_failed", "event_id", event.EventID, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.executor.Execute(ctx, publishOperation, func(ctx context.Context) error {
		_, err := p.js.Publish(ctx, p.subject, payload, jetstream.WithMsgID(event.EventID))
		return err
	}, classifyPublishError)
	switch {
	case err == nil:
		return true
	case resilience.IsCircuitOpen(err):
		slog.Debug("audit_publish_skipped", "event_id", event.EventID, "reason", "circuit open")
	default:
		slog.Warn("audit_publish_failed",
			"event_id", event.EventID,
			"subject", p.subject,
			"bus_down", isBusDown(err),
			"error", err,
		)
	}
	return false
}

func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
