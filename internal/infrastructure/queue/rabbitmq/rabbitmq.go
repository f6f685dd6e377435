package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

type Options struct {
	URL            string
	Queue          string
	PublishTimeout time.Duration
	Prefetch       int
	ConnectPolicy  resilience.RetryPolicy
}

func (o Options) normalize() Options {
	if o.Queue == "" {
		o.Queue = "audit.chat"
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	if o.Prefetch <= 0 {
		o.Prefetch = 1
	}
	return o
}

// Dial connects under the bounded connect policy.
func Dial(ctx context.Context, opts Options) (*amqp.Connection, error) {
	var conn *amqp.Connection
	err := resilience.Retry(ctx, "rabbitmq.connect", opts.ConnectPolicy, func(context.Context) error {
		c, err := amqp.DialConfig(opts.URL, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Properties: amqp.Table{
				"connection_name": "filings-assistant",
			},
		})
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

func declareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}
