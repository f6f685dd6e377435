package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

type Options struct {
	URL            string
	Stream         string
	Subject        string
	Durable        string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	PublishTimeout time.Duration
	PollWait       time.Duration
	FetchBatch     int
	MaxDeliver     int
	AckWait        time.Duration
	DedupWindow    time.Duration
	ConnectPolicy  resilience.RetryPolicy

	// Executor guards publishes with a breaker; nil gets the defaults.
	Executor *resilience.Executor
}

func (o Options) normalize() Options {
	if o.Stream == "" {
		o.Stream = "AUDIT"
	}
	if o.Subject == "" {
		o.Subject = "audit.chat"
	}
	if o.Durable == "" {
		o.Durable = "audit-writer"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	if o.PollWait <= 0 {
		o.PollWait = time.Second
	}
	if o.FetchBatch <= 0 {
		o.FetchBatch = 10
	}
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = 10
	}
	if o.AckWait <= 0 {
		o.AckWait = 30 * time.Second
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 2 * time.Minute
	}
	if o.Executor == nil {
		o.Executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return o
}

// Connect dials NATS under the bounded connect policy and makes sure the
// audit stream exists.
func Connect(ctx context.Context, opts Options) (*nats.Conn, jetstream.JetStream, error) {
	opts = opts.normalize()

	var conn *nats.Conn
	err := resilience.Retry(ctx, "nats.connect", opts.ConnectPolicy, func(context.Context) error {
		c, err := nats.Connect(
			opts.URL,
			nats.Name("filings-assistant"),
			nats.Timeout(opts.ConnectTimeout),
			nats.ReconnectWait(opts.ReconnectWait),
			nats.MaxReconnects(opts.MaxReconnects),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("nats_disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:       opts.Stream,
		Subjects:   []string{opts.Subject},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		Duplicates: opts.DedupWindow,
	}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", opts.Stream, err)
	}
	return conn, js, nil
}
