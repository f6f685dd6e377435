package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/filings-assistant/internal/config"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/queue"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/queue/rabbitmq"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

func natsOptions(cfg config.Config) nats.Options {
	return nats.Options{
		URL:            cfg.NATSURL,
		Stream:         cfg.NATSStream,
		Subject:        cfg.NATSSubject,
		Durable:        cfg.NATSDurable,
		PublishTimeout: cfg.EventPublishTimeout,
		PollWait:       cfg.EventPollTimeout,
		ConnectPolicy:  cfg.BusConnectPolicy(),
		Executor:       resilience.NewExecutor(cfg.Resilience()),
	}
}

func rabbitOptions(cfg config.Config) rabbitmq.Options {
	return rabbitmq.Options{
		URL:            cfg.RabbitMQURL,
		Queue:          cfg.RabbitMQQueue,
		PublishTimeout: cfg.EventPublishTimeout,
		ConnectPolicy:  cfg.BusConnectPolicy(),
	}
}

// connectPublisher never fails: an unreachable bus degrades to a publisher
// that reports every event as undelivered.
func connectPublisher(ctx context.Context, cfg config.Config) ports.EventPublisher {
	publisher, err := openPublisher(ctx, cfg)
	if err != nil {
		slog.Warn("audit_bus_unavailable", "bus_backend", cfg.BusBackend, "error", err)
		return queue.NopPublisher{}
	}
	return publisher
}

func openPublisher(ctx context.Context, cfg config.Config) (ports.EventPublisher, error) {
	switch cfg.BusBackend {
	case config.BusBackendNATS, "":
		opts := natsOptions(cfg)
		conn, js, err := nats.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return nats.NewPublisher(conn, js, opts), nil
	case config.BusBackendRabbitMQ:
		opts := rabbitOptions(cfg)
		conn, err := rabbitmq.Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		publisher, err := rabbitmq.NewPublisher(conn, opts)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return publisher, nil
	case config.BusBackendNone:
		return nil, fmt.Errorf("bus disabled")
	default:
		return nil, fmt.Errorf("unknown BUS_BACKEND %q", cfg.BusBackend)
	}
}

func openConsumer(ctx context.Context, cfg config.Config) (ports.EventConsumer, error) {
	switch cfg.BusBackend {
	case config.BusBackendNATS, "":
		opts := natsOptions(cfg)
		conn, js, err := nats.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return nats.NewConsumer(conn, js, opts), nil
	case config.BusBackendRabbitMQ:
		opts := rabbitOptions(cfg)
		conn, err := rabbitmq.Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return rabbitmq.NewConsumer(conn, opts), nil
	default:
		return nil, fmt.Errorf("audit worker requires a bus backend, got %q", cfg.BusBackend)
	}
}
