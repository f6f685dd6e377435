package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

const publishOperation = "nats.publish"

// classifyPublishError feeds the publish breaker. A publish gets a single ack
// wait and is never retried in-line: audit delivery is best effort, and the
// answer path must not stall behind a dead bus. Only failures that say the bus
// itself is unhealthy count toward tripping the breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{}
	case errors.Is(err, nats.ErrBadSubject), errors.Is(err, nats.ErrMaxPayload):
		return resilience.ErrorClassification{}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// isBusDown reports errors meaning the stream did not ack in time or the
// connection is gone, as opposed to a message the bus refused.
func isBusDown(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, jetstream.ErrNoStreamResponse)
}
