package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

const validBody = `{"event_id":"9a7c3e1f-2b4d-4c6e-8f0a-1b3d5f7a9c2e"}`

type fakeMsg struct {
	jetstream.Msg
	data   []byte
	acked  bool
	naked  bool
	termed bool
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "audit.chat" }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Nak() error      { m.naked = true; return nil }
func (m *fakeMsg) Term() error     { m.termed = true; return nil }

func TestHandleMessageAcksOnSuccess(t *testing.T) {
	msg := &fakeMsg{data: []byte(`{"event_id":"9a7c3e1f-2b4d-4c6e-8f0a-1b3d5f7a9c2e","query":"q"}`)}
	var got domain.AuditEvent
	handleMessage(context.Background(), msg, func(_ context.Context, ev domain.AuditEvent) error {
		got = ev
		return nil
	})
	if !msg.acked || msg.naked {
		t.Fatalf("expected ack only, got %+v", msg)
	}
	if got.EventID != "9a7c3e1f-2b4d-4c6e-8f0a-1b3d5f7a9c2e" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHandleMessageNaksOnHandlerFailure(t *testing.T) {
	msg := &fakeMsg{data: []byte(validBody)}
	handleMessage(context.Background(), msg, func(context.Context, domain.AuditEvent) error {
		return errors.New("db down")
	})
	if msg.acked || !msg.naked {
		t.Fatalf("expected nak only, got %+v", msg)
	}
}

func TestHandleMessageTerminatesUnrecordableEvent(t *testing.T) {
	msg := &fakeMsg{data: []byte(validBody)}
	handleMessage(context.Background(), msg, func(context.Context, domain.AuditEvent) error {
		return domain.WrapError(domain.ErrInvalidInput, "insert chat history", errors.New("invalid byte sequence"))
	})
	if !msg.termed || msg.acked || msg.naked {
		t.Fatalf("expected term only, got %+v", msg)
	}
}

func TestHandleMessageTerminatesPoisonPayload(t *testing.T) {
	msg := &fakeMsg{data: []byte(`not json`)}
	handleMessage(context.Background(), msg, func(context.Context, domain.AuditEvent) error {
		t.Fatalf("handler must not run for undecodable payload")
		return nil
	})
	if !msg.termed || msg.acked || msg.naked {
		t.Fatalf("expected term only, got %+v", msg)
	}
}

func TestHandleMessageSurvivesCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := &fakeMsg{data: []byte(validBody)}
	handleMessage(ctx, msg, func(hctx context.Context, _ domain.AuditEvent) error {
		return hctx.Err()
	})
	if !msg.acked {
		t.Fatalf("in-flight write must complete after shutdown signal")
	}
}

type fakeStream struct {
	err      error
	calls    int
	optCount int
	subject  string
}

func (f *fakeStream) Publish(_ context.Context, subject string, _ []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.calls++
	f.subject = subject
	f.optCount = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: "AUDIT", Sequence: 1}, nil
}

func TestPublisherReportsDelivery(t *testing.T) {
	stream := &fakeStream{}
	p := newPublisher(nil, stream, Options{Subject: "audit.chat", PublishTimeout: time.Second})
	if !p.Publish(context.Background(), domain.AuditEvent{EventID: "e1"}) {
		t.Fatalf("expected delivered")
	}
	if stream.subject != "audit.chat" || stream.optCount != 1 {
		t.Fatalf("expected publish with message id on audit subject, got %+v", stream)
	}

	stream.err = nats.ErrTimeout
	if p.Publish(context.Background(), domain.AuditEvent{EventID: "e2"}) {
		t.Fatalf("expected not delivered when ack times out")
	}
	if stream.calls != 2 {
		t.Fatalf("publish must not be retried in-line, got %d calls", stream.calls)
	}
}

func TestPublisherSkipsDeadBusOnceBreakerOpens(t *testing.T) {
	cfg := resilience.DefaultConfig()
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Hour

	stream := &fakeStream{err: nats.ErrNoServers}
	p := newPublisher(nil, stream, Options{PublishTimeout: time.Second, Executor: resilience.NewExecutor(cfg)})

	for i := 0; i < 2; i++ {
		if p.Publish(context.Background(), domain.AuditEvent{EventID: "e"}) {
			t.Fatalf("expected not delivered")
		}
	}
	if p.Publish(context.Background(), domain.AuditEvent{EventID: "e3"}) {
		t.Fatalf("expected not delivered while breaker is open")
	}
	if stream.calls != 2 {
		t.Fatalf("open breaker must short-circuit the publish, got %d calls", stream.calls)
	}
}

func TestClassifyPublishError(t *testing.T) {
	if c := classifyPublishError(nats.ErrNoServers); !c.RecordFailure || c.Retryable {
		t.Fatalf("dead bus must count as breaker failure without retry: %+v", c)
	}
	if c := classifyPublishError(context.DeadlineExceeded); !c.RecordFailure {
		t.Fatalf("ack timeout must count as breaker failure: %+v", c)
	}
	if c := classifyPublishError(nats.ErrMaxPayload); c.RecordFailure {
		t.Fatalf("oversized payload says nothing about bus health: %+v", c)
	}
	if c := classifyPublishError(context.Canceled); c.RecordFailure {
		t.Fatalf("caller cancellation must not trip the breaker: %+v", c)
	}
	if !isBusDown(jetstream.ErrNoStreamResponse) || isBusDown(errors.New("invalid subject")) {
		t.Fatalf("unexpected bus-down classification")
	}
}
