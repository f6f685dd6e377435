package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
)

const defaultEmitterBuffer = 256

// Audit publish outcomes reported to the observe hook.
const (
	PublishOutcomePublished = "published"
	PublishOutcomeFailed    = "failed"
	PublishOutcomeDropped   = "dropped"
)

// AuditEmitter hands audit events to a publisher from a background
// goroutine so the answering path never waits on the bus.
type AuditEmitter struct {
	publisher ports.EventPublisher
	events    chan domain.AuditEvent
	observe   func(outcome string)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAuditEmitter(publisher ports.EventPublisher, buffer int, observe func(outcome string)) *AuditEmitter {
	if buffer <= 0 {
		buffer = defaultEmitterBuffer
	}
	if observe == nil {
		observe = func(string) {}
	}
	e := &AuditEmitter{
		publisher: publisher,
		events:    make(chan domain.AuditEvent, buffer),
		observe:   observe,
		done:      make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit enqueues the event and returns false when it had to be dropped.
func (e *AuditEmitter) Emit(event domain.AuditEvent) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(event, "emitter closed")
		return false
	}
	select {
	case e.events <- event:
		return true
	default:
		e.drop(event, "buffer full")
		return false
	}
}

func (e *AuditEmitter) drop(event domain.AuditEvent, reason string) {
	slog.Warn("audit_event_dropped", "event_id", event.EventID, "reason", reason)
	e.observe(PublishOutcomeDropped)
}

func (e *AuditEmitter) run() {
	defer close(e.done)
	for event := range e.events {
		if e.publisher.Publish(context.Background(), event) {
			e.observe(PublishOutcomePublished)
			continue
		}
		e.observe(PublishOutcomeFailed)
	}
}

// Close stops accepting events and waits for queued ones to be published
// or for ctx to expire.
func (e *AuditEmitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		slog.Warn("audit_emitter_drain_incomplete", "pending", len(e.events))
		return ctx.Err()
	}
}
