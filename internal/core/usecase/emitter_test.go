package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

type publisherFake struct {
	mu      sync.Mutex
	events  []string
	ok      bool
	release chan struct{}
}

func (p *publisherFake) Publish(_ context.Context, event domain.AuditEvent) bool {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.EventID)
	return p.ok
}

func (p *publisherFake) Close() {}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *outcomeCounter) observe(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[outcome]++
}

func (c *outcomeCounter) get(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[outcome]
}

func TestAuditEmitterPublishesAndDrainsOnClose(t *testing.T) {
	pub := &publisherFake{ok: true}
	counter := &outcomeCounter{}
	emitter := NewAuditEmitter(pub, 8, counter.observe)

	for _, id := range []string{"e1", "e2", "e3"} {
		if !emitter.Emit(domain.AuditEvent{EventID: id}) {
			t.Fatalf("Emit(%s) dropped", id)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := emitter.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(pub.events) != 3 || pub.events[0] != "e1" || pub.events[2] != "e3" {
		t.Fatalf("unexpected published events: %v", pub.events)
	}
	if counter.get(PublishOutcomePublished) != 3 {
		t.Fatalf("expected 3 published outcomes")
	}
}

func TestAuditEmitterDropsWhenFull(t *testing.T) {
	pub := &publisherFake{ok: true, release: make(chan struct{})}
	counter := &outcomeCounter{}
	emitter := NewAuditEmitter(pub, 1, counter.observe)

	// The first event is held by the blocked publisher, the second fills the buffer.
	emitter.Emit(domain.AuditEvent{EventID: "held"})
	deadline := time.Now().Add(time.Second)
	for len(emitter.events) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !emitter.Emit(domain.AuditEvent{EventID: "queued"}) {
		t.Fatalf("expected queued event to be accepted")
	}
	if emitter.Emit(domain.AuditEvent{EventID: "dropped"}) {
		t.Fatalf("expected drop on full buffer")
	}
	if counter.get(PublishOutcomeDropped) != 1 {
		t.Fatalf("expected one dropped outcome")
	}

	close(pub.release)
	if err := emitter.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if emitter.Emit(domain.AuditEvent{EventID: "late"}) {
		t.Fatalf("expected drop after close")
	}
}

func TestAuditEmitterCountsPublishFailures(t *testing.T) {
	pub := &publisherFake{ok: false}
	counter := &outcomeCounter{}
	emitter := NewAuditEmitter(pub, 4, counter.observe)

	emitter.Emit(domain.AuditEvent{EventID: "e1"})
	if err := emitter.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if counter.get(PublishOutcomeFailed) != 1 {
		t.Fatalf("expected one failed outcome")
	}
}
