package bootstrap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/usecase"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.AuditEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "publish:"+event.EventID)
	return true
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "close")
}

func TestAppCloseDrainsEmitterBeforeClosingPublisher(t *testing.T) {
	publisher := &recordingPublisher{}
	emitter := usecase.NewAuditEmitter(publisher, 4, nil)
	closed := false
	app := &App{Emitter: emitter, Publisher: publisher, closeFn: func() { closed = true }}

	if !emitter.Emit(domain.AuditEvent{EventID: "a1"}) {
		t.Fatalf("expected event to be queued")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	app.Close(ctx)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.calls) != 2 || publisher.calls[0] != "publish:a1" || publisher.calls[1] != "close" {
		t.Fatalf("expected publish then close, got %v", publisher.calls)
	}
	if !closed {
		t.Fatalf("expected connections to be released")
	}
}

func TestAppCloseWithoutPublisher(t *testing.T) {
	app := &App{}
	app.Close(context.Background())
}
