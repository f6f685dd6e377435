package queue

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

func TestDecodeEventRequiresEventID(t *testing.T) {
	data, err := EncodeEvent(domain.AuditEvent{Query: "q", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if _, err := DecodeEvent(data); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := DecodeEvent([]byte("{")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for malformed json, got %v", err)
	}
}

func TestDecodeEventRejectsNonUUIDEventID(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event_id":"not-a-uuid","query":"q"}`))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDecodeEventKeepsWireFieldNames(t *testing.T) {
	raw := []byte(`{"event_id":"0d9c8a52-3f6e-4d51-b1f4-2b7a9c3e5f01","user_id":"7","query":"q","detected_ticker":"AAPL","answer":"a","model_name":"llama3","response_time_ms":12,"context_used":{"status":"answered","context_length":3,"sources":[]}}`)
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if ev.EventID != "0d9c8a52-3f6e-4d51-b1f4-2b7a9c3e5f01" || ev.RequesterID != "7" || ev.DetectedSubject != "AAPL" || ev.ResponseTimeMS != 12 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ContextUsed.Status != domain.AnswerStatusAnswered {
		t.Fatalf("unexpected context status: %s", ev.ContextUsed.Status)
	}
}

func TestNopPublisherNeverDelivers(t *testing.T) {
	var p NopPublisher
	if p.Publish(context.Background(), domain.AuditEvent{EventID: "e"}) {
		t.Fatalf("nop publisher must report not delivered")
	}
	p.Close()
}
