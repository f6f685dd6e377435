package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

const ContentType = "application/json"

func EncodeEvent(event domain.AuditEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return data, nil
}

// DecodeEvent rejects payloads that cannot be recorded idempotently.
func DecodeEvent(data []byte) (domain.AuditEvent, error) {
	var event domain.AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.AuditEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode audit event", err)
	}
	if event.EventID == "" {
		return domain.AuditEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode audit event", fmt.Errorf("missing event_id"))
	}
	if _, err := uuid.Parse(event.EventID); err != nil {
		return domain.AuditEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode audit event", fmt.Errorf("event_id %q: %w", event.EventID, err))
	}
	return event, nil
}

// NopPublisher stands in when the bus is unreachable at startup. Every
// publish reports not delivered.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, event domain.AuditEvent) bool {
	slog.Debug("audit_publish_skipped", "event_id", event.EventID, "reason", "bus unavailable")
	return false
}

func (NopPublisher) Close() {}
