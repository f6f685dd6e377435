package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
)

const defaultAuditAttempts = 2

// AuditRecorder writes bus-delivered audit events to the durable log.
// A failed write resets the store connection and is retried once; if it
// still fails the error is returned so the message is redelivered. Events the
// store rejects as invalid are not retried.
type AuditRecorder struct {
	log      ports.AuditLog
	attempts int
	observe  func(result string, elapsed time.Duration)
}

func NewAuditRecorder(log ports.AuditLog, observe func(result string, elapsed time.Duration)) *AuditRecorder {
	if observe == nil {
		observe = func(string, time.Duration) {}
	}
	return &AuditRecorder{log: log, attempts: defaultAuditAttempts, observe: observe}
}

func (r *AuditRecorder) Record(ctx context.Context, event domain.AuditEvent) error {
	started := time.Now()
	if event.EventID == "" {
		r.observe("invalid", time.Since(started))
		return domain.WrapError(domain.ErrInvalidInput, "record audit event", errors.New("event_id is required"))
	}

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		inserted, err := r.log.Append(ctx, event)
		if err == nil {
			if inserted {
				slog.Info("audit_event_recorded", "event_id", event.EventID, "status", event.ContextUsed.Status)
				r.observe("recorded", time.Since(started))
			} else {
				slog.Info("audit_event_duplicate", "event_id", event.EventID)
				r.observe("duplicate", time.Since(started))
			}
			return nil
		}
		lastErr = err
		if domain.IsKind(err, domain.ErrInvalidInput) {
			slog.Error("audit_event_unrecordable", "event_id", event.EventID, "error", err)
			r.observe("invalid", time.Since(started))
			return fmt.Errorf("record audit event %s: %w", event.EventID, err)
		}
		slog.Warn("audit_append_failed", "event_id", event.EventID, "attempt", attempt, "error", err)

		if attempt < r.attempts {
			if resetErr := r.log.Reset(ctx); resetErr != nil {
				slog.Error("audit_store_reset_failed", "error", resetErr)
			}
		}
	}

	r.observe("failed", time.Since(started))
	return fmt.Errorf("record audit event %s: %w", event.EventID, lastErr)
}
