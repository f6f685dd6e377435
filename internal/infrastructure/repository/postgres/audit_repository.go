package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

// AuditRepository appends audit events to chat_history. Reset replaces the
// underlying pool through reopen after a broken connection.
type AuditRepository struct {
	mu     sync.RWMutex
	db     *sql.DB
	reopen func(ctx context.Context) (*sql.DB, error)
}

func NewAuditRepository(db *sql.DB, reopen func(ctx context.Context) (*sql.DB, error)) *AuditRepository {
	return &AuditRepository{db: db, reopen: reopen}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	return withSchemaLock(ctx, r.conn(), auditSchemaLockKey, func(tx *sql.Tx) error {
		const query = `
CREATE TABLE IF NOT EXISTS chat_history (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL UNIQUE,
	user_id TEXT,
	user_name TEXT,
	query TEXT NOT NULL,
	detected_ticker TEXT,
	answer TEXT NOT NULL,
	context_used JSONB NOT NULL DEFAULT '{}'::jsonb,
	model_name TEXT,
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_history_user ON chat_history(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_chat_history_ticker ON chat_history(detected_ticker);
`
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema ddl: %w", err)
		}
		return nil
	})
}

// Append inserts the event once. A redelivered event_id is a no-op and
// reports inserted=false.
func (r *AuditRepository) Append(ctx context.Context, event domain.AuditEvent) (bool, error) {
	contextJSON, err := json.Marshal(event.ContextUsed)
	if err != nil {
		return false, fmt.Errorf("marshal context summary: %w", err)
	}

	res, err := r.conn().ExecContext(ctx, `
INSERT INTO chat_history (
	event_id, user_id, user_name, query, detected_ticker, answer, context_used, model_name, response_time_ms, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (event_id) DO NOTHING
`,
		event.EventID, nullString(event.RequesterID), nullString(event.RequesterName), event.Query,
		nullString(event.DetectedSubject), event.Answer, contextJSON, nullString(event.Model),
		event.ResponseTimeMS, event.Timestamp.UTC(),
	)
	if err != nil {
		return false, classifyAppendError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *AuditRepository) Reset(ctx context.Context) error {
	if r.reopen == nil {
		if err := r.conn().PingContext(ctx); err != nil {
			return domain.WrapError(domain.ErrTemporary, "ping audit store", err)
		}
		return nil
	}

	db, err := r.reopen(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "reopen audit store", err)
	}

	r.mu.Lock()
	old := r.db
	r.db = db
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close releases whichever connection pool is current.
func (r *AuditRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *AuditRepository) conn() *sql.DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

// classifyAppendError separates rows Postgres will never accept (data
// exceptions, class 22, and constraint violations, class 23) from failures
// worth a reconnect and redelivery.
func classifyAppendError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")) {
		return domain.WrapError(domain.ErrInvalidInput, "insert chat history", err)
	}
	return domain.WrapError(domain.ErrTemporary, "insert chat history", err)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
