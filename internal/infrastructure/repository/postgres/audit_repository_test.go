package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

func auditEvent() domain.AuditEvent {
	return domain.AuditEvent{
		EventID:         "4b1f7e4e-5d0c-4b8e-9a59-4a3c6d0d6a11",
		RequesterID:     "42",
		Query:           "What did Apple report?",
		DetectedSubject: "AAPL",
		Answer:          "Revenue grew.",
		ContextUsed:     domain.AuditContext{Status: domain.AnswerStatusAnswered, ContextLength: 120},
		Model:           "llama3",
		ResponseTimeMS:  900,
		Timestamp:       time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAppendInsertsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewAuditRepository(db, nil)

	mock.ExpectExec("INSERT INTO chat_history").
		WithArgs("4b1f7e4e-5d0c-4b8e-9a59-4a3c6d0d6a11", sqlmock.AnyArg(), sqlmock.AnyArg(), "What did Apple report?",
			sqlmock.AnyArg(), "Revenue grew.", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(900), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("ON CONFLICT \\(event_id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Append(context.Background(), auditEvent())
	if err != nil || !inserted {
		t.Fatalf("first Append() = %v, %v", inserted, err)
	}
	inserted, err = repo.Append(context.Background(), auditEvent())
	if err != nil {
		t.Fatalf("duplicate Append() error = %v", err)
	}
	if inserted {
		t.Fatalf("duplicate event must not be reported as inserted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendFailureIsTemporary(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewAuditRepository(db, nil)

	mock.ExpectExec("INSERT INTO chat_history").WillReturnError(errors.New("connection reset by peer"))

	_, err = repo.Append(context.Background(), auditEvent())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestAppendDataExceptionIsNotRetryable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewAuditRepository(db, nil)

	mock.ExpectExec("INSERT INTO chat_history").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})

	_, err = repo.Append(context.Background(), auditEvent())
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("data exception must not be temporary: %v", err)
	}
}

func TestAppendConnectionFailureStaysTemporary(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewAuditRepository(db, nil)

	mock.ExpectExec("INSERT INTO chat_history").
		WillReturnError(&pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"})

	_, err = repo.Append(context.Background(), auditEvent())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestResetSwapsConnection(t *testing.T) {
	oldDB, oldMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	newDB, newMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer newDB.Close()

	repo := NewAuditRepository(oldDB, func(context.Context) (*sql.DB, error) {
		return newDB, nil
	})

	oldMock.ExpectClose()
	newMock.ExpectExec("INSERT INTO chat_history").WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := repo.Append(context.Background(), auditEvent()); err != nil {
		t.Fatalf("Append() after reset error = %v", err)
	}
	if err := oldMock.ExpectationsWereMet(); err != nil {
		t.Fatalf("old expectations: %v", err)
	}
	if err := newMock.ExpectationsWereMet(); err != nil {
		t.Fatalf("new expectations: %v", err)
	}
}

func TestResetReportsReopenFailure(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewAuditRepository(db, func(context.Context) (*sql.DB, error) {
		return nil, errors.New("server unavailable")
	})
	if err := repo.Reset(context.Background()); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
