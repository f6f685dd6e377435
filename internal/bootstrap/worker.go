package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/filings-assistant/internal/config"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
	"github.com/kirillkom/filings-assistant/internal/core/usecase"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/repository/postgres"
)

// Worker is the audit side: bus consumer plus durable chat history.
type Worker struct {
	Config   config.Config
	Consumer ports.EventConsumer
	Recorder *usecase.AuditRecorder

	store *postgres.AuditRepository
}

func NewWorker(ctx context.Context, cfg config.Config, observe func(result string, elapsed time.Duration)) (*Worker, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := postgres.NewAuditRepository(db, func(context.Context) (*sql.DB, error) {
		return postgres.OpenDB(cfg.PostgresDSN)
	})
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	consumer, err := openConsumer(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect audit bus: %w", err)
	}

	return &Worker{
		Config:   cfg,
		Consumer: consumer,
		Recorder: usecase.NewAuditRecorder(store, observe),
		store:    store,
	}, nil
}

func (w *Worker) Close() {
	w.Consumer.Close()
	_ = w.store.Close()
}
