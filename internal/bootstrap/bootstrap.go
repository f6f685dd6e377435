package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/filings-assistant/internal/config"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
	"github.com/kirillkom/filings-assistant/internal/core/usecase"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/extractor"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/ticker"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/vector/memory"
)

// App holds the ingestion and query side shared by the api and indexer binaries.
type App struct {
	Config config.Config

	IndexUC *usecase.IndexUseCase
	QueryUC *usecase.QueryUseCase
	StatsUC *usecase.StatsUseCase
	Emitter *usecase.AuditEmitter

	// Publisher is closed after Emitter has drained into it.
	Publisher ports.EventPublisher

	closeFn func()
}

type options struct {
	publishObserver func(outcome string)
	withPublisher   bool
}

type Option func(*options)

// WithAuditPublisher connects the event bus and routes answer audit events
// through an async emitter. Without it audit events are discarded.
func WithAuditPublisher(observe func(outcome string)) Option {
	return func(o *options) {
		o.withPublisher = true
		o.publishObserver = observe
	}
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	index, db, err := openVectorIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closeDB := func() {
		if db != nil {
			_ = db.Close()
		}
	}

	archive, err := localfs.New(cfg.ArchivePath)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("init document archive: %w", err)
	}

	table := ticker.DefaultTable()
	if cfg.TickerTablePath != "" {
		table, err = ticker.LoadTable(cfg.TickerTablePath)
		if err != nil {
			closeDB()
			return nil, err
		}
	}

	llmClient := ollama.New(ollama.Options{
		BaseURL:           cfg.OllamaURL,
		GenerateModel:     cfg.OllamaGenModel,
		EmbedModel:        cfg.OllamaEmbedModel,
		EmbedTimeout:      cfg.EmbedTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
		Executor:          resilience.NewExecutor(cfg.Resilience()),
	})
	embedder := ollama.NewEmbedder(llmClient)
	completer := ollama.NewCompleter(llmClient)

	extractors := extractor.NewRegistry(
		pdf.NewExtractor(cfg.PDFWorkers),
		xlsx.NewExtractor(),
		plaintext.NewExtractor(),
	)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	var (
		sink      ports.AuditSink
		emitter   *usecase.AuditEmitter
		publisher ports.EventPublisher
	)
	if o.withPublisher {
		publisher = connectPublisher(ctx, cfg)
		emitter = usecase.NewAuditEmitter(publisher, cfg.AuditBufferSize, o.publishObserver)
		sink = emitter
	}

	indexUC := usecase.NewIndexUseCase(extractors, chunker, embedder, index, archive, cfg.EmbeddingDimension, extractor.DocType)
	rehydrator := usecase.NewRehydrator(archive, extractors)
	queryUC := usecase.NewQueryUseCase(embedder, index, rehydrator, completer, ticker.NewExtractor(table), sink, cfg.RehydrateWorkers)
	statsUC := usecase.NewStatsUseCase(index)

	slog.Info("app_initialized",
		"vector_backend", cfg.VectorBackend,
		"bus_backend", cfg.BusBackend,
		"archive_path", cfg.ArchivePath,
		"embedding_dimension", cfg.EmbeddingDimension,
	)

	return &App{
		Config:    cfg,
		IndexUC:   indexUC,
		QueryUC:   queryUC,
		StatsUC:   statsUC,
		Emitter:   emitter,
		Publisher: publisher,
		closeFn:   closeDB,
	}, nil
}

// Close drains pending audit events, bounded by ctx, then closes the bus
// publisher and releases connections.
func (a *App) Close(ctx context.Context) {
	if a.Emitter != nil {
		if err := a.Emitter.Close(ctx); err != nil {
			slog.Warn("audit_emitter_close_failed", "error", err)
		}
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openVectorIndex(ctx context.Context, cfg config.Config) (ports.VectorIndex, *sql.DB, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendMemory:
		slog.Warn("vector_backend_in_memory", "reason", "index is not shared between processes and is lost on restart")
		return memory.NewIndex(cfg.EmbeddingDimension), nil, nil
	case config.VectorBackendPostgres, "":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewChunkRepository(db, cfg.EmbeddingDimension)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure chunk schema: %w", err)
		}
		return repo, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

// SetupSchema creates the chunk and audit tables and verifies the vector
// column dimension matches the configuration.
func SetupSchema(ctx context.Context, cfg config.Config) error {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.NewChunkRepository(db, cfg.EmbeddingDimension).EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure chunk schema: %w", err)
	}
	if err := postgres.NewAuditRepository(db, nil).EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}
