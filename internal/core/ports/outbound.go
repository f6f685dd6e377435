package ports

import (
	"context"
	"io"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

// DocumentArchive stores original source files for on-demand rehydration.
type DocumentArchive interface {
	Save(ctx context.Context, groupID int64, documentName string, data io.Reader) error
	Open(ctx context.Context, groupID int64, documentName string) (io.ReadCloser, error)
	Delete(ctx context.Context, groupID int64, documentName string) error
	List(ctx context.Context) ([]domain.ArchivedDocument, error)
}

// PageExtractor extracts per-page text from raw document bytes.
type PageExtractor interface {
	Supports(documentName string) bool
	ExtractPages(ctx context.Context, documentName string, data []byte) ([]domain.Page, int, error)
	ExtractPage(ctx context.Context, documentName string, data []byte, page int) (string, bool, error)
}

// Chunker splits page text into overlapping spans.
type Chunker interface {
	Split(text string) []domain.TextSpan
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Completer is the opaque text-completion capability.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// VectorIndex persists chunk records and performs filtered similarity search.
type VectorIndex interface {
	ReplaceDocument(ctx context.Context, groupID int64, documentName string, records []domain.ChunkRecord) (int, error)
	Search(ctx context.Context, queryVector []float32, filter domain.SearchFilter, topK int) ([]domain.SearchHit, error)
	DeleteDocument(ctx context.Context, groupID int64, documentName string) (int, error)
	ListDocuments(ctx context.Context, groupID int64) ([]domain.DocumentSummary, error)
	Stats(ctx context.Context, groupID *int64) (*domain.IndexStats, error)
}

// SubjectExtractor maps free text to a document-subset token.
type SubjectExtractor interface {
	Extract(question string) (string, bool)
}

// EventPublisher emits audit events. It never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.AuditEvent) bool
	Close()
}

// EventConsumer pulls audit events until ctx is done. A message is
// acknowledged only when handler returns nil.
type EventConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.AuditEvent) error) error
	Close()
}

// AuditLog is the durable chat history store.
type AuditLog interface {
	Append(ctx context.Context, event domain.AuditEvent) (bool, error)
	Reset(ctx context.Context) error
}

// AuditSink accepts audit events without blocking the caller. It reports
// false when the event was dropped.
type AuditSink interface {
	Emit(event domain.AuditEvent) bool
}
