package ports

import (
	"context"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

// DocumentIndexer is the inbound contract for ingestion and document lifecycle.
type DocumentIndexer interface {
	Index(ctx context.Context, req domain.IndexRequest) (*domain.IndexResult, error)
	Delete(ctx context.Context, groupID int64, documentName string, purgeArchive bool) (int, error)
	List(ctx context.Context, groupID int64) ([]domain.DocumentSummary, error)
}

// DocumentQueryService is the inbound contract for retrieval and grounded answers.
type DocumentQueryService interface {
	Search(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error)
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error)
	RetrieveText(ctx context.Context, groupID int64, documentName string, page int) (string, bool)
}

// StatsReader exposes index statistics.
type StatsReader interface {
	Stats(ctx context.Context, groupID *int64) (*domain.IndexStats, error)
}

// AuditRecorder durably records audit events delivered by the bus.
type AuditRecorder interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
