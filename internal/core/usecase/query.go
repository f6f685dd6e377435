package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
)

const defaultRehydrateWorkers = 4

type QueryUseCase struct {
	embedder   ports.Embedder
	index      ports.VectorIndex
	rehydrator *Rehydrator
	completer  ports.Completer
	subjects   ports.SubjectExtractor
	audit      ports.AuditSink
	workers    int
	now        func() time.Time
}

func NewQueryUseCase(
	embedder ports.Embedder,
	index ports.VectorIndex,
	rehydrator *Rehydrator,
	completer ports.Completer,
	subjects ports.SubjectExtractor,
	audit ports.AuditSink,
	rehydrateWorkers int,
) *QueryUseCase {
	if rehydrateWorkers <= 0 {
		rehydrateWorkers = defaultRehydrateWorkers
	}
	return &QueryUseCase{
		embedder:   embedder,
		index:      index,
		rehydrator: rehydrator,
		completer:  completer,
		subjects:   subjects,
		audit:      audit,
		workers:    rehydrateWorkers,
		now:        time.Now,
	}
}

func (uc *QueryUseCase) Search(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error) {
	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}
	topK := domain.ClampTopK(req.TopK)

	filter := domain.SearchFilter{GroupID: req.GroupID, DocumentName: strings.TrimSpace(req.DocumentName)}
	hits, err := uc.retrieve(ctx, query, filter, topK, req.RetrieveText)
	if err != nil {
		return nil, err
	}

	return &domain.QueryResult{
		Query:         query,
		GroupID:       req.GroupID,
		DocumentName:  filter.DocumentName,
		TopK:          topK,
		ResultsCount:  len(hits),
		Results:       hits,
		TextRetrieved: req.RetrieveText,
	}, nil
}

// Answer retrieves context, asks the completer for a grounded answer and
// emits one audit event. A completion failure degrades the answer instead of
// failing the request.
func (uc *QueryUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error) {
	started := uc.now()

	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}

	filter := domain.SearchFilter{GroupID: req.GroupID, DocumentName: strings.TrimSpace(req.DocumentName)}
	detected := uc.detectSubject(query, filter)
	filter.Subject = detected

	hits, err := uc.retrieve(ctx, query, filter, domain.ClampTopK(req.TopK), true)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		Query:           query,
		DetectedSubject: detected,
		Sources:         BuildSources(hits),
	}
	if len(hits) == 0 {
		answer.Answer = NoContextAnswer
		answer.Status = domain.AnswerStatusNoContext
		answer.Message = messageNoContext
	} else {
		answer.Context = BuildContext(hits)
		uc.complete(ctx, answer)
	}

	uc.emitAudit(req, answer, started)
	return answer, nil
}

func (uc *QueryUseCase) RetrieveText(ctx context.Context, groupID int64, documentName string, page int) (string, bool) {
	if groupID <= 0 || strings.TrimSpace(documentName) == "" || page < 1 {
		return "", false
	}
	return uc.rehydrator.Rehydrate(ctx, groupID, strings.TrimSpace(documentName), page)
}

func (uc *QueryUseCase) detectSubject(query string, filter domain.SearchFilter) string {
	if filter.DocumentName != "" || uc.subjects == nil {
		return ""
	}
	subject, ok := uc.subjects.Extract(query)
	if !ok {
		return ""
	}
	slog.Debug("subject_detected", "subject", subject)
	return subject
}

func (uc *QueryUseCase) retrieve(ctx context.Context, query string, filter domain.SearchFilter, topK int, withText bool) ([]domain.SearchHit, error) {
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := uc.index.Search(ctx, vector, filter, topK)
	if err != nil {
		return nil, fmt.Errorf("search vector index: %w", err)
	}
	if withText && len(hits) > 0 {
		uc.rehydrate(ctx, hits)
	}
	return hits, nil
}

// rehydrate fills hit text in place. Workers write disjoint slice elements.
func (uc *QueryUseCase) rehydrate(ctx context.Context, hits []domain.SearchHit) {
	var g errgroup.Group
	g.SetLimit(uc.workers)
	for i := range hits {
		hit := &hits[i]
		g.Go(func() error {
			text, ok := uc.rehydrator.Rehydrate(ctx, hit.GroupID, hit.DocumentName, hit.Metadata.Page)
			hit.RetrievedText = text
			hit.TextAvailable = ok
			return nil
		})
	}
	_ = g.Wait()
}

func (uc *QueryUseCase) complete(ctx context.Context, answer *domain.Answer) {
	answer.Model = uc.completer.Model()

	text, err := uc.completer.Complete(ctx, BuildPrompt(answer.Query, answer.Context))
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		slog.Error("completion_failed", "model", answer.Model, "error", err)
		answer.Answer = degradedAnswer(err)
		answer.Status = domain.AnswerStatusDegraded
		answer.Message = messageDegraded
		return
	}

	answer.Answer = text
	answer.Status = domain.AnswerStatusAnswered
	answer.Message = messageAnswered
}

func (uc *QueryUseCase) emitAudit(req domain.AnswerRequest, answer *domain.Answer, started time.Time) {
	if uc.audit == nil {
		return
	}
	now := uc.now()
	uc.audit.Emit(domain.AuditEvent{
		EventID:         uuid.NewString(),
		RequesterID:     req.RequesterID,
		RequesterName:   req.RequesterName,
		Query:           answer.Query,
		DetectedSubject: answer.DetectedSubject,
		Answer:          answer.Answer,
		ContextUsed: domain.AuditContext{
			Status:        answer.Status,
			ContextLength: len(answer.Context),
			Sources:       answer.Sources,
		},
		Model:          answer.Model,
		ResponseTimeMS: now.Sub(started).Milliseconds(),
		Timestamp:      now.UTC(),
	})
}

func validateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate query", errors.New("query is required"))
	}
	return query, nil
}
