package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
)

type IndexUseCase struct {
	extractor ports.PageExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	index     ports.VectorIndex
	archive   ports.DocumentArchive
	dimension int
	docType   func(documentName string) string
}

func NewIndexUseCase(
	extractor ports.PageExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	index ports.VectorIndex,
	archive ports.DocumentArchive,
	dimension int,
	docType func(documentName string) string,
) *IndexUseCase {
	if docType == nil {
		docType = func(name string) string {
			return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		}
	}
	return &IndexUseCase{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		archive:   archive,
		dimension: dimension,
		docType:   docType,
	}
}

// Index replaces every chunk of the document with a freshly extracted,
// embedded set and archives the source bytes. Nothing is written to the index
// unless extraction and embedding both succeed.
func (uc *IndexUseCase) Index(ctx context.Context, req domain.IndexRequest) (*domain.IndexResult, error) {
	result, err := uc.indexDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := uc.archive.Save(ctx, req.GroupID, result.DocumentName, bytes.NewReader(req.Data)); err != nil {
		slog.Warn("archive_write_failed",
			"group_id", req.GroupID,
			"document_name", result.DocumentName,
			"error", err,
		)
		return result, nil
	}
	result.Archived = true
	return result, nil
}

func (uc *IndexUseCase) indexDocument(ctx context.Context, req domain.IndexRequest) (*domain.IndexResult, error) {
	name, err := uc.validate(req)
	if err != nil {
		return nil, err
	}

	pages, totalPages, err := uc.extractPages(ctx, name, req.Data)
	if err != nil {
		return nil, err
	}

	texts, metas := uc.chunkPages(name, pages, totalPages, req)
	if len(texts) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	vectors, err := uc.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	records := buildRecords(req.GroupID, name, texts, metas, vectors)
	stored, err := uc.index.ReplaceDocument(ctx, req.GroupID, name, records)
	if err != nil {
		return nil, fmt.Errorf("replace document chunks: %w", err)
	}

	slog.Info("document_indexed",
		"group_id", req.GroupID,
		"document_name", name,
		"pages", len(pages),
		"chunks", stored,
	)
	return &domain.IndexResult{
		GroupID:        req.GroupID,
		DocumentName:   name,
		PagesProcessed: len(pages),
		TotalPages:     totalPages,
		ChunksStored:   stored,
	}, nil
}

func (uc *IndexUseCase) validate(req domain.IndexRequest) (string, error) {
	if req.GroupID <= 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate index request", errors.New("group_id must be positive"))
	}
	name := strings.TrimSpace(req.DocumentName)
	if name == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate index request", errors.New("document_name is required"))
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate index request", fmt.Errorf("invalid document_name %q", name))
	}
	if !uc.extractor.Supports(name) {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate index request", fmt.Errorf("unsupported document type %q", filepath.Ext(name)))
	}
	if len(req.Data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate index request", errors.New("document is empty"))
	}
	return name, nil
}

func (uc *IndexUseCase) extractPages(ctx context.Context, name string, data []byte) ([]domain.Page, int, error) {
	pages, total, err := uc.extractor.ExtractPages(ctx, name, data)
	if err != nil {
		return nil, 0, fmt.Errorf("extract pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "extract pages", errors.New("document has no extractable text"))
	}
	return pages, total, nil
}

// chunkPages splits every page separately so offsets stay page-local.
func (uc *IndexUseCase) chunkPages(name string, pages []domain.Page, totalPages int, req domain.IndexRequest) ([]string, []domain.ChunkMetadata) {
	docType := uc.docType(name)

	var texts []string
	var metas []domain.ChunkMetadata
	for _, page := range pages {
		for _, span := range uc.chunker.Split(page.Text) {
			if strings.TrimSpace(span.Text) == "" {
				continue
			}
			texts = append(texts, span.Text)
			metas = append(metas, domain.ChunkMetadata{
				Page:       page.Number,
				TotalPages: totalPages,
				StartChar:  span.StartChar,
				EndChar:    span.EndChar,
				DocType:    docType,
				ChunkIndex: len(metas),
				ReportDate: req.ReportDate,
				ReportKind: req.ReportKind,
			})
		}
	}
	return texts, metas
}

func (uc *IndexUseCase) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	if uc.dimension > 0 {
		for _, v := range vectors {
			if len(v) != uc.dimension {
				return nil, domain.WrapError(
					domain.ErrConfiguration,
					"embed chunks",
					fmt.Errorf("embedding dimension %d, configured %d", len(v), uc.dimension),
				)
			}
		}
	}
	return vectors, nil
}

func buildRecords(groupID int64, name string, texts []string, metas []domain.ChunkMetadata, vectors [][]float32) []domain.ChunkRecord {
	now := time.Now().UTC()
	records := make([]domain.ChunkRecord, 0, len(texts))
	for i, text := range texts {
		records = append(records, domain.ChunkRecord{
			GroupID:      groupID,
			DocumentName: name,
			ChunkIndex:   metas[i].ChunkIndex,
			ContentHash:  ContentHash(text),
			Embedding:    vectors[i],
			Metadata:     metas[i],
			CreatedAt:    now,
		})
	}
	return records
}

// ContentHash is the hex SHA-256 of the exact fragment text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Delete removes the document's chunks and, when purgeArchive is set, its
// archived source.
func (uc *IndexUseCase) Delete(ctx context.Context, groupID int64, documentName string, purgeArchive bool) (int, error) {
	name := strings.TrimSpace(documentName)
	if groupID <= 0 || name == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "delete document", errors.New("group_id and document_name are required"))
	}

	removed, err := uc.index.DeleteDocument(ctx, groupID, name)
	if err != nil {
		return 0, fmt.Errorf("delete document chunks: %w", err)
	}

	archiveRemoved := false
	if purgeArchive {
		switch err := uc.archive.Delete(ctx, groupID, name); {
		case err == nil:
			archiveRemoved = true
		case domain.IsKind(err, domain.ErrDocumentNotFound):
		default:
			return removed, fmt.Errorf("delete archived document: %w", err)
		}
	}

	if removed == 0 && !archiveRemoved {
		return 0, domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("%d/%s", groupID, name))
	}
	slog.Info("document_deleted", "group_id", groupID, "document_name", name, "chunks", removed, "archive_purged", archiveRemoved)
	return removed, nil
}

func (uc *IndexUseCase) List(ctx context.Context, groupID int64) ([]domain.DocumentSummary, error) {
	if groupID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list documents", errors.New("group_id must be positive"))
	}
	docs, err := uc.index.ListDocuments(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ReindexReport summarizes a pass over the archive.
type ReindexReport struct {
	Indexed int
	Failed  int
	Chunks  int
}

// ReindexArchive re-indexes every archived document without rewriting the
// archive. Per-document failures are reported through onResult and do not
// stop the pass.
func (uc *IndexUseCase) ReindexArchive(
	ctx context.Context,
	onResult func(doc domain.ArchivedDocument, result *domain.IndexResult, err error),
) (ReindexReport, error) {
	docs, err := uc.archive.List(ctx)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("list archive: %w", err)
	}

	var report ReindexReport
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := uc.reindexOne(ctx, doc)
		if err != nil {
			report.Failed++
		} else {
			report.Indexed++
			report.Chunks += result.ChunksStored
		}
		if onResult != nil {
			onResult(doc, result, err)
		}
	}
	return report, nil
}

func (uc *IndexUseCase) reindexOne(ctx context.Context, doc domain.ArchivedDocument) (*domain.IndexResult, error) {
	if !uc.extractor.Supports(doc.DocumentName) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "reindex document", fmt.Errorf("unsupported document type %q", filepath.Ext(doc.DocumentName)))
	}
	rc, err := uc.archive.Open(ctx, doc.GroupID, doc.DocumentName)
	if err != nil {
		return nil, fmt.Errorf("open archived document: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read archived document: %w", err)
	}

	result, err := uc.indexDocument(ctx, domain.IndexRequest{
		GroupID:      doc.GroupID,
		DocumentName: doc.DocumentName,
		Data:         data,
	})
	if err != nil {
		return nil, err
	}
	result.Archived = true
	return result, nil
}
