package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

// ChunkRepository is the pgvector-backed vector index. Fragment text is never
// stored; rows carry a content hash and position metadata only.
type ChunkRepository struct {
	db        *sql.DB
	dimension int
}

func NewChunkRepository(db *sql.DB, dimension int) *ChunkRepository {
	return &ChunkRepository{db: db, dimension: dimension}
}

func (r *ChunkRepository) Dimension() int {
	return r.dimension
}

// EnsureSchema creates the chunk table on first start and verifies that an
// existing embedding column has the configured dimension.
func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	if r.dimension <= 0 {
		return domain.WrapError(domain.ErrConfiguration, "ensure chunk schema", fmt.Errorf("embedding dimension must be positive"))
	}

	return withSchemaLock(ctx, r.db, chunkSchemaLockKey, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	id BIGSERIAL PRIMARY KEY,
	group_id BIGINT NOT NULL,
	document_name TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (group_id, document_name, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_group_doc ON chunk_embeddings(group_id, document_name);
CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_embedding ON chunk_embeddings USING hnsw (embedding vector_cosine_ops);
`, r.dimension)
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema ddl: %w", err)
		}

		var existing int
		err := tx.QueryRowContext(ctx, `
SELECT atttypmod
FROM pg_attribute
WHERE attrelid = 'chunk_embeddings'::regclass AND attname = 'embedding'
`).Scan(&existing)
		if err != nil {
			return fmt.Errorf("read embedding dimension: %w", err)
		}
		if existing != r.dimension {
			return domain.WrapError(
				domain.ErrConfiguration,
				"verify embedding dimension",
				fmt.Errorf("chunk_embeddings.embedding has dimension %d, configured %d", existing, r.dimension),
			)
		}
		return nil
	})
}

// ReplaceDocument deletes every row of the document and inserts records in
// one transaction, so readers observe either the old or the new version.
func (r *ChunkRepository) ReplaceDocument(ctx context.Context, groupID int64, documentName string, records []domain.ChunkRecord) (int, error) {
	for _, rec := range records {
		if err := r.checkDimension("replace document", rec.Embedding); err != nil {
			return 0, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM chunk_embeddings
WHERE group_id = $1 AND document_name = $2
`, groupID, documentName); err != nil {
		return 0, fmt.Errorf("delete previous chunks: %w", err)
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunk_embeddings (group_id, document_name, chunk_index, content_hash, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`)
		if err != nil {
			return 0, fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range records {
			meta, err := json.Marshal(rec.Metadata)
			if err != nil {
				return 0, fmt.Errorf("marshal chunk metadata: %w", err)
			}
			createdAt := rec.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			if _, err := stmt.ExecContext(ctx,
				groupID, documentName, rec.ChunkIndex, rec.ContentHash,
				pgvector.NewVector(rec.Embedding), meta, createdAt,
			); err != nil {
				return 0, fmt.Errorf("insert chunk %d: %w", rec.ChunkIndex, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace tx: %w", err)
	}
	return len(records), nil
}

// filteredSearchQuery scores every row that passes the filters before ordering.
// The MATERIALIZED CTE keeps the planner off the HNSW index, whose post-filtering
// would drop matches that sit outside the first ef_search candidates.
const filteredSearchQuery = `
WITH scored AS MATERIALIZED (
	SELECT id, group_id, document_name, chunk_index, content_hash, metadata, created_at,
		embedding <=> $1::vector AS distance
	FROM chunk_embeddings
	WHERE ($2::bigint IS NULL OR group_id = $2)
		AND ($3::text = '' OR document_name = $3)
		AND ($4::text = '' OR document_name ~* $4)
)
SELECT id, group_id, document_name, chunk_index, content_hash, metadata, created_at,
	1 - distance AS similarity
FROM scored
ORDER BY distance, id ASC
LIMIT $5
`

const unfilteredSearchQuery = `
SELECT id, group_id, document_name, chunk_index, content_hash, metadata, created_at,
	1 - (embedding <=> $1::vector) AS similarity
FROM chunk_embeddings
ORDER BY embedding <=> $1::vector, id ASC
LIMIT $2
`

const (
	minEFSearch = 40
	maxEFSearch = 1000
)

// efSearch sizes the HNSW candidate list for an unfiltered top-k query.
func efSearch(topK int) int {
	ef := topK * 10
	if ef < minEFSearch {
		return minEFSearch
	}
	if ef > maxEFSearch {
		return maxEFSearch
	}
	return ef
}

// Search ranks chunks by cosine similarity. Filtered searches are exact over
// the rows that pass the filter; unfiltered ones use the HNSW index.
func (r *ChunkRepository) Search(ctx context.Context, queryVector []float32, filter domain.SearchFilter, topK int) ([]domain.SearchHit, error) {
	if err := r.checkDimension("search chunks", queryVector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = domain.DefaultTopK
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin search tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	vec := pgvector.NewVector(queryVector)
	var rows *sql.Rows
	if filterActive(filter) {
		var groupID any
		if filter.GroupID != nil {
			groupID = *filter.GroupID
		}
		rows, err = tx.QueryContext(ctx, filteredSearchQuery,
			vec, groupID, filter.DocumentName, SubjectPattern(filter.Subject), topK)
	} else {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(topK))); err != nil {
			return nil, fmt.Errorf("set ef_search: %w", err)
		}
		rows, err = tx.QueryContext(ctx, unfilteredSearchQuery, vec, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	hits, err := scanHits(rows, topK)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit search tx: %w", err)
	}
	return hits, nil
}

func filterActive(filter domain.SearchFilter) bool {
	return filter.GroupID != nil || filter.DocumentName != "" || filter.Subject != ""
}

func scanHits(rows *sql.Rows, topK int) ([]domain.SearchHit, error) {
	defer rows.Close()

	hits := make([]domain.SearchHit, 0, topK)
	for rows.Next() {
		var hit domain.SearchHit
		var metaRaw []byte
		if err := rows.Scan(
			&hit.ID, &hit.GroupID, &hit.DocumentName, &hit.ChunkIndex, &hit.ContentHash,
			&metaRaw, &hit.CreatedAt, &hit.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk hits: %w", err)
	}
	return hits, nil
}

func (r *ChunkRepository) DeleteDocument(ctx context.Context, groupID int64, documentName string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM chunk_embeddings
WHERE group_id = $1 AND document_name = $2
`, groupID, documentName)
	if err != nil {
		return 0, fmt.Errorf("delete document chunks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *ChunkRepository) ListDocuments(ctx context.Context, groupID int64) ([]domain.DocumentSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_name, COUNT(*), COALESCE(MAX((metadata->>'total_pages')::int), 0), MIN(created_at)
FROM chunk_embeddings
WHERE group_id = $1
GROUP BY document_name
ORDER BY document_name
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentSummary
	for rows.Next() {
		var doc domain.DocumentSummary
		if err := rows.Scan(&doc.DocumentName, &doc.ChunkCount, &doc.TotalPages, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document summary: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *ChunkRepository) Stats(ctx context.Context, groupID *int64) (*domain.IndexStats, error) {
	var group any
	if groupID != nil {
		group = *groupID
	}

	stats := &domain.IndexStats{GroupID: groupID}
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(DISTINCT (group_id, document_name)), COUNT(DISTINCT group_id)
FROM chunk_embeddings
WHERE ($1::bigint IS NULL OR group_id = $1)
`, group).Scan(&stats.TotalChunks, &stats.TotalDocuments, &stats.TotalGroups)
	if err != nil {
		return nil, fmt.Errorf("read index stats: %w", err)
	}
	if stats.TotalDocuments > 0 {
		stats.AvgChunksPerDocument = float64(stats.TotalChunks) / float64(stats.TotalDocuments)
	}

	if groupID != nil {
		docs, err := r.ListDocuments(ctx, *groupID)
		if err != nil {
			return nil, err
		}
		stats.Documents = docs
	}
	return stats, nil
}

func (r *ChunkRepository) checkDimension(op string, vec []float32) error {
	if len(vec) != r.dimension {
		return domain.WrapError(
			domain.ErrConfiguration,
			op,
			fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), r.dimension),
		)
	}
	return nil
}

// SubjectPattern builds a case-insensitive POSIX regex matching a document
// name that equals subject or contains it between non-alphanumeric delimiters.
func SubjectPattern(subject string) string {
	if subject == "" {
		return ""
	}
	return `(^|[^[:alnum:]])` + regexp.QuoteMeta(subject) + `([^[:alnum:]]|$)`
}
