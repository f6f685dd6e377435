package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

type docKey struct {
	groupID int64
	name    string
}

// Index is a brute-force cosine index for development and tests. It follows
// the same contract as the Postgres index, including the dimension check.
type Index struct {
	mu        sync.RWMutex
	dimension int
	nextID    int64
	docs      map[docKey][]domain.ChunkRecord
}

func NewIndex(dimension int) *Index {
	return &Index{
		dimension: dimension,
		docs:      make(map[docKey][]domain.ChunkRecord),
	}
}

func (ix *Index) ReplaceDocument(_ context.Context, groupID int64, documentName string, records []domain.ChunkRecord) (int, error) {
	for _, rec := range records {
		if err := ix.checkDimension("replace document", rec.Embedding); err != nil {
			return 0, err
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := docKey{groupID: groupID, name: documentName}
	if len(records) == 0 {
		delete(ix.docs, key)
		return 0, nil
	}

	now := time.Now().UTC()
	stored := make([]domain.ChunkRecord, 0, len(records))
	for _, rec := range records {
		ix.nextID++
		rec.ID = ix.nextID
		rec.GroupID = groupID
		rec.DocumentName = documentName
		rec.Embedding = append([]float32(nil), rec.Embedding...)
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		stored = append(stored, rec)
	}
	ix.docs[key] = stored
	return len(stored), nil
}

func (ix *Index) Search(_ context.Context, queryVector []float32, filter domain.SearchFilter, topK int) ([]domain.SearchHit, error) {
	if err := ix.checkDimension("search chunks", queryVector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = domain.DefaultTopK
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	qNorm := norm(queryVector)
	var hits []domain.SearchHit
	for key, records := range ix.docs {
		if !filter.Matches(key.groupID, key.name) {
			continue
		}
		for _, rec := range records {
			hit := domain.SearchHit{ChunkRecord: rec, Similarity: cosine(queryVector, qNorm, rec.Embedding)}
			hit.Embedding = nil
			hits = append(hits, hit)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (ix *Index) DeleteDocument(_ context.Context, groupID int64, documentName string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := docKey{groupID: groupID, name: documentName}
	n := len(ix.docs[key])
	delete(ix.docs, key)
	return n, nil
}

func (ix *Index) ListDocuments(_ context.Context, groupID int64) ([]domain.DocumentSummary, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []domain.DocumentSummary
	for key, records := range ix.docs {
		if key.groupID != groupID {
			continue
		}
		out = append(out, summarize(key.name, records))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentName < out[j].DocumentName })
	return out, nil
}

func (ix *Index) Stats(ctx context.Context, groupID *int64) (*domain.IndexStats, error) {
	ix.mu.RLock()
	stats := &domain.IndexStats{GroupID: groupID}
	groups := make(map[int64]struct{})
	for key, records := range ix.docs {
		if groupID != nil && key.groupID != *groupID {
			continue
		}
		stats.TotalChunks += len(records)
		stats.TotalDocuments++
		groups[key.groupID] = struct{}{}
	}
	ix.mu.RUnlock()

	stats.TotalGroups = len(groups)
	if stats.TotalDocuments > 0 {
		stats.AvgChunksPerDocument = float64(stats.TotalChunks) / float64(stats.TotalDocuments)
	}
	if groupID != nil {
		docs, err := ix.ListDocuments(ctx, *groupID)
		if err != nil {
			return nil, err
		}
		stats.Documents = docs
	}
	return stats, nil
}

func (ix *Index) checkDimension(op string, vec []float32) error {
	if len(vec) != ix.dimension {
		return domain.WrapError(
			domain.ErrConfiguration,
			op,
			fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), ix.dimension),
		)
	}
	return nil
}

func summarize(name string, records []domain.ChunkRecord) domain.DocumentSummary {
	sum := domain.DocumentSummary{DocumentName: name, ChunkCount: len(records)}
	for _, rec := range records {
		if rec.Metadata.TotalPages > sum.TotalPages {
			sum.TotalPages = rec.Metadata.TotalPages
		}
		if sum.UploadedAt.IsZero() || rec.CreatedAt.Before(sum.UploadedAt) {
			sum.UploadedAt = rec.CreatedAt
		}
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(q []float32, qNorm float64, v []float32) float64 {
	vNorm := norm(v)
	if qNorm == 0 || vNorm == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	return dot / (qNorm * vNorm)
}
