package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

func newChunkRepoWithMock(t *testing.T, dimension int) (*ChunkRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewChunkRepository(db, dimension), mock, func() { _ = db.Close() }
}

func TestEnsureSchemaRejectsDimensionMismatch(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 768)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(chunkSchemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT atttypmod").WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(1024))
	mock.ExpectRollback()

	err := repo.EnsureSchema(context.Background())
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaCommitsWhenDimensionMatches(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 768)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(chunkSchemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chunk_embeddings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT atttypmod").WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(768))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceDocumentDeletesThenInsertsInOneTransaction(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 2)
	defer done()

	records := []domain.ChunkRecord{
		{ChunkIndex: 0, ContentHash: "h0", Embedding: []float32{0.1, 0.2}, Metadata: domain.ChunkMetadata{Page: 1}},
		{ChunkIndex: 1, ContentHash: "h1", Embedding: []float32{0.3, 0.4}, Metadata: domain.ChunkMetadata{Page: 2}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chunk_embeddings").WithArgs(int64(4), "AAPL_10K.pdf").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("INSERT INTO chunk_embeddings")
	prep.ExpectExec().
		WithArgs(int64(4), "AAPL_10K.pdf", 0, "h0", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(4), "AAPL_10K.pdf", 1, "h1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	n, err := repo.ReplaceDocument(context.Background(), 4, "AAPL_10K.pdf", records)
	if err != nil {
		t.Fatalf("ReplaceDocument() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stored chunks, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceDocumentRollsBackOnInsertFailure(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 2)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chunk_embeddings").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectPrepare("INSERT INTO chunk_embeddings").
		ExpectExec().
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.ReplaceDocument(context.Background(), 4, "AAPL_10K.pdf", []domain.ChunkRecord{
		{ChunkIndex: 0, ContentHash: "h0", Embedding: []float32{0.1, 0.2}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceDocumentRejectsWrongDimensionBeforeTouchingDB(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 3)
	defer done()

	_, err := repo.ReplaceDocument(context.Background(), 1, "a.pdf", []domain.ChunkRecord{
		{ChunkIndex: 0, Embedding: []float32{1, 2}},
	})
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchPassesFiltersAndScansHits(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 2)
	defer done()

	group := int64(5)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`WITH scored AS MATERIALIZED \(`).
		WithArgs(sqlmock.AnyArg(), group, "", SubjectPattern("AMZN"), 3).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "group_id", "document_name", "chunk_index", "content_hash", "metadata", "created_at", "similarity",
		}).
			AddRow(int64(11), group, "NASDAQ_AMZN_2024.pdf", 0, "h", []byte(`{"page":2,"total_pages":9,"start_char":0,"end_char":240}`), created, 0.91).
			AddRow(int64(12), group, "NASDAQ_AMZN_2024.pdf", 1, "h2", []byte(`{"page":3}`), created, 0.87))
	mock.ExpectCommit()

	hits, err := repo.Search(context.Background(), []float32{1, 0}, domain.SearchFilter{GroupID: &group, Subject: "AMZN"}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != 11 || hits[0].Metadata.Page != 2 || hits[0].Similarity != 0.91 {
		t.Fatalf("unexpected first hit: %+v", hits[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchWithDocumentFilterScansExactly(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 2)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)WITH scored AS MATERIALIZED .*ORDER BY distance, id ASC`).
		WithArgs(sqlmock.AnyArg(), nil, "MSFT_10K.pdf", "", 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "group_id", "document_name", "chunk_index", "content_hash", "metadata", "created_at", "similarity",
		}))
	mock.ExpectCommit()

	hits, err := repo.Search(context.Background(), []float32{0, 1}, domain.SearchFilter{DocumentName: "MSFT_10K.pdf"}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchWithoutFilterWidensHNSWCandidates(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 2)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL hnsw\.ef_search = 80`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`ORDER BY embedding <=> \$1::vector, id ASC`).
		WithArgs(sqlmock.AnyArg(), 8).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "group_id", "document_name", "chunk_index", "content_hash", "metadata", "created_at", "similarity",
		}).AddRow(int64(1), int64(1), "a.pdf", 0, "h", []byte(`{"page":1}`), time.Now(), 0.5))
	mock.ExpectCommit()

	hits, err := repo.Search(context.Background(), []float32{1, 1}, domain.SearchFilter{}, 8)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEFSearchBounds(t *testing.T) {
	cases := map[int]int{1: 40, 3: 40, 8: 80, 500: 1000}
	for topK, want := range cases {
		if got := efSearch(topK); got != want {
			t.Fatalf("efSearch(%d) = %d, want %d", topK, got, want)
		}
	}
}

func TestSearchRejectsWrongQueryDimension(t *testing.T) {
	repo, _, done := newChunkRepoWithMock(t, 4)
	defer done()

	_, err := repo.Search(context.Background(), []float32{1}, domain.SearchFilter{}, 3)
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestDeleteDocumentReturnsRemovedCount(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 2)
	defer done()

	mock.ExpectExec("DELETE FROM chunk_embeddings").
		WithArgs(int64(2), "TSLA_Q1.pdf").
		WillReturnResult(sqlmock.NewResult(0, 17))

	n, err := repo.DeleteDocument(context.Background(), 2, "TSLA_Q1.pdf")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if n != 17 {
		t.Fatalf("expected 17, got %d", n)
	}
}

func TestStatsForGroupIncludesDocuments(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t, 2)
	defer done()

	group := int64(3)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(group).
		WillReturnRows(sqlmock.NewRows([]string{"chunks", "docs", "groups"}).AddRow(30, 2, 1))
	mock.ExpectQuery("SELECT document_name, COUNT").
		WithArgs(group).
		WillReturnRows(sqlmock.NewRows([]string{"document_name", "count", "pages", "uploaded"}).
			AddRow("a.pdf", 20, 4, time.Now()).
			AddRow("b.pdf", 10, 2, time.Now()))

	stats, err := repo.Stats(context.Background(), &group)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalChunks != 30 || stats.TotalDocuments != 2 || stats.AvgChunksPerDocument != 15 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Documents) != 2 || stats.Documents[0].TotalPages != 4 {
		t.Fatalf("unexpected documents: %+v", stats.Documents)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubjectPatternMatchesDelimitedToken(t *testing.T) {
	cases := []struct {
		subject string
		name    string
		want    bool
	}{
		{"AMZN", "AMZN", true},
		{"AMZN", "NASDAQ_AMZN_2024.pdf", true},
		{"AMZN", "amzn-10k.pdf", true},
		{"AMZN", "AMZNX_report.pdf", false},
		{"BRK.B", "BRK.B_annual.pdf", true},
		{"BRK.B", "BRKXB_annual.pdf", false},
	}
	for _, tc := range cases {
		re := regexp.MustCompile("(?i)" + SubjectPattern(tc.subject))
		if got := re.MatchString(tc.name); got != tc.want {
			t.Fatalf("subject %q on %q = %v, want %v", tc.subject, tc.name, got, tc.want)
		}
	}
	if SubjectPattern("") != "" {
		t.Fatalf("empty subject must produce empty pattern")
	}
}
