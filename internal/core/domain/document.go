package domain

import "time"

const (
	DocTypePDF       = "pdf"
	DocTypeSheet     = "xlsx"
	DocTypePlainText = "text"
)

// Page is the extracted text of one page of a source document. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// TextSpan is one chunker window with rune offsets relative to the page text.
type TextSpan struct {
	Text      string
	StartChar int
	EndChar   int
}

type IndexRequest struct {
	GroupID      int64
	DocumentName string
	Data         []byte
	ReportDate   string
	ReportKind   string
}

type IndexResult struct {
	GroupID        int64  `json:"group_id"`
	DocumentName   string `json:"document_name"`
	PagesProcessed int    `json:"pages_processed"`
	TotalPages     int    `json:"total_pages"`
	ChunksStored   int    `json:"chunks_stored"`
	Archived       bool   `json:"archived"`
}

type DocumentSummary struct {
	DocumentName string    `json:"document_name"`
	ChunkCount   int       `json:"chunk_count"`
	TotalPages   int       `json:"total_pages"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type ArchivedDocument struct {
	GroupID      int64
	DocumentName string
}

type IndexStats struct {
	GroupID              *int64            `json:"group_id,omitempty"`
	TotalChunks          int               `json:"total_chunks"`
	TotalDocuments       int               `json:"total_documents"`
	TotalGroups          int               `json:"total_groups_with_docs"`
	AvgChunksPerDocument float64           `json:"avg_chunks_per_document"`
	Documents            []DocumentSummary `json:"documents,omitempty"`
}
