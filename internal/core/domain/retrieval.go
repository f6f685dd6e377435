package domain

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTopK = 3
	MaxTopK     = 10
)

// ChunkMetadata is the open-ended position bag stored next to every vector.
type ChunkMetadata struct {
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
	StartChar  int            `json:"start_char"`
	EndChar    int            `json:"end_char"`
	DocType    string         `json:"doc_type"`
	ChunkIndex int            `json:"chunk_index"`
	ReportDate string         `json:"report_date,omitempty"`
	ReportKind string         `json:"report_type,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// ChunkRecord is one indexed fragment. It never carries the fragment text,
// only its digest and position.
type ChunkRecord struct {
	ID           int64         `json:"id"`
	GroupID      int64         `json:"group_id"`
	DocumentName string        `json:"document_name"`
	ChunkIndex   int           `json:"chunk_index"`
	ContentHash  string        `json:"content_hash"`
	Embedding    []float32     `json:"-"`
	Metadata     ChunkMetadata `json:"metadata"`
	CreatedAt    time.Time     `json:"created_at"`
}

// SearchFilter narrows a search. All present fields must match.
// Subject matches documents named exactly after it or containing it as a
// delimited token (NASDAQ_AMZN_2024.pdf matches AMZN).
type SearchFilter struct {
	GroupID      *int64
	DocumentName string
	Subject      string
}

func (f SearchFilter) IsEmpty() bool {
	return f.GroupID == nil && f.DocumentName == "" && f.Subject == ""
}

// Matches reports whether a record passes every present filter.
func (f SearchFilter) Matches(groupID int64, documentName string) bool {
	if f.GroupID != nil && *f.GroupID != groupID {
		return false
	}
	if f.DocumentName != "" && f.DocumentName != documentName {
		return false
	}
	return SubjectMatches(f.Subject, documentName)
}

// SubjectMatches reports whether documentName contains subject, case-insensitively,
// with no letter or digit directly before or after it.
func SubjectMatches(subject, documentName string) bool {
	if subject == "" {
		return true
	}
	name := strings.ToLower(documentName)
	sub := strings.ToLower(subject)
	for offset := 0; offset < len(name); {
		idx := strings.Index(name[offset:], sub)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(sub)
		before, _ := utf8.DecodeLastRuneInString(name[:start])
		after, _ := utf8.DecodeRuneInString(name[end:])
		if !isAlnum(before) && !isAlnum(after) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isAlnum(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

type SearchHit struct {
	ChunkRecord
	Similarity    float64 `json:"similarity"`
	RetrievedText string  `json:"retrieved_text,omitempty"`
	TextAvailable bool    `json:"text_available"`
}

type QueryRequest struct {
	Query        string
	GroupID      *int64
	DocumentName string
	TopK         int
	RetrieveText bool
}

type QueryResult struct {
	Query         string      `json:"query"`
	GroupID       *int64      `json:"group_id,omitempty"`
	DocumentName  string      `json:"document_name,omitempty"`
	TopK          int         `json:"top_k"`
	ResultsCount  int         `json:"results_count"`
	Results       []SearchHit `json:"results"`
	TextRetrieved bool        `json:"text_retrieved"`
}

type AnswerRequest struct {
	Query         string
	RequesterID   string
	RequesterName string
	GroupID       *int64
	DocumentName  string
	TopK          int
}

type AnswerStatus string

const (
	AnswerStatusAnswered  AnswerStatus = "answered"
	AnswerStatusNoContext AnswerStatus = "no_context"
	AnswerStatusDegraded  AnswerStatus = "degraded"
)

type Source struct {
	DocumentName  string  `json:"document_name"`
	GroupID       int64   `json:"group_id"`
	Page          int     `json:"page"`
	ChunkIndex    int     `json:"chunk_index"`
	Similarity    float64 `json:"similarity"`
	TextAvailable bool    `json:"text_available"`
}

type Answer struct {
	Query           string       `json:"query"`
	Answer          string       `json:"answer"`
	Context         string       `json:"context"`
	Sources         []Source     `json:"sources"`
	Status          AnswerStatus `json:"status"`
	Message         string       `json:"message"`
	DetectedSubject string       `json:"detected_subject,omitempty"`
	Model           string       `json:"model,omitempty"`
}

// ClampTopK maps missing or out-of-range values onto the default.
func ClampTopK(topK int) int {
	if topK < 1 || topK > MaxTopK {
		return DefaultTopK
	}
	return topK
}
