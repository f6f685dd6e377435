package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

type embedderFake struct {
	mu       sync.Mutex
	dim      int
	calls    int
	lastText string
	err      error
	short    bool
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, f.dim)
		out[i][0] = 1
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.lastText = text
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, f.dim)
	v[0] = 1
	return v, nil
}

type indexFake struct {
	replaced   []domain.ChunkRecord
	replaceErr error
	hits       []domain.SearchHit
	filter     domain.SearchFilter
	topK       int
	deleted    int
	stats      *domain.IndexStats
}

func (f *indexFake) ReplaceDocument(_ context.Context, _ int64, _ string, records []domain.ChunkRecord) (int, error) {
	if f.replaceErr != nil {
		return 0, f.replaceErr
	}
	f.replaced = records
	return len(records), nil
}

func (f *indexFake) Search(_ context.Context, _ []float32, filter domain.SearchFilter, topK int) ([]domain.SearchHit, error) {
	f.filter = filter
	f.topK = topK
	out := make([]domain.SearchHit, 0, len(f.hits))
	for _, h := range f.hits {
		if filter.Matches(h.GroupID, h.DocumentName) {
			out = append(out, h)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *indexFake) DeleteDocument(context.Context, int64, string) (int, error) {
	return f.deleted, nil
}

func (f *indexFake) ListDocuments(context.Context, int64) ([]domain.DocumentSummary, error) {
	return []domain.DocumentSummary{{DocumentName: "a.txt", ChunkCount: 2}}, nil
}

func (f *indexFake) Stats(_ context.Context, groupID *int64) (*domain.IndexStats, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &domain.IndexStats{GroupID: groupID}, nil
}

type archiveFake struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
	opens   int
}

func newArchiveFake() *archiveFake {
	return &archiveFake{files: make(map[string][]byte)}
}

func archiveKey(groupID int64, name string) string {
	return fmt.Sprintf("%d/%s", groupID, name)
}

func (f *archiveFake) Save(_ context.Context, groupID int64, name string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.files[archiveKey(groupID, name)] = b
	f.mu.Unlock()
	return nil
}

func (f *archiveFake) Open(_ context.Context, groupID int64, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	b, ok := f.files[archiveKey(groupID, name)]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open", errors.New(name))
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *archiveFake) Delete(_ context.Context, groupID int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := archiveKey(groupID, name)
	if _, ok := f.files[key]; !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete", errors.New(name))
	}
	delete(f.files, key)
	return nil
}

func (f *archiveFake) List(context.Context) ([]domain.ArchivedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ArchivedDocument
	for key := range f.files {
		var group int64
		var name string
		idx := strings.Index(key, "/")
		fmt.Sscanf(key[:idx], "%d", &group)
		name = key[idx+1:]
		out = append(out, domain.ArchivedDocument{GroupID: group, DocumentName: name})
	}
	return out, nil
}

// pageExtractorFake treats the form feed as a page break.
type pageExtractorFake struct{}

func (pageExtractorFake) Supports(name string) bool {
	return strings.HasSuffix(name, ".txt")
}

func (pageExtractorFake) ExtractPages(_ context.Context, _ string, data []byte) ([]domain.Page, int, error) {
	raw := strings.Split(string(data), "\f")
	var pages []domain.Page
	for i, text := range raw {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages, len(raw), nil
}

func (pageExtractorFake) ExtractPage(_ context.Context, _ string, data []byte, page int) (string, bool, error) {
	raw := strings.Split(string(data), "\f")
	if page < 1 || page > len(raw) || strings.TrimSpace(raw[page-1]) == "" {
		return "", false, nil
	}
	return raw[page-1], true, nil
}

// wordChunker emits one span per whitespace-separated word.
type wordChunker struct{}

func (wordChunker) Split(text string) []domain.TextSpan {
	var spans []domain.TextSpan
	runes := []rune(text)
	start := -1
	for i := 0; i <= len(runes); i++ {
		if i == len(runes) || runes[i] == ' ' {
			if start >= 0 {
				spans = append(spans, domain.TextSpan{Text: string(runes[start:i]), StartChar: start, EndChar: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return spans
}

type completerFake struct {
	mu     sync.Mutex
	calls  int
	prompt string
	answer string
	err    error
}

func (f *completerFake) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *completerFake) Model() string { return "llama3.1:8b" }

type subjectFake map[string]string

func (f subjectFake) Extract(question string) (string, bool) {
	for word, subject := range f {
		if strings.Contains(question, word) {
			return subject, true
		}
	}
	return "", false
}

type sinkFake struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (f *sinkFake) Emit(event domain.AuditEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return true
}
