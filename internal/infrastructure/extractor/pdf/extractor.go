package pdf

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

const defaultWorkers = 4

type Extractor struct {
	workers int
}

func NewExtractor(workers int) *Extractor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Extractor{workers: workers}
}

func (e *Extractor) Supports(documentName string) bool {
	return strings.EqualFold(filepath.Ext(documentName), ".pdf")
}

// ExtractPages reads every page concurrently. Each worker opens its own
// reader because pdf.Reader caches objects without locking.
func (e *Extractor) ExtractPages(ctx context.Context, documentName string, data []byte) ([]domain.Page, int, error) {
	reader, err := open(data)
	if err != nil {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "open pdf", fmt.Errorf("%s: %w", documentName, err))
	}
	total := reader.NumPage()
	texts := make([]string, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 1; i <= total; i++ {
		pageNum := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := open(data)
			if err != nil {
				return err
			}
			text, err := pageText(r, pageNum)
			if err != nil {
				// A page without a text layer is skipped rather than failing the document.
				return nil
			}
			texts[pageNum-1] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("extract pdf pages: %w", err)
	}

	pages := make([]domain.Page, 0, total)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages, total, nil
}

func (e *Extractor) ExtractPage(_ context.Context, documentName string, data []byte, page int) (string, bool, error) {
	reader, err := open(data)
	if err != nil {
		return "", false, domain.WrapError(domain.ErrInvalidInput, "open pdf", fmt.Errorf("%s: %w", documentName, err))
	}
	if page < 1 || page > reader.NumPage() {
		return "", false, nil
	}
	text, err := pageText(reader, page)
	if err != nil {
		return "", false, fmt.Errorf("extract pdf page %d: %w", page, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	return text, true, nil
}

func open(data []byte) (*pdf.Reader, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty pdf")
	}
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// pageText converts decoder panics on malformed content streams into errors.
func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed page %d: %v", num, rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
