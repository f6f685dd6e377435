package xlsx

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

// Extractor treats every worksheet as one page. Cells are joined by tabs and
// rows by newlines.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Supports(documentName string) bool {
	return strings.EqualFold(filepath.Ext(documentName), ".xlsx")
}

func (e *Extractor) ExtractPages(ctx context.Context, documentName string, data []byte) ([]domain.Page, int, error) {
	f, err := open(documentName, data)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]domain.Page, 0, len(sheets))
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		text, err := sheetText(f, sheet)
		if err != nil {
			return nil, 0, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages, len(sheets), nil
}

func (e *Extractor) ExtractPage(_ context.Context, documentName string, data []byte, page int) (string, bool, error) {
	f, err := open(documentName, data)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if page < 1 || page > len(sheets) {
		return "", false, nil
	}
	text, err := sheetText(f, sheets[page-1])
	if err != nil {
		return "", false, fmt.Errorf("read sheet %q: %w", sheets[page-1], err)
	}
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	return text, true, nil
}

func open(documentName string, data []byte) (*excelize.File, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open workbook", fmt.Errorf("%s: %w", documentName, err))
	}
	return f, nil
}

func sheetText(f *excelize.File, sheet string) (string, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
