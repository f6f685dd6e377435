package plaintext

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

// PageBreak separates pages inside plain-text documents.
const PageBreak = "\f"

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Supports(documentName string) bool {
	switch strings.ToLower(filepath.Ext(documentName)) {
	case ".txt", ".md":
		return true
	default:
		return false
	}
}

func (e *Extractor) ExtractPages(_ context.Context, documentName string, data []byte) ([]domain.Page, int, error) {
	raw, err := e.split(documentName, data)
	if err != nil {
		return nil, 0, err
	}

	pages := make([]domain.Page, 0, len(raw))
	for i, text := range raw {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages, len(raw), nil
}

func (e *Extractor) ExtractPage(_ context.Context, documentName string, data []byte, page int) (string, bool, error) {
	raw, err := e.split(documentName, data)
	if err != nil {
		return "", false, err
	}
	if page < 1 || page > len(raw) {
		return "", false, nil
	}
	text := raw[page-1]
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	return text, true, nil
}

func (e *Extractor) split(documentName string, data []byte) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract plain text", fmt.Errorf("not valid UTF-8: %s", documentName))
	}
	return strings.Split(string(data), PageBreak), nil
}
