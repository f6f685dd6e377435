package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
)

// Registry dispatches to the first extractor that supports a document name.
type Registry struct {
	extractors []ports.PageExtractor
}

func NewRegistry(extractors ...ports.PageExtractor) *Registry {
	return &Registry{extractors: extractors}
}

func (r *Registry) Supports(documentName string) bool {
	_, err := r.lookup(documentName)
	return err == nil
}

func (r *Registry) ExtractPages(ctx context.Context, documentName string, data []byte) ([]domain.Page, int, error) {
	ex, err := r.lookup(documentName)
	if err != nil {
		return nil, 0, err
	}
	return ex.ExtractPages(ctx, documentName, data)
}

func (r *Registry) ExtractPage(ctx context.Context, documentName string, data []byte, page int) (string, bool, error) {
	ex, err := r.lookup(documentName)
	if err != nil {
		return "", false, err
	}
	return ex.ExtractPage(ctx, documentName, data, page)
}

func (r *Registry) lookup(documentName string) (ports.PageExtractor, error) {
	for _, ex := range r.extractors {
		if ex.Supports(documentName) {
			return ex, nil
		}
	}
	return nil, domain.WrapError(
		domain.ErrInvalidInput,
		"select extractor",
		fmt.Errorf("unsupported document type %q", filepath.Ext(documentName)),
	)
}

// DocType maps a document name onto the doc_type recorded in chunk metadata.
func DocType(documentName string) string {
	switch strings.ToLower(filepath.Ext(documentName)) {
	case ".pdf":
		return domain.DocTypePDF
	case ".xlsx":
		return domain.DocTypeSheet
	default:
		return domain.DocTypePlainText
	}
}
