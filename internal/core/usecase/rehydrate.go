package usecase

import (
	"context"
	"io"
	"log/slog"

	"github.com/kirillkom/filings-assistant/internal/core/ports"
)

// Rehydrator reconstructs fragment text from the archived source document.
// Every call re-reads and re-extracts the page; nothing is cached.
type Rehydrator struct {
	archive   ports.DocumentArchive
	extractor ports.PageExtractor
}

func NewRehydrator(archive ports.DocumentArchive, extractor ports.PageExtractor) *Rehydrator {
	return &Rehydrator{archive: archive, extractor: extractor}
}

// Rehydrate returns the page text, or ok=false when the archive copy is
// missing, the page is out of range or extraction fails.
func (r *Rehydrator) Rehydrate(ctx context.Context, groupID int64, documentName string, page int) (string, bool) {
	log := slog.With("group_id", groupID, "document_name", documentName, "page", page)

	rc, err := r.archive.Open(ctx, groupID, documentName)
	if err != nil {
		log.Warn("rehydrate_open_failed", "error", err)
		return "", false
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		log.Warn("rehydrate_read_failed", "error", err)
		return "", false
	}

	text, ok, err := r.extractor.ExtractPage(ctx, documentName, data, page)
	if err != nil {
		log.Warn("rehydrate_extract_failed", "error", err)
		return "", false
	}
	if !ok {
		log.Warn("rehydrate_page_missing")
		return "", false
	}
	return text, true
}
