package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
)

type StatsUseCase struct {
	index ports.VectorIndex
}

func NewStatsUseCase(index ports.VectorIndex) *StatsUseCase {
	return &StatsUseCase{index: index}
}

// Stats reports totals across every group, or for a single group with its
// document listing when groupID is set.
func (uc *StatsUseCase) Stats(ctx context.Context, groupID *int64) (*domain.IndexStats, error) {
	if groupID != nil && *groupID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index stats", errors.New("group_id must be positive"))
	}
	stats, err := uc.index.Stats(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	if stats.TotalDocuments > 0 {
		stats.AvgChunksPerDocument = float64(stats.TotalChunks) / float64(stats.TotalDocuments)
	}
	return stats, nil
}
