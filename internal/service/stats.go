package service

import (
	"context"
	"math"

	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/repository"
)

// StatsService derives aggregate numbers from a filtered set of ingestions.
type StatsService struct {
	ingestions repository.IngestionRepository
}

func NewStatsService(ingestions repository.IngestionRepository) *StatsService {
	return &StatsService{ingestions: ingestions}
}

// Compute returns counts by status, the success rate as a whole percentage,
// and the average processing time in whole seconds over completed ingestions
// that carry both timestamps.
func (s *StatsService) Compute(ctx context.Context, filter domain.IngestionFilter) (domain.IngestionStats, error) {
	groups, err := s.ingestions.GroupByStatus(ctx, filter)
	if err != nil {
		return domain.IngestionStats{}, err
	}

	stats := domain.IngestionStats{
		Queued:     groups[domain.IngestionStatusQueued],
		Processing: groups[domain.IngestionStatusProcessing],
		Completed:  groups[domain.IngestionStatusCompleted],
		Failed:     groups[domain.IngestionStatusFailed],
		Cancelled:  groups[domain.IngestionStatusCancelled],
	}
	stats.Total = stats.Queued + stats.Processing + stats.Completed + stats.Failed + stats.Cancelled

	finished := stats.Completed + stats.Failed + stats.Cancelled
	if finished > 0 {
		stats.SuccessRate = int(math.Round(float64(stats.Completed) / float64(finished) * 100))
	}

	if stats.Completed > 0 {
		completedFilter := filter
		completedFilter.Statuses = []domain.IngestionStatus{domain.IngestionStatusCompleted}
		completedFilter.Limit = 0

		completed, err := s.ingestions.FindMany(ctx, completedFilter)
		if err != nil {
			return domain.IngestionStats{}, err
		}

		totalSeconds := 0.0
		measured := 0
		for _, ingestion := range completed {
			if ingestion.StartedAt == nil || ingestion.CompletedAt == nil {
				continue
			}
			totalSeconds += ingestion.CompletedAt.Sub(*ingestion.StartedAt).Seconds()
			measured++
		}
		if measured > 0 {
			stats.AverageProcessingTime = int(math.Round(totalSeconds / float64(measured)))
		}
	}

	return stats, nil
}
