package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// IngestionRepository abstracts ingestion persistence. Update is an atomic
// read-modify-write: implementations hold the record exclusively while apply
// runs, which is what serializes concurrent transitions on one ingestion.
type IngestionRepository interface {
	Create(ctx context.Context, ingestion *domain.Ingestion) error
	Get(ctx context.Context, ingestionID string) (*domain.Ingestion, error)
	Update(ctx context.Context, ingestionID string, apply func(*domain.Ingestion) error) (*domain.Ingestion, error)
	FindMany(ctx context.Context, filter domain.IngestionFilter) ([]*domain.Ingestion, error)
	Count(ctx context.Context, filter domain.IngestionFilter) (int, error)
	GroupByStatus(ctx context.Context, filter domain.IngestionFilter) (map[domain.IngestionStatus]int, error)
}

// MemoryIngestionRepository stores ingestions in memory for local development
// and tests.
type MemoryIngestionRepository struct {
	mu         sync.RWMutex
	ingestions map[string]*domain.Ingestion
}

func NewMemoryIngestionRepository() *MemoryIngestionRepository {
	return &MemoryIngestionRepository{
		ingestions: make(map[string]*domain.Ingestion),
	}
}

func (r *MemoryIngestionRepository) Create(_ context.Context, ingestion *domain.Ingestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ingestions[ingestion.ID] = cloneIngestion(ingestion)
	return nil
}

func (r *MemoryIngestionRepository) Get(_ context.Context, ingestionID string) (*domain.Ingestion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ingestion, ok := r.ingestions[ingestionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIngestion(ingestion), nil
}

func (r *MemoryIngestionRepository) Update(
	_ context.Context,
	ingestionID string,
	apply func(*domain.Ingestion) error,
) (*domain.Ingestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.ingestions[ingestionID]
	if !ok {
		return nil, ErrNotFound
	}

	updated := cloneIngestion(current)
	if err := apply(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	r.ingestions[ingestionID] = updated
	return cloneIngestion(updated), nil
}

func (r *MemoryIngestionRepository) FindMany(
	_ context.Context,
	filter domain.IngestionFilter,
) ([]*domain.Ingestion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]*domain.Ingestion, 0)
	for _, ingestion := range r.ingestions {
		if matchesFilter(ingestion, filter) {
			matches = append(matches, cloneIngestion(ingestion))
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

func (r *MemoryIngestionRepository) Count(
	_ context.Context,
	filter domain.IngestionFilter,
) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, ingestion := range r.ingestions {
		if matchesFilter(ingestion, filter) {
			total++
		}
	}
	return total, nil
}

func (r *MemoryIngestionRepository) GroupByStatus(
	_ context.Context,
	filter domain.IngestionFilter,
) (map[domain.IngestionStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make(map[domain.IngestionStatus]int)
	for _, ingestion := range r.ingestions {
		if matchesFilter(ingestion, filter) {
			groups[ingestion.Status]++
		}
	}
	return groups, nil
}

func matchesFilter(ingestion *domain.Ingestion, filter domain.IngestionFilter) bool {
	if filter.UserID != "" && ingestion.UserID != filter.UserID {
		return false
	}
	if filter.DocumentID != "" && ingestion.DocumentID != filter.DocumentID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if ingestion.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cloneIngestion(ingestion *domain.Ingestion) *domain.Ingestion {
	if ingestion == nil {
		return nil
	}
	clone := *ingestion
	if ingestion.StartedAt != nil {
		startedAt := *ingestion.StartedAt
		clone.StartedAt = &startedAt
	}
	if ingestion.CompletedAt != nil {
		completedAt := *ingestion.CompletedAt
		clone.CompletedAt = &completedAt
	}
	if ingestion.Logs.ProcessingResult != nil {
		result := *ingestion.Logs.ProcessingResult
		result.Keywords = append([]string(nil), ingestion.Logs.ProcessingResult.Keywords...)
		result.Errors = append([]string(nil), ingestion.Logs.ProcessingResult.Errors...)
		clone.Logs.ProcessingResult = &result
	}
	return &clone
}
