package repository

import (
	"context"
	"sync"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
)

// DocumentRepository is the collaborator contract for document metadata. The
// pipeline reads metadata when building jobs and mirrors ingestion outcomes
// into the document status.
type DocumentRepository interface {
	Get(ctx context.Context, documentID string) (*domain.Document, error)
	SetStatus(ctx context.Context, documentID string, status domain.DocumentStatus) error
}

// MemoryDocumentRepository stores documents in memory for local development
// and tests.
type MemoryDocumentRepository struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		documents: make(map[string]*domain.Document),
	}
}

// Put seeds or replaces a document record.
func (r *MemoryDocumentRepository) Put(_ context.Context, document *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *document
	r.documents[document.ID] = &clone
	return nil
}

func (r *MemoryDocumentRepository) Get(_ context.Context, documentID string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	document, ok := r.documents[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *document
	return &clone, nil
}

func (r *MemoryDocumentRepository) SetStatus(
	_ context.Context,
	documentID string,
	status domain.DocumentStatus,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	document, ok := r.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	document.Status = status
	document.UpdatedAt = time.Now().UTC()
	return nil
}
