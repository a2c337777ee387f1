package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcosta/docingest-back/internal/domain"
)

type PostgresDocumentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDocumentRepository reuses an existing pool; documents and
// ingestions live in the same database.
func NewPostgresDocumentRepository(pool *pgxpool.Pool) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{pool: pool}
}

func (r *PostgresDocumentRepository) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	var (
		document domain.Document
		status   string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, title, file_name, file_type, file_path, status, created_at, updated_at
		FROM documents
		WHERE id = $1
	`, documentID).Scan(
		&document.ID,
		&document.UserID,
		&document.Title,
		&document.FileName,
		&document.FileType,
		&document.FilePath,
		&status,
		&document.CreatedAt,
		&document.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query document: %w", err)
	}

	document.Status = domain.DocumentStatus(status)
	return &document, nil
}

func (r *PostgresDocumentRepository) SetStatus(
	ctx context.Context,
	documentID string,
	status domain.DocumentStatus,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, documentID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
