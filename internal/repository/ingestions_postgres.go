package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcosta/docingest-back/internal/domain"
)

type PostgresIngestionRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresIngestionRepository(ctx context.Context, databaseURL string) (*PostgresIngestionRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresIngestionRepository{pool: pool}, nil
}

func (r *PostgresIngestionRepository) Close() {
	r.pool.Close()
}

// Pool exposes the underlying connection pool so the document repository can
// share it.
func (r *PostgresIngestionRepository) Pool() *pgxpool.Pool {
	return r.pool
}

const ingestionColumns = `id, document_id, user_id, status, progress, config, error_message, logs, started_at, completed_at, created_at, updated_at`

func (r *PostgresIngestionRepository) Create(ctx context.Context, ingestion *domain.Ingestion) error {
	config, err := json.Marshal(ingestion.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	logs, err := json.Marshal(ingestion.Logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO ingestions (
			id,
			document_id,
			user_id,
			status,
			progress,
			config,
			error_message,
			logs,
			started_at,
			completed_at,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		ingestion.ID,
		ingestion.DocumentID,
		ingestion.UserID,
		string(ingestion.Status),
		ingestion.Progress,
		config,
		ingestion.Error,
		logs,
		ingestion.StartedAt,
		ingestion.CompletedAt,
		ingestion.CreatedAt,
		ingestion.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion: %w", err)
	}
	return nil
}

func (r *PostgresIngestionRepository) Get(ctx context.Context, ingestionID string) (*domain.Ingestion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ingestionColumns+`
		FROM ingestions
		WHERE id = $1
	`, ingestionID)

	ingestion, err := scanIngestion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query ingestion: %w", err)
	}
	return ingestion, nil
}

// Update locks the row for the duration of apply, giving the same
// serialization guarantee the memory repository provides with its mutex.
func (r *PostgresIngestionRepository) Update(
	ctx context.Context,
	ingestionID string,
	apply func(*domain.Ingestion) error,
) (*domain.Ingestion, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+ingestionColumns+`
		FROM ingestions
		WHERE id = $1
		FOR UPDATE
	`, ingestionID)

	ingestion, err := scanIngestion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock ingestion: %w", err)
	}

	if err := apply(ingestion); err != nil {
		return nil, err
	}
	ingestion.UpdatedAt = time.Now().UTC()

	config, err := json.Marshal(ingestion.Config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	logs, err := json.Marshal(ingestion.Logs)
	if err != nil {
		return nil, fmt.Errorf("encode logs: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE ingestions
		SET status = $2,
			progress = $3,
			config = $4,
			error_message = $5,
			logs = $6,
			started_at = $7,
			completed_at = $8,
			updated_at = $9
		WHERE id = $1
	`,
		ingestion.ID,
		string(ingestion.Status),
		ingestion.Progress,
		config,
		ingestion.Error,
		logs,
		ingestion.StartedAt,
		ingestion.CompletedAt,
		ingestion.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update ingestion: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return ingestion, nil
}

func (r *PostgresIngestionRepository) FindMany(
	ctx context.Context,
	filter domain.IngestionFilter,
) ([]*domain.Ingestion, error) {
	where, args := buildIngestionFilters(filter)

	query := `SELECT ` + ingestionColumns + ` FROM ingestions` + where + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ingestions: %w", err)
	}
	defer rows.Close()

	ingestions := make([]*domain.Ingestion, 0)
	for rows.Next() {
		ingestion, err := scanIngestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ingestion: %w", err)
		}
		ingestions = append(ingestions, ingestion)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate ingestions: %w", rows.Err())
	}
	return ingestions, nil
}

func (r *PostgresIngestionRepository) Count(
	ctx context.Context,
	filter domain.IngestionFilter,
) (int, error) {
	where, args := buildIngestionFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ingestions"+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count ingestions: %w", err)
	}
	return total, nil
}

func (r *PostgresIngestionRepository) GroupByStatus(
	ctx context.Context,
	filter domain.IngestionFilter,
) (map[domain.IngestionStatus]int, error) {
	where, args := buildIngestionFilters(filter)

	rows, err := r.pool.Query(ctx, "SELECT status, COUNT(*) FROM ingestions"+where+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("group ingestions: %w", err)
	}
	defer rows.Close()

	groups := make(map[domain.IngestionStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status group: %w", err)
		}
		groups[domain.IngestionStatus(status)] = count
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate status groups: %w", rows.Err())
	}
	return groups, nil
}

func buildIngestionFilters(filter domain.IngestionFilter) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	argIndex := 1

	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, userID)
		argIndex++
	}
	if documentID := strings.TrimSpace(filter.DocumentID); documentID != "" {
		clauses = append(clauses, fmt.Sprintf("document_id = $%d", argIndex))
		args = append(args, documentID)
		argIndex++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, statuses)
		argIndex++
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanIngestion(row pgx.Row) (*domain.Ingestion, error) {
	var (
		ingestion   domain.Ingestion
		status      string
		config      []byte
		logs        []byte
		startedAt   *time.Time
		completedAt *time.Time
	)

	err := row.Scan(
		&ingestion.ID,
		&ingestion.DocumentID,
		&ingestion.UserID,
		&status,
		&ingestion.Progress,
		&config,
		&ingestion.Error,
		&logs,
		&startedAt,
		&completedAt,
		&ingestion.CreatedAt,
		&ingestion.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ingestion.Status = domain.IngestionStatus(status)
	ingestion.StartedAt = startedAt
	ingestion.CompletedAt = completedAt
	if len(config) > 0 {
		if err := json.Unmarshal(config, &ingestion.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &ingestion.Logs); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
	}
	return &ingestion, nil
}
