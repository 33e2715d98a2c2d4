package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation record repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// Insert creates a new generation record.
func (r *GenerationRepositoryPG) Insert(ctx context.Context, task *domain.GenerationTask) error {
	query := `
INSERT INTO generations (task_id, prompt, model, aspect_ratio, image_size, status, result_url, failure_reason)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
ON CONFLICT (task_id) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Prompt,
		task.Model,
		task.AspectRatio,
		task.ImageSize,
		task.Status,
		task.ResultURL,
		task.FailureReason,
	)
	return err
}

// UpdateStatus overwrites the record status. COALESCE keeps an already
// written result URL or failure reason when a duplicate terminal write
// carries none, so out-of-order duplicates are benign.
func (r *GenerationRepositoryPG) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, resultURL, failureReason *string) error {
	query := `
UPDATE generations
SET status = $2,
    updated_at = NOW(),
    result_url = COALESCE($3, result_url),
    failure_reason = COALESCE($4, failure_reason)
WHERE task_id = $1;
`
	_, err := r.pool.Exec(ctx, query, taskID, status, resultURL, failureReason)
	return err
}

// GetByID fetches one record by its task id.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	query := `
SELECT task_id, prompt, model, aspect_ratio, image_size, status,
       COALESCE(result_url, ''), COALESCE(failure_reason, ''), created_at, updated_at
FROM generations
WHERE task_id = $1;
`
	row := r.pool.QueryRow(ctx, query, taskID)
	var task domain.GenerationTask
	if err := row.Scan(
		&task.ID,
		&task.Prompt,
		&task.Model,
		&task.AspectRatio,
		&task.ImageSize,
		&task.Status,
		&task.ResultURL,
		&task.FailureReason,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListRecentByStatus returns up to limit records in the given status,
// newest first.
func (r *GenerationRepositoryPG) ListRecentByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.GenerationTask, error) {
	query := `
SELECT task_id, prompt, model, aspect_ratio, image_size, status,
       COALESCE(result_url, ''), COALESCE(failure_reason, ''), created_at, updated_at
FROM generations
WHERE status = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.GenerationTask
	for rows.Next() {
		var task domain.GenerationTask
		if err := rows.Scan(
			&task.ID,
			&task.Prompt,
			&task.Model,
			&task.AspectRatio,
			&task.ImageSize,
			&task.Status,
			&task.ResultURL,
			&task.FailureReason,
			&task.CreatedAt,
			&task.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
