package domain

import "context"

// GenerationRepository defines persistence for generation task records. The
// record store is a lagging, best-effort mirror of vendor-reported state:
// updates are idempotent overwrites keyed by task id, so duplicate terminal
// writes are benign.
type GenerationRepository interface {
	Insert(ctx context.Context, task *GenerationTask) error
	UpdateStatus(ctx context.Context, taskID string, status TaskStatus, resultURL, failureReason *string) error
	GetByID(ctx context.Context, taskID string) (*GenerationTask, error)
	ListRecentByStatus(ctx context.Context, status TaskStatus, limit int) ([]GenerationTask, error)
}
