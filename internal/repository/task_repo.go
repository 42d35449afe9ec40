package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedesk/backend/internal/models"
)

const taskColumns = `id, account_id, status, progress, text, text_preview, text_length, settings, token_cost, token_refunded, provider_task_id, error, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.AccountID, &t.Status, &t.Progress, &t.Text, &t.TextPreview, &t.TextLength, &t.Settings, &t.TokenCost, &t.TokenRefunded, &t.ProviderTaskID, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTx inserts the task inside the debit transaction so the billed task
// and the balance change commit or roll back together.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, account_id, status, progress, text, text_preview, text_length, settings, token_cost, token_refunded, provider_task_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, t.ID, t.AccountID, t.Status, t.Progress, t.Text, t.TextPreview, t.TextLength, t.Settings, t.TokenCost, t.TokenRefunded, t.ProviderTaskID, t.Error).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// GetByID is account-scoped: tasks belong to exactly one account and are
// never visible across accounts.
func (r *TaskRepo) GetByID(ctx context.Context, accountID, taskID uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND account_id = $2
	`, taskID, accountID))
}

// GetByIDForUpdate locks the task row; the refund path uses this so the
// token_refunded check-and-set is race free. Call within a transaction.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND account_id = $2 FOR UPDATE
	`, taskID, accountID))
}

// SetProviderTaskID stores the provider's job handle after acceptance.
func (r *TaskRepo) SetProviderTaskID(ctx context.Context, accountID, taskID uuid.UUID, providerTaskID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET provider_task_id = $3, updated_at = now()
		WHERE id = $1 AND account_id = $2
	`, taskID, accountID, providerTaskID)
	return err
}

// UpdateStatusProgress mirrors a provider status report onto the task.
// Last-writer-wins is fine here; the refund flag is never touched.
func (r *TaskRepo) UpdateStatusProgress(ctx context.Context, accountID, taskID uuid.UUID, status string, progress int, errMsg *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $3, progress = $4, error = $5, updated_at = now()
		WHERE id = $1 AND account_id = $2
	`, taskID, accountID, status, progress, errMsg)
	return err
}

// MarkFailedTx finalizes a refunded task inside the refund transaction:
// failed status, the failure reason, and the one-time refund flag.
func (r *TaskRepo) MarkFailedTx(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $3, error = $4, token_refunded = TRUE, updated_at = now()
		WHERE id = $1 AND account_id = $2
	`, taskID, accountID, models.TaskStatusFailed, reason)
	return err
}

func (r *TaskRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
