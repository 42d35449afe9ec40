package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedesk/backend/internal/models"
)

type TokenLedgerRepo struct {
	pool *pgxpool.Pool
}

func NewTokenLedgerRepo(pool *pgxpool.Pool) *TokenLedgerRepo {
	return &TokenLedgerRepo{pool: pool}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *TokenLedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.TokenLedger) error {
	return tx.QueryRow(ctx, `
		INSERT INTO token_ledger (id, account_id, task_id, entry_type, amount, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.AccountID, e.TaskID, e.EntryType, e.Amount, e.BalanceAfter).Scan(&e.CreatedAt)
}

func (r *TokenLedgerRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.TokenLedger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, task_id, entry_type, amount, balance_after, created_at
		FROM token_ledger WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TokenLedger
	for rows.Next() {
		var e models.TokenLedger
		if err := rows.Scan(&e.ID, &e.AccountID, &e.TaskID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
