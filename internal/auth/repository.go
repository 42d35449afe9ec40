package auth

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedesk/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the account and its signup-grant ledger entry in one
// transaction, so a new account and its starting balance appear together.
func (r *Repository) Create(ctx context.Context, a *models.Account) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (id, email, display_name, password_hash, role, token_balance, token_used, can_generate, disabled)
		VALUES ($1, $2, $3, $4, $5, $6, 0, TRUE, FALSE)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.DisplayName, a.PasswordHash, a.Role, a.TokenBalance).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return err
	}

	if a.TokenBalance > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO token_ledger (id, account_id, entry_type, amount, balance_after)
			VALUES (gen_random_uuid(), $1, $2, $3, $3)
		`, a.ID, models.TokenEntrySignupGrant, a.TokenBalance)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, role, token_balance, token_used, can_generate, disabled, created_at, updated_at
		FROM accounts WHERE lower(email) = lower($1)
	`, email).Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Role, &a.TokenBalance, &a.TokenUsed, &a.CanGenerate, &a.Disabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
