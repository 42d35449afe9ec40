package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedesk/backend/internal/models"
)

const accountColumns = `id, email, display_name, password_hash, role, token_balance, token_used, can_generate, disabled, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Role, &a.TokenBalance, &a.TokenUsed, &a.CanGenerate, &a.Disabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, display_name, password_hash, role, token_balance, token_used, can_generate, disabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.DisplayName, a.PasswordHash, a.Role, a.TokenBalance, a.TokenUsed, a.CanGenerate, a.Disabled).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
	`, id))
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)
	`, email))
}

func (r *AccountRepo) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// GetByIDForUpdate locks the account row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE
	`, id))
}

// DebitTokens spends amount on a task: balance decreases and token_used
// increases in one conditional update. Returns pgx.ErrNoRows when the
// balance is insufficient. Call within a transaction.
func (r *AccountRepo) DebitTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET token_balance = token_balance - $1, token_used = token_used + $1, updated_at = now()
		WHERE id = $2 AND token_balance >= $1
		RETURNING token_balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// RefundTokens restores a task debit: balance increases and token_used
// decreases, clamped at zero. Call within a transaction.
func (r *AccountRepo) RefundTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET token_balance = token_balance + $1, token_used = GREATEST(token_used - $1, 0), updated_at = now()
		WHERE id = $2
		RETURNING token_balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// AddTokens is the admin grant; token_used is untouched.
func (r *AccountRepo) AddTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET token_balance = token_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING token_balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// RemoveTokens is the admin deduction, clamped so the balance never goes negative.
func (r *AccountRepo) RemoveTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET token_balance = GREATEST(token_balance - $1, 0), updated_at = now()
		WHERE id = $2
		RETURNING token_balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// SetTokenBalance replaces the balance outright; token_used is untouched.
func (r *AccountRepo) SetTokenBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET token_balance = $1, updated_at = now()
		WHERE id = $2
		RETURNING token_balance
	`, balance, id).Scan(&newBalance)
	return newBalance, err
}

// SetGenerationAccess overwrites the can_generate flag unconditionally.
func (r *AccountRepo) SetGenerationAccess(ctx context.Context, id uuid.UUID, allowed bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET can_generate = $2, updated_at = now() WHERE id = $1
	`, id, allowed)
	return err
}
