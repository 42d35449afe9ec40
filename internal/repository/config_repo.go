package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedesk/backend/internal/models"
)

// ConfigRepo reads and writes the singleton system_config row.
type ConfigRepo struct {
	pool *pgxpool.Pool
}

func NewConfigRepo(pool *pgxpool.Pool) *ConfigRepo {
	return &ConfigRepo{pool: pool}
}

// Get returns the global configuration, falling back to defaults when the
// row has never been written. Submissions call this on every request so an
// admin limit change applies immediately.
func (r *ConfigRepo) Get(ctx context.Context) (*models.SystemConfig, error) {
	cfg := &models.SystemConfig{
		DefaultTokens: models.DefaultSignupTokens,
		MaxTextLength: models.DefaultMaxTextLength,
	}
	err := r.pool.QueryRow(ctx, `
		SELECT default_tokens, max_text_length FROM system_config WHERE id
	`).Scan(&cfg.DefaultTokens, &cfg.MaxTextLength)
	if errors.Is(err, pgx.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Update merges the provided fields into the singleton row. Nil fields keep
// their current value.
func (r *ConfigRepo) Update(ctx context.Context, defaultTokens, maxTextLength *int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO system_config (id, default_tokens, max_text_length)
		VALUES (TRUE, COALESCE($1, $3), COALESCE($2, $4))
		ON CONFLICT (id) DO UPDATE SET
			default_tokens  = COALESCE($1, system_config.default_tokens),
			max_text_length = COALESCE($2, system_config.max_text_length),
			updated_at      = now()
	`, defaultTokens, maxTextLength, models.DefaultSignupTokens, models.DefaultMaxTextLength)
	return err
}
