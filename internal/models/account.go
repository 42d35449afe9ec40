package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles. Admin endpoints additionally honor the ADMIN_EMAILS allow-list.
const (
	RoleUser       = "user"
	RoleSuperAdmin = "super_admin"
)

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	TokenBalance int       `json:"token_balance"`
	TokenUsed    int       `json:"token_used"`
	CanGenerate  bool      `json:"can_generate"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
