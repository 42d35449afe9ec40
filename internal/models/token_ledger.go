package models

import (
	"time"

	"github.com/google/uuid"
)

// Token ledger entry types.
const (
	TokenEntryDebit       = "task_debit"
	TokenEntryRefund      = "task_refund"
	TokenEntrySignupGrant = "signup_grant"
	TokenEntryAdminAdd    = "admin_add"
	TokenEntryAdminRemove = "admin_remove"
	TokenEntryAdminSet    = "admin_set"
)

// TokenLedger records every balance mutation alongside the account row so
// admins can audit debits, refunds, and manual adjustments.
type TokenLedger struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	BalanceAfter *int       `json:"balance_after,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
