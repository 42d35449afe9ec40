package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/voicedesk/backend/internal/middleware"
	"github.com/voicedesk/backend/internal/models"
)

// LedgerReader lists balance mutations for an account.
type LedgerReader interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.TokenLedger, error)
}

// ConfigReader serves the public configuration read.
type ConfigReader interface {
	Get(ctx context.Context) (*models.SystemConfig, error)
}

// AccountHandler serves the caller's own account views and the public
// configuration endpoint.
type AccountHandler struct {
	Ledger LedgerReader
	Config ConfigReader
	Logger *slog.Logger
}

// GetMe handles GET /api/v1/account/me.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            acc.ID,
		"email":         acc.Email,
		"display_name":  acc.DisplayName,
		"role":          acc.Role,
		"token_balance": acc.TokenBalance,
		"token_used":    acc.TokenUsed,
		"can_generate":  acc.CanGenerate,
		"created_at":    acc.CreatedAt,
	})
}

// ListLedger handles GET /api/v1/account/ledger.
func (h *AccountHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.Ledger.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list token ledger failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.TokenLedger{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PublicConfig handles GET /api/v1/config. Unauthenticated: the dashboard
// shows the text-length limit before login.
func (h *AccountHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Config.Get(r.Context())
	if err != nil {
		h.Logger.Error("read config failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
