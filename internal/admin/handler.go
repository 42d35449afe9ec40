package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voicedesk/backend/internal/middleware"
	"github.com/voicedesk/backend/internal/models"
)

const (
	tokenActionAdd    = "add"
	tokenActionRemove = "remove"
	tokenActionSet    = "set"
)

var errUnknownAction = errors.New("unknown token action")

// TxBeginner starts a transaction for balance adjustments.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the account surface the admin endpoints need.
type AccountStore interface {
	List(ctx context.Context) ([]*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	AddTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	RemoveTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	SetTokenBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int) (int, error)
	SetGenerationAccess(ctx context.Context, id uuid.UUID, allowed bool) error
}

// ConfigStore reads and writes the global limits.
type ConfigStore interface {
	Get(ctx context.Context) (*models.SystemConfig, error)
	Update(ctx context.Context, defaultTokens, maxTextLength *int) error
}

// LedgerWriter records admin balance mutations.
type LedgerWriter interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.TokenLedger) error
}

// Handler serves the /api/v1/admin endpoints. Authorization is re-checked
// on every request from the account loaded by the auth middleware, so a
// role or allow-list change applies immediately.
type Handler struct {
	DB          TxBeginner
	Accounts    AccountStore
	Config      ConfigStore
	Ledger      LedgerWriter
	AdminEmails []string
	Logger      *slog.Logger
}

type updateUserRequest struct {
	AccountID   string `json:"accountId"`
	CanGenerate *bool  `json:"canGenerate"`
	TokenAction string `json:"tokenAction"`
	Amount      *int   `json:"amount"`
}

type updateConfigRequest struct {
	DefaultTokens *int `json:"defaultTokens"`
	MaxTextLength *int `json:"maxTextLength"`
}

// ListUsers handles GET /api/v1/admin/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	accounts, err := h.Accounts.List(r.Context())
	if err != nil {
		h.Logger.Error("list accounts failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// UpdateUser handles POST /api/v1/admin/users: toggle generation access
// and/or adjust the token balance of one account.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		http.Error(w, `{"error":"missing or invalid accountId"}`, http.StatusBadRequest)
		return
	}
	if req.CanGenerate == nil && req.TokenAction == "" {
		http.Error(w, `{"error":"nothing to update"}`, http.StatusBadRequest)
		return
	}

	if req.CanGenerate != nil {
		if err := h.Accounts.SetGenerationAccess(r.Context(), accountID, *req.CanGenerate); err != nil {
			h.Logger.Error("set generation access failed", "account_id", accountID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
	}

	if req.TokenAction != "" {
		if req.Amount == nil || !amountValid(req.TokenAction, *req.Amount) {
			http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
			return
		}
		newBalance, err := h.adjustTokens(r.Context(), accountID, req.TokenAction, *req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, errUnknownAction):
				http.Error(w, `{"error":"unknown token action"}`, http.StatusBadRequest)
			case errors.Is(err, pgx.ErrNoRows):
				http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
			default:
				h.Logger.Error("token adjustment failed", "account_id", accountID, "action", req.TokenAction, "error", err)
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "tokenBalance": newBalance})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID})
}

// add and remove need a positive amount; set accepts zero.
func amountValid(action string, amount int) bool {
	if action == tokenActionSet {
		return amount >= 0
	}
	return amount > 0
}

func (h *Handler) adjustTokens(ctx context.Context, accountID uuid.UUID, action string, amount int) (int, error) {
	tx, err := h.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Lock the row so a concurrent debit and an admin adjustment serialize.
	if _, err := h.Accounts.GetByIDForUpdate(ctx, tx, accountID); err != nil {
		return 0, err
	}

	var newBalance int
	var entryType string
	switch action {
	case tokenActionAdd:
		newBalance, err = h.Accounts.AddTokens(ctx, tx, accountID, amount)
		entryType = models.TokenEntryAdminAdd
	case tokenActionRemove:
		newBalance, err = h.Accounts.RemoveTokens(ctx, tx, accountID, amount)
		entryType = models.TokenEntryAdminRemove
	case tokenActionSet:
		newBalance, err = h.Accounts.SetTokenBalance(ctx, tx, accountID, amount)
		entryType = models.TokenEntryAdminSet
	default:
		return 0, errUnknownAction
	}
	if err != nil {
		return 0, err
	}

	entry := &models.TokenLedger{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: &newBalance,
	}
	if err := h.Ledger.CreateTx(ctx, tx, entry); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// GetConfig handles GET /api/v1/admin/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	cfg, err := h.Config.Get(r.Context())
	if err != nil {
		h.Logger.Error("read config failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfig handles POST /api/v1/admin/config. Omitted fields keep their
// current value; the change takes effect on the next submission.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.DefaultTokens == nil && req.MaxTextLength == nil {
		http.Error(w, `{"error":"nothing to update"}`, http.StatusBadRequest)
		return
	}
	if req.DefaultTokens != nil && *req.DefaultTokens < 0 {
		http.Error(w, `{"error":"defaultTokens must be >= 0"}`, http.StatusBadRequest)
		return
	}
	if req.MaxTextLength != nil && *req.MaxTextLength < 1 {
		http.Error(w, `{"error":"maxTextLength must be >= 1"}`, http.StatusBadRequest)
		return
	}

	if err := h.Config.Update(r.Context(), req.DefaultTokens, req.MaxTextLength); err != nil {
		h.Logger.Error("update config failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	cfg, err := h.Config.Get(r.Context())
	if err != nil {
		h.Logger.Error("read config failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	if !middleware.IsAdmin(acc, h.AdminEmails) {
		http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
