package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voicedesk/backend/internal/middleware"
	"github.com/voicedesk/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

type mockAccountStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
}

func newMockAccountStore(accs ...*models.Account) *mockAccountStore {
	m := &mockAccountStore{accounts: make(map[uuid.UUID]*models.Account)}
	for _, a := range accs {
		cp := *a
		m.accounts[a.ID] = &cp
	}
	return m
}

func (m *mockAccountStore) List(context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockAccountStore) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccountStore) AddTokens(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	a.TokenBalance += amount
	return a.TokenBalance, nil
}

func (m *mockAccountStore) RemoveTokens(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	a.TokenBalance -= amount
	if a.TokenBalance < 0 {
		a.TokenBalance = 0
	}
	return a.TokenBalance, nil
}

func (m *mockAccountStore) SetTokenBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, balance int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	a.TokenBalance = balance
	return a.TokenBalance, nil
}

func (m *mockAccountStore) SetGenerationAccess(_ context.Context, id uuid.UUID, allowed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	a.CanGenerate = allowed
	return nil
}

func (m *mockAccountStore) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].TokenBalance
}

func (m *mockAccountStore) canGenerate(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].CanGenerate
}

type mockConfigStore struct {
	cfg models.SystemConfig
}

func (m *mockConfigStore) Get(context.Context) (*models.SystemConfig, error) {
	cp := m.cfg
	return &cp, nil
}

func (m *mockConfigStore) Update(_ context.Context, defaultTokens, maxTextLength *int) error {
	if defaultTokens != nil {
		m.cfg.DefaultTokens = *defaultTokens
	}
	if maxTextLength != nil {
		m.cfg.MaxTextLength = *maxTextLength
	}
	return nil
}

type mockLedgerWriter struct {
	mu      sync.Mutex
	entries []*models.TokenLedger
}

func (m *mockLedgerWriter) CreateTx(_ context.Context, _ pgx.Tx, e *models.TokenLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newHandler(accounts *mockAccountStore, config *mockConfigStore, ledger *mockLedgerWriter, adminEmails []string) *Handler {
	return &Handler{
		DB:          mockPool{},
		Accounts:    accounts,
		Config:      config,
		Ledger:      ledger,
		AdminEmails: adminEmails,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func adminAccount() *models.Account {
	return &models.Account{ID: uuid.New(), Email: "root@example.com", Role: models.RoleSuperAdmin}
}

func request(method, target, body string, acc *models.Account) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if acc != nil {
		req = req.WithContext(middleware.WithAccount(req.Context(), acc))
	}
	return req
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

func TestAdminEndpointsRejectNonAdmins(t *testing.T) {
	h := newHandler(newMockAccountStore(), &mockConfigStore{}, &mockLedgerWriter{}, nil)
	user := &models.Account{ID: uuid.New(), Email: "user@example.com", Role: models.RoleUser}

	endpoints := []struct {
		name string
		fn   http.HandlerFunc
	}{
		{"ListUsers", h.ListUsers},
		{"UpdateUser", h.UpdateUser},
		{"GetConfig", h.GetConfig},
		{"UpdateConfig", h.UpdateConfig},
	}
	for _, ep := range endpoints {
		t.Run(ep.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ep.fn(rec, request(http.MethodPost, "/api/v1/admin/x", "{}", user))
			if rec.Code != http.StatusForbidden {
				t.Errorf("status: got %d, want 403", rec.Code)
			}
		})
	}
}

func TestAllowListEmailGrantsAdmin(t *testing.T) {
	h := newHandler(newMockAccountStore(), &mockConfigStore{cfg: models.SystemConfig{MaxTextLength: 100}}, &mockLedgerWriter{}, []string{"Ops@Example.com"})
	user := &models.Account{ID: uuid.New(), Email: "ops@example.com", Role: models.RoleUser}

	rec := httptest.NewRecorder()
	h.GetConfig(rec, request(http.MethodGet, "/api/v1/admin/config", "", user))
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	h := newHandler(newMockAccountStore(), &mockConfigStore{}, &mockLedgerWriter{}, nil)
	rec := httptest.NewRecorder()
	h.ListUsers(rec, request(http.MethodGet, "/api/v1/admin/users", "", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// UpdateUser: token adjustments
// ---------------------------------------------------------------------------

func TestUpdateUser_AddTokens(t *testing.T) {
	target := &models.Account{ID: uuid.New(), Email: "u@example.com", TokenBalance: 100}
	accounts := newMockAccountStore(target)
	ledger := &mockLedgerWriter{}
	h := newHandler(accounts, &mockConfigStore{}, ledger, nil)

	body := `{"accountId":"` + target.ID.String() + `","tokenAction":"add","amount":50}`
	rec := httptest.NewRecorder()
	h.UpdateUser(rec, request(http.MethodPost, "/api/v1/admin/users", body, adminAccount()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if got := accounts.balance(target.ID); got != 150 {
		t.Errorf("balance: got %d, want 150", got)
	}
	if len(ledger.entries) != 1 || ledger.entries[0].EntryType != models.TokenEntryAdminAdd {
		t.Errorf("ledger: got %+v, want one admin_add entry", ledger.entries)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["tokenBalance"].(float64) != 150 {
		t.Errorf("response balance: got %v", resp["tokenBalance"])
	}
}

func TestUpdateUser_RemoveClampsAtZero(t *testing.T) {
	target := &models.Account{ID: uuid.New(), Email: "u@example.com", TokenBalance: 30}
	accounts := newMockAccountStore(target)
	h := newHandler(accounts, &mockConfigStore{}, &mockLedgerWriter{}, nil)

	body := `{"accountId":"` + target.ID.String() + `","tokenAction":"remove","amount":100}`
	rec := httptest.NewRecorder()
	h.UpdateUser(rec, request(http.MethodPost, "/api/v1/admin/users", body, adminAccount()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got := accounts.balance(target.ID); got != 0 {
		t.Errorf("balance: got %d, want 0 (clamped)", got)
	}
}

func TestUpdateUser_SetAcceptsZero(t *testing.T) {
	target := &models.Account{ID: uuid.New(), Email: "u@example.com", TokenBalance: 500}
	accounts := newMockAccountStore(target)
	h := newHandler(accounts, &mockConfigStore{}, &mockLedgerWriter{}, nil)

	body := `{"accountId":"` + target.ID.String() + `","tokenAction":"set","amount":0}`
	rec := httptest.NewRecorder()
	h.UpdateUser(rec, request(http.MethodPost, "/api/v1/admin/users", body, adminAccount()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got := accounts.balance(target.ID); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
}

func TestUpdateUser_InvalidAmounts(t *testing.T) {
	target := &models.Account{ID: uuid.New(), Email: "u@example.com", TokenBalance: 100}
	cases := []string{
		`{"accountId":"` + target.ID.String() + `","tokenAction":"add","amount":0}`,
		`{"accountId":"` + target.ID.String() + `","tokenAction":"add","amount":-5}`,
		`{"accountId":"` + target.ID.String() + `","tokenAction":"remove","amount":0}`,
		`{"accountId":"` + target.ID.String() + `","tokenAction":"set","amount":-1}`,
		`{"accountId":"` + target.ID.String() + `","tokenAction":"add"}`,
	}
	for _, body := range cases {
		accounts := newMockAccountStore(target)
		h := newHandler(accounts, &mockConfigStore{}, &mockLedgerWriter{}, nil)
		rec := httptest.NewRecorder()
		h.UpdateUser(rec, request(http.MethodPost, "/api/v1/admin/users", body, adminAccount()))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: got %d, want 400", body, rec.Code)
		}
		if got := accounts.balance(target.ID); got != 100 {
			t.Errorf("body %s: balance mutated to %d", body, got)
		}
	}
}

func TestUpdateUser_UnknownAction(t *testing.T) {
	target := &models.Account{ID: uuid.New(), Email: "u@example.com"}
	h := newHandler(newMockAccountStore(target), &mockConfigStore{}, &mockLedgerWriter{}, nil)

	body := `{"accountId":"` + target.ID.String() + `","tokenAction":"steal","amount":10}`
	rec := httptest.NewRecorder()
	h.UpdateUser(rec, request(http.MethodPost, "/api/v1/admin/users", body, adminAccount()))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestUpdateUser_ToggleGenerationAccess(t *testing.T) {
	target := &models.Account{ID: uuid.New(), Email: "u@example.com", CanGenerate: true}
	accounts := newMockAccountStore(target)
	h := newHandler(accounts, &mockConfigStore{}, &mockLedgerWriter{}, nil)

	body := `{"accountId":"` + target.ID.String() + `","canGenerate":false}`
	rec := httptest.NewRecorder()
	h.UpdateUser(rec, request(http.MethodPost, "/api/v1/admin/users", body, adminAccount()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if accounts.canGenerate(target.ID) {
		t.Error("can_generate should be false")
	}
}

func TestUpdateUser_NothingToUpdate(t *testing.T) {
	target := &models.Account{ID: uuid.New(), Email: "u@example.com"}
	h := newHandler(newMockAccountStore(target), &mockConfigStore{}, &mockLedgerWriter{}, nil)

	body := `{"accountId":"` + target.ID.String() + `"}`
	rec := httptest.NewRecorder()
	h.UpdateUser(rec, request(http.MethodPost, "/api/v1/admin/users", body, adminAccount()))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestUpdateConfig_PartialMerge(t *testing.T) {
	store := &mockConfigStore{cfg: models.SystemConfig{DefaultTokens: 100, MaxTextLength: 5000}}
	h := newHandler(newMockAccountStore(), store, &mockLedgerWriter{}, nil)

	rec := httptest.NewRecorder()
	h.UpdateConfig(rec, request(http.MethodPost, "/api/v1/admin/config", `{"maxTextLength":9000}`, adminAccount()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if store.cfg.DefaultTokens != 100 {
		t.Errorf("defaultTokens should keep its value, got %d", store.cfg.DefaultTokens)
	}
	if store.cfg.MaxTextLength != 9000 {
		t.Errorf("maxTextLength: got %d, want 9000", store.cfg.MaxTextLength)
	}
}

func TestUpdateConfig_Floors(t *testing.T) {
	cases := []string{
		`{"defaultTokens":-1}`,
		`{"maxTextLength":0}`,
		`{}`,
		// Fractional values are rejected outright, never silently floored.
		`{"maxTextLength":100.5}`,
		`{"defaultTokens":1.9}`,
	}
	for _, body := range cases {
		store := &mockConfigStore{cfg: models.SystemConfig{DefaultTokens: 100, MaxTextLength: 5000}}
		h := newHandler(newMockAccountStore(), store, &mockLedgerWriter{}, nil)
		rec := httptest.NewRecorder()
		h.UpdateConfig(rec, request(http.MethodPost, "/api/v1/admin/config", body, adminAccount()))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: got %d, want 400", body, rec.Code)
		}
		if store.cfg.DefaultTokens != 100 || store.cfg.MaxTextLength != 5000 {
			t.Errorf("body %s: config mutated to %+v", body, store.cfg)
		}
	}
}
