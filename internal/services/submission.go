package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voicedesk/backend/internal/models"
)

// Validation and access errors, surfaced in order: account, text, access,
// balance. Each short-circuits before any mutation.
var (
	ErrAccountNotFound    = errors.New("account record not found")
	ErrEmptyText          = errors.New("text must not be empty")
	ErrTextTooLong        = errors.New("text exceeds the maximum allowed length")
	ErrAccessDenied       = errors.New("generation access denied")
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrDispatchFailed wraps any provider-side failure after the debit
	// committed; by the time it is returned the refund has already run.
	ErrDispatchFailed = errors.New("synthesis dispatch failed")
)

const previewLength = 100

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SubmissionAccountRepo is the minimal account repository for submissions.
type SubmissionAccountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	DebitTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	RefundTokens(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
}

// SubmissionTaskRepo is the minimal task repository for submissions.
type SubmissionTaskRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID) (*models.Task, error)
	SetProviderTaskID(ctx context.Context, accountID, taskID uuid.UUID, providerTaskID string) error
	MarkFailedTx(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, reason string) error
}

// SubmissionConfigRepo reads global limits, fresh on every call.
type SubmissionConfigRepo interface {
	Get(ctx context.Context) (*models.SystemConfig, error)
}

// LedgerWriter records balance mutations inside the same transaction.
type LedgerWriter interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.TokenLedger) error
}

// Synthesizer dispatches a job to the external provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, settings models.SynthesisSettings) (string, error)
}

// EnqueuePollFunc schedules background status reconciliation for an
// accepted task. Wired in main as a closure over river.Client.Insert.
type EnqueuePollFunc func(ctx context.Context, accountID, taskID uuid.UUID) error

// SubmissionService implements the token-metered submission protocol:
// validate, atomically debit-and-create, dispatch, and compensate with an
// idempotent refund when dispatch fails.
type SubmissionService struct {
	Pool        TxBeginner
	Accounts    SubmissionAccountRepo
	Tasks       SubmissionTaskRepo
	Config      SubmissionConfigRepo
	Ledger      LedgerWriter
	Synth       Synthesizer
	EnqueuePoll EnqueuePollFunc
	Logger      *slog.Logger
}

func NewSubmissionService(
	pool TxBeginner,
	accounts SubmissionAccountRepo,
	tasks SubmissionTaskRepo,
	config SubmissionConfigRepo,
	ledger LedgerWriter,
	synth Synthesizer,
	enqueuePoll EnqueuePollFunc,
	logger *slog.Logger,
) *SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionService{
		Pool:        pool,
		Accounts:    accounts,
		Tasks:       tasks,
		Config:      config,
		Ledger:      ledger,
		Synth:       synth,
		EnqueuePoll: enqueuePoll,
		Logger:      logger,
	}
}

// Submit validates the request, debits token_cost = character count and
// creates the task in one transaction, then dispatches to the provider.
// Exactly one of two outcomes persists: a billed queued task holding the
// provider handle, or a failed task with the balance fully restored.
func (s *SubmissionService) Submit(ctx context.Context, accountID uuid.UUID, text string, settings models.SynthesisSettings) (*models.Task, error) {
	acc, err := s.Accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	cfg, err := s.Config.Get(ctx)
	if err != nil {
		return nil, err
	}

	length := utf8.RuneCountInString(text)
	if length == 0 {
		return nil, ErrEmptyText
	}
	if length > cfg.MaxTextLength {
		return nil, ErrTextTooLong
	}
	if !acc.CanGenerate {
		return nil, ErrAccessDenied
	}
	cost := length
	if acc.TokenBalance < cost {
		return nil, ErrInsufficientTokens
	}

	task := &models.Task{
		ID:          uuid.New(),
		AccountID:   accountID,
		Status:      models.TaskStatusQueued,
		Text:        text,
		TextPreview: preview(text),
		TextLength:  length,
		Settings:    settings,
		TokenCost:   cost,
	}

	if err := s.debitAndCreate(ctx, task); err != nil {
		return nil, err
	}

	providerTaskID, err := s.Synth.Synthesize(ctx, text, settings)
	if err == nil && providerTaskID == "" {
		err = errors.New("provider response missing task handle")
	}
	if err != nil {
		reason := err.Error()
		if rErr := s.Refund(ctx, accountID, task.ID, reason); rErr != nil {
			s.Logger.Error("refund after dispatch failure", "task_id", task.ID, "error", rErr)
		}
		task.Status = models.TaskStatusFailed
		task.Error = &reason
		task.TokenRefunded = true
		return task, fmt.Errorf("%w: %s", ErrDispatchFailed, reason)
	}

	task.ProviderTaskID = &providerTaskID
	if err := s.Tasks.SetProviderTaskID(ctx, accountID, task.ID, providerTaskID); err != nil {
		// The provider accepted the job and the debit is committed; failing
		// the request here would refund tokens for work that will still run.
		s.Logger.Error("persist provider task handle", "task_id", task.ID, "error", err)
	}

	if s.EnqueuePoll != nil {
		if err := s.EnqueuePoll(ctx, accountID, task.ID); err != nil {
			// The client-driven status endpoint still advances the task.
			s.Logger.Warn("enqueue poll job", "task_id", task.ID, "error", err)
		}
	}
	return task, nil
}

// debitAndCreate is the atomic step: re-read the account under lock,
// re-check access and balance (guards races between validation and
// commit), debit, and insert the queued task.
func (s *SubmissionService) debitAndCreate(ctx context.Context, task *models.Task) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := s.Accounts.GetByIDForUpdate(ctx, tx, task.AccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	if !acc.CanGenerate {
		return ErrAccessDenied
	}
	if acc.TokenBalance < task.TokenCost {
		return ErrInsufficientTokens
	}

	newBalance, err := s.Accounts.DebitTokens(ctx, tx, task.AccountID, task.TokenCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientTokens
		}
		return err
	}
	if err := s.Tasks.CreateTx(ctx, tx, task); err != nil {
		return err
	}
	if err := s.Ledger.CreateTx(ctx, tx, &models.TokenLedger{
		ID:           uuid.New(),
		AccountID:    task.AccountID,
		TaskID:       &task.ID,
		EntryType:    models.TokenEntryDebit,
		Amount:       task.TokenCost,
		BalanceAfter: &newBalance,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Refund is the compensating transaction. It re-reads the task under lock
// and is a no-op when token_refunded is already set, so concurrent failure
// paths (dispatch error plus a timed-out retry, say) restore tokens once.
func (s *SubmissionService) Refund(ctx context.Context, accountID, taskID uuid.UUID, reason string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, accountID, taskID)
	if err != nil {
		return err
	}
	if task.TokenRefunded {
		return nil
	}

	newBalance, err := s.Accounts.RefundTokens(ctx, tx, accountID, task.TokenCost)
	if err != nil {
		return err
	}
	if err := s.Tasks.MarkFailedTx(ctx, tx, accountID, taskID, reason); err != nil {
		return err
	}
	if err := s.Ledger.CreateTx(ctx, tx, &models.TokenLedger{
		ID:           uuid.New(),
		AccountID:    accountID,
		TaskID:       &taskID,
		EntryType:    models.TokenEntryRefund,
		Amount:       task.TokenCost,
		BalanceAfter: &newBalance,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength])
}
