package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voicedesk/backend/internal/models"
	"github.com/voicedesk/backend/internal/provider"
)

// ErrTaskNotFound means no task with that ID belongs to the caller.
var ErrTaskNotFound = errors.New("task not found")

// StatusTaskRepo is the minimal task repository for polling.
type StatusTaskRepo interface {
	GetByID(ctx context.Context, accountID, taskID uuid.UUID) (*models.Task, error)
	UpdateStatusProgress(ctx context.Context, accountID, taskID uuid.UUID, status string, progress int, errMsg *string) error
}

// StatusClient queries the provider for live job status.
type StatusClient interface {
	Status(ctx context.Context, providerTaskID string) (*provider.StatusResponse, error)
}

// Refunder runs the idempotent refund transaction.
type Refunder interface {
	Refund(ctx context.Context, accountID, taskID uuid.UUID, reason string) error
}

// StatusService advances a task by consulting the provider. The locally
// persisted task is always the source of truth returned to callers; the
// provider is only consulted to move it forward.
type StatusService struct {
	Tasks  StatusTaskRepo
	Client StatusClient

	// RefundOnProviderFailure controls whether a failure the provider
	// reports after accepting the job (discovered here, not at dispatch)
	// refunds the task's tokens. Off means an accepted job that fails
	// mid-synthesis is a consumed attempt.
	RefundOnProviderFailure bool
	Refunds                 Refunder

	Logger *slog.Logger
}

func NewStatusService(tasks StatusTaskRepo, client StatusClient, refunds Refunder, refundOnProviderFailure bool, logger *slog.Logger) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		Tasks:                   tasks,
		Client:                  client,
		Refunds:                 refunds,
		RefundOnProviderFailure: refundOnProviderFailure,
		Logger:                  logger,
	}
}

// Poll returns the task's current state, advanced with a provider status
// query when the task is in flight. Terminal tasks and tasks without a
// provider handle never touch the provider, and a provider outage returns
// the last known local state rather than a hard failure.
func (s *StatusService) Poll(ctx context.Context, accountID, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.Tasks.GetByID(ctx, accountID, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	if models.IsTerminalStatus(task.Status) {
		return task, nil
	}
	if task.ProviderTaskID == nil {
		return task, nil
	}

	upd, err := s.Client.Status(ctx, *task.ProviderTaskID)
	if err != nil {
		s.Logger.Warn("provider status query failed, returning local state",
			"task_id", task.ID, "error", err)
		return task, nil
	}

	next := applyProviderUpdate(task, upd)
	if err := s.Tasks.UpdateStatusProgress(ctx, accountID, taskID, next.Status, next.Progress, next.Error); err != nil {
		return nil, err
	}
	task.Status = next.Status
	task.Progress = next.Progress
	task.Error = next.Error

	if next.Status == models.TaskStatusFailed && s.RefundOnProviderFailure && s.Refunds != nil {
		reason := "synthesis failed"
		if next.Error != nil {
			reason = *next.Error
		}
		if err := s.Refunds.Refund(ctx, accountID, taskID, reason); err != nil {
			s.Logger.Error("refund after provider-reported failure", "task_id", taskID, "error", err)
		} else {
			task.TokenRefunded = true
		}
	}
	return task, nil
}

// statusUpdate is the change set applyProviderUpdate produces.
type statusUpdate struct {
	Status   string
	Progress int
	Error    *string
}

// applyProviderUpdate maps a provider status report onto the current task.
// Pure: completed pins progress to 100, failed carries the provider's
// error text, and progress never decreases for in-flight states.
func applyProviderUpdate(task *models.Task, upd *provider.StatusResponse) statusUpdate {
	status := upd.Status
	if status == "" {
		status = task.Status
	}
	progress := upd.Progress
	if progress < task.Progress {
		progress = task.Progress
	}

	switch status {
	case models.TaskStatusCompleted:
		return statusUpdate{Status: models.TaskStatusCompleted, Progress: 100}
	case models.TaskStatusFailed:
		msg := upd.Error
		if msg == "" {
			msg = "synthesis failed"
		}
		return statusUpdate{Status: models.TaskStatusFailed, Progress: progress, Error: &msg}
	default:
		return statusUpdate{Status: status, Progress: progress}
	}
}
