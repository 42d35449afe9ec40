package poller

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/voicedesk/backend/internal/models"
	"github.com/voicedesk/backend/internal/services"
)

// PollTaskArgs identifies one in-flight task to reconcile.
type PollTaskArgs struct {
	AccountID uuid.UUID `json:"account_id"`
	TaskID    uuid.UUID `json:"task_id"`
}

func (PollTaskArgs) Kind() string { return "poll_task_status" }

// StatusPoller is the contract the worker needs from the status service.
type StatusPoller interface {
	Poll(ctx context.Context, accountID, taskID uuid.UUID) (*models.Task, error)
}

// PollTaskWorker advances an accepted task in the background so tasks the
// dashboard stopped watching still converge to a terminal state. It reuses
// the same status service as the client-facing poll endpoint and snoozes
// itself until the task is terminal.
type PollTaskWorker struct {
	river.WorkerDefaults[PollTaskArgs]
	status   StatusPoller
	interval time.Duration
}

func NewPollTaskWorker(status StatusPoller, interval time.Duration) *PollTaskWorker {
	return &PollTaskWorker{status: status, interval: interval}
}

func (w *PollTaskWorker) Work(ctx context.Context, job *river.Job[PollTaskArgs]) error {
	task, err := w.status.Poll(ctx, job.Args.AccountID, job.Args.TaskID)
	if err != nil {
		if errors.Is(err, services.ErrTaskNotFound) {
			// Nothing left to reconcile.
			return nil
		}
		return err
	}
	if models.IsTerminalStatus(task.Status) {
		return nil
	}
	return river.JobSnooze(w.interval)
}
