package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/voicedesk/backend/internal/middleware"
	"github.com/voicedesk/backend/internal/models"
	"github.com/voicedesk/backend/internal/provider"
	"github.com/voicedesk/backend/internal/services"
)

// SubmissionService is the submission contract the handler needs.
type SubmissionService interface {
	Submit(ctx context.Context, accountID uuid.UUID, text string, settings models.SynthesisSettings) (*models.Task, error)
}

// StatusService advances and returns a task's state.
type StatusService interface {
	Poll(ctx context.Context, accountID, taskID uuid.UUID) (*models.Task, error)
}

// ArtifactFetcher streams a completed artifact from the provider.
type ArtifactFetcher interface {
	Download(ctx context.Context, providerTaskID string) (io.ReadCloser, string, error)
}

// TaskReader serves the history list and download lookups.
type TaskReader interface {
	GetByID(ctx context.Context, accountID, taskID uuid.UUID) (*models.Task, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Task, error)
}

// TTSHandler serves the /api/v1/tts endpoints.
type TTSHandler struct {
	Submission SubmissionService
	Status     StatusService
	Artifacts  ArtifactFetcher
	Tasks      TaskReader
	Logger     *slog.Logger
}

type generateRequest struct {
	Text               string  `json:"text"`
	VoiceID            string  `json:"voice_id"`
	ModelID            string  `json:"model_id"`
	SplitType          string  `json:"split_type"`
	MaxChunkLength     int     `json:"max_chunk_length"`
	SplitOutput        bool    `json:"split_output"`
	AutoPauseEnabled   bool    `json:"auto_pause_enabled"`
	AutoPauseDuration  float64 `json:"auto_pause_duration"`
	AutoPauseFrequency int     `json:"auto_pause_frequency"`
}

type generateResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// Generate handles POST /api/v1/tts/generate.
func (h *TTSHandler) Generate(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	settings := models.SynthesisSettings{
		VoiceID:            req.VoiceID,
		ModelID:            req.ModelID,
		SplitType:          req.SplitType,
		MaxChunkLength:     req.MaxChunkLength,
		SplitOutput:        req.SplitOutput,
		AutoPauseEnabled:   req.AutoPauseEnabled,
		AutoPauseDuration:  req.AutoPauseDuration,
		AutoPauseFrequency: req.AutoPauseFrequency,
	}

	task, err := h.Submission.Submit(r.Context(), acc.ID, req.Text, settings)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{TaskID: task.ID.String(), Status: task.Status})
}

func (h *TTSHandler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyText), errors.Is(err, services.ErrTextTooLong):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrAccessDenied),
		errors.Is(err, services.ErrInsufficientTokens):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrDispatchFailed):
		// Tokens were already restored by the compensating refund.
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "synthesis provider error"})
	default:
		h.Logger.Error("submit failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// GetStatus handles GET /api/v1/tts/status?taskId=...
func (h *TTSHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := taskIDFromQuery(r)
	if !ok {
		http.Error(w, `{"error":"missing or invalid taskId"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Status.Poll(r.Context(), acc.ID, taskID)
	if err != nil {
		if errors.Is(err, services.ErrTaskNotFound) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("poll failed", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	resp := statusResponse{Status: task.Status, Progress: task.Progress}
	if task.Error != nil {
		resp.Error = *task.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

// DownloadArtifact handles GET /api/v1/tts/download?taskId=...
// Pure passthrough: provider credentials stay server-side and the body and
// content type are streamed back unchanged.
func (h *TTSHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := taskIDFromQuery(r)
	if !ok {
		http.Error(w, `{"error":"missing or invalid taskId"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Tasks.GetByID(r.Context(), acc.ID, taskID)
	if err != nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	if task.ProviderTaskID == nil {
		http.Error(w, `{"error":"artifact not available"}`, http.StatusNotFound)
		return
	}

	body, contentType, err := h.Artifacts.Download(r.Context(), *task.ProviderTaskID)
	if err != nil {
		if errors.Is(err, provider.ErrNoCredential) {
			http.Error(w, `{"error":"server misconfigured"}`, http.StatusInternalServerError)
			return
		}
		h.Logger.Error("download failed", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"download failed"}`, http.StatusInternalServerError)
		return
	}
	defer body.Close()

	extension := "mp3"
	if strings.Contains(contentType, "zip") {
		extension = "zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=voice-%s.%s", taskID, extension))
	if _, err := io.Copy(w, body); err != nil {
		h.Logger.Warn("artifact stream interrupted", "task_id", taskID, "error", err)
	}
}

// ListTasks handles GET /api/v1/tts/tasks, the caller's generation history.
func (h *TTSHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	tasks, err := h.Tasks.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list tasks failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func taskIDFromQuery(r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("taskId")
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
