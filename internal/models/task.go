package models

import (
	"time"

	"github.com/google/uuid"
)

// Task statuses. queued is the initial state; completed and failed are
// terminal and immutable except for the one-time token_refunded flip.
const (
	TaskStatusQueued       = "queued"
	TaskStatusProcessing   = "processing"
	TaskStatusSynthesizing = "synthesizing"
	TaskStatusFinalizing   = "finalizing"
	TaskStatusCompleted    = "completed"
	TaskStatusFailed       = "failed"
)

// IsTerminalStatus reports whether a task in this status stops transitioning.
func IsTerminalStatus(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusFailed
}

// SynthesisSettings is the parameter snapshot stored on each task so the
// dashboard can replay a generation with identical settings.
type SynthesisSettings struct {
	VoiceID            string  `json:"voice_id,omitempty"`
	ModelID            string  `json:"model_id,omitempty"`
	SplitType          string  `json:"split_type,omitempty"`
	MaxChunkLength     int     `json:"max_chunk_length,omitempty"`
	SplitOutput        bool    `json:"split_output"`
	AutoPauseEnabled   bool    `json:"auto_pause_enabled"`
	AutoPauseDuration  float64 `json:"auto_pause_duration,omitempty"`
	AutoPauseFrequency int     `json:"auto_pause_frequency,omitempty"`
}

type Task struct {
	ID             uuid.UUID         `json:"id"`
	AccountID      uuid.UUID         `json:"account_id"`
	Status         string            `json:"status"`
	Progress       int               `json:"progress"`
	Text           string            `json:"text"`
	TextPreview    string            `json:"text_preview"`
	TextLength     int               `json:"text_length"`
	Settings       SynthesisSettings `json:"settings"`
	TokenCost      int               `json:"token_cost"`
	TokenRefunded  bool              `json:"token_refunded"`
	ProviderTaskID *string           `json:"provider_task_id,omitempty"`
	Error          *string           `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
