package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicedesk/backend/internal/models"
)

// Defaults applied when a submission leaves voice or model unset.
const (
	DefaultVoiceID = "AB9XsbSA4eLG12t2myjN"
	DefaultModelID = "eleven_multilingual_v2"
)

const requestTimeout = 60 * time.Second

// ErrNoCredential means the server-side provider API key is not configured.
// Handlers surface this as a 500, never as a caller problem.
var ErrNoCredential = errors.New("synthesis provider credential not configured")

// Client talks to the external synthesis provider. All calls authenticate
// with the server-held bearer credential.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: requestTimeout},
	}
}

type synthesizeRequest struct {
	Text               string  `json:"text"`
	VoiceID            string  `json:"voice_id"`
	ModelID            string  `json:"model_id"`
	SplitType          string  `json:"split_type,omitempty"`
	MaxChunkLength     int     `json:"max_chunk_length,omitempty"`
	SplitOutput        bool    `json:"split_output"`
	AutoPauseEnabled   bool    `json:"auto_pause_enabled"`
	AutoPauseDuration  float64 `json:"auto_pause_duration,omitempty"`
	AutoPauseFrequency int     `json:"auto_pause_frequency,omitempty"`
}

type synthesizeResponse struct {
	TaskID    string `json:"task_id"`
	TaskIDAlt string `json:"taskId"`
}

// StatusResponse is the provider's live view of a job.
type StatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// Synthesize submits a job and returns the provider's task handle.
// A response without a handle is an error: the caller must be able to
// refund knowing the job was never accepted.
func (c *Client) Synthesize(ctx context.Context, text string, settings models.SynthesisSettings) (string, error) {
	if c.APIKey == "" {
		return "", ErrNoCredential
	}

	payload := synthesizeRequest{
		Text:               text,
		VoiceID:            settings.VoiceID,
		ModelID:            settings.ModelID,
		SplitType:          settings.SplitType,
		MaxChunkLength:     settings.MaxChunkLength,
		SplitOutput:        settings.SplitOutput,
		AutoPauseEnabled:   settings.AutoPauseEnabled,
		AutoPauseDuration:  settings.AutoPauseDuration,
		AutoPauseFrequency: settings.AutoPauseFrequency,
	}
	if payload.VoiceID == "" {
		payload.VoiceID = DefaultVoiceID
	}
	if payload.ModelID == "" {
		payload.ModelID = DefaultModelID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/voice/synthesize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("synthesize rejected: %s", readErrorText(resp.Body, "provider error"))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return "", fmt.Errorf("synthesize returned unexpected content type %q", ct)
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("synthesize response: %w", err)
	}
	taskID := out.TaskID
	if taskID == "" {
		taskID = out.TaskIDAlt
	}
	if taskID == "" {
		return "", errors.New("synthesize response missing task_id")
	}
	return taskID, nil
}

// Status queries live progress for an accepted job.
func (c *Client) Status(ctx context.Context, providerTaskID string) (*StatusResponse, error) {
	if c.APIKey == "" {
		return nil, ErrNoCredential
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/voice/status/"+providerTaskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status returned %d", resp.StatusCode)
	}
	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("status response: %w", err)
	}
	return &out, nil
}

// Download streams a completed artifact. The caller owns the returned body.
// No caching, no retry: one upstream failure is one caller-visible failure.
func (c *Client) Download(ctx context.Context, providerTaskID string) (io.ReadCloser, string, error) {
	if c.APIKey == "" {
		return nil, "", ErrNoCredential
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/voice/download/"+providerTaskID, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, "", fmt.Errorf("download failed: %s", readErrorText(resp.Body, "provider error"))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return resp.Body, contentType, nil
}

func readErrorText(r io.Reader, fallback string) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	text := strings.TrimSpace(string(b))
	if err != nil || text == "" {
		return fallback
	}
	return text
}
