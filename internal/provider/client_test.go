package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voicedesk/backend/internal/models"
)

func TestSynthesize_Success(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice/synthesize" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sekrit" {
			t.Errorf("authorization: got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"prov-99"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	id, err := c.Synthesize(context.Background(), "hello", models.SynthesisSettings{SplitOutput: true})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if id != "prov-99" {
		t.Errorf("task id: got %q", id)
	}
	if got.Text != "hello" || !got.SplitOutput {
		t.Errorf("request payload: got %+v", got)
	}
	// Unset voice and model fall back to defaults.
	if got.VoiceID != DefaultVoiceID || got.ModelID != DefaultModelID {
		t.Errorf("defaults: got voice %q model %q", got.VoiceID, got.ModelID)
	}
}

func TestSynthesize_AcceptsCamelCaseHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"taskId":"prov-camel"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	id, err := c.Synthesize(context.Background(), "hello", models.SynthesisSettings{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if id != "prov-camel" {
		t.Errorf("task id: got %q", id)
	}
}

func TestSynthesize_NoCredential(t *testing.T) {
	c := NewClient("http://unused", "")
	_, err := c.Synthesize(context.Background(), "hello", models.SynthesisSettings{})
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got: %v", err)
	}
}

func TestSynthesize_RejectionCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream capacity exhausted"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	_, err := c.Synthesize(context.Background(), "hello", models.SynthesisSettings{})
	if err == nil || !strings.Contains(err.Error(), "upstream capacity exhausted") {
		t.Fatalf("expected rejection with upstream text, got: %v", err)
	}
}

// An HTML error page with a 200 code must not be mistaken for acceptance.
func TestSynthesize_NonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	_, err := c.Synthesize(context.Background(), "hello", models.SynthesisSettings{})
	if err == nil || !strings.Contains(err.Error(), "content type") {
		t.Fatalf("expected content-type error, got: %v", err)
	}
}

func TestSynthesize_MissingHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	_, err := c.Synthesize(context.Background(), "hello", models.SynthesisSettings{})
	if err == nil || !strings.Contains(err.Error(), "missing task_id") {
		t.Fatalf("expected missing-handle error, got: %v", err)
	}
}

func TestStatus_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice/status/prov-7" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"synthesizing","progress":55}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	resp, err := c.Status(context.Background(), "prov-7")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Status != "synthesizing" || resp.Progress != 55 {
		t.Errorf("response: got %+v", resp)
	}
}

func TestStatus_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	if _, err := c.Status(context.Background(), "prov-7"); err == nil {
		t.Fatal("expected error on upstream 500")
	}
}

func TestDownload_StreamsBodyAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice/download/prov-7" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("ZIPDATA"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	body, contentType, err := c.Download(context.Background(), "prov-7")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer body.Close()

	if contentType != "application/zip" {
		t.Errorf("content type: got %q", contentType)
	}
	data, _ := io.ReadAll(body)
	if string(data) != "ZIPDATA" {
		t.Errorf("body: got %q", data)
	}
}

func TestDownload_DefaultsToAudioContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil // suppress implicit detection
		_, _ = w.Write([]byte("RAW"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	body, contentType, err := c.Download(context.Background(), "prov-7")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer body.Close()
	if contentType != "audio/mpeg" {
		t.Errorf("content type: got %q, want audio/mpeg", contentType)
	}
}
