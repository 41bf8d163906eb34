package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newGeminiServer(t *testing.T, status int, body string, check func(r *http.Request, req geminiRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGemini_Generate(t *testing.T) {
	t.Parallel()

	srv := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Shipping is "},{"text":"free over $50."}]},"finishReason":"STOP"}]}`,
		func(r *http.Request, req geminiRequest) {
			if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
				t.Errorf("Unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("x-goog-api-key") != "test-key" {
				t.Errorf("Expected API key header, got %q", r.Header.Get("x-goog-api-key"))
			}
			if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "system" {
				t.Errorf("Expected system instruction, got %+v", req.SystemInstruction)
			}
			if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "user" {
				t.Errorf("Expected one user turn, got %+v", req.Contents)
			}
		})

	g := NewGemini(GeminiConfig{APIKey: "test-key", BaseURL: srv.URL + "/", HTTPClient: srv.Client(), Logger: testLogger()})
	text, err := g.Generate(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Shipping is free over $50." {
		t.Errorf("Unexpected text %q", text)
	}
}

func TestGemini_NoCandidates(t *testing.T) {
	t.Parallel()

	srv := newGeminiServer(t, http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, nil)
	g := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})

	text, err := g.Generate(context.Background(), "s", "u")
	if err != nil || text != "" {
		t.Errorf("Expected empty text without error, got %q, %v", text, err)
	}
}

func TestGemini_HTTPError(t *testing.T) {
	t.Parallel()

	srv := newGeminiServer(t, http.StatusTooManyRequests, `{"error":{"message":"quota"}}`, nil)
	g := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})

	_, err := g.Generate(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "HTTP 429") {
		t.Errorf("Expected HTTP 429 error, got %v", err)
	}
}

func TestGemini_MissingKey(t *testing.T) {
	t.Parallel()

	_, err := NewGemini(GeminiConfig{}).Generate(context.Background(), "s", "u")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGemini_Name(t *testing.T) {
	t.Parallel()

	if got := NewGemini(GeminiConfig{Model: "gemini-1.5-pro"}).Name(); got != "gemini/gemini-1.5-pro" {
		t.Errorf("Unexpected name %q", got)
	}
}
