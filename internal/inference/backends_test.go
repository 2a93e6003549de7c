package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWorkersAIBackendUnwrapsEnvelope(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"errors":[],"messages":[],"result":{"response":"hello from llama"}}`)
	}))
	defer ts.Close()

	b := NewWorkersAIBackend(ts.URL, "acct", "secret", "@cf/meta/llama-3.3-70b-instruct-fp8-fast")
	payload, err := b.Infer(context.Background(), Request{
		Messages:  []ChatMessage{{Role: "user", Content: "hi"}},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if got := NormalizeReply(payload); got != "hello from llama" {
		t.Fatalf("NormalizeReply() = %q, want %q", got, "hello from llama")
	}
	if gotPath != "/accounts/acct/ai/run/@cf/meta/llama-3.3-70b-instruct-fp8-fast" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotReq.MaxTokens != 256 || len(gotReq.Messages) != 1 {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestWorkersAIBackendReportsFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"status", http.StatusServiceUnavailable, `{"success":false}`},
		{"envelope", http.StatusOK, `{"success":false,"errors":[{"code":5007,"message":"no such model"}],"result":null}`},
		{"non-json", http.StatusOK, `<html>oops</html>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer ts.Close()

			b := NewWorkersAIBackend(ts.URL, "acct", "secret", "model")
			if _, err := b.Infer(context.Background(), Request{}); err == nil {
				t.Fatalf("Infer() expected error")
			}
		})
	}
}

func TestHTTPBackendPassesPayloadThrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		_, _ = io.WriteString(w, `{"result":"hi"}`)
	}))
	defer ts.Close()

	payload, err := NewHTTPBackend(ts.URL).Infer(context.Background(), Request{MaxTokens: 1})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if got := NormalizeReply(payload); got != "hi" {
		t.Fatalf("NormalizeReply() = %q, want %q", got, "hi")
	}
}

func TestHTTPBackendWrapsPlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "just words\n")
	}))
	defer ts.Close()

	payload, err := NewHTTPBackend(ts.URL).Infer(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if string(payload) != `"just words"` {
		t.Fatalf("payload = %s, want JSON string", payload)
	}
}

func TestHTTPBackendErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewHTTPBackend(ts.URL).Infer(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "retryable=true") {
		t.Fatalf("Infer() error = %v, want retryable status error", err)
	}
}

func TestMockBackendRemembersEarlierUserMessage(t *testing.T) {
	payload, err := NewMockBackend().Infer(context.Background(), Request{Messages: []ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "second"},
		{Role: "user", Content: "second"},
	}})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	want := "I heard you: second\nI also remember: first"
	if got := NormalizeReply(payload); got != want {
		t.Fatalf("NormalizeReply() = %q, want %q", got, want)
	}
}

func TestNewBackendAutoFallsBackToMock(t *testing.T) {
	b, mode, err := NewBackend(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if mode != "mock" {
		t.Fatalf("mode = %q, want mock", mode)
	}
	if _, ok := b.(*MockBackend); !ok {
		t.Fatalf("backend = %T, want *MockBackend", b)
	}
}

func TestNewBackendRequiresSettings(t *testing.T) {
	for _, mode := range []string{"workersai", "http", "anthropic", "bogus"} {
		if _, _, err := NewBackend(Config{Mode: mode}); err == nil {
			t.Fatalf("NewBackend(%q) expected error", mode)
		}
	}
}
