package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
)

func TestAnthropicBackendJoinsTextBlocks(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Hel"},{"type":"text","text":"lo"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}
		}`)
	}))
	defer ts.Close()

	b := NewAnthropicBackend("test-key", "claude-test", option.WithBaseURL(ts.URL+"/"))
	payload, err := b.Infer(context.Background(), Request{
		Messages: []ChatMessage{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: ""},
			{Role: "user", Content: "hi"},
		},
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if got := NormalizeReply(payload); got != "Hello" {
		t.Fatalf("NormalizeReply() = %q, want %q", got, "Hello")
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2 (empty entries dropped)", len(msgs))
	}
	if body["max_tokens"] != float64(64) {
		t.Fatalf("max_tokens = %v, want 64", body["max_tokens"])
	}
}

func TestAnthropicBackendDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer ts.Close()

	b := NewAnthropicBackend("test-key", "claude-test", option.WithBaseURL(ts.URL+"/"))
	if _, err := b.Infer(context.Background(), Request{Messages: []ChatMessage{{Role: "user", Content: "hi"}}, MaxTokens: 8}); err == nil {
		t.Fatalf("Infer() expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}
