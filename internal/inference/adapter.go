package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/chatrelay/internal/memory"
	"github.com/ent0n29/chatrelay/internal/observability"
)

// ErrInferenceFailure reports that the backend could not produce a reply.
var ErrInferenceFailure = errors.New("inference failure")

// ChatMessage is one entry in the backend's role/content vocabulary.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is what every backend receives.
type Request struct {
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

// Backend performs one inference call and returns the raw JSON payload.
// Payload shapes vary by backend and model; Adapter normalizes them.
type Backend interface {
	Infer(ctx context.Context, req Request) (json.RawMessage, error)
}

// Adapter turns a session history into a backend request and the backend's
// payload into a single reply string.
type Adapter struct {
	backend   Backend
	maxTokens int
	timeout   time.Duration
	metrics   *observability.Metrics
}

func NewAdapter(backend Backend, maxTokens int, timeout time.Duration, metrics *observability.Metrics) *Adapter {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Adapter{
		backend:   backend,
		maxTokens: maxTokens,
		timeout:   timeout,
		metrics:   metrics,
	}
}

// Reply sends history followed by text as a final user entry. Failures and
// timeouts are returned as ErrInferenceFailure and never retried here.
func (a *Adapter) Reply(ctx context.Context, history []memory.Message, text string) (string, error) {
	req := Request{
		Messages:  BuildMessages(history, text),
		MaxTokens: a.maxTokens,
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := a.backend.Infer(ctx, req)
	a.metrics.ObserveInferenceLatency(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInferenceFailure, err)
	}
	return NormalizeReply(payload), nil
}

// BuildMessages maps stored roles onto the backend vocabulary: user stays
// user, anything else becomes assistant.
func BuildMessages(history []memory.Message, text string) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	for _, m := range history {
		role := "assistant"
		if m.Role == memory.RoleUser {
			role = "user"
		}
		out = append(out, ChatMessage{Role: role, Content: m.Text})
	}
	return append(out, ChatMessage{Role: "user", Content: text})
}
