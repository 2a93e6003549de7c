package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockBackend provides deterministic local replies when no model is configured.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Infer(ctx context.Context, req Request) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return json.Marshal(map[string]string{"response": buildMockReply(req.Messages)})
}

func buildMockReply(msgs []ChatMessage) string {
	if len(msgs) == 0 {
		return "I am listening."
	}
	base := strings.TrimSpace(msgs[len(msgs)-1].Content)
	if base == "" {
		base = "I am listening."
	}

	// The final entry repeats the newest stored user message, so look
	// behind both for something older to remember.
	for i := len(msgs) - 3; i >= 0; i-- {
		if msgs[i].Role != "user" {
			continue
		}
		if last := strings.TrimSpace(msgs[i].Content); last != "" {
			return fmt.Sprintf("I heard you: %s\nI also remember: %s", base, last)
		}
	}
	return fmt.Sprintf("I heard you: %s", base)
}
