package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend calls the Anthropic Messages API through the official SDK.
type AnthropicBackend struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicBackend(apiKey, model string, opts ...option.RequestOption) *AnthropicBackend {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  anthropic.Model(model),
	}
}

func (b *AnthropicBackend) Infer(ctx context.Context, req Request) (json.RawMessage, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			// The API rejects empty text blocks.
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "user" {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		}
	}

	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return json.Marshal(map[string]string{"response": strings.Join(parts, "")})
}
