package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/chatrelay/internal/reliability"
)

// HTTPBackend posts the request to any endpoint that accepts
// {"messages","max_tokens"} and returns the response body as the payload.
type HTTPBackend struct {
	url    string
	client *http.Client
}

func NewHTTPBackend(url string) *HTTPBackend {
	return &HTTPBackend{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (b *HTTPBackend) Infer(ctx context.Context, req Request) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("inference http status %d (retryable=%t): %s",
			res.StatusCode, reliability.IsRetryableHTTPStatus(res.StatusCode), excerpt(body))
	}

	if json.Valid(body) {
		return json.RawMessage(body), nil
	}
	// Plain-text bodies become a JSON string so normalization sees one shape.
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, nil
	}
	return json.Marshal(text)
}
