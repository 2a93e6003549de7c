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

	"github.com/tidwall/gjson"

	"github.com/ent0n29/chatrelay/internal/reliability"
)

// WorkersAIBackend calls the Cloudflare Workers AI REST API.
type WorkersAIBackend struct {
	baseURL   string
	accountID string
	token     string
	model     string
	client    *http.Client
}

func NewWorkersAIBackend(baseURL, accountID, token, model string) *WorkersAIBackend {
	return &WorkersAIBackend{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accountID: strings.TrimSpace(accountID),
		token:     strings.TrimSpace(token),
		model:     strings.TrimSpace(model),
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (b *WorkersAIBackend) Infer(ctx context.Context, req Request) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", b.baseURL, b.accountID, b.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.token)

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
		return nil, fmt.Errorf("workers ai status %d (retryable=%t): %s",
			res.StatusCode, reliability.IsRetryableHTTPStatus(res.StatusCode), excerpt(body))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("workers ai returned non-JSON body: %s", excerpt(body))
	}

	// The REST API wraps model output in {"success","result","errors","messages"}.
	if success := gjson.GetBytes(body, "success"); success.Exists() && !success.Bool() {
		return nil, fmt.Errorf("workers ai reported failure: %s", gjson.GetBytes(body, "errors").Raw)
	}
	if result := gjson.GetBytes(body, "result"); result.IsObject() {
		return json.RawMessage(result.Raw), nil
	}
	return json.RawMessage(body), nil
}

func excerpt(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
