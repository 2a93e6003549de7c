package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/chatrelay/internal/reliability"
)

// RemoteStore talks to a store served by NewHandler. Ordering is enforced by
// the remote SessionStore; this client adds no locking of its own.
type RemoteStore struct {
	baseURL string
	client  *http.Client
}

func NewRemoteStore(baseURL string) *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *RemoteStore) Append(ctx context.Context, sessionKey string, msg Message) error {
	if err := validateKey(sessionKey); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(AppendRequest{Message: &msg})
	if err != nil {
		return fmt.Errorf("marshal append: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sessionURL(sessionKey, "append"), bytes.NewReader(payload))
	if err != nil {
		return storageError("append", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return storageError("append", err)
	}
	defer res.Body.Close()
	return checkStatus("append", res)
}

func (s *RemoteStore) List(ctx context.Context, sessionKey string) ([]Message, error) {
	if err := validateKey(sessionKey); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sessionURL(sessionKey, "list"), nil)
	if err != nil {
		return nil, storageError("list", err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, storageError("list", err)
	}
	defer res.Body.Close()
	if err := checkStatus("list", res); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, storageError("list", err)
	}
	log, err := decodeLog(body)
	if err != nil {
		return nil, storageError("list", err)
	}
	return log, nil
}

func (s *RemoteStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *RemoteStore) sessionURL(sessionKey, op string) string {
	return s.baseURL + "/sessions/" + url.PathEscape(sessionKey) + "/" + op
}

func checkStatus(op string, res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	detail := strings.TrimSpace(string(body))
	if res.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, detail)
	}
	return storageError(op, fmt.Errorf("remote status %d (retryable=%t): %s",
		res.StatusCode, reliability.IsRetryableHTTPStatus(res.StatusCode), detail))
}
