package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/chatrelay/internal/memory"
	"github.com/ent0n29/chatrelay/internal/reliability"
)

const (
	sendBackoffBase = 250 * time.Millisecond
	sendBackoffCap  = 5 * time.Second
)

func init() {
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send one chat message to a running relay",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
	cmd.Flags().String("url", "http://localhost:8080", "Relay base URL")
	cmd.Flags().StringP("session", "s", "", "Session id (default: the relay's default session)")
	cmd.Flags().Int("retries", 0, "Retries on transport errors and 429/502/503/504")
	cmd.Flags().Duration("timeout", 60*time.Second, "Per-attempt timeout")
	RootCmd.AddCommand(cmd)
}

type sendRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
}

type sendResponse struct {
	OK        bool             `json:"ok"`
	Reply     string           `json:"reply"`
	SessionID string           `json:"sessionId"`
	History   []memory.Message `json:"history"`
	Warning   string           `json:"warning,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// sendStatusError is a non-200 answer from the relay.
type sendStatusError struct {
	Status  int
	Message string
}

func (e *sendStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned status %d", e.Status)
	}
	return fmt.Sprintf("relay returned status %d: %s", e.Status, e.Message)
}

func runSend(cmd *cobra.Command, args []string) error {
	baseURL, _ := cmd.Flags().GetString("url")
	session, _ := cmd.Flags().GetString("session")
	retries, _ := cmd.Flags().GetInt("retries")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client := &http.Client{Timeout: timeout}
	req := sendRequest{Text: strings.Join(args, " "), SessionID: session}

	res, err := sendWithRetry(cmd.Context(), client, baseURL, req, retries)
	if err != nil {
		return exitErr(cmd, "send", err)
	}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		return printJSON(out, res)
	}
	fmt.Fprintln(out, res.Reply)
	if res.Warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", res.Warning)
	}
	return nil
}

func sendWithRetry(ctx context.Context, client *http.Client, baseURL string, req sendRequest, retries int) (sendResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return sendResponse{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, sendBackoffBase, sendBackoffCap)):
			}
		}
		res, err := sendOnce(ctx, client, baseURL, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryableSendError(err) {
			break
		}
	}
	return sendResponse{}, lastErr
}

func retryableSendError(err error) bool {
	var statusErr *sendStatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.Status)
	}
	return !errors.Is(err, context.Canceled)
}

func sendOnce(ctx context.Context, client *http.Client, baseURL string, req sendRequest) (sendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return sendResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/chat", bytes.NewReader(body))
	if err != nil {
		return sendResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpRes, err := client.Do(httpReq)
	if err != nil {
		return sendResponse{}, err
	}
	defer httpRes.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpRes.Body, 4<<20))
	if err != nil {
		return sendResponse{}, err
	}
	var out sendResponse
	decodeErr := json.Unmarshal(raw, &out)
	if httpRes.StatusCode != http.StatusOK {
		return sendResponse{}, &sendStatusError{Status: httpRes.StatusCode, Message: out.Error}
	}
	if decodeErr != nil {
		return sendResponse{}, fmt.Errorf("decode relay response: %w", decodeErr)
	}
	return out, nil
}
