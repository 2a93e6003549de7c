package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ent0n29/chatrelay/internal/chat"
	"github.com/ent0n29/chatrelay/internal/memory"
	"github.com/ent0n29/chatrelay/internal/observability"
)

const maxChatBodyBytes = 1 << 20

// chatRequest keeps both fields loosely typed so a non-string text is a
// validation failure rather than a decode failure.
type chatRequest struct {
	Text      any
	SessionID any
}

type chatResponse struct {
	OK        bool             `json:"ok"`
	Reply     string           `json:"reply"`
	SessionID string           `json:"sessionId"`
	History   []memory.Message `json:"history"`
	Warning   string           `json:"warning,omitempty"`
}

const persistWarning = "Reply was not saved to session history"

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		respondError(w, http.StatusBadRequest, "Expected application/json")
		return
	}

	req, err := decodeChatRequest(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	text, ok := req.Text.(string)
	if !ok || strings.TrimSpace(text) == "" {
		respondError(w, http.StatusBadRequest, "Missing or empty 'text' field")
		return
	}
	sessionID, _ := req.SessionID.(string)

	res, err := s.chat.HandleTurn(r.Context(), chat.TurnRequest{SessionID: sessionID, Text: text})
	if err != nil {
		if errors.Is(err, chat.ErrInvalidRequest) {
			respondError(w, http.StatusBadRequest, "Missing or empty 'text' field")
			return
		}
		observability.LoggerFromContext(r.Context()).Error("chat turn failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := chatResponse{
		OK:        true,
		Reply:     res.Reply,
		SessionID: res.SessionID,
		History:   res.History,
	}
	if out.History == nil {
		out.History = []memory.Message{}
	}
	if res.PersistErr != nil {
		out.Warning = persistWarning
	}
	respondJSON(w, http.StatusOK, out)
}

// decodeChatRequest accepts exactly one JSON value. A literal null decodes to
// an empty request and fails text validation.
func decodeChatRequest(body io.Reader) (chatRequest, error) {
	var req chatRequest
	dec := json.NewDecoder(io.LimitReader(body, maxChatBodyBytes))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return req, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return req, errors.New("trailing data after JSON body")
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return req, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		// A bare string, number or array has no text field.
		return req, nil
	}
	// Keys are matched exactly; struct decoding would also accept "TEXT".
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return req, err
	}
	if v, ok := fields["text"]; ok {
		if err := json.Unmarshal(v, &req.Text); err != nil {
			return req, err
		}
	}
	if v, ok := fields["sessionId"]; ok {
		if err := json.Unmarshal(v, &req.SessionID); err != nil {
			return req, err
		}
	}
	return req, nil
}
