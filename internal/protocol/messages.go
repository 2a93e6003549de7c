package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatTurn      MessageType = "chat_turn"
	TypeClientControl MessageType = "client_control"
	TypeChatReply     MessageType = "chat_reply"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Error codes carried by ErrorEvent.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInternalError        = "internal_error"
	CodeInvalidClientMessage = "invalid_client_message"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid client message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatTurn is one user message sent over the socket. Text is validated by
// the chat service, not here, so blank text yields an invalid_request error
// event rather than a protocol error.
type ChatTurn struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Text      string      `json:"text"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// HistoryEntry mirrors a stored message on the wire.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type ChatReply struct {
	Type      MessageType    `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	TurnID    string         `json:"turn_id"`
	SessionID string         `json:"session_id"`
	Reply     string         `json:"reply"`
	History   []HistoryEntry `json:"history"`
	Warning   string         `json:"warning,omitempty"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

func NewErrorEvent(requestID, code, detail string) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, RequestID: requestID, Code: code, Detail: detail}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrInvalidMessage, err)
	}

	switch env.Type {
	case TypeChatTurn:
		var msg ChatTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: chat_turn: %v", ErrInvalidMessage, err)
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: client_control: %v", ErrInvalidMessage, err)
		}
		msg.Action = strings.TrimSpace(msg.Action)
		if msg.Action == "" {
			return nil, fmt.Errorf("%w: client_control without action", ErrInvalidMessage)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
