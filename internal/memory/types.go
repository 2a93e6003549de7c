package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrStorageUnavailable reports that a session log could not be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidMessage reports a malformed append (unknown role, empty session key).
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is a single entry of a conversation log. It is never mutated after
// being appended.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func UserMessage(text string) Message { return Message{Role: RoleUser, Text: text} }

func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Text: text} }

func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("%w: unsupported role %q", ErrInvalidMessage, m.Role)
	}
}

// Store owns one append-only message log per session key.
//
// Operations against the same key are executed one at a time in arrival
// order; operations against different keys proceed independently.
type Store interface {
	Append(ctx context.Context, sessionKey string, msg Message) error
	List(ctx context.Context, sessionKey string) ([]Message, error)
	Close() error
}

// Backend persists whole session logs. Implementations need not coordinate
// writers of the same key: SessionStore guarantees a single writer per key.
type Backend interface {
	Load(ctx context.Context, sessionKey string) ([]Message, error)
	Save(ctx context.Context, sessionKey string, log []Message) error
	Close() error
}

func validateKey(sessionKey string) error {
	if strings.TrimSpace(sessionKey) == "" {
		return fmt.Errorf("%w: empty session key", ErrInvalidMessage)
	}
	return nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func cloneLog(log []Message) []Message {
	out := make([]Message, len(log))
	copy(out, log)
	return out
}
