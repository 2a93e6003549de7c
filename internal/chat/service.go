package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/ent0n29/chatrelay/internal/inference"
	"github.com/ent0n29/chatrelay/internal/memory"
	"github.com/ent0n29/chatrelay/internal/observability"
	"github.com/ent0n29/chatrelay/internal/policy"
)

// DefaultSessionID stands in for requests that name no session.
const DefaultSessionID = "default-session"

// ErrInvalidRequest reports input rejected before any side effect.
var ErrInvalidRequest = errors.New("invalid request")

// Store is the part of the session memory store a turn needs.
type Store interface {
	Append(ctx context.Context, sessionKey string, msg memory.Message) error
	List(ctx context.Context, sessionKey string) ([]memory.Message, error)
}

// Replier produces the assistant reply for a history plus the new user text.
type Replier interface {
	Reply(ctx context.Context, history []memory.Message, text string) (string, error)
}

// TurnRequest is one inbound chat message.
type TurnRequest struct {
	SessionID string
	Text      string
}

// TurnResult is what a completed turn returns to the caller.
type TurnResult struct {
	TurnID    string
	SessionID string
	Reply     string
	// History is the log as read before inference; it ends with the user
	// message of this turn and does not include Reply.
	History []memory.Message
	// PersistErr is set when the reply could not be appended. The reply is
	// still returned.
	PersistErr error
}

// Service runs chat turns. It holds no per-session state and takes no locks:
// ordering within a session is the store's job.
type Service struct {
	store            Store
	replier          Replier
	metrics          *observability.Metrics
	defaultSessionID string
	newTurnID        func() string
}

type Option func(*Service)

// WithDefaultSessionID overrides DefaultSessionID.
func WithDefaultSessionID(id string) Option {
	return func(s *Service) {
		if strings.TrimSpace(id) != "" {
			s.defaultSessionID = id
		}
	}
}

func NewService(store Store, replier Replier, metrics *observability.Metrics, opts ...Option) *Service {
	s := &Service{
		store:            store,
		replier:          replier,
		metrics:          metrics,
		defaultSessionID: DefaultSessionID,
		newTurnID:        func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveSessionID returns the caller's session or the default one. A blank or
// whitespace-only id counts as absent, so "" never names a session of its own.
func (s *Service) ResolveSessionID(sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		return s.defaultSessionID
	}
	return sessionID
}

// HandleTurn appends the user message, reads the history, asks for a reply
// and appends it. A failed user append or inference aborts the turn; a failed
// reply append is reported through TurnResult.PersistErr.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	t := s.startTurn(ctx)

	if strings.TrimSpace(req.Text) == "" {
		return TurnResult{}, t.fail("invalid_request", fmt.Errorf("%w: missing or empty text", ErrInvalidRequest))
	}
	sessionID := s.ResolveSessionID(req.SessionID)
	t.log = t.log.With("session_id", sessionID)
	t.log.Info("turn started", "text_preview", policy.LogPreview(req.Text, 80))

	t.enter(stageAppendingUser)
	if err := s.store.Append(ctx, sessionID, memory.UserMessage(req.Text)); err != nil {
		return TurnResult{}, t.fail("storage_unavailable", storageFailure("append user message", err))
	}

	t.enter(stageListing)
	history, err := s.store.List(ctx, sessionID)
	if err != nil {
		return TurnResult{}, t.fail("storage_unavailable", storageFailure("list history", err))
	}

	t.enter(stageInferring)
	reply, err := s.replier.Reply(ctx, history, req.Text)
	if err != nil {
		return TurnResult{}, t.fail("inference_failure", inferenceFailure(err))
	}

	t.enter(stageAppendingAssistant)
	result := TurnResult{
		TurnID:    t.id,
		SessionID: sessionID,
		Reply:     reply,
		History:   history,
	}
	if err := s.store.Append(ctx, sessionID, memory.AssistantMessage(reply)); err != nil {
		result.PersistErr = storageFailure("append assistant message", err)
		t.log.Error("assistant reply not persisted", "error", result.PersistErr)
		s.metrics.ObserveTurnIndicator("assistant_not_persisted")
		t.done("ok_not_persisted")
		return result, nil
	}

	t.done("ok")
	return result, nil
}

func storageFailure(op string, err error) error {
	if errors.Is(err, memory.ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", memory.ErrStorageUnavailable, op, err)
}

func inferenceFailure(err error) error {
	if errors.Is(err, inference.ErrInferenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", inference.ErrInferenceFailure, err)
}
