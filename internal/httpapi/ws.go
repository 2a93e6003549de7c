package httpapi

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/chatrelay/internal/chat"
	"github.com/ent0n29/chatrelay/internal/memory"
	"github.com/ent0n29/chatrelay/internal/observability"
	"github.com/ent0n29/chatrelay/internal/protocol"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS runs one chat turn per chat_turn frame. Turns from a single
// connection run in the order they were received.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := observability.LoggerFromContext(r.Context())
	log.Info("websocket connected", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(outbound)
		for msg := range inbound {
			reply := s.handleClientMessage(ctx, msg)
			if reply == nil {
				continue
			}
			select {
			case outbound <- reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("websocket write failed", "error", err)
				cancel()
				_ = conn.Close()
				// Keep draining so the turn runner never blocks on a dead socket.
				continue
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ObserveWSMessage("inbound", "invalid")
			parsed = protocol.NewErrorEvent("", protocol.CodeInvalidClientMessage, err.Error())
		} else if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	<-writerDone
	log.Info("websocket disconnected")
}

// handleClientMessage turns one inbound frame into the frame to send back.
func (s *Server) handleClientMessage(ctx context.Context, msg any) any {
	switch m := msg.(type) {
	case protocol.ErrorEvent:
		return m
	case protocol.ClientControl:
		if m.Action == "ping" {
			return protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"}
		}
		return protocol.NewErrorEvent("", protocol.CodeInvalidClientMessage, "unsupported action "+m.Action)
	case protocol.ChatTurn:
		return s.runSocketTurn(ctx, m)
	default:
		return nil
	}
}

// runSocketTurn never lets a panic escape: the turn runner goroutine sits
// outside the HTTP recover middleware.
func (s *Server) runSocketTurn(ctx context.Context, m protocol.ChatTurn) (reply any) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		observability.LoggerFromContext(ctx).Error("panic during websocket turn",
			"ws_request_id", m.RequestID,
			"panic", rec,
			"stack", string(debug.Stack()),
		)
		reply = protocol.NewErrorEvent(m.RequestID, protocol.CodeInternalError, "Internal server error")
	}()

	res, err := s.chat.HandleTurn(ctx, chat.TurnRequest{SessionID: m.SessionID, Text: m.Text})
	if err != nil {
		if errors.Is(err, chat.ErrInvalidRequest) {
			return protocol.NewErrorEvent(m.RequestID, protocol.CodeInvalidRequest, "Missing or empty 'text' field")
		}
		observability.LoggerFromContext(ctx).Error("chat turn failed", "error", err, "ws_request_id", m.RequestID)
		return protocol.NewErrorEvent(m.RequestID, protocol.CodeInternalError, "Internal server error")
	}

	out := protocol.ChatReply{
		Type:      protocol.TypeChatReply,
		RequestID: m.RequestID,
		TurnID:    res.TurnID,
		SessionID: res.SessionID,
		Reply:     res.Reply,
		History:   historyEntries(res.History),
	}
	if res.PersistErr != nil {
		out.Warning = persistWarning
	}
	return out
}

func historyEntries(log []memory.Message) []protocol.HistoryEntry {
	out := make([]protocol.HistoryEntry, len(log))
	for i, m := range log {
		out[i] = protocol.HistoryEntry{Role: string(m.Role), Text: m.Text}
	}
	return out
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatTurn:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ChatReply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
