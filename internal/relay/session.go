package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookswap/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	sendTimeout    = 10 * time.Second
)

// Session is a single live connection working through the state machine
// Connected(anonymous) -> Joined(userID) -> Closed. The websocket upgrade is
// authenticated, so the subject the connection may claim is fixed up front.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	userID string // authenticated subject; the only identity join may claim
	logger *slog.Logger

	send      chan Event
	closeOnce sync.Once
	done      chan struct{}

	joined bool // read/written only by the read pump
}

// NewSession binds a freshly upgraded connection to the hub in the anonymous
// state. No registry entry exists until the client sends join.
func NewSession(hub *Hub, conn *websocket.Conn, userID string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		hub:    hub,
		conn:   conn,
		id:     util.NewID(),
		userID: userID,
		logger: logger,
		send:   make(chan Event, sendBuffer),
		done:   make(chan struct{}),
	}
	hub.bind(s.id, s)
	return s
}

// ID returns the connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Run pumps the connection until it closes for any reason, then releases the
// registry entry. It blocks; the caller owns the handler goroutine.
func (s *Session) Run() {
	go s.writePump()
	s.readPump()
}

// deliver enqueues an event without blocking. A full buffer drops the event;
// the client recovers from history on its next fetch.
func (s *Session) deliver(event Event) bool {
	select {
	case s.send <- event:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", "conn_id", s.id, "err", err)
			}
			return
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			s.logger.Warn("malformed event", "conn_id", s.id, "err", err)
			continue
		}
		s.handleEvent(event)
	}
}

func (s *Session) handleEvent(event Event) {
	switch event.Name {
	case EventJoin:
		var payload JoinPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			s.logger.Warn("malformed join payload", "conn_id", s.id, "err", err)
			return
		}
		s.handleJoin(payload.UserID)
	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			s.logger.Warn("malformed sendMessage payload", "conn_id", s.id, "err", err)
			return
		}
		s.handleSendMessage(payload)
	default:
		s.logger.Warn("unknown event", "conn_id", s.id, "event", event.Name)
	}
}

// handleJoin claims the authenticated identity for this connection. A
// re-claim with the same id is harmless. A claim for a different id than the
// token subject is rejected and logged; the connection stays in its current
// state.
func (s *Session) handleJoin(claimed string) {
	if claimed != s.userID {
		s.logger.Warn("security_event",
			"event", "relay.join", "outcome", "fail",
			"reason", "identity_mismatch",
			"conn_id", s.id, "claimed", claimed, "subject", s.userID)
		return
	}
	s.hub.Join(s.id, s.userID)
	s.joined = true
}

func (s *Session) handleSendMessage(payload SendMessagePayload) {
	if payload.SenderID != s.userID {
		s.logger.Warn("security_event",
			"event", "relay.send", "outcome", "fail",
			"reason", "sender_mismatch",
			"conn_id", s.id, "sender", payload.SenderID, "subject", s.userID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	// Persistence failures are logged inside the hub; the send is abandoned
	// with no error event back to the sender.
	_, _ = s.hub.SendMessage(ctx, payload.ConversationID, payload.SenderID, payload.ReceiverID, payload.Content)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case event := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close is terminal: the registry entry and sink binding go away regardless
// of which state the session was in.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.Disconnect(s.id)
		_ = s.conn.Close()
	})
}
