package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookswap/pkg/domain"
)

// MessageStore is the persistence collaborator for relayed chat messages.
type MessageStore interface {
	AppendMessage(domain.Message) error
}

// eventSink delivers an event to one live connection. deliver must not
// block; it reports false when the event was dropped.
type eventSink interface {
	deliver(Event) bool
}

// Hub routes events to live connections. It owns the Registry and the
// connection table; handlers on different connections call into it
// concurrently.
type Hub struct {
	registry *Registry
	store    MessageStore
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]eventSink // connection ID -> sink
}

// NewHub constructs a hub around the given message store.
func NewHub(store MessageStore, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: NewRegistry(),
		store:    store,
		logger:   logger,
		conns:    make(map[string]eventSink),
	}
}

// Registry exposes the presence table.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// bind attaches an open, not-yet-joined connection.
func (h *Hub) bind(connID string, s eventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = s
}

// Join claims userID for the connection. Re-claims are idempotent; the
// result only reports whether this call inserted the record.
func (h *Hub) Join(connID, userID string) bool {
	added := h.registry.Add(userID, connID)
	if added {
		h.logger.Info("user joined", "user_id", userID, "conn_id", connID)
	}
	return added
}

// Disconnect tears down a connection from any state: the registry entry (if
// one exists) and the sink are removed.
func (h *Hub) Disconnect(connID string) {
	if userID, ok := h.registry.Remove(connID); ok {
		h.logger.Info("user left", "user_id", userID, "conn_id", connID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
}

// SendMessage persists the message and forwards it to the receiver when
// online.
//
// Persistence comes first and is unconditional: a message that cannot be
// stored is not delivered, because conversation history is authoritative.
// Delivery is at-most-once and skipped silently for offline receivers; they
// catch up from history. The registry lock is never held across the store
// call.
func (h *Hub) SendMessage(ctx context.Context, conversationID, senderID, receiverID, content string) (domain.Message, error) {
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.AppendMessage(msg); err != nil {
		h.logger.Error("persist message failed, delivery skipped",
			"conversation_id", conversationID, "sender", senderID, "err", err)
		return domain.Message{}, fmt.Errorf("persist message: %w", err)
	}

	event, err := NewEvent(EventReceiveMessage, MessagePayload{
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return msg, nil
	}
	h.push(receiverID, event)
	return msg, nil
}

// NotifyNewRequest pushes a request notification and a conversation-list
// hint to the lister's live connection. Offline lister or a lost race with a
// disconnect is a no-op: the persisted request and conversation are the
// source of truth and notification never gates them.
func (h *Hub) NotifyNewRequest(listerID, bookTitle, requesterName, bookID, conversationID string) {
	notification, err := NewEvent(EventNewNotification, domain.Notification{
		Message:        fmt.Sprintf("You have a new request for %q from %s.", bookTitle, requesterName),
		BookID:         bookID,
		RequesterName:  requesterName,
		ConversationID: conversationID,
	})
	if err != nil {
		h.logger.Warn("encode notification failed", "err", err)
		return
	}
	hint, _ := NewEvent(EventNewConversation, nil)
	h.push(listerID, notification, hint)
}

// push delivers events to the user's connection when one is registered.
// Dropped events are logged and forgotten; there is no queue or retry.
func (h *Hub) push(userID string, events ...Event) {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		return
	}
	h.mu.RLock()
	sink, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	for _, event := range events {
		if !sink.deliver(event) {
			h.logger.Warn("event dropped",
				"event", event.Name, "user_id", userID, "conn_id", connID)
		}
	}
}
