// Package relay implements the real-time presence, notification, and chat
// relay: a process-wide registry of live connections, per-connection presence
// sessions, and best-effort event delivery to whoever is online. Message
// history stays authoritative in the store; the relay only shortens the path
// for connected recipients.
package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire event names. These are the contract with clients.
const (
	// client -> server
	EventJoin        = "join"
	EventSendMessage = "sendMessage"

	// server -> client
	EventNewNotification = "new_notification"
	EventNewConversation = "new_conversation"
	EventReceiveMessage  = "receiveMessage"
)

// Event is the JSON envelope exchanged over the websocket.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent wraps a payload into an envelope.
func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// JoinPayload claims an identity for the connection.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload is a chat message submitted by a client.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
}

// MessagePayload is a chat message pushed to a connected recipient.
type MessagePayload struct {
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
