package relayclient

import (
	"sync"

	"bookswap/internal/relay"
	"bookswap/pkg/domain"
)

// Cache holds the client-side view fed by the relay: received notifications,
// per-conversation live messages and a staleness flag for the conversation
// list. It is safe for concurrent use.
type Cache struct {
	mu            sync.RWMutex
	notifications []domain.Notification
	unread        bool
	messages      map[string][]relay.MessagePayload
	convsStale    bool
}

func NewCache() *Cache {
	return &Cache{messages: make(map[string][]relay.MessagePayload)}
}

func (c *Cache) addNotification(n domain.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, n)
	c.unread = true
}

func (c *Cache) appendMessage(m relay.MessagePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[m.ConversationID] = append(c.messages[m.ConversationID], m)
}

func (c *Cache) invalidateConversations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convsStale = true
}

// Notifications returns received notifications, newest last, and whether any
// arrived since the last MarkNotificationsRead.
func (c *Cache) Notifications() ([]domain.Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Notification, len(c.notifications))
	copy(out, c.notifications)
	return out, c.unread
}

func (c *Cache) MarkNotificationsRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread = false
}

// Messages returns live messages received for a conversation, oldest first.
func (c *Cache) Messages(conversationID string) []relay.MessagePayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[conversationID]
	out := make([]relay.MessagePayload, len(msgs))
	copy(out, msgs)
	return out
}

// ConversationsStale reports whether the conversation list should be
// refetched from the server.
func (c *Cache) ConversationsStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.convsStale
}

func (c *Cache) MarkConversationsFresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convsStale = false
}

// Reset drops all cached state. Called when the session ends.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = nil
	c.unread = false
	c.messages = make(map[string][]relay.MessagePayload)
	c.convsStale = false
}
