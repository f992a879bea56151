package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"bookswap/pkg/domain"
)

type recordingStore struct {
	mu       sync.Mutex
	messages []domain.Message
	fail     error
}

func (s *recordingStore) AppendMessage(m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *recordingStore) saved() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

type chanSink struct {
	events chan Event
}

func newChanSink() *chanSink {
	return &chanSink{events: make(chan Event, 16)}
}

func (c *chanSink) deliver(event Event) bool {
	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}

func (c *chanSink) drain() []Event {
	var out []Event
	for {
		select {
		case event := <-c.events:
			out = append(out, event)
		default:
			return out
		}
	}
}

func joinSink(t *testing.T, h *Hub, userID, connID string) *chanSink {
	t.Helper()
	sink := newChanSink()
	h.bind(connID, sink)
	if !h.Join(connID, userID) {
		t.Fatalf("join %s/%s should insert", userID, connID)
	}
	return sink
}

func TestSendMessageDeliversToConnectedReceiver(t *testing.T) {
	store := &recordingStore{}
	h := NewHub(store, nil)
	sink := joinSink(t, h, "bob", "conn-b")

	before := time.Now().UTC()
	msg, err := h.SendMessage(context.Background(), "conv-1", "alice", "bob", "hi bob")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.CreatedAt.Before(before) {
		t.Fatalf("server timestamp %v earlier than request time %v", msg.CreatedAt, before)
	}

	events := sink.drain()
	if len(events) != 1 || events[0].Name != EventReceiveMessage {
		t.Fatalf("expected one receiveMessage event, got %+v", events)
	}
	var payload MessagePayload
	if err := json.Unmarshal(events[0].Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ConversationID != "conv-1" || payload.Sender != "alice" || payload.Content != "hi bob" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.CreatedAt.Before(before) {
		t.Fatalf("payload timestamp earlier than request time")
	}
}

func TestSendMessagePersistsForOfflineReceiver(t *testing.T) {
	store := &recordingStore{}
	h := NewHub(store, nil)

	if _, err := h.SendMessage(context.Background(), "conv-1", "alice", "bob", "catch up later"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	saved := store.saved()
	if len(saved) != 1 {
		t.Fatalf("message should persist regardless of delivery, got %d", len(saved))
	}
	if saved[0].Content != "catch up later" || saved[0].Sender != "alice" {
		t.Fatalf("unexpected persisted message: %+v", saved[0])
	}
}

func TestSendMessageAbortsOnPersistenceFailure(t *testing.T) {
	store := &recordingStore{fail: errors.New("db down")}
	h := NewHub(store, nil)
	sink := joinSink(t, h, "bob", "conn-b")

	if _, err := h.SendMessage(context.Background(), "conv-1", "alice", "bob", "lost"); err == nil {
		t.Fatalf("expected persistence error")
	}
	if events := sink.drain(); len(events) != 0 {
		t.Fatalf("unpersisted message must not be delivered, got %+v", events)
	}
}

func TestNotifyNewRequestPushesNotificationAndHint(t *testing.T) {
	h := NewHub(&recordingStore{}, nil)
	sink := joinSink(t, h, "lister", "conn-l")

	h.NotifyNewRequest("lister", "Calculus I", "Alice", "book-1", "conv-1")

	events := sink.drain()
	if len(events) != 2 {
		t.Fatalf("expected exactly two events, got %d: %+v", len(events), events)
	}
	if events[0].Name != EventNewNotification || events[1].Name != EventNewConversation {
		t.Fatalf("unexpected event order: %q, %q", events[0].Name, events[1].Name)
	}
	var n domain.Notification
	if err := json.Unmarshal(events[0].Data, &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.BookID != "book-1" || n.RequesterName != "Alice" || n.ConversationID != "conv-1" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestNotifyNewRequestOfflineIsNoop(t *testing.T) {
	h := NewHub(&recordingStore{}, nil)
	// No join: nothing should be delivered and nothing should panic.
	h.NotifyNewRequest("lister", "Calculus I", "Alice", "book-1", "conv-1")
}

func TestJoinTwiceProducesNoDuplicateEvents(t *testing.T) {
	h := NewHub(&recordingStore{}, nil)
	sink := joinSink(t, h, "lister", "conn-l")
	if h.Join("conn-l", "lister") {
		t.Fatalf("second join should be an idempotent no-op")
	}
	if h.Registry().Len() != 1 {
		t.Fatalf("duplicate join created extra registry entries")
	}

	h.NotifyNewRequest("lister", "Calculus I", "Alice", "book-1", "conv-1")
	if events := sink.drain(); len(events) != 2 {
		t.Fatalf("expected one notification and one hint after duplicate join, got %d", len(events))
	}
}

func TestDisconnectStopsDelivery(t *testing.T) {
	store := &recordingStore{}
	h := NewHub(store, nil)
	sink := joinSink(t, h, "bob", "conn-b")

	h.Disconnect("conn-b")
	if _, ok := h.Registry().Lookup("bob"); ok {
		t.Fatalf("registry entry should be gone after disconnect")
	}

	if _, err := h.SendMessage(context.Background(), "conv-1", "alice", "bob", "anyone there"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if events := sink.drain(); len(events) != 0 {
		t.Fatalf("no delivery expected after disconnect, got %+v", events)
	}
	if len(store.saved()) != 1 {
		t.Fatalf("message should still persist after receiver disconnect")
	}
}

func TestConcurrentSendsAllPersist(t *testing.T) {
	store := &recordingStore{}
	h := NewHub(store, nil)
	joinSink(t, h, "bob", "conn-b")

	const senders = 16
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.SendMessage(context.Background(), "conv-1", "alice", "bob", "ping"); err != nil {
				t.Errorf("send message: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := len(store.saved()); got != senders {
		t.Fatalf("expected %d persisted messages, got %d", senders, got)
	}
}
