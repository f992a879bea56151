package relayclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bookswap/internal/relay"
	"bookswap/pkg/domain"
)

type fakeAuth struct {
	mu    sync.Mutex
	state AuthState
	ok    bool
	subs  map[int]func(AuthState, bool)
	next  int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{subs: make(map[int]func(AuthState, bool))}
}

func (f *fakeAuth) Current() (AuthState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.ok
}

func (f *fakeAuth) Subscribe(fn func(AuthState, bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeAuth) set(state AuthState, ok bool) {
	f.mu.Lock()
	f.state = state
	f.ok = ok
	fns := make([]func(AuthState, bool), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(state, ok)
	}
}

// refire repeats the current state to every subscriber, simulating a source
// that emits on every check rather than on changes only.
func (f *fakeAuth) refire() {
	f.mu.Lock()
	state, ok := f.state, f.ok
	fns := make([]func(AuthState, bool), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(state, ok)
	}
}

// relayStub is a scripted websocket endpoint. Each accepted connection waits
// for join, then exposes itself for the test to push events through.
type relayStub struct {
	t      *testing.T
	dials  int32
	joins  chan relay.JoinPayload
	conns  chan *websocket.Conn
	closed chan struct{}
}

func newRelayStub(t *testing.T) (*relayStub, *httptest.Server) {
	stub := &relayStub{
		t:      t,
		joins:  make(chan relay.JoinPayload, 4),
		conns:  make(chan *websocket.Conn, 4),
		closed: make(chan struct{}, 4),
	}
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || r.URL.Query().Get("token") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&stub.dials, 1)
		var event relay.Event
		if err := conn.ReadJSON(&event); err != nil || event.Name != relay.EventJoin {
			conn.Close()
			return
		}
		var join relay.JoinPayload
		_ = json.Unmarshal(event.Data, &join)
		stub.joins <- join
		stub.conns <- conn
		// Drain until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		stub.closed <- struct{}{}
	}))
	t.Cleanup(ts.Close)
	return stub, ts
}

func (s *relayStub) push(conn *websocket.Conn, name string, payload any) {
	s.t.Helper()
	event, err := relay.NewEvent(name, payload)
	if err != nil {
		s.t.Fatalf("build %s: %v", name, err)
	}
	if err := conn.WriteJSON(event); err != nil {
		s.t.Fatalf("push %s: %v", name, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientFollowsAuthState(t *testing.T) {
	stub, ts := newRelayStub(t)
	auth := newFakeAuth()
	client, err := New(ts.URL, auth, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()
	client.Start()

	// Unauthenticated: no connection is opened.
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&stub.dials); n != 0 {
		t.Fatalf("dials before login = %d, want 0", n)
	}

	// Login: connect and join as the session subject.
	auth.set(AuthState{Token: "tok-1", UserID: "user-1"}, true)
	var join relay.JoinPayload
	select {
	case join = <-stub.joins:
	case <-time.After(3 * time.Second):
		t.Fatal("no join after login")
	}
	if join.UserID != "user-1" {
		t.Fatalf("joined as %q, want user-1", join.UserID)
	}
	conn := <-stub.conns

	// Inbound events land in the cache.
	stub.push(conn, relay.EventNewNotification, domain.Notification{
		Message: "You have a new request", BookID: "book-1", RequesterName: "Bob", ConversationID: "conv-1",
	})
	stub.push(conn, relay.EventNewConversation, map[string]string{"conversationId": "conv-1"})
	stub.push(conn, relay.EventReceiveMessage, relay.MessagePayload{
		ConversationID: "conv-1", Sender: "user-2", Content: "hello",
	})

	cache := client.Cache()
	waitFor(t, "notification", func() bool {
		notifs, unread := cache.Notifications()
		return unread && len(notifs) == 1 && notifs[0].BookID == "book-1"
	})
	waitFor(t, "conversation invalidation", cache.ConversationsStale)
	waitFor(t, "message", func() bool {
		msgs := cache.Messages("conv-1")
		return len(msgs) == 1 && msgs[0].Content == "hello"
	})

	cache.MarkNotificationsRead()
	if _, unread := cache.Notifications(); unread {
		t.Fatal("unread flag survived MarkNotificationsRead")
	}

	// Repeated callback with the same state must not reconnect.
	auth.refire()
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&stub.dials); n != 1 {
		t.Fatalf("dials after refire = %d, want 1", n)
	}

	// Logout: the connection closes and the cache is cleared.
	auth.set(AuthState{}, false)
	select {
	case <-stub.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("connection not closed after logout")
	}
	waitFor(t, "cache reset", func() bool {
		notifs, _ := cache.Notifications()
		return len(notifs) == 0 && len(cache.Messages("conv-1")) == 0
	})
	if n := atomic.LoadInt32(&stub.dials); n != 1 {
		t.Fatalf("dials after logout = %d, want 1", n)
	}
}

func TestClientCloseUnsubscribes(t *testing.T) {
	stub, ts := newRelayStub(t)
	auth := newFakeAuth()
	client, err := New(ts.URL, auth, NewCache(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	client.Start()
	auth.set(AuthState{Token: "tok-1", UserID: "user-1"}, true)
	<-stub.joins
	<-stub.conns

	client.Close()
	select {
	case <-stub.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("connection not closed on Close")
	}

	// A later login flip must not resurrect the client.
	auth.set(AuthState{Token: "tok-2", UserID: "user-1"}, true)
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&stub.dials); n != 1 {
		t.Fatalf("dials after Close = %d, want 1", n)
	}
}

func TestNewRejectsBadScheme(t *testing.T) {
	if _, err := New("ftp://example.com", newFakeAuth(), nil, nil); err == nil {
		t.Fatal("ftp scheme accepted")
	}
}
