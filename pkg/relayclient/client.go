// Package relayclient maintains a websocket subscription to the relay that
// follows the caller's authentication state: it connects and joins when a
// session begins, feeds inbound events into a local cache, and tears the
// connection down when the session ends.
package relayclient

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookswap/internal/relay"
	"bookswap/pkg/domain"
)

const (
	dialTimeout    = 10 * time.Second
	redialDelay    = 2 * time.Second
	clientPongWait = 60 * time.Second
)

// AuthState is the credential pair the relay needs.
type AuthState struct {
	Token  string
	UserID string
}

// AuthSource exposes the current session and change notifications. Subscribe
// returns an unsubscribe func. Callbacks may fire with an unchanged state;
// the client ignores those.
type AuthSource interface {
	Current() (AuthState, bool)
	Subscribe(fn func(state AuthState, authenticated bool)) (unsubscribe func())
}

// Client is the subscription controller. One instance follows one AuthSource.
type Client struct {
	wsURL  string
	auth   AuthSource
	cache  *Cache
	logger *slog.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	wmu    sync.Mutex
	conn   *websocket.Conn
	gen    int
	token  string
	authed bool
	closed bool
	unsub  func()
}

// New constructs a client for the relay at baseURL (http or https scheme;
// it is rewritten to the websocket scheme).
func New(baseURL string, auth AuthSource, cache *Cache, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	if cache == nil {
		cache = NewCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		wsURL:  u.String(),
		auth:   auth,
		cache:  cache,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}, nil
}

// Cache returns the event cache the client feeds.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Start subscribes to auth changes and opens a connection if a session is
// already active.
func (c *Client) Start() {
	c.unsub = c.auth.Subscribe(c.onAuthChange)
	if state, ok := c.auth.Current(); ok {
		c.onAuthChange(state, true)
	}
}

// Close tears down the subscription and any open connection.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	conn := c.conn
	c.conn = nil
	unsub := c.unsub
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if unsub != nil {
		unsub()
	}
}

// SendMessage relays a chat message over the live connection.
func (c *Client) SendMessage(conversationID, receiverID, content string) error {
	c.mu.Lock()
	conn := c.conn
	state, ok := c.auth.Current()
	c.mu.Unlock()
	if conn == nil || !ok {
		return fmt.Errorf("not connected")
	}
	event, err := relay.NewEvent(relay.EventSendMessage, relay.SendMessagePayload{
		ConversationID: conversationID,
		SenderID:       state.UserID,
		ReceiverID:     receiverID,
		Content:        content,
	})
	if err != nil {
		return err
	}
	return c.writeJSON(conn, event)
}

// onAuthChange reacts only to actual session flips. Repeated callbacks with
// the same state are no-ops.
func (c *Client) onAuthChange(state AuthState, authenticated bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if authenticated == c.authed && (!authenticated || state.Token == c.token) {
		c.mu.Unlock()
		return
	}
	c.authed = authenticated
	c.token = state.Token
	c.gen++
	gen := c.gen
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if authenticated {
		go c.run(gen, state)
	} else {
		c.cache.Reset()
	}
}

// run owns the connection for one session generation, redialing on failure
// until the generation is superseded.
func (c *Client) run(gen int, state AuthState) {
	for {
		if c.stale(gen) {
			return
		}
		conn, err := c.connect(gen, state)
		if err != nil {
			c.logger.Warn("relay connect failed", "err", err)
			time.Sleep(redialDelay)
			continue
		}
		if conn == nil {
			return
		}
		c.readLoop(conn)
		if c.stale(gen) {
			return
		}
		c.logger.Info("relay connection lost, redialing")
		time.Sleep(redialDelay)
	}
}

func (c *Client) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.gen != gen
}

// connect dials, registers the connection and sends join. A nil conn with
// nil error means the generation went stale during the dial.
func (c *Client) connect(gen int, state AuthState) (*websocket.Conn, error) {
	conn, _, err := c.dialer.Dial(c.wsURL+"?token="+url.QueryEscape(state.Token), nil)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		conn.Close()
		return nil, nil
	}
	c.conn = conn
	c.mu.Unlock()

	join, err := relay.NewEvent(relay.EventJoin, relay.JoinPayload{UserID: state.UserID})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.writeJSON(conn, join); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(clientPongWait))
		return c.writeControl(conn, websocket.PongMessage, []byte(appData))
	})
	for {
		var event relay.Event
		if err := conn.ReadJSON(&event); err != nil {
			return
		}
		c.dispatch(event)
	}
}

func (c *Client) writeControl(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteControl(messageType, data, time.Now().Add(time.Second))
}

func (c *Client) dispatch(event relay.Event) {
	switch event.Name {
	case relay.EventNewNotification:
		var n domain.Notification
		if err := json.Unmarshal(event.Data, &n); err != nil {
			c.logger.Warn("malformed notification", "err", err)
			return
		}
		c.cache.addNotification(n)
	case relay.EventNewConversation:
		c.cache.invalidateConversations()
	case relay.EventReceiveMessage:
		var m relay.MessagePayload
		if err := json.Unmarshal(event.Data, &m); err != nil {
			c.logger.Warn("malformed message", "err", err)
			return
		}
		c.cache.appendMessage(m)
	default:
		c.logger.Warn("unknown relay event", "event", event.Name)
	}
}
