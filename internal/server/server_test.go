package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"bookswap/internal/app"
	"bookswap/internal/relay"
	"bookswap/pkg/domain"
	"bookswap/pkg/store"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*httptest.Server, *relay.Hub) {
	t.Helper()
	dataStore := store.NewMemoryStore()
	hub := relay.NewHub(dataStore, nil)
	a, err := app.New(app.Config{
		Store:    dataStore,
		Sessions: store.NewMemorySessionStore(),
		Notifier: hub,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a, Hub: hub}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, hub
}

func doJSON(t *testing.T, method, url, token string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

type authResult struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func signUpHTTP(t *testing.T, ts *httptest.Server, name, email string) authResult {
	t.Helper()
	var out authResult
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": "secret1", "department": "CS",
	}, &out)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d", email, resp.StatusCode)
	}
	return out
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/books")
	if err != nil {
		t.Fatalf("GET /api/books: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/books", "not-a-token", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus token: status %d, want 401", resp.StatusCode)
	}
}

func TestSignupLoginMe(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	signed := signUpHTTP(t, ts, "Alice", "alice@example.com")

	var me domain.User
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/users/me", signed.Token, nil, &me)
	if resp.StatusCode != http.StatusOK || me.Email != "alice@example.com" {
		t.Fatalf("me: status %d, user %+v", resp.StatusCode, me)
	}

	var login authResult
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret1",
	}, &login)
	if resp.StatusCode != http.StatusOK || login.Token == "" {
		t.Fatalf("login: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/logout", login.Token, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/users/me", login.Token, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: status %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
		"name": "Alice2", "email": "alice@example.com", "password": "secret1",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup: status %d, want 409", resp.StatusCode)
	}
}

func TestBookAndRequestFlow(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	alice := signUpHTTP(t, ts, "Alice", "alice@example.com")
	bob := signUpHTTP(t, ts, "Bob", "bob@example.com")

	var book domain.Book
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/books", alice.Token, map[string]string{
		"title": "SICP", "author": "Abelson", "condition": "Good",
	}, &book)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create book: status %d", resp.StatusCode)
	}

	var listing struct {
		Items []domain.Book `json:"items"`
		Count int           `json:"count"`
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/books", bob.Token, nil, &listing)
	if resp.StatusCode != http.StatusOK || listing.Count != 1 {
		t.Fatalf("list books: status %d, count %d", resp.StatusCode, listing.Count)
	}

	var created domain.ExchangeRequest
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/requests", bob.Token, map[string]string{
		"bookId": book.ID, "message": "still available?",
	}, &created)
	if resp.StatusCode != http.StatusCreated || created.Status != domain.RequestPending {
		t.Fatalf("create request: status %d, %+v", resp.StatusCode, created)
	}

	// Requesting your own book is rejected.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/requests", alice.Token, map[string]string{
		"bookId": book.ID,
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("own book request: status %d, want 400", resp.StatusCode)
	}
	// A second active request conflicts.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/requests", bob.Token, map[string]string{
		"bookId": book.ID,
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate request: status %d, want 409", resp.StatusCode)
	}

	var check struct {
		Requested bool   `json:"requested"`
		Status    string `json:"status"`
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/requests/check?bookId="+book.ID, bob.Token, nil, &check)
	if resp.StatusCode != http.StatusOK || !check.Requested || check.Status != "Pending" {
		t.Fatalf("check request: status %d, %+v", resp.StatusCode, check)
	}

	// Only the lister may respond.
	resp = doJSON(t, http.MethodPatch, ts.URL+"/api/requests/"+created.ID, bob.Token, map[string]string{
		"status": "Accepted",
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("requester responding: status %d, want 403", resp.StatusCode)
	}
	var settled domain.ExchangeRequest
	resp = doJSON(t, http.MethodPatch, ts.URL+"/api/requests/"+created.ID, alice.Token, map[string]string{
		"status": "Accepted",
	}, &settled)
	if resp.StatusCode != http.StatusOK || settled.Status != domain.RequestAccepted {
		t.Fatalf("respond: status %d, %+v", resp.StatusCode, settled)
	}

	var sold domain.Book
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/books/"+book.ID, bob.Token, nil, &sold)
	if resp.StatusCode != http.StatusOK || sold.Status != domain.StatusSold {
		t.Fatalf("book after accept: status %d, %+v", resp.StatusCode, sold)
	}

	// Sold books disappear from the public listing.
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/books", bob.Token, nil, &listing)
	if resp.StatusCode != http.StatusOK || listing.Count != 0 {
		t.Fatalf("list after accept: status %d, count %d", resp.StatusCode, listing.Count)
	}
}

func TestConversationEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	alice := signUpHTTP(t, ts, "Alice", "alice@example.com")
	bob := signUpHTTP(t, ts, "Bob", "bob@example.com")
	carol := signUpHTTP(t, ts, "Carol", "carol@example.com")

	var book domain.Book
	doJSON(t, http.MethodPost, ts.URL+"/api/books", alice.Token, map[string]string{
		"title": "SICP", "author": "Abelson", "condition": "Used",
	}, &book)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/requests", bob.Token, map[string]string{
		"bookId": book.ID,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create request: status %d", resp.StatusCode)
	}

	var inbox struct {
		Items []domain.Conversation `json:"items"`
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/chat/conversations", alice.Token, nil, &inbox)
	if resp.StatusCode != http.StatusOK || len(inbox.Items) != 1 {
		t.Fatalf("inbox: status %d, items %d", resp.StatusCode, len(inbox.Items))
	}
	convID := inbox.Items[0].ID

	var msgs struct {
		Items []domain.Message `json:"items"`
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/chat/conversations/"+convID+"/messages", bob.Token, nil, &msgs)
	if resp.StatusCode != http.StatusOK || len(msgs.Items) != 1 {
		t.Fatalf("messages: status %d, items %d", resp.StatusCode, len(msgs.Items))
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/chat/conversations/"+convID, carol.Token, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider details: status %d, want 403", resp.StatusCode)
	}
}

func TestSignupRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	ts, _ := newTestServer(t, func(cfg *Config) {
		cfg.RedisAddr = redis.Addr()
		cfg.SignupRateLimitPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
			"name": "U", "email": fmt.Sprintf("u%d@example.com", i), "password": "secret1",
		}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("signup %d: status %d", i, resp.StatusCode)
		}
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
		"name": "U", "email": "u3@example.com", "password": "secret1",
	}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third signup: status %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}
