package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookswap/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and DB-less
// development; all methods satisfy Store and never fail.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	email         map[string]string // email -> user ID
	books         map[string]domain.Book
	bookOrder     []string
	requests      map[string]domain.ExchangeRequest
	requestOrder  []string
	conversations map[string]domain.Conversation
	pairKeys      map[string]string // pair key -> conversation ID
	messages      map[string][]domain.Message
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		books:         make(map[string]domain.Book),
		requests:      make(map[string]domain.ExchangeRequest),
		conversations: make(map[string]domain.Conversation),
		pairKeys:      make(map[string]string),
		messages:      make(map[string][]domain.Message),
	}
}

// users

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// books

func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListAvailableBooks returns available books, newest first.
func (m *MemoryStore) ListAvailableBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for i := len(m.bookOrder) - 1; i >= 0; i-- {
		if b, ok := m.books[m.bookOrder[i]]; ok && b.Status == domain.StatusAvailable {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListBooksByLister(listerID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for i := len(m.bookOrder) - 1; i >= 0; i-- {
		if b, ok := m.books[m.bookOrder[i]]; ok && b.ListerID == listerID {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	filtered := m.bookOrder[:0]
	for _, item := range m.bookOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.bookOrder = filtered
	return nil
}

// exchange requests

func (m *MemoryStore) SaveRequest(r domain.ExchangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[r.ID]; !exists {
		m.requestOrder = append(m.requestOrder, r.ID)
	}
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRequest(id string) (domain.ExchangeRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return r, ok, nil
}

func (m *MemoryStore) HasActiveRequest(bookID, requesterID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.BookID == bookID && r.RequesterID == requesterID &&
			(r.Status == domain.RequestPending || r.Status == domain.RequestAccepted) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListRequestsForLister(listerID string) ([]domain.ExchangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ExchangeRequest, 0)
	for i := len(m.requestOrder) - 1; i >= 0; i-- {
		r, ok := m.requests[m.requestOrder[i]]
		if !ok {
			continue
		}
		if b, ok := m.books[r.BookID]; ok && b.ListerID == listerID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListRequestsByRequester(requesterID string) ([]domain.ExchangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ExchangeRequest, 0)
	for i := len(m.requestOrder) - 1; i >= 0; i-- {
		if r, ok := m.requests[m.requestOrder[i]]; ok && r.RequesterID == requesterID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *MemoryStore) LatestRequest(bookID, requesterID string) (domain.ExchangeRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.requestOrder) - 1; i >= 0; i-- {
		if r, ok := m.requests[m.requestOrder[i]]; ok && r.BookID == bookID && r.RequesterID == requesterID {
			return r, true, nil
		}
	}
	return domain.ExchangeRequest{}, false, nil
}

// conversations

func (m *MemoryStore) FindOrCreateConversation(bookID, userA, userB string) (domain.Conversation, bool, error) {
	pair := orderedPair(userA, userB)
	key := conversationPairKey(bookID, pair)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.pairKeys[key]; ok {
		return m.conversations[id], false, nil
	}
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:           uuid.NewString(),
		BookID:       bookID,
		Participants: pair,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[conv.ID] = conv
	m.pairKeys[key] = conv.ID
	return conv, true, nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) ListConversationsForUser(userID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

// messages

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	if c, ok := m.conversations[msg.ConversationID]; ok {
		c.UpdatedAt = msg.CreatedAt
		m.conversations[msg.ConversationID] = c
	}
	return nil
}

func (m *MemoryStore) ListMessages(conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}
