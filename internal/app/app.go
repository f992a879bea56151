package app

import (
	"fmt"
	"strings"
	"time"

	"bookswap/pkg/auth"
	"bookswap/pkg/domain"
	"bookswap/pkg/store"

	"github.com/google/uuid"
)

const (
	maxRequestMessageLen  = 200
	defaultRequestMessage = "I am interested in this book."
)

// Notifier pushes real-time events to connected users. Delivery is
// best-effort; implementations must not block.
type Notifier interface {
	NotifyNewRequest(listerID, bookTitle, requesterName, bookID, conversationID string)
}

// noopNotifier is used when no relay hub is wired (tests, tooling).
type noopNotifier struct{}

func (noopNotifier) NotifyNewRequest(listerID, bookTitle, requesterName, bookID, conversationID string) {
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Sessions    store.SessionStore
	Notifier    Notifier
}

// App is the core application service wiring together storage, sessions
// and the exchange/chat domain logic.
type App struct {
	store    store.Store
	sessions store.SessionStore
	notifier Notifier
}

// New constructs the application with database storage and session management.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		sessionStore = store.NewMemorySessionStore()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	return &App{
		store:    dataStore,
		sessions: sessionStore,
		notifier: notifier,
	}, nil
}

// SignUp registers a new user and issues a session token.
func (a *App) SignUp(name, email, password, department string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" || password == "" {
		return domain.User{}, "", ErrNameEmailPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Department:   strings.TrimSpace(department),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout invalidates a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// GetUser retrieves a user's public profile by ID.
func (a *App) GetUser(id string) (domain.User, bool, error) {
	return a.store.GetUserByID(id)
}

// BookInput carries the caller-supplied fields of a book listing.
type BookInput struct {
	Title     string
	Author    string
	ISBN      string
	Condition domain.BookCondition
	CoverURL  string
}

// CreateBook lists a new book owned by the caller.
func (a *App) CreateBook(lister domain.User, in BookInput) (domain.Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if in.Title == "" || in.Author == "" {
		return domain.Book{}, ErrTitleRequired
	}
	if !validCondition(in.Condition) {
		return domain.Book{}, ErrInvalidCondition
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Author:    in.Author,
		ISBN:      strings.TrimSpace(in.ISBN),
		Condition: in.Condition,
		CoverURL:  strings.TrimSpace(in.CoverURL),
		Status:    domain.StatusAvailable,
		ListerID:  lister.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// ListAvailableBooks returns all books still open for requests.
func (a *App) ListAvailableBooks() ([]domain.Book, error) {
	return a.store.ListAvailableBooks()
}

// ListMyBooks returns every book the caller has listed, sold or not.
func (a *App) ListMyBooks(lister domain.User) ([]domain.Book, error) {
	return a.store.ListBooksByLister(lister.ID)
}

// GetBook retrieves a book by ID.
func (a *App) GetBook(id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// UpdateBook applies non-empty fields of in to an existing listing.
// Only the lister may update.
func (a *App) UpdateBook(caller domain.User, id string, in BookInput) (domain.Book, error) {
	book, err := a.GetBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	if book.ListerID != caller.ID {
		return domain.Book{}, ErrNotLister
	}
	if t := strings.TrimSpace(in.Title); t != "" {
		book.Title = t
	}
	if au := strings.TrimSpace(in.Author); au != "" {
		book.Author = au
	}
	if isbn := strings.TrimSpace(in.ISBN); isbn != "" {
		book.ISBN = isbn
	}
	if in.Condition != "" {
		if !validCondition(in.Condition) {
			return domain.Book{}, ErrInvalidCondition
		}
		book.Condition = in.Condition
	}
	if cover := strings.TrimSpace(in.CoverURL); cover != "" {
		book.CoverURL = cover
	}
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	return book, nil
}

// DeleteBook removes a listing. Only the lister may delete.
func (a *App) DeleteBook(caller domain.User, id string) error {
	book, err := a.GetBook(id)
	if err != nil {
		return err
	}
	if book.ListerID != caller.ID {
		return ErrNotLister
	}
	return a.store.DeleteBook(id)
}

// CreateRequest records an exchange request for a book, opens (or reuses)
// the conversation between requester and lister, posts the opening message
// and notifies the lister in real time.
func (a *App) CreateRequest(requester domain.User, bookID, message string) (domain.ExchangeRequest, error) {
	message = strings.TrimSpace(message)
	if len(message) > maxRequestMessageLen {
		return domain.ExchangeRequest{}, ErrMessageTooLong
	}
	book, err := a.GetBook(bookID)
	if err != nil {
		return domain.ExchangeRequest{}, err
	}
	if book.ListerID == requester.ID {
		return domain.ExchangeRequest{}, ErrOwnBook
	}
	if book.Status != domain.StatusAvailable {
		return domain.ExchangeRequest{}, ErrBookUnavailable
	}
	active, err := a.store.HasActiveRequest(bookID, requester.ID)
	if err != nil {
		return domain.ExchangeRequest{}, fmt.Errorf("check active request: %w", err)
	}
	if active {
		return domain.ExchangeRequest{}, ErrDuplicateRequest
	}

	now := time.Now().UTC()
	req := domain.ExchangeRequest{
		ID:          uuid.NewString(),
		BookID:      bookID,
		RequesterID: requester.ID,
		Status:      domain.RequestPending,
		Message:     message,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveRequest(req); err != nil {
		return domain.ExchangeRequest{}, fmt.Errorf("save request: %w", err)
	}

	conv, _, err := a.store.FindOrCreateConversation(bookID, requester.ID, book.ListerID)
	if err != nil {
		// The request itself stands; the conversation can be opened later.
		return req, nil
	}
	opening := message
	if opening == "" {
		opening = defaultRequestMessage
	}
	_ = a.store.AppendMessage(domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         requester.ID,
		Content:        opening,
		CreatedAt:      time.Now().UTC(),
	})
	a.notifier.NotifyNewRequest(book.ListerID, book.Title, requester.Name, bookID, conv.ID)
	return req, nil
}

// RespondToRequest settles a pending request. Accepting marks the book Sold;
// declining keeps it available. Only the book's lister may respond.
func (a *App) RespondToRequest(caller domain.User, requestID string, status domain.RequestStatus) (domain.ExchangeRequest, error) {
	if status != domain.RequestAccepted && status != domain.RequestDeclined {
		return domain.ExchangeRequest{}, ErrInvalidStatus
	}
	req, ok, err := a.store.GetRequest(requestID)
	if err != nil {
		return domain.ExchangeRequest{}, fmt.Errorf("fetch request: %w", err)
	}
	if !ok {
		return domain.ExchangeRequest{}, ErrRequestNotFound
	}
	book, err := a.GetBook(req.BookID)
	if err != nil {
		return domain.ExchangeRequest{}, err
	}
	if book.ListerID != caller.ID {
		return domain.ExchangeRequest{}, ErrNotLister
	}
	if req.Status != domain.RequestPending {
		return domain.ExchangeRequest{}, ErrRequestSettled
	}

	req.Status = status
	req.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveRequest(req); err != nil {
		return domain.ExchangeRequest{}, fmt.Errorf("update request: %w", err)
	}
	if status == domain.RequestAccepted {
		book.Status = domain.StatusSold
		book.UpdatedAt = time.Now().UTC()
		if err := a.store.SaveBook(book); err != nil {
			return domain.ExchangeRequest{}, fmt.Errorf("mark book sold: %w", err)
		}
	}
	return req, nil
}

// ReceivedRequests lists requests made against the caller's listings.
func (a *App) ReceivedRequests(lister domain.User) ([]domain.ExchangeRequest, error) {
	return a.store.ListRequestsForLister(lister.ID)
}

// SentRequests lists requests the caller has made.
func (a *App) SentRequests(requester domain.User) ([]domain.ExchangeRequest, error) {
	return a.store.ListRequestsByRequester(requester.ID)
}

// CheckRequestStatus reports the caller's most recent request for a book.
func (a *App) CheckRequestStatus(requester domain.User, bookID string) (domain.RequestStatus, bool, error) {
	req, ok, err := a.store.LatestRequest(bookID, requester.ID)
	if err != nil {
		return "", false, fmt.Errorf("fetch request: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return req.Status, true, nil
}

// MyConversations lists the caller's conversations, most recently active first.
func (a *App) MyConversations(user domain.User) ([]domain.Conversation, error) {
	return a.store.ListConversationsForUser(user.ID)
}

// ConversationDetails returns a conversation the caller participates in.
func (a *App) ConversationDetails(user domain.User, conversationID string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("fetch conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	if !conv.HasParticipant(user.ID) {
		return domain.Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// ConversationMessages returns the full history of a conversation the caller
// participates in, oldest first.
func (a *App) ConversationMessages(user domain.User, conversationID string) ([]domain.Message, error) {
	if _, err := a.ConversationDetails(user, conversationID); err != nil {
		return nil, err
	}
	return a.store.ListMessages(conversationID)
}

func validCondition(c domain.BookCondition) bool {
	switch c {
	case domain.ConditionNew, domain.ConditionGood, domain.ConditionUsed:
		return true
	}
	return false
}
