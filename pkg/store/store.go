package store

import "bookswap/pkg/domain"

// Store defines persistence operations for users, books, exchange requests,
// conversations, and messages.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// books
	SaveBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListAvailableBooks() ([]domain.Book, error)
	ListBooksByLister(listerID string) ([]domain.Book, error)
	DeleteBook(id string) error

	// exchange requests
	SaveRequest(domain.ExchangeRequest) error
	GetRequest(id string) (domain.ExchangeRequest, bool, error)
	HasActiveRequest(bookID, requesterID string) (bool, error)
	ListRequestsForLister(listerID string) ([]domain.ExchangeRequest, error)
	ListRequestsByRequester(requesterID string) ([]domain.ExchangeRequest, error)
	LatestRequest(bookID, requesterID string) (domain.ExchangeRequest, bool, error)

	// conversations
	// FindOrCreateConversation returns the one conversation for the book and
	// participant pair, creating it when absent. Concurrent callers for the
	// same key observe the same record; created reports whether this call
	// inserted it.
	FindOrCreateConversation(bookID, userA, userB string) (conv domain.Conversation, created bool, err error)
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversationsForUser(userID string) ([]domain.Conversation, error)

	// messages
	// AppendMessage persists the message and refreshes the parent
	// conversation's UpdatedAt.
	AppendMessage(domain.Message) error
	ListMessages(conversationID string) ([]domain.Message, error)
}

// SessionStore persists bearer session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
