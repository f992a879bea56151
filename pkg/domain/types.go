package domain

import "time"

type BookCondition string

const (
	ConditionNew  BookCondition = "New"
	ConditionGood BookCondition = "Good"
	ConditionUsed BookCondition = "Used"
)

type BookStatus string

const (
	StatusAvailable BookStatus = "Available"
	StatusSold      BookStatus = "Sold"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestAccepted RequestStatus = "Accepted"
	RequestDeclined RequestStatus = "Declined"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Department   string    `json:"department"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Book struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Author    string        `json:"author"`
	ISBN      string        `json:"isbn,omitempty"`
	Condition BookCondition `json:"condition"`
	CoverURL  string        `json:"coverUrl,omitempty"`
	Status    BookStatus    `json:"status"`
	ListerID  string        `json:"listerId"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type ExchangeRequest struct {
	ID          string        `json:"id"`
	BookID      string        `json:"bookId"`
	RequesterID string        `json:"requesterId"`
	Status      RequestStatus `json:"status"`
	Message     string        `json:"message,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Conversation is a persistent thread scoped to one book and exactly two
// participants. At most one exists per (book, participant pair).
type Conversation struct {
	ID           string    `json:"id"`
	BookID       string    `json:"bookId"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is part of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Message is immutable once created. History order is CreatedAt ascending;
// live delivery order is not guaranteed.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Notification exists only as an in-flight event. It is never persisted and
// delivery is best-effort.
type Notification struct {
	Message        string `json:"message"`
	BookID         string `json:"bookId"`
	RequesterName  string `json:"requesterName"`
	ConversationID string `json:"conversationId"`
}
