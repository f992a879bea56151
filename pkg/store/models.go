package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Department   string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID        string `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	Author    string `gorm:"not null"`
	ISBN      string
	Condition string `gorm:"not null"`
	CoverURL  string
	Status    string    `gorm:"not null;index"`
	ListerID  string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type RequestModel struct {
	ID          string `gorm:"primaryKey"`
	BookID      string `gorm:"not null;index"`
	RequesterID string `gorm:"not null;index"`
	Status      string `gorm:"not null"`
	Message     string
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// ConversationModel carries a PairKey of bookID plus the ordered participant
// pair. The unique index is what makes concurrent find-or-create yield a
// single row.
type ConversationModel struct {
	ID           string         `gorm:"primaryKey"`
	BookID       string         `gorm:"not null;index"`
	PairKey      string         `gorm:"uniqueIndex;not null"`
	Participants datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null;index"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Sender         string    `gorm:"not null"`
	Content        string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}
