package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// This message is intended to be shown to end users and should not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	ErrNameEmailPasswordRequired = errors.New("name, email and password required")
	ErrEmailAlreadyExists        = errors.New("email already exists")

	ErrBookNotFound     = errors.New("book not found")
	ErrInvalidCondition = errors.New("condition must be New, Good or Used")
	ErrTitleRequired    = errors.New("title and author required")
	ErrNotLister        = errors.New("only the lister can modify this book")

	ErrOwnBook          = errors.New("cannot request your own book")
	ErrBookUnavailable  = errors.New("book is no longer available")
	ErrDuplicateRequest = errors.New("active request for this book already exists")
	ErrMessageTooLong   = errors.New("message exceeds 200 characters")
	ErrRequestNotFound  = errors.New("request not found")
	ErrRequestSettled   = errors.New("request has already been responded to")
	ErrInvalidStatus    = errors.New("status must be Accepted or Declined")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrMessageRequired      = errors.New("message content required")
)
