package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookswap/pkg/domain"
)

const migrateLockID int64 = 52105210

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&BookModel{},
			&RequestModel{},
			&ConversationModel{},
			&MessageModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrateLockID).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		return fn(tx)
	})
}

// users

func (s *GormStore) SaveUser(u domain.User) error {
	model := UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Department:   u.Department,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count email: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.Where("email = ?", email).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get user by email: %w", err)
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get user: %w", err)
	}
	return userFromModel(model), true, nil
}

// books

func (s *GormStore) SaveBook(b domain.Book) error {
	model := BookModel{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		ISBN:      b.ISBN,
		Condition: string(b.Condition),
		CoverURL:  b.CoverURL,
		Status:    string(b.Status),
		ListerID:  b.ListerID,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save book: %w", err)
	}
	return nil
}

func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	err := s.db.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Book{}, false, nil
	}
	if err != nil {
		return domain.Book{}, false, fmt.Errorf("get book: %w", err)
	}
	return bookFromModel(model), true, nil
}

func (s *GormStore) ListAvailableBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Where("status = ?", string(domain.StatusAvailable)).
		Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return booksFromModels(models), nil
}

func (s *GormStore) ListBooksByLister(listerID string) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Where("lister_id = ?", listerID).
		Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list books by lister: %w", err)
	}
	return booksFromModels(models), nil
}

func (s *GormStore) DeleteBook(id string) error {
	if err := s.db.Delete(&BookModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// exchange requests

func (s *GormStore) SaveRequest(r domain.ExchangeRequest) error {
	model := RequestModel{
		ID:          r.ID,
		BookID:      r.BookID,
		RequesterID: r.RequesterID,
		Status:      string(r.Status),
		Message:     r.Message,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

func (s *GormStore) GetRequest(id string) (domain.ExchangeRequest, bool, error) {
	var model RequestModel
	err := s.db.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ExchangeRequest{}, false, nil
	}
	if err != nil {
		return domain.ExchangeRequest{}, false, fmt.Errorf("get request: %w", err)
	}
	return requestFromModel(model), true, nil
}

func (s *GormStore) HasActiveRequest(bookID, requesterID string) (bool, error) {
	var count int64
	err := s.db.Model(&RequestModel{}).
		Where("book_id = ? AND requester_id = ? AND status IN ?",
			bookID, requesterID,
			[]string{string(domain.RequestPending), string(domain.RequestAccepted)}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count active requests: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) ListRequestsForLister(listerID string) ([]domain.ExchangeRequest, error) {
	var models []RequestModel
	err := s.db.
		Joins("JOIN book_models ON book_models.id = request_models.book_id").
		Where("book_models.lister_id = ?", listerID).
		Order("request_models.created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list received requests: %w", err)
	}
	return requestsFromModels(models), nil
}

func (s *GormStore) ListRequestsByRequester(requesterID string) ([]domain.ExchangeRequest, error) {
	var models []RequestModel
	if err := s.db.Where("requester_id = ?", requesterID).
		Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list sent requests: %w", err)
	}
	return requestsFromModels(models), nil
}

func (s *GormStore) LatestRequest(bookID, requesterID string) (domain.ExchangeRequest, bool, error) {
	var model RequestModel
	err := s.db.Where("book_id = ? AND requester_id = ?", bookID, requesterID).
		Order("created_at DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ExchangeRequest{}, false, nil
	}
	if err != nil {
		return domain.ExchangeRequest{}, false, fmt.Errorf("latest request: %w", err)
	}
	return requestFromModel(model), true, nil
}

// conversations

func (s *GormStore) FindOrCreateConversation(bookID, userA, userB string) (domain.Conversation, bool, error) {
	pair := orderedPair(userA, userB)
	key := conversationPairKey(bookID, pair)
	participants, err := json.Marshal(pair)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("encode participants: %w", err)
	}
	now := time.Now().UTC()
	model := ConversationModel{
		ID:           uuid.NewString(),
		BookID:       bookID,
		PairKey:      key,
		Participants: datatypes.JSON(participants),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// The unique index on pair_key turns a lost race into a no-op insert;
	// the loser then reads the winner's row.
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Conversation{}, false, fmt.Errorf("create conversation: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		conv, err := conversationFromModel(model)
		return conv, true, err
	}
	var existing ConversationModel
	if err := s.db.Where("pair_key = ?", key).First(&existing).Error; err != nil {
		return domain.Conversation{}, false, fmt.Errorf("find conversation: %w", err)
	}
	conv, err := conversationFromModel(existing)
	return conv, false, err
}

func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := s.db.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("get conversation: %w", err)
	}
	conv, err := conversationFromModel(model)
	return conv, err == nil, err
}

func (s *GormStore) ListConversationsForUser(userID string) ([]domain.Conversation, error) {
	needle, err := json.Marshal([]string{userID})
	if err != nil {
		return nil, fmt.Errorf("encode participant filter: %w", err)
	}
	var models []ConversationModel
	if err := s.db.Where("participants @> ?", datatypes.JSON(needle)).
		Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		conv, err := conversationFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

// messages

func (s *GormStore) AppendMessage(m domain.Message) error {
	model := MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		if err := tx.Model(&ConversationModel{}).
			Where("id = ?", m.ConversationID).
			Update("updated_at", m.CreatedAt).Error; err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
}

func (s *GormStore) ListMessages(conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]domain.Message, 0, len(models))
	for _, model := range models {
		out = append(out, domain.Message{
			ID:             model.ID,
			ConversationID: model.ConversationID,
			Sender:         model.Sender,
			Content:        model.Content,
			CreatedAt:      model.CreatedAt,
		})
	}
	return out, nil
}

// conversions

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Department:   m.Department,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:        m.ID,
		Title:     m.Title,
		Author:    m.Author,
		ISBN:      m.ISBN,
		Condition: domain.BookCondition(m.Condition),
		CoverURL:  m.CoverURL,
		Status:    domain.BookStatus(m.Status),
		ListerID:  m.ListerID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func booksFromModels(models []BookModel) []domain.Book {
	out := make([]domain.Book, 0, len(models))
	for _, m := range models {
		out = append(out, bookFromModel(m))
	}
	return out
}

func requestFromModel(m RequestModel) domain.ExchangeRequest {
	return domain.ExchangeRequest{
		ID:          m.ID,
		BookID:      m.BookID,
		RequesterID: m.RequesterID,
		Status:      domain.RequestStatus(m.Status),
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func requestsFromModels(models []RequestModel) []domain.ExchangeRequest {
	out := make([]domain.ExchangeRequest, 0, len(models))
	for _, m := range models {
		out = append(out, requestFromModel(m))
	}
	return out
}

func conversationFromModel(m ConversationModel) (domain.Conversation, error) {
	var pair [2]string
	if err := json.Unmarshal(m.Participants, &pair); err != nil {
		return domain.Conversation{}, fmt.Errorf("decode participants: %w", err)
	}
	return domain.Conversation{
		ID:           m.ID,
		BookID:       m.BookID,
		Participants: pair,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

func orderedPair(a, b string) [2]string {
	pair := []string{a, b}
	sort.Strings(pair)
	return [2]string{pair[0], pair[1]}
}

func conversationPairKey(bookID string, pair [2]string) string {
	return bookID + "|" + pair[0] + "|" + pair[1]
}
