package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
	"github.com/ashureev/supportchat/internal/shared"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PostgresConfig holds connection settings for the PostgreSQL backend.
type PostgresConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type chatSessionRow struct {
	ID        string           `gorm:"type:varchar(128);primaryKey"`
	CreatedAt time.Time        `gorm:"type:timestamptz;not null"`
	Messages  []chatMessageRow `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (chatSessionRow) TableName() string { return "chat_sessions" }

type chatMessageRow struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	SessionID string    `gorm:"type:varchar(128);not null;index:ix_session_created,priority:1;index:ix_session_sender,priority:1"`
	Sender    string    `gorm:"type:varchar(50);not null;index:ix_session_sender,priority:2"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;index:ix_session_created,priority:2"`
}

func (chatMessageRow) TableName() string { return "chat_messages" }

type telegramMessageRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	SenderID    int64     `gorm:"not null;index:ix_telegram_sender_id"`
	SenderType  string    `gorm:"type:varchar(20);not null"`
	DateCreated time.Time `gorm:"type:timestamptz;not null;index:ix_telegram_date_created"`
	Message     string    `gorm:"type:text;not null"`
}

func (telegramMessageRow) TableName() string { return "telegram_chat_sessions" }

// PostgresStore implements Repository on PostgreSQL through GORM.
type PostgresStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostgres connects to PostgreSQL and migrates the conversation tables.
func NewPostgres(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&chatSessionRow{}, &chatMessageRow{}, &telegramMessageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &PostgresStore{db: db, now: time.Now}, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	var row chatSessionRow
	err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &domain.ChatSession{ID: row.ID, CreatedAt: row.CreatedAt}, nil
}

// GetOrCreateSession returns the session with the given ID, creating it if absent.
func (s *PostgresStore) GetOrCreateSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	if id == "" {
		return nil, fmt.Errorf("get or create session: %w: empty session id", ErrInvalidInput)
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	return s.createSession(ctx, id, s.now())
}

func (s *PostgresStore) createSession(ctx context.Context, id string, createdAt time.Time) (*domain.ChatSession, error) {
	row := chatSessionRow{ID: id, CreatedAt: createdAt}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(&row)
	if result.Error != nil {
		if shared.IsPostgresUniqueError(result.Error) {
			return nil, fmt.Errorf("create session %q: %w", id, ErrSessionCreatedConcurrently)
		}
		return nil, fmt.Errorf("create session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("create session %q: %w", id, ErrSessionCreatedConcurrently)
	}
	return &domain.ChatSession{ID: row.ID, CreatedAt: row.CreatedAt}, nil
}

// ListSessions returns every session.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]*domain.ChatSession, error) {
	var rows []chatSessionRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	sessions := make([]*domain.ChatSession, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, &domain.ChatSession{ID: r.ID, CreatedAt: r.CreatedAt})
	}
	return sessions, nil
}

// DeleteSession removes a session; its messages are removed by cascade.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&chatSessionRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendMessage inserts a message into an existing session.
func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID, sender, content string) (*domain.ChatMessage, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("append message: %w: empty session id", ErrInvalidInput)
	}

	row := chatMessageRow{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if shared.IsPostgresConstraintError(err) {
			return nil, fmt.Errorf("append message to session %q: %w: %w", sessionID, ErrConstraintViolation, err)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	return messageFromRow(row), nil
}

// ListMessages returns the session's messages oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	var rows []chatMessageRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	messages := make([]*domain.ChatMessage, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, messageFromRow(r))
	}
	return messages, nil
}

// RecentMessages returns up to limit Telegram turns for the sender, newest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, senderID int64, limit int) ([]*domain.TelegramMessage, error) {
	var rows []telegramMessageRow
	err := s.db.WithContext(ctx).
		Where("sender_id = ?", senderID).
		Order("date_created DESC").Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	messages := make([]*domain.TelegramMessage, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, &domain.TelegramMessage{
			ID:          r.ID,
			SenderID:    r.SenderID,
			SenderType:  r.SenderType,
			Message:     r.Message,
			DateCreated: r.DateCreated,
		})
	}
	return messages, nil
}

// AppendTurn creates the session if needed and appends both messages in one transaction.
func (s *PostgresStore) AppendTurn(ctx context.Context, sessionID, userText, aiText string) error {
	if sessionID == "" {
		return fmt.Errorf("append turn: %w: empty session id", ErrInvalidInput)
	}

	created := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess := chatSessionRow{ID: sessionID, CreatedAt: created}
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
			Omit(clause.Associations).
			Create(&sess).Error; err != nil {
			return fmt.Errorf("ensure session: %w", err)
		}
		// Message ids are random, so the AI message gets a later timestamp to keep order.
		rows := []chatMessageRow{
			{ID: uuid.NewString(), SessionID: sessionID, Sender: domain.SenderUser, Content: userText, CreatedAt: created},
			{ID: uuid.NewString(), SessionID: sessionID, Sender: domain.SenderAI, Content: aiText, CreatedAt: created.Add(time.Microsecond)},
		}
		for i := range rows {
			if err := tx.Create(&rows[i]).Error; err != nil {
				if shared.IsPostgresConstraintError(err) {
					return fmt.Errorf("append turn to session %q: %w: %w", sessionID, ErrConstraintViolation, err)
				}
				return fmt.Errorf("insert %s message: %w", rows[i].Sender, err)
			}
		}
		return nil
	})
}

// RecordTurn stores the user and assistant turns in one transaction.
func (s *PostgresStore) RecordTurn(ctx context.Context, senderID int64, userText, assistantText string) error {
	created := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := telegramMessageRow{SenderID: senderID, SenderType: domain.SenderTypeUser, DateCreated: created, Message: userText}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("insert user turn: %w", err)
		}
		assistant := telegramMessageRow{SenderID: senderID, SenderType: domain.SenderTypeAssistant, DateCreated: created, Message: assistantText}
		if err := tx.Create(&assistant).Error; err != nil {
			return fmt.Errorf("insert assistant turn: %w", err)
		}
		return nil
	})
}

// DeleteTelegramMessagesBefore removes Telegram turns with date_created < cutoff.
func (s *PostgresStore) DeleteTelegramMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("date_created < ?", cutoff).Delete(&telegramMessageRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete telegram messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func messageFromRow(r chatMessageRow) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:        r.ID,
		SessionID: r.SessionID,
		Sender:    r.Sender,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}
