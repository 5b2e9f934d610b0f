package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
	"github.com/ashureev/supportchat/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers, immediate transactions so writers queue on
	// busy_timeout instead of failing on lock upgrade.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS ix_session_created ON chat_messages(session_id, created_at);
	CREATE INDEX IF NOT EXISTS ix_session_sender ON chat_messages(session_id, sender);

	CREATE TABLE IF NOT EXISTS telegram_chat_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL,
		sender_type TEXT NOT NULL,
		date_created INTEGER NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS ix_telegram_sender_id ON telegram_chat_sessions(sender_id);
	CREATE INDEX IF NOT EXISTS ix_telegram_date_created ON telegram_chat_sessions(date_created);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at FROM chat_sessions WHERE id = ?`, id)

	var sess domain.ChatSession
	var createdAt int64
	err := row.Scan(&sess.ID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	return &sess, nil
}

// GetOrCreateSession returns the session with the given ID, creating it if absent.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, id string) (*domain.ChatSession, error) {
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

// createSession inserts a session that was not found by the preceding lookup.
func (s *SQLiteStore) createSession(ctx context.Context, id string, createdAt time.Time) (*domain.ChatSession, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, createdAt.UnixMilli(),
	)
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return nil, fmt.Errorf("create session %q: %w", id, ErrSessionCreatedConcurrently)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("session insert lost race", "session_id", id)
		return nil, fmt.Errorf("create session %q: %w", id, ErrSessionCreatedConcurrently)
	}

	return &domain.ChatSession{ID: id, CreatedAt: time.UnixMilli(createdAt.UnixMilli())}, nil
}

// ListSessions returns every session.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at FROM chat_sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	sessions := make([]*domain.ChatSession, 0)
	for rows.Next() {
		var sess domain.ChatSession
		var createdAt int64
		if err := rows.Scan(&sess.ID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(createdAt)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session; its messages are removed by cascade.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendMessage inserts a message into an existing session.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID, sender, content string) (*domain.ChatMessage, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("append message: %w: empty session id", ErrInvalidInput)
	}

	msg := &domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.UnixMilli(s.now().UnixMilli()),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Sender, msg.Content, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return nil, fmt.Errorf("append message to session %q: %w: %w", sessionID, ErrConstraintViolation, err)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// AppendTurn creates the session if needed and appends both messages in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID, userText, aiText string) (err error) {
	if sessionID == "" {
		return fmt.Errorf("append turn: %w: empty session id", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chat turn transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back chat turn", "session_id", sessionID, "error", rbErr)
			}
		}
	}()

	created := s.now().UnixMilli()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		sessionID, created,
	); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	insert := `INSERT INTO chat_messages (id, session_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err = tx.ExecContext(ctx, insert, uuid.NewString(), sessionID, domain.SenderUser, userText, created); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	if _, err = tx.ExecContext(ctx, insert, uuid.NewString(), sessionID, domain.SenderAI, aiText, created); err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit chat turn: %w", err)
	}
	return nil
}

// ListMessages returns the session's messages oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	query := `
		SELECT id, session_id, sender, content, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := make([]*domain.ChatMessage, 0)
	for rows.Next() {
		var msg domain.ChatMessage
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// RecentMessages returns up to limit Telegram turns for the sender, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, senderID int64, limit int) ([]*domain.TelegramMessage, error) {
	query := `
		SELECT id, sender_id, sender_type, date_created, message
		FROM telegram_chat_sessions WHERE sender_id = ?
		ORDER BY date_created DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, senderID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent message rows", "error", closeErr)
		}
	}()

	messages := make([]*domain.TelegramMessage, 0)
	for rows.Next() {
		var msg domain.TelegramMessage
		var dateCreated int64
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderType, &dateCreated, &msg.Message); err != nil {
			return nil, fmt.Errorf("scan recent message row: %w", err)
		}
		msg.DateCreated = time.UnixMilli(dateCreated)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return messages, nil
}

// RecordTurn stores the user and assistant turns in one transaction.
func (s *SQLiteStore) RecordTurn(ctx context.Context, senderID int64, userText, assistantText string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back turn", "sender_id", senderID, "error", rbErr)
			}
		}
	}()

	created := s.now().UnixMilli()
	insert := `INSERT INTO telegram_chat_sessions (sender_id, sender_type, date_created, message) VALUES (?, ?, ?, ?)`

	if _, err = tx.ExecContext(ctx, insert, senderID, domain.SenderTypeUser, created, userText); err != nil {
		return fmt.Errorf("insert user turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, insert, senderID, domain.SenderTypeAssistant, created, assistantText); err != nil {
		return fmt.Errorf("insert assistant turn: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// DeleteTelegramMessagesBefore removes Telegram turns with date_created < cutoff.
// Timestamps are stored in milliseconds, so the cutoff is truncated to its
// millisecond: rows inside that millisecond are retained whether they fall
// before or after the exact cutoff.
func (s *SQLiteStore) DeleteTelegramMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM telegram_chat_sessions WHERE date_created < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete telegram messages: %w", err)
	}
	return result.RowsAffected()
}
