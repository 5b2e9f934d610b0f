// Package store provides conversation persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
)

// DefaultRecentLimit is the number of Telegram turns returned when no limit is given.
const DefaultRecentLimit = 15

var (
	// ErrSessionCreatedConcurrently is returned by GetOrCreateSession when the
	// session did not exist at lookup time but another caller inserted it first.
	// The session exists; callers should repeat the lookup.
	ErrSessionCreatedConcurrently = errors.New("session already created concurrently")

	// ErrConstraintViolation wraps storage constraint failures such as a
	// message referencing a session that does not exist.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvalidInput is returned for empty identifiers.
	ErrInvalidInput = errors.New("invalid input")
)

// Repository defines the interface for persisting chat sessions and messages.
type Repository interface {
	// GetSession retrieves a session by ID. It returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)

	// GetOrCreateSession returns the session with the given ID, creating it
	// with created_at = now when absent.
	GetOrCreateSession(ctx context.Context, id string) (*domain.ChatSession, error)

	// ListSessions returns every session in storage order.
	ListSessions(ctx context.Context) ([]*domain.ChatSession, error)

	// DeleteSession removes a session and all of its messages.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage inserts a message into an existing session.
	AppendMessage(ctx context.Context, sessionID, sender, content string) (*domain.ChatMessage, error)

	// AppendTurn creates the session when absent and appends the user and AI
	// messages, all in one transaction.
	AppendTurn(ctx context.Context, sessionID, userText, aiText string) error

	// ListMessages returns the session's messages ordered by created_at ascending.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error)

	// RecentMessages returns up to limit Telegram turns for the sender, newest first.
	RecentMessages(ctx context.Context, senderID int64, limit int) ([]*domain.TelegramMessage, error)

	// RecordTurn stores the user and assistant turns as one unit of work.
	RecordTurn(ctx context.Context, senderID int64, userText, assistantText string) error

	// DeleteTelegramMessagesBefore removes Telegram turns created strictly before cutoff.
	DeleteTelegramMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
