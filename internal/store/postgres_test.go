package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
)

// newPostgresTestStore connects to SUPPORTCHAT_TEST_POSTGRES_DSN or skips.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SUPPORTCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SUPPORTCHAT_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgres(PostgresConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() {
		s.db.Exec("TRUNCATE chat_messages, chat_sessions, telegram_chat_sessions RESTART IDENTITY CASCADE")
		_ = s.Close()
	})
	s.db.Exec("TRUNCATE chat_messages, chat_sessions, telegram_chat_sessions RESTART IDENTITY CASCADE")
	return s
}

func TestPostgresSessionLifecycle(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "pg-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	again, err := s.GetOrCreateSession(ctx, "pg-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession again: %v", err)
	}
	if !first.CreatedAt.Equal(again.CreatedAt) {
		t.Fatalf("created_at changed: %v vs %v", first.CreatedAt, again.CreatedAt)
	}

	if _, err := s.createSession(ctx, "pg-1", time.Now()); !errors.Is(err, ErrSessionCreatedConcurrently) {
		t.Fatalf("expected ErrSessionCreatedConcurrently, got %v", err)
	}

	if _, err := s.AppendMessage(ctx, "missing", domain.SenderUser, "hi"); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}

	if _, err := s.AppendMessage(ctx, "pg-1", domain.SenderUser, "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.DeleteSession(ctx, "pg-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	msgs, err := s.ListMessages(ctx, "pg-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected cascade delete, got %d messages", len(msgs))
	}
}

func TestPostgresRetentionDelete(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for _, age := range []time.Duration{10 * 24 * time.Hour, 8 * 24 * time.Hour, 6 * 24 * time.Hour, 24 * time.Hour} {
		s.now = func() time.Time { return now.Add(-age) }
		if err := s.RecordTurn(ctx, 42, "q", "a"); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	deleted, err := s.DeleteTelegramMessagesBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTelegramMessagesBefore: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected 4 deleted rows, got %d", deleted)
	}
	recent, err := s.RecentMessages(ctx, 42, 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("expected 4 remaining rows, got %d", len(recent))
	}
}

func TestPostgresAppendTurn(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "pg-turn", "hi", "hello"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := s.AppendTurn(ctx, "pg-turn", "again", "sure"); err != nil {
		t.Fatalf("AppendTurn again: %v", err)
	}
	msgs, err := s.ListMessages(ctx, "pg-turn")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	want := []string{"User:hi", "AI:hello", "User:again", "AI:sure"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, m := range msgs {
		if got := m.Sender + ":" + m.Content; got != want[i] {
			t.Fatalf("message %d = %q, want %q", i, got, want[i])
		}
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
}
