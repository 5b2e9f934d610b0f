package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixedClock returns a clock that can be moved by the test.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func countRows(t *testing.T, s *SQLiteStore, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestGetOrCreateSessionIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("first GetOrCreateSession failed: %v", err)
	}
	second, err := s.GetOrCreateSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("second GetOrCreateSession failed: %v", err)
	}

	if first.ID != second.ID || !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("expected same session, got %+v and %+v", first, second)
	}
	if n := countRows(t, s, "chat_sessions"); n != 1 {
		t.Fatalf("expected 1 session row, got %d", n)
	}
}

func TestGetOrCreateSessionRejectsEmptyID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetOrCreateSession(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateSessionLosingInsertIsDistinguishable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Both callers observed "not found" and go on to insert.
	if _, err := s.createSession(ctx, "X", time.Now()); err != nil {
		t.Fatalf("winning insert failed: %v", err)
	}
	_, err := s.createSession(ctx, "X", time.Now())
	if !errors.Is(err, ErrSessionCreatedConcurrently) {
		t.Fatalf("expected ErrSessionCreatedConcurrently, got %v", err)
	}

	if n := countRows(t, s, "chat_sessions"); n != 1 {
		t.Fatalf("expected exactly one row, got %d", n)
	}
	sess, err := s.GetSession(ctx, "X")
	if err != nil || sess == nil {
		t.Fatalf("retry lookup failed: sess=%v err=%v", sess, err)
	}
}

func TestConcurrentGetOrCreateSessionLeavesOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.GetOrCreateSession(ctx, "X")
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSessionCreatedConcurrently):
		default:
			t.Fatalf("caller %d got unexpected error: %v", i, err)
		}
	}
	if succeeded == 0 {
		t.Fatal("expected at least one caller to succeed")
	}
	if n := countRows(t, s, "chat_sessions"); n != 1 {
		t.Fatalf("expected exactly one session row, got %d", n)
	}
}

func TestAppendMessageToUnknownSessionFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "missing", domain.SenderUser, "hello")
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if n := countRows(t, s, "chat_messages"); n != 0 {
		t.Fatalf("expected no message rows, got %d", n)
	}
}

func TestListMessagesOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := &fixedClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now

	if _, err := s.GetOrCreateSession(ctx, "sess"); err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}

	// Same-millisecond messages keep insertion order.
	contents := []string{"a", "b", "c", "d"}
	offsets := []time.Duration{0, 0, 2 * time.Second, 3 * time.Second}
	for i, c := range contents {
		clock.Set(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC).Add(offsets[i]))
		if _, err := s.AppendMessage(ctx, "sess", domain.SenderUser, c); err != nil {
			t.Fatalf("AppendMessage(%q) failed: %v", c, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "sess")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(msgs))
	}
	for i := range msgs {
		if msgs[i].Content != contents[i] {
			t.Fatalf("msgs[%d] = %q, want %q", i, msgs[i].Content, contents[i])
		}
		if i > 0 && msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d", i)
		}
	}
}

func TestListMessagesEmptyForUnknownSession(t *testing.T) {
	s := newTestStore(t)
	msgs, err := s.ListMessages(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", msgs)
	}
}

func TestListSessionsAndCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := s.GetOrCreateSession(ctx, id); err != nil {
			t.Fatalf("GetOrCreateSession(%q) failed: %v", id, err)
		}
	}
	if _, err := s.AppendMessage(ctx, "a", domain.SenderUser, "hi"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	if err := s.DeleteSession(ctx, "a"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if n := countRows(t, s, "chat_messages"); n != 0 {
		t.Fatalf("expected cascade to remove messages, %d left", n)
	}
}

func TestRecentMessagesLimitAndSenderIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: base}
	s.now = clock.Now

	for i := 0; i < 10; i++ {
		clock.Set(base.Add(time.Duration(i) * time.Minute))
		if err := s.RecordTurn(ctx, 42, "q", "a"); err != nil {
			t.Fatalf("RecordTurn failed: %v", err)
		}
		if err := s.RecordTurn(ctx, 7, "other", "other"); err != nil {
			t.Fatalf("RecordTurn failed: %v", err)
		}
	}

	msgs, err := s.RecentMessages(ctx, 42, 0)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != DefaultRecentLimit {
		t.Fatalf("expected %d messages, got %d", DefaultRecentLimit, len(msgs))
	}
	for i, m := range msgs {
		if m.SenderID != 42 {
			t.Fatalf("got row for sender %d", m.SenderID)
		}
		if i > 0 && m.DateCreated.After(msgs[i-1].DateCreated) {
			t.Fatalf("expected newest first, row %d is newer than row %d", i, i-1)
		}
	}
	if msgs[0].SenderType != domain.SenderTypeAssistant {
		t.Fatalf("expected newest row to be the assistant turn, got %q", msgs[0].SenderType)
	}

	few, err := s.RecentMessages(ctx, 42, 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(few) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(few))
	}
}

func TestRecordTurnIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Fail the second insert of the turn.
	if _, err := s.db.Exec(`
		CREATE TRIGGER fail_assistant BEFORE INSERT ON telegram_chat_sessions
		WHEN NEW.sender_type = 'assistant'
		BEGIN SELECT RAISE(ABORT, 'simulated failure'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := s.RecordTurn(ctx, 42, "hello", "world"); err == nil {
		t.Fatal("expected RecordTurn to fail")
	}
	if n := countRows(t, s, "telegram_chat_sessions"); n != 0 {
		t.Fatalf("expected zero rows after failed turn, got %d", n)
	}

	if _, err := s.db.Exec(`DROP TRIGGER fail_assistant`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if err := s.RecordTurn(ctx, 42, "hello", "world"); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}
	if n := countRows(t, s, "telegram_chat_sessions"); n != 2 {
		t.Fatalf("expected two rows, got %d", n)
	}
}

func TestDeleteTelegramMessagesBeforeScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)
	clock := &fixedClock{}
	s.now = clock.Now

	ages := []time.Duration{10, 8, 6, 1}
	for _, days := range ages {
		clock.Set(now.Add(-days * 24 * time.Hour))
		if err := s.RecordTurn(ctx, 42, "q", "a"); err != nil {
			t.Fatalf("RecordTurn failed: %v", err)
		}
	}

	deleted, err := s.DeleteTelegramMessagesBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTelegramMessagesBefore failed: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected the t-10d and t-8d turns (4 rows) deleted, got %d", deleted)
	}

	msgs, err := s.RecentMessages(ctx, 42, DefaultRecentLimit)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 remaining rows, got %d", len(msgs))
	}
	if !msgs[0].DateCreated.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("expected newest row at t-1d, got %v", msgs[0].DateCreated)
	}
	if !msgs[3].DateCreated.Equal(now.Add(-6 * 24 * time.Hour)) {
		t.Fatalf("expected oldest row at t-6d, got %v", msgs[3].DateCreated)
	}
}

func TestDeleteTelegramMessagesBeforeBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cutoff := time.Date(2025, 3, 13, 9, 0, 0, 0, time.UTC)
	clock := &fixedClock{}
	s.now = clock.Now

	// One turn exactly at the cutoff, one a millisecond before it.
	clock.Set(cutoff)
	if err := s.RecordTurn(ctx, 1, "at", "at"); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}
	clock.Set(cutoff.Add(-time.Millisecond))
	if err := s.RecordTurn(ctx, 2, "before", "before"); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}

	deleted, err := s.DeleteTelegramMessagesBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteTelegramMessagesBefore failed: %v", err)
	}

	t.Run("exclusive at cutoff", func(t *testing.T) {
		at, err := s.RecentMessages(ctx, 1, 0)
		if err != nil {
			t.Fatalf("RecentMessages failed: %v", err)
		}
		if len(at) != 2 {
			t.Fatalf("rows exactly at the cutoff must be retained, got %d", len(at))
		}
	})
	t.Run("inclusive before cutoff", func(t *testing.T) {
		before, err := s.RecentMessages(ctx, 2, 0)
		if err != nil {
			t.Fatalf("RecentMessages failed: %v", err)
		}
		if len(before) != 0 || deleted != 2 {
			t.Fatalf("rows before the cutoff must be deleted, %d left, %d deleted", len(before), deleted)
		}
	})
}

func TestDeleteTelegramMessagesBeforeKeepsCutoffMillisecond(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cutoff := time.Date(2025, 3, 13, 9, 0, 0, 500_000, time.UTC)
	s.now = func() time.Time { return cutoff.Add(-200 * time.Microsecond) }

	if err := s.RecordTurn(ctx, 1, "q", "a"); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}
	deleted, err := s.DeleteTelegramMessagesBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteTelegramMessagesBefore failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("rows inside the cutoff millisecond must be retained, %d deleted", deleted)
	}
}

func TestAppendTurnCreatesSessionAndOrdersMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "web-1", "hi", "hello"); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	if err := s.AppendTurn(ctx, "web-1", "again", "sure"); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	if n := countRows(t, s, "chat_sessions"); n != 1 {
		t.Fatalf("expected one session, got %d", n)
	}
	msgs, err := s.ListMessages(ctx, "web-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
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

	if err := s.AppendTurn(ctx, "", "a", "b"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAppendTurnIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec(`
		CREATE TRIGGER fail_ai BEFORE INSERT ON chat_messages
		WHEN NEW.sender = 'AI'
		BEGIN SELECT RAISE(ABORT, 'simulated failure'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := s.AppendTurn(ctx, "web-2", "hi", "hello"); err == nil {
		t.Fatal("expected AppendTurn to fail")
	}
	if n := countRows(t, s, "chat_messages"); n != 0 {
		t.Fatalf("expected zero messages after failed turn, got %d", n)
	}
	if n := countRows(t, s, "chat_sessions"); n != 0 {
		t.Fatalf("expected no session after failed turn, got %d", n)
	}
}
