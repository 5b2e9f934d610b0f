package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseUpdate(t *testing.T) {
	body := `{"update_id": 10, "message": {"message_id": 1, "date": 1700000000,
		"from": {"id": 555, "is_bot": false, "first_name": "Аня"},
		"chat": {"id": 777, "type": "private"},
		"text": "  Здравствуйте  "}}`

	in, err := ParseUpdate(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if in.SenderID != 555 || in.ChatID != 777 || in.Text != "Здравствуйте" || in.UpdateID != 10 {
		t.Fatalf("inbound = %+v", in)
	}
}

func TestParseUpdateRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":     `{`,
		"no message":   `{"update_id": 1}`,
		"no sender":    `{"update_id": 1, "message": {"message_id": 1, "date": 0, "chat": {"id": 1, "type": "private"}, "text": "hi"}}`,
		"empty text":   `{"update_id": 1, "message": {"message_id": 1, "date": 0, "from": {"id": 2}, "chat": {"id": 1, "type": "private"}, "text": "   "}}`,
		"sticker only": `{"update_id": 1, "message": {"message_id": 1, "date": 0, "from": {"id": 2}, "chat": {"id": 1, "type": "private"}}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseUpdate(strings.NewReader(body)); !errors.Is(err, ErrMalformedUpdate) {
				t.Fatalf("err = %v, want ErrMalformedUpdate", err)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("я", MaxMessageLength+10)
	got := Truncate(long, MaxMessageLength)
	if utf8.RuneCountInString(got) != MaxMessageLength {
		t.Fatalf("rune count = %d", utf8.RuneCountInString(got))
	}
	if Truncate("short", MaxMessageLength) != "short" {
		t.Fatal("short text changed")
	}
}

// fakeBotAPI serves getMe and sendMessage in Bot API format.
type fakeBotAPI struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Support","username":"support_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm: %v", err)
			}
			f.mu.Lock()
			f.sent = append(f.sent, map[string]string{
				"chat_id": r.PostForm.Get("chat_id"),
				"text":    r.PostForm.Get("text"),
			})
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":1700000000,"chat":{"id":777,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	})
}

func TestNotifierSendMessage(t *testing.T) {
	fake := &fakeBotAPI{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	n, err := NewNotifier("123:abc", server.URL+"/bot%s/%s", time.Second)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if n.Username() != "support_bot" {
		t.Fatalf("Username = %q", n.Username())
	}

	long := strings.Repeat("ж", MaxMessageLength+1)
	if err := n.SendMessage(context.Background(), 777, long); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages", len(fake.sent))
	}
	if fake.sent[0]["chat_id"] != "777" {
		t.Errorf("chat_id = %q", fake.sent[0]["chat_id"])
	}
	if utf8.RuneCountInString(fake.sent[0]["text"]) != MaxMessageLength {
		t.Errorf("text not truncated: %d runes", utf8.RuneCountInString(fake.sent[0]["text"]))
	}
}

func TestNotifierCanceledContext(t *testing.T) {
	fake := &fakeBotAPI{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	n, err := NewNotifier("123:abc", server.URL+"/bot%s/%s", time.Second)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.SendMessage(ctx, 1, "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewNotifierRequiresToken(t *testing.T) {
	if _, err := NewNotifier("", "", 0); err == nil {
		t.Fatal("expected error for empty token")
	}
}
