// Package telegram parses Bot API webhook updates and sends replies.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is the Bot API limit for a text message, in characters.
const MaxMessageLength = 4096

// ErrMalformedUpdate is returned for updates that carry no usable text message.
var ErrMalformedUpdate = errors.New("malformed telegram update")

// Inbound is a validated text message from a Telegram user.
type Inbound struct {
	UpdateID int
	SenderID int64
	ChatID   int64
	Text     string
}

// ParseUpdate decodes a webhook body and validates that it is a text message
// with a sender. It never touches storage.
func ParseUpdate(r io.Reader) (*Inbound, error) {
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	msg := update.Message
	if msg == nil {
		return nil, fmt.Errorf("%w: no message", ErrMalformedUpdate)
	}
	if msg.From == nil {
		return nil, fmt.Errorf("%w: no sender", ErrMalformedUpdate)
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrMalformedUpdate)
	}

	chatID := msg.From.ID
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	return &Inbound{
		UpdateID: update.UpdateID,
		SenderID: msg.From.ID,
		ChatID:   chatID,
		Text:     text,
	}, nil
}

// Sender delivers a reply to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Notifier sends messages through the Bot API.
type Notifier struct {
	api *tgbotapi.BotAPI
}

// NewNotifier authenticates the bot token against the Bot API. endpoint is a
// format string like tgbotapi.APIEndpoint; empty means the public API.
func NewNotifier(token, endpoint string, timeout time.Duration) (*Notifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false
	return &Notifier{api: api}, nil
}

// Username returns the bot's username as reported by getMe.
func (n *Notifier) Username() string {
	return n.api.Self.UserName
}

// SendMessage sends text to chatID, truncated to MaxMessageLength characters.
func (n *Notifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, Truncate(text, MaxMessageLength))
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Truncate shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
