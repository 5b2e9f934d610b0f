package domain

import "time"

// Sender types stored for Telegram turns.
const (
	SenderTypeUser      = "user"
	SenderTypeAssistant = "assistant"
)

// TelegramMessage is one stored turn of a Telegram conversation, keyed by the
// platform sender ID rather than by a session.
type TelegramMessage struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	SenderType  string    `json:"sender_type"`
	Message     string    `json:"message"`
	DateCreated time.Time `json:"date_created"`
}

// Chronological returns a copy of newest-first messages in oldest-first order.
func Chronological(newestFirst []*TelegramMessage) []*TelegramMessage {
	out := make([]*TelegramMessage, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out
}
