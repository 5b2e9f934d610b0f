// Package domain contains core domain types for the support chat backend.
package domain

import (
	"strings"
	"time"
)

// Sender labels used for web-chat transcripts.
const (
	SenderUser = "User"
	SenderAI   = "AI"
)

// ChatSession is a web-chat conversation identified by a caller-supplied ID.
type ChatSession struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is a single turn within a ChatSession.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Transcript renders messages as "Sender: content" lines in the given order.
func Transcript(messages []*ChatMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Sender)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
