// Package cache provides an optional Redis read-through cache for recent
// Telegram conversation history.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
)

// ErrCacheMiss is returned by MessageCache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// MessageCache stores serialized Telegram history slices.
type MessageCache interface {
	Get(ctx context.Context, key string) ([]*domain.TelegramMessage, error)
	Set(ctx context.Context, key string, messages []*domain.TelegramMessage, ttl time.Duration) error
	// DeleteMatching removes every key matching a glob pattern.
	DeleteMatching(ctx context.Context, pattern string) error
	Close() error
}
