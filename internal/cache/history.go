package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
	"github.com/ashureev/supportchat/internal/store"
)

const defaultPrefix = "supportchat:telegram"

// HistoryRepository wraps a store.Repository and serves RecentMessages from
// the cache. Writes for a sender invalidate that sender's entries. Cache
// failures are logged and fall through to the wrapped repository.
type HistoryRepository struct {
	store.Repository

	cache  MessageCache
	ttl    time.Duration
	prefix string
	logger *slog.Logger

	// Write versions guard against a reader caching rows it loaded before a
	// concurrent write invalidated the key.
	mu      sync.Mutex
	epoch   uint64
	senders map[int64]uint64
}

type writeVersion struct {
	epoch  uint64
	sender uint64
}

// NewHistoryRepository creates the caching decorator.
func NewHistoryRepository(repo store.Repository, c MessageCache, ttl time.Duration, logger *slog.Logger) *HistoryRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRepository{
		Repository: repo,
		cache:      c,
		ttl:        ttl,
		prefix:     defaultPrefix,
		logger:     logger,
		senders:    make(map[int64]uint64),
	}
}

func (h *HistoryRepository) version(senderID int64) writeVersion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return writeVersion{epoch: h.epoch, sender: h.senders[senderID]}
}

func (h *HistoryRepository) bumpSender(senderID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.senders[senderID]++
}

func (h *HistoryRepository) bumpEpoch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.epoch++
	h.senders = make(map[int64]uint64)
}

func (h *HistoryRepository) key(senderID int64, limit int) string {
	return fmt.Sprintf("%s:%d:%d", h.prefix, senderID, limit)
}

func (h *HistoryRepository) senderPattern(senderID int64) string {
	return fmt.Sprintf("%s:%d:*", h.prefix, senderID)
}

// RecentMessages returns cached history when present, else reads and caches it.
func (h *HistoryRepository) RecentMessages(ctx context.Context, senderID int64, limit int) ([]*domain.TelegramMessage, error) {
	if limit <= 0 {
		limit = store.DefaultRecentLimit
	}
	key := h.key(senderID, limit)

	cached, err := h.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		h.logger.Warn("History cache read failed", "sender_id", senderID, "error", err)
	}

	before := h.version(senderID)
	messages, err := h.Repository.RecentMessages(ctx, senderID, limit)
	if err != nil {
		return nil, err
	}
	if err := h.cache.Set(ctx, key, messages, h.ttl); err != nil {
		h.logger.Warn("History cache write failed", "sender_id", senderID, "error", err)
		return messages, nil
	}
	// A write since the load may have invalidated before our Set landed.
	if h.version(senderID) != before {
		if err := h.cache.DeleteMatching(ctx, key); err != nil {
			h.logger.Warn("History cache invalidation failed", "sender_id", senderID, "error", err)
		}
	}
	return messages, nil
}

// RecordTurn writes through and invalidates the sender's cached history.
func (h *HistoryRepository) RecordTurn(ctx context.Context, senderID int64, userText, assistantText string) error {
	if err := h.Repository.RecordTurn(ctx, senderID, userText, assistantText); err != nil {
		return err
	}
	h.bumpSender(senderID)
	if err := h.cache.DeleteMatching(ctx, h.senderPattern(senderID)); err != nil {
		h.logger.Warn("History cache invalidation failed", "sender_id", senderID, "error", err)
	}
	return nil
}

// DeleteTelegramMessagesBefore purges the store and drops every cached entry.
func (h *HistoryRepository) DeleteTelegramMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := h.Repository.DeleteTelegramMessagesBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		h.bumpEpoch()
		if err := h.cache.DeleteMatching(ctx, h.prefix+":*"); err != nil {
			h.logger.Warn("History cache flush failed", "error", err)
		}
	}
	return deleted, nil
}

// Close closes the cache and the wrapped repository.
func (h *HistoryRepository) Close() error {
	cacheErr := h.cache.Close()
	if err := h.Repository.Close(); err != nil {
		return err
	}
	return cacheErr
}
