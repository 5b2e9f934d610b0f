// Package retention prunes aged Telegram conversation history on a fixed interval.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/supportchat/internal/shared"
)

const (
	// DefaultInterval is the time between scheduled cleanups.
	DefaultInterval = 24 * time.Hour
	// DefaultHorizon is the age past which Telegram turns are deleted.
	DefaultHorizon = 7 * 24 * time.Hour

	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// Purger deletes Telegram turns created strictly before cutoff.
type Purger interface {
	DeleteTelegramMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the cleanup cadence and retention horizon.
type Config struct {
	Interval time.Duration
	Horizon  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Horizon <= 0 {
		c.Horizon = DefaultHorizon
	}
	return c
}

// Scheduler runs the retention cleanup in a background goroutine.
// The zero value is not usable; construct with New.
type Scheduler struct {
	purger Purger
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// runMu serializes manual and scheduled runs.
	runMu sync.Mutex
}

// New creates a stopped scheduler.
func New(purger Purger, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		purger: purger,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Start begins periodic cleanup. Calling Start on a running scheduler is a no-op.
// The first cleanup fires one interval after Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	ticker := time.NewTicker(s.cfg.Interval)
	go s.loop(loopCtx, ticker, s.done)

	s.logger.Info("Retention scheduler started",
		"interval", s.cfg.Interval,
		"horizon", s.cfg.Horizon)
}

// Stop cancels future firings and waits for an in-flight cleanup to finish.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Retention scheduler stopped")
}

// Running reports whether the scheduler is in the RUNNING state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, ticker *time.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	// A cancelled parent context stops the scheduler without a Stop call.
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.done == done {
			s.cancel()
			s.running = false
			s.cancel = nil
			s.done = nil
			s.logger.Info("Retention scheduler stopped", "reason", ctx.Err())
		}
	}()

	for {
		select {
		case <-ticker.C:
			// A started cleanup runs to completion even if Stop is called meanwhile.
			_, _ = s.RunOnce(context.WithoutCancel(ctx))
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce deletes Telegram turns older than the horizon and returns the count.
// Failures are logged before being returned; the scheduled loop discards them.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	cutoff := s.now().Add(-s.cfg.Horizon)
	deleted, err := s.purgeWithRetry(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention cleanup failed", "cutoff", cutoff, "error", err)
		return 0, err
	}

	s.logger.Info("Retention cleanup completed", "cutoff", cutoff, "deleted", deleted)
	return deleted, nil
}

// purgeWithRetry retries with exponential backoff when SQLite reports the
// database as busy or locked.
func (s *Scheduler) purgeWithRetry(ctx context.Context, cutoff time.Time) (int64, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		deleted, err := s.purger.DeleteTelegramMessagesBefore(ctx, cutoff)
		if err == nil {
			return deleted, nil
		}
		lastErr = err

		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms
		s.logger.Debug("Retention cleanup hit a locked database, retrying",
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, fmt.Errorf("retention cleanup canceled: %w", ctx.Err())
		}
	}
	return 0, fmt.Errorf("delete telegram messages before %s: %w", cutoff.Format(time.RFC3339), lastErr)
}
