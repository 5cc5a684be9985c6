// Package ratelimit provides per-key sliding-window admission control.
//
// The in-memory SlidingWindow is process local. It does not coordinate across
// replicas; deployments running several instances should select the Redis
// backend (see internal/repository/redis) instead.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// ErrInvalidConfiguration is returned when a limiter is built with a limit or window below 1.
var ErrInvalidConfiguration = errors.New("invalid rate limiter configuration")

const defaultShards = 32

// Limiter is the admission gate consumed by HTTP handlers.
type Limiter interface {
	// Allow records an admission for key and reports true, or reports false
	// without recording anything when key already has Limit admissions in the window.
	Allow(key string) bool
	// Remaining returns how many admissions key has left in the current window.
	Remaining(key string) int
	Limit() int
	WindowSeconds() int
}

// ValidateSettings checks limit and window the same way for every backend.
func ValidateSettings(limit, windowSeconds int) error {
	if limit < 1 {
		return fmt.Errorf("%w: limit must be >= 1, got %d", ErrInvalidConfiguration, limit)
	}
	if windowSeconds < 1 {
		return fmt.Errorf("%w: window_seconds must be >= 1, got %d", ErrInvalidConfiguration, windowSeconds)
	}
	return nil
}

type shard struct {
	mu     sync.Mutex
	events map[string][]time.Duration
}

// SlidingWindow admits at most limit events per key within any trailing window.
// Keys are spread over mutex-guarded shards, so the purge-check-append sequence
// for one key is serialised while unrelated keys rarely contend.
type SlidingWindow struct {
	limit         int
	windowSeconds int
	window        time.Duration
	clock         Clock
	shards        []*shard
	logger        *zap.Logger
}

type Option func(*SlidingWindow)

// WithClock replaces the monotonic clock, used by tests to simulate elapsed time.
func WithClock(clock Clock) Option {
	return func(l *SlidingWindow) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithShards sets the number of lock shards. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(l *SlidingWindow) {
		if n > 0 {
			l.shards = newShards(n)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *SlidingWindow) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewSlidingWindow builds an in-memory limiter.
func NewSlidingWindow(limit, windowSeconds int, opts ...Option) (*SlidingWindow, error) {
	if err := ValidateSettings(limit, windowSeconds); err != nil {
		return nil, err
	}

	l := &SlidingWindow{
		limit:         limit,
		windowSeconds: windowSeconds,
		window:        time.Duration(windowSeconds) * time.Second,
		clock:         NewMonotonicClock(),
		shards:        newShards(defaultShards),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{events: make(map[string][]time.Duration)}
	}
	return shards
}

func (l *SlidingWindow) Limit() int { return l.limit }

func (l *SlidingWindow) WindowSeconds() int { return l.windowSeconds }

func (l *SlidingWindow) Allow(key string) bool {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	// now is read under the lock so each key's sequence stays ascending.
	now := l.clock.Now()
	events := l.purge(s, key, now)
	if len(events) >= l.limit {
		return false
	}
	s.events[key] = append(events, now)
	return true
}

func (l *SlidingWindow) Remaining(key string) int {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	events := l.purge(s, key, l.clock.Now())
	remaining := l.limit - len(events)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// purge drops timestamps at or before now-window and forgets keys left empty.
// Callers must hold s.mu.
func (l *SlidingWindow) purge(s *shard, key string, now time.Duration) []time.Duration {
	events, ok := s.events[key]
	if !ok {
		return nil
	}

	cutoff := now - l.window
	i := 0
	for i < len(events) && events[i] <= cutoff {
		i++
	}
	if i > 0 {
		n := copy(events, events[i:])
		events = events[:n]
	}

	if len(events) == 0 {
		delete(s.events, key)
		return nil
	}
	s.events[key] = events
	return events
}

// Sweep removes every key whose timestamps have all expired and returns how many were dropped.
func (l *SlidingWindow) Sweep() int {
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		now := l.clock.Now()
		for key := range s.events {
			if l.purge(s, key, now) == nil {
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of keys currently tracked.
func (l *SlidingWindow) Len() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.events)
		s.mu.Unlock()
	}
	return total
}

// StartJanitor sweeps expired keys every interval until ctx is cancelled.
func (l *SlidingWindow) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := l.Sweep(); removed > 0 {
					l.logger.Debug("Rate limiter keys swept",
						zap.Int("removed", removed),
						zap.Int("tracked", l.Len()),
					)
				}
			}
		}
	}()
}

func (l *SlidingWindow) shardFor(key string) *shard {
	if len(l.shards) == 1 {
		return l.shards[0]
	}
	return l.shards[murmur3.Sum32([]byte(key))%uint32(len(l.shards))]
}
