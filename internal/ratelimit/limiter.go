// Package ratelimit implements a fixed-window request counter per client key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"guardian.org/internal/obs"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = 60 * time.Second

	defaultShards = 32
)

// Config bounds each client to MaxRequests per Window.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultConfig returns 100 requests per 60 seconds.
func DefaultConfig() Config {
	return Config{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

// Validate checks the limits are usable.
func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit: max requests must be positive, got %d", c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive, got %s", c.Window)
	}
	return nil
}

type window struct {
	count int
	start time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter tracks one window per client key. Keys are spread over shards so
// unrelated clients do not contend on one lock.
type Limiter struct {
	cfg    Config
	now    func() time.Time
	shards []*shard
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.shards = newShards(n)
		}
	}
}

// New constructs a Limiter. An invalid cfg is an error.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{cfg: cfg, now: time.Now, shards: newShards(defaultShards)}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{windows: make(map[string]*window)}
	}
	return out
}

// Config returns the limits in effect.
func (l *Limiter) Config() Config { return l.cfg }

// Allow counts one request for key and reports whether it fits in the
// current window. Denied requests are not counted.
func (l *Limiter) Allow(key string) bool {
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		s.windows[key] = &window{count: 1, start: now}
		return true
	}
	if w.count >= l.cfg.MaxRequests {
		return false
	}
	w.count++
	return true
}

// Sweep drops windows that have fully elapsed and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed, remaining := 0, 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if now.Sub(w.start) >= l.cfg.Window {
				delete(s.windows, key)
				removed++
			}
		}
		remaining += len(s.windows)
		s.mu.Unlock()
	}
	obs.SetRateLimitClients(remaining)
	return removed
}

// Len returns the number of tracked client windows.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps once per window until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				obs.Info("ratelimit: swept idle clients", map[string]any{"removed": n})
			}
		}
	}
}

func (l *Limiter) shardFor(key string) *shard {
	return l.shards[xxhash.Sum64String(key)%uint64(len(l.shards))]
}
