// Package redisstore keeps token revocation records in Redis so several
// API replicas share one blacklist.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"guardian.org/internal/auth"
)

const defaultKeyPrefix = "guardian:revoked:"

// Connect initializes a Redis client from a redis:// URL or host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Revocations implements auth.RevocationStore. Each record is a key whose
// value is the expiry in unix milliseconds and whose TTL lets Redis drop
// it once dead.
type Revocations struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// Option configures Revocations.
type Option func(*Revocations)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(r *Revocations) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithClock overrides the time source used to compute key TTLs.
func WithClock(fn func() time.Time) Option {
	return func(r *Revocations) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRevocations creates a Redis-backed revocation store.
func NewRevocations(client *redis.Client, opts ...Option) *Revocations {
	r := &Revocations{client: client, prefix: defaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

var _ auth.RevocationStore = (*Revocations)(nil)

func (r *Revocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	value := strconv.FormatInt(expiresAt.UnixMilli(), 10)
	// SETNX keeps the first record when a token is revoked twice.
	return r.client.SetNX(ctx, r.prefix+tokenID, value, ttl).Err()
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	value, err := r.client.Get(ctx, r.prefix+tokenID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// Unreadable record: treat as revoked.
		return true, nil
	}
	return time.UnixMilli(ms).After(now), nil
}

// PurgeExpired is a no-op; key TTLs expire records.
func (r *Revocations) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// WithRevocations returns a Store that delegates everything to base
// except revocations, which go to rev.
func WithRevocations(base auth.Store, rev auth.RevocationStore) auth.Store {
	return overlay{Store: base, rev: rev}
}

type overlay struct {
	auth.Store
	rev auth.RevocationStore
}

func (o overlay) Revocations(context.Context) auth.RevocationStore { return o.rev }
