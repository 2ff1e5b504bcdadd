package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a lease outlives a crashed holder. The
// holder's periodic check renews well inside this window.
const DefaultTTL = 30 * time.Second

// Lease is one named liveness marker.
//
// Acquire and Release from different request contexts are check-then-act on
// shared state and are not atomic; with single-ingestion-job semantics the
// worst case is one redundant start or stop, which both sides tolerate.
type Lease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a lease on the given key.
func New(client *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *Lease {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lease{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// Key returns the lease key.
func (l *Lease) Key() string {
	return l.key
}

// Acquire creates the marker. Acquiring an existing lease refreshes its
// TTL; start is idempotent.
func (l *Lease) Acquire(ctx context.Context) error {
	if err := l.client.Set(ctx, l.key, time.Now().UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	l.logger.Debug("lease acquired", "key", l.key, "ttl", l.ttl)
	return nil
}

// Release deletes the marker.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	l.logger.Debug("lease released", "key", l.key)
	return nil
}

// Alive reports whether the marker currently exists.
func (l *Lease) Alive(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, fmt.Errorf("check lease %s: %w", l.key, err)
	}
	return n > 0, nil
}

// Renew extends the TTL of an existing marker. Renewing a released lease
// is a no-op; the next Alive check observes the absence.
func (l *Lease) Renew(ctx context.Context) error {
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	return nil
}
