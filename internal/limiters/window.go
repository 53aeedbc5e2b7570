package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLimited     = errors.New("rate limited")
	ErrUnavailable = errors.New("limiter backend unavailable")
)

// Config sets the budget of one limiter. Zero fields fall back to
// 5 events per minute.
type Config struct {
	Max    int
	Window time.Duration
}

// Window counts events per key in a fixed window that starts with the first
// event. All methods are nil-safe.
type Window struct {
	redis  redis.UniversalClient
	prefix string
	max    int64
	window time.Duration
}

// NewWindow returns a fixed-window limiter storing counters under prefix.
func NewWindow(redisClient redis.UniversalClient, prefix string, cfg Config) *Window {
	max := cfg.Max
	if max <= 0 {
		max = 5
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		redis:  redisClient,
		prefix: prefix,
		max:    int64(max),
		window: window,
	}
}

func (l *Window) key(id string) string {
	return l.prefix + ":" + id
}

// Check fails with ErrLimited once the key has used up its budget.
func (l *Window) Check(ctx context.Context, id string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.max {
		return ErrLimited
	}
	return nil
}

// RecordFailure counts one failure and reports ErrLimited when that failure
// exhausted the budget.
func (l *Window) RecordFailure(ctx context.Context, id string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.incr(ctx, id)
	if err != nil {
		return err
	}
	if count >= l.max {
		return ErrLimited
	}
	return nil
}

// Allow counts one event and rejects it when it goes over the budget. Used
// for actions that are throttled whether or not they succeed.
func (l *Window) Allow(ctx context.Context, id string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.incr(ctx, id)
	if err != nil {
		return err
	}
	if count > l.max {
		return ErrLimited
	}
	return nil
}

// Reset clears the counter for id.
func (l *Window) Reset(ctx context.Context, id string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Window) incr(ctx context.Context, id string) (int64, error) {
	key := l.key(id)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}
