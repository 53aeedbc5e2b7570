package stores

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned when Acquire gives up waiting.
var ErrLockBusy = errors.New("user lock held by another request")

// releaseLockLua deletes the lock only if it still holds our token.
var releaseLockLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockConfig bounds how long a lock lives and how long Acquire waits.
type LockConfig struct {
	TTL   time.Duration
	Wait  time.Duration
	Retry time.Duration
}

// UserLock serializes state changes for one user across processes.
type UserLock struct {
	redis  redis.UniversalClient
	prefix string
	cfg    LockConfig
}

// NewUserLock returns a lock keyed under prefix, "tf:lock" by default.
func NewUserLock(redisClient redis.UniversalClient, prefix string, cfg LockConfig) *UserLock {
	if prefix == "" {
		prefix = "tf:lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &UserLock{redis: redisClient, prefix: prefix, cfg: cfg}
}

// Acquire blocks until the lock is taken, Wait elapses or ctx is done. The
// returned func releases it.
func (l *UserLock) Acquire(ctx context.Context, userID string) (func(), error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, err
	}
	token := hex.EncodeToString(raw[:])
	key := l.prefix + ":" + userID
	deadline := time.Now().Add(l.cfg.Wait)

	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, backendErr(err)
		}
		if ok {
			return func() { l.release(ctx, key, token) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockBusy
		}

		timer := time.NewTimer(l.cfg.Retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// release runs even when ctx is already cancelled, bounded by the lock TTL
// since the key expires on its own after that.
func (l *UserLock) release(ctx context.Context, key, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.TTL)
	defer cancel()
	_ = releaseLockLua.Run(rctx, l.redis, []string{key}, token).Err()
}
