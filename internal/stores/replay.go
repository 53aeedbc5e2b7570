package stores

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsedCodeStore remembers which TOTP time steps a user has already spent.
type UsedCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewUsedCodeStore returns a store keyed under prefix.
func NewUsedCodeStore(redisClient redis.UniversalClient, prefix string) *UsedCodeStore {
	if prefix == "" {
		prefix = "tf:totpu"
	}
	return &UsedCodeStore{redis: redisClient, prefix: prefix}
}

// MarkUsed records counter for userID and reports false if it was already
// recorded.
func (s *UsedCodeStore) MarkUsed(ctx context.Context, userID string, counter int64, ttl time.Duration) (bool, error) {
	key := s.prefix + ":" + userID + ":" + strconv.FormatInt(counter, 10)
	ok, err := s.redis.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, backendErr(err)
	}
	return ok, nil
}
