package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

// ChallengeState values. Verified and Failed challenges are deleted, so only
// the two live states are ever stored.
const (
	ChallengeRequired  uint8 = 1
	ChallengeVerifying uint8 = 2
)

var (
	ErrChallengeBusy     = errors.New("challenge verification in progress")
	ErrChallengeExceeded = errors.New("challenge attempts exceeded")
)

// Challenge is the state of one login waiting for a second factor.
type Challenge struct {
	UserID      string
	Email       string
	Factors     uint8
	State       uint8
	Attempts    uint16
	ExpiresAt   int64
	LockedUntil int64
}

// ChallengeStore keeps login challenges in Redis.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewChallengeStore returns a store keyed under prefix, "tf:chl" by default.
func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "tf:chl"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save writes record with a TTL ending at its ExpiresAt.
func (s *ChallengeStore) Save(ctx context.Context, challengeID string, record *Challenge, now time.Time) error {
	ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
	if ttl <= 0 {
		return errors.New("challenge already expired")
	}
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return backendErr(err)
	}
	return nil
}

// Get returns the stored challenge. A lapsed record is deleted and
// reported as ErrExpired.
func (s *ChallengeStore) Get(ctx context.Context, challengeID string, now time.Time) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, backendErr(err)
	}
	record, err := decodeChallenge(data)
	if err != nil {
		return nil, backendErr(err)
	}
	if now.Unix() > record.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(challengeID)).Err()
		return nil, ErrExpired
	}
	return record, nil
}

// Begin moves a challenge from Required to Verifying. A challenge stuck in
// Verifying past busyFor can be taken over.
func (s *ChallengeStore) Begin(ctx context.Context, challengeID string, now time.Time, busyFor time.Duration) (*Challenge, error) {
	var out *Challenge
	err := watchUpdate(ctx, s.redis, s.key(challengeID), func(data []byte) (mutation, error) {
		record, err := decodeChallenge(data)
		if err != nil {
			return mutation{delete: true}, ErrNotFound
		}
		ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
		if ttl <= 0 {
			return mutation{delete: true}, ErrExpired
		}
		if record.State == ChallengeVerifying && now.Unix() < record.LockedUntil {
			return mutation{}, ErrChallengeBusy
		}

		record.State = ChallengeVerifying
		record.LockedUntil = now.Add(busyFor).Unix()
		updated, err := encodeChallenge(record)
		if err != nil {
			return mutation{}, err
		}
		out = record
		return mutation{data: updated, ttl: ttl}, nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

// Fail returns a Verifying challenge to Required with one more failed
// attempt, or deletes it with ErrChallengeExceeded at maxAttempts.
func (s *ChallengeStore) Fail(ctx context.Context, challengeID string, maxAttempts int, now time.Time) (uint16, error) {
	var attempts uint16
	err := watchUpdate(ctx, s.redis, s.key(challengeID), func(data []byte) (mutation, error) {
		record, err := decodeChallenge(data)
		if err != nil {
			return mutation{delete: true}, ErrNotFound
		}
		ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
		if ttl <= 0 {
			return mutation{delete: true}, ErrExpired
		}

		record.Attempts++
		attempts = record.Attempts
		if int(record.Attempts) >= maxAttempts {
			return mutation{delete: true}, ErrChallengeExceeded
		}
		record.State = ChallengeRequired
		record.LockedUntil = 0
		updated, err := encodeChallenge(record)
		if err != nil {
			return mutation{}, err
		}
		return mutation{data: updated, ttl: ttl}, nil
	})
	if err != nil {
		return attempts, s.mapErr(err)
	}
	return attempts, nil
}

// Release puts a Verifying challenge back to Required without counting a
// failure, for errors that are not the user's fault.
func (s *ChallengeStore) Release(ctx context.Context, challengeID string, now time.Time) error {
	err := watchUpdate(ctx, s.redis, s.key(challengeID), func(data []byte) (mutation, error) {
		record, err := decodeChallenge(data)
		if err != nil {
			return mutation{delete: true}, ErrNotFound
		}
		ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
		if ttl <= 0 {
			return mutation{delete: true}, ErrExpired
		}
		record.State = ChallengeRequired
		record.LockedUntil = 0
		updated, err := encodeChallenge(record)
		if err != nil {
			return mutation{}, err
		}
		return mutation{data: updated, ttl: ttl}, nil
	})
	return s.mapErr(err)
}

// Complete deletes a challenge. It reports false when another request
// already completed or removed it.
func (s *ChallengeStore) Complete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, backendErr(err)
	}
	return n > 0, nil
}

func (s *ChallengeStore) mapErr(err error) error {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrChallengeBusy),
		errors.Is(err, ErrChallengeExceeded),
		errors.Is(err, ErrBackend):
		return err
	default:
		return backendErr(err)
	}
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(record.Factors)
	buf.WriteByte(record.State)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.LockedUntil); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.UserID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.Email); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &Challenge{}
	if record.Factors, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if record.State, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &record.LockedUntil); err != nil {
		return nil, err
	}
	if record.UserID, err = readString(r); err != nil {
		return nil, err
	}
	if record.Email, err = readString(r); err != nil {
		return nil, err
	}
	return record, nil
}
