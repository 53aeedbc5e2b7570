package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const enrollmentRecordVersion1 = 1

// ErrEnrollmentAttemptsExceeded is returned when a pending enrollment used up its attempts.
var ErrEnrollmentAttemptsExceeded = errors.New("enrollment attempts exceeded")

// PendingEnrollment is a TOTP secret and backup code set waiting for the
// user to prove their authenticator works.
type PendingEnrollment struct {
	UserID    string
	Secret    string
	Salt      []byte
	Hashes    [][32]byte
	Attempts  uint16
	ExpiresAt int64
}

// EnrollmentStore keeps pending TOTP enrollments in Redis.
type EnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewEnrollmentStore returns a store keyed under prefix.
func NewEnrollmentStore(redisClient redis.UniversalClient, prefix string) *EnrollmentStore {
	if prefix == "" {
		prefix = "tf:enr"
	}
	return &EnrollmentStore{redis: redisClient, prefix: prefix}
}

func (s *EnrollmentStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Save starts or restarts an enrollment.
func (s *EnrollmentStore) Save(ctx context.Context, record *PendingEnrollment, now time.Time) error {
	ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
	if ttl <= 0 {
		return errors.New("pending enrollment already expired")
	}
	encoded, err := encodePendingEnrollment(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(record.UserID), encoded, ttl).Err(); err != nil {
		return backendErr(err)
	}
	return nil
}

// Get returns the pending enrollment for userID.
func (s *EnrollmentStore) Get(ctx context.Context, userID string, now time.Time) (*PendingEnrollment, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, backendErr(err)
	}

	record, err := decodePendingEnrollment(data)
	if err != nil {
		return nil, backendErr(err)
	}
	if now.Unix() > record.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(userID)).Err()
		return nil, ErrExpired
	}
	return record, nil
}

// Delete removes the pending enrollment and reports whether one existed.
func (s *EnrollmentStore) Delete(ctx context.Context, userID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return false, backendErr(err)
	}
	return n > 0, nil
}

// RecordFailure counts a wrong confirmation code. Reaching maxAttempts
// discards the enrollment and returns ErrEnrollmentAttemptsExceeded.
func (s *EnrollmentStore) RecordFailure(ctx context.Context, userID string, maxAttempts int, now time.Time) error {
	err := watchUpdate(ctx, s.redis, s.key(userID), func(data []byte) (mutation, error) {
		record, err := decodePendingEnrollment(data)
		if err != nil {
			return mutation{delete: true}, ErrNotFound
		}
		ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
		if ttl <= 0 {
			return mutation{delete: true}, ErrExpired
		}

		record.Attempts++
		if int(record.Attempts) >= maxAttempts {
			return mutation{delete: true}, ErrEnrollmentAttemptsExceeded
		}

		updated, err := encodePendingEnrollment(record)
		if err != nil {
			return mutation{}, err
		}
		return mutation{data: updated, ttl: ttl}, nil
	})
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrEnrollmentAttemptsExceeded),
		errors.Is(err, ErrBackend):
		return err
	default:
		return backendErr(err)
	}
}

func encodePendingEnrollment(record *PendingEnrollment) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(enrollmentRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.UserID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.Secret); err != nil {
		return nil, err
	}
	if err := writeBytes(&buf, record.Salt); err != nil {
		return nil, err
	}
	if len(record.Hashes) > 255 {
		return nil, errors.New("too many backup code hashes")
	}
	buf.WriteByte(byte(len(record.Hashes)))
	for _, h := range record.Hashes {
		buf.Write(h[:])
	}

	return buf.Bytes(), nil
}

func decodePendingEnrollment(data []byte) (*PendingEnrollment, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != enrollmentRecordVersion1 {
		return nil, errors.New("invalid enrollment record version")
	}

	record := &PendingEnrollment{}
	if err := binary.Read(r, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.UserID, err = readString(r); err != nil {
		return nil, err
	}
	if record.Secret, err = readString(r); err != nil {
		return nil, err
	}
	if record.Salt, err = readBytes(r); err != nil {
		return nil, err
	}

	count, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Hashes = make([][32]byte, count)
	for i := range record.Hashes {
		if _, err := io.ReadFull(r, record.Hashes[i][:]); err != nil {
			return nil, err
		}
	}

	return record, nil
}
