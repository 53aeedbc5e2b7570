package stores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpRecordVersion1 = 1
	otpRecordSize     = 1 + 2 + 8 + 16 + 32
)

var (
	ErrOTPMismatch         = errors.New("otp mismatch")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
)

// issueOTPLua replaces the live record and hands back the one it displaced.
// KEYS[1] = record key
// ARGV[1] = encoded record
// ARGV[2] = ttl in milliseconds
//
// Returns {previous record or "", previous pttl or 0}.
var issueOTPLua = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
local pttl = 0
if prev then
  pttl = redis.call('PTTL', KEYS[1])
else
  prev = ''
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return {prev, pttl}
`)

// rollbackOTPLua undoes one issuance if nothing newer has replaced it.
// KEYS[1] = record key
// ARGV[1] = issue id (16 bytes)
// ARGV[2] = previous record or ""
// ARGV[3] = previous remaining ttl in milliseconds
var rollbackOTPLua = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
if string.sub(cur, 12, 27) ~= ARGV[1] then
  return 0
end
local ttl = tonumber(ARGV[3])
if ARGV[2] ~= '' and ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
  redis.call('DEL', KEYS[1])
end
return 1
`)

// consumeOTPLua performs GET, validate and DEL (or attempt bump) atomically.
// KEYS[1] = record key
// ARGV[1] = candidate hash (32 bytes)
// ARGV[2] = max attempts
// ARGV[3] = current unix time
//
// Layout: version(1) attempts(2) expiresAt(8) issueID(16) hash(32), big-endian.
var consumeOTPLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
if string.byte(data, 1) ~= 1 or string.len(data) ~= 59 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local maxAttempts = tonumber(ARGV[2])
local nowUnix = tonumber(ARGV[3])

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)
local expiresAt = 0
for i = 4, 11 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

if string.sub(data, 28, 59) ~= ARGV[1] then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  local updated = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
  redis.call('SET', KEYS[1], updated, 'PX', ttlMs)
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// OTPRecord is the stored form of one emailed code.
type OTPRecord struct {
	Attempts  uint16
	ExpiresAt int64
	IssueID   [16]byte
	Hash      [32]byte
}

// OTPIssue remembers what an issuance displaced so it can be undone.
type OTPIssue struct {
	IssueID  [16]byte
	IssuedAt time.Time
	previous []byte
	prevTTL  time.Duration
}

// EmailOTPStore holds at most one live code per (purpose, email).
type EmailOTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewEmailOTPStore returns a store keyed under prefix, "tf:otp" by default.
func NewEmailOTPStore(redisClient redis.UniversalClient, prefix string) *EmailOTPStore {
	if prefix == "" {
		prefix = "tf:otp"
	}
	return &EmailOTPStore{redis: redisClient, prefix: prefix}
}

func (s *EmailOTPStore) key(purpose, email string) string {
	return s.prefix + ":" + purpose + ":" + email
}

// HashOTP binds a code to its address and purpose before it is stored or
// compared.
func HashOTP(purpose, email, code string) [32]byte {
	data := make([]byte, 0, len(purpose)+len(email)+len(code)+2)
	data = append(data, purpose...)
	data = append(data, 0)
	data = append(data, email...)
	data = append(data, 0)
	data = append(data, code...)
	return sha256.Sum256(data)
}

// Issue stores a new code, replacing any live one. The key outlives
// ExpiresAt by grace so late attempts can be told apart from unknown codes.
func (s *EmailOTPStore) Issue(
	ctx context.Context,
	purpose, email string,
	record OTPRecord,
	now time.Time,
	grace time.Duration,
) (*OTPIssue, error) {
	encoded := encodeOTPRecord(&record)
	ttl := time.Unix(record.ExpiresAt, 0).Sub(now) + grace
	if ttl <= 0 {
		return nil, errors.New("otp record already expired")
	}

	res, err := issueOTPLua.Run(ctx, s.redis, []string{s.key(purpose, email)}, encoded, ttl.Milliseconds()).Slice()
	if err != nil {
		return nil, backendErr(err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected issue reply", ErrBackend)
	}

	issue := &OTPIssue{IssueID: record.IssueID, IssuedAt: now}
	if prev, ok := res[0].(string); ok && prev != "" {
		issue.previous = []byte(prev)
		if ms, ok := res[1].(int64); ok && ms > 0 {
			issue.prevTTL = time.Duration(ms) * time.Millisecond
		}
	}
	return issue, nil
}

// Rollback removes the code written by issue and restores whatever it
// displaced. It is a no-op once a newer code has been issued.
func (s *EmailOTPStore) Rollback(ctx context.Context, purpose, email string, issue *OTPIssue, now time.Time) (bool, error) {
	if issue == nil {
		return false, nil
	}

	var prev []byte
	remaining := issue.prevTTL - now.Sub(issue.IssuedAt)
	if len(issue.previous) > 0 && remaining > 0 {
		prev = issue.previous
	} else {
		remaining = 0
	}

	n, err := rollbackOTPLua.Run(ctx, s.redis,
		[]string{s.key(purpose, email)},
		string(issue.IssueID[:]),
		string(prev),
		remaining.Milliseconds(),
	).Int()
	if err != nil {
		return false, backendErr(err)
	}
	return n == 1, nil
}

// Consume checks a candidate hash and deletes the record on success.
func (s *EmailOTPStore) Consume(
	ctx context.Context,
	purpose, email string,
	candidate [32]byte,
	maxAttempts int,
	now time.Time,
) (*OTPRecord, error) {
	result, err := consumeOTPLua.Run(ctx, s.redis,
		[]string{s.key(purpose, email)},
		string(candidate[:]),
		maxAttempts,
		now.Unix(),
	).Result()
	if err != nil {
		switch {
		case scriptError(err, "not_found"):
			return nil, ErrNotFound
		case scriptError(err, "expired"):
			return nil, ErrExpired
		case scriptError(err, "attempts_exceeded"):
			return nil, ErrOTPAttemptsExceeded
		case scriptError(err, "mismatch"):
			return nil, ErrOTPMismatch
		default:
			return nil, backendErr(err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected consume reply", ErrBackend)
	}
	record, err := decodeOTPRecord([]byte(data))
	if err != nil {
		return nil, backendErr(err)
	}

	// Lua string equality is not constant time.
	if subtle.ConstantTimeCompare(record.Hash[:], candidate[:]) != 1 {
		return nil, ErrOTPMismatch
	}
	return record, nil
}

func encodeOTPRecord(record *OTPRecord) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, otpRecordSize))
	buf.WriteByte(otpRecordVersion1)
	_ = binary.Write(buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(buf, binary.BigEndian, record.ExpiresAt)
	buf.Write(record.IssueID[:])
	buf.Write(record.Hash[:])
	return buf.Bytes()
}

func decodeOTPRecord(data []byte) (*OTPRecord, error) {
	if len(data) != otpRecordSize {
		return nil, errors.New("invalid otp record size")
	}
	if data[0] != otpRecordVersion1 {
		return nil, errors.New("invalid otp record version")
	}

	record := &OTPRecord{
		Attempts:  binary.BigEndian.Uint16(data[1:3]),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[3:11])),
	}
	copy(record.IssueID[:], data[11:27])
	copy(record.Hash[:], data[27:59])
	return record, nil
}
