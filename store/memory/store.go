package memory

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/internal"
	"github.com/google/uuid"
)

// ErrEmailTaken is returned by CreateUser for an address already in use.
var ErrEmailTaken = errors.New("email already registered")

type user struct {
	record twofa.UserRecord
	codes  twofa.BackupCodeSet
}

// Store keeps users in maps behind a single RWMutex.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*user
	byEmail map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*user),
		byEmail: make(map[string]string),
	}
}

// CreateUser registers a user with an already hashed password and returns
// the stored record.
func (s *Store) CreateUser(_ context.Context, email, passwordHash string) (twofa.UserRecord, error) {
	email = internal.NormalizeEmail(email)
	if email == "" || passwordHash == "" {
		return twofa.UserRecord{}, twofa.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return twofa.UserRecord{}, ErrEmailTaken
	}
	rec := twofa.UserRecord{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
	}
	s.byID[rec.UserID] = &user{record: rec}
	s.byEmail[email] = rec.UserID
	return rec, nil
}

// GetUserByID returns a copy of the user.
func (s *Store) GetUserByID(_ context.Context, userID string) (twofa.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[userID]
	if !ok {
		return twofa.UserRecord{}, twofa.ErrUserNotFound
	}
	return u.record, nil
}

// GetUserByEmail looks up the normalized address.
func (s *Store) GetUserByEmail(_ context.Context, email string) (twofa.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[internal.NormalizeEmail(email)]
	if !ok {
		return twofa.UserRecord{}, twofa.ErrUserNotFound
	}
	return s.byID[id].record, nil
}

// with runs fn on the user under the write lock.
func (s *Store) with(userID string, fn func(*user)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return twofa.ErrUserNotFound
	}
	fn(u)
	return nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *Store) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return s.with(userID, func(u *user) { u.record.PasswordHash = hash })
}

// MarkEmailVerified sets EmailVerified.
func (s *Store) MarkEmailVerified(_ context.Context, userID string) error {
	return s.with(userID, func(u *user) { u.record.EmailVerified = true })
}

// ActivateTwoFactor stores the secret and codes and bumps the trust epoch.
func (s *Store) ActivateTwoFactor(_ context.Context, userID, secret string, codes twofa.BackupCodeSet) error {
	return s.with(userID, func(u *user) {
		u.record.TwoFactorEnabled = true
		u.record.TOTPSecret = secret
		u.record.TrustEpoch++
		u.codes = cloneSet(codes)
	})
}

// DisableTwoFactor clears the secret and codes and bumps the trust epoch.
func (s *Store) DisableTwoFactor(_ context.Context, userID string) error {
	return s.with(userID, func(u *user) {
		u.record.TwoFactorEnabled = false
		u.record.TOTPSecret = ""
		u.record.TrustEpoch++
		u.codes = twofa.BackupCodeSet{}
	})
}

// IncrementTrustEpoch returns the new epoch.
func (s *Store) IncrementTrustEpoch(_ context.Context, userID string) (uint64, error) {
	var epoch uint64
	err := s.with(userID, func(u *user) {
		u.record.TrustEpoch++
		epoch = u.record.TrustEpoch
	})
	return epoch, err
}

// GetBackupCodes returns a copy of the user's set.
func (s *Store) GetBackupCodes(_ context.Context, userID string) (twofa.BackupCodeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[userID]
	if !ok {
		return twofa.BackupCodeSet{}, twofa.ErrUserNotFound
	}
	return cloneSet(u.codes), nil
}

// ReplaceBackupCodes swaps in a new set.
func (s *Store) ReplaceBackupCodes(_ context.Context, userID string, codes twofa.BackupCodeSet) error {
	return s.with(userID, func(u *user) { u.codes = cloneSet(codes) })
}

// ConsumeBackupCode marks the matching unused code used.
func (s *Store) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) error {
	result := twofa.ErrInvalidCode
	err := s.with(userID, func(u *user) {
		for i := range u.codes.Codes {
			c := &u.codes.Codes[i]
			if subtle.ConstantTimeCompare(c.Hash[:], hash[:]) != 1 {
				continue
			}
			if c.Used {
				result = twofa.ErrAlreadyUsed
				return
			}
			c.Used = true
			result = nil
			return
		}
	})
	if err != nil {
		return err
	}
	return result
}

func cloneSet(set twofa.BackupCodeSet) twofa.BackupCodeSet {
	out := twofa.BackupCodeSet{}
	if len(set.Salt) > 0 {
		out.Salt = append([]byte(nil), set.Salt...)
	}
	if len(set.Codes) > 0 {
		out.Codes = append([]twofa.BackupCodeRecord(nil), set.Codes...)
	}
	return out
}

var _ twofa.CredentialStore = (*Store)(nil)
