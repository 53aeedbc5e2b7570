package memory

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/MrEthical07/twofa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec, err := s.CreateUser(ctx, " Alice@Example.com ", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", rec.Email)
	assert.Len(t, rec.UserID, 36)

	byEmail, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, rec, byEmail)

	byID, err := s.GetUserByID(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, rec, byID)

	_, err = s.CreateUser(ctx, "alice@example.com", "hash")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, twofa.ErrUserNotFound)
	_, err = s.GetUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, twofa.ErrUserNotFound)
}

func TestActivateAndDisableBumpEpoch(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec, err := s.CreateUser(ctx, "a@example.com", "hash")
	require.NoError(t, err)

	h := sha256.Sum256([]byte("code"))
	set := twofa.BackupCodeSet{Salt: []byte("salt"), Codes: []twofa.BackupCodeRecord{{Hash: h}}}
	require.NoError(t, s.ActivateTwoFactor(ctx, rec.UserID, "SECRET", set))

	got, _ := s.GetUserByID(ctx, rec.UserID)
	assert.True(t, got.TwoFactorEnabled)
	assert.Equal(t, "SECRET", got.TOTPSecret)
	assert.Equal(t, uint64(1), got.TrustEpoch)

	// The caller's slice is not aliased.
	set.Codes[0].Used = true
	codes, err := s.GetBackupCodes(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, codes.Remaining())

	require.NoError(t, s.DisableTwoFactor(ctx, rec.UserID))
	got, _ = s.GetUserByID(ctx, rec.UserID)
	assert.False(t, got.TwoFactorEnabled)
	assert.Empty(t, got.TOTPSecret)
	assert.Equal(t, uint64(2), got.TrustEpoch)

	codes, err = s.GetBackupCodes(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Zero(t, codes.Remaining())

	epoch, err := s.IncrementTrustEpoch(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), epoch)
}

func TestConsumeBackupCode(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec, err := s.CreateUser(ctx, "a@example.com", "hash")
	require.NoError(t, err)

	h1 := sha256.Sum256([]byte("one"))
	h2 := sha256.Sum256([]byte("two"))
	require.NoError(t, s.ReplaceBackupCodes(ctx, rec.UserID, twofa.BackupCodeSet{
		Salt:  []byte("salt"),
		Codes: []twofa.BackupCodeRecord{{Hash: h1}, {Hash: h2}},
	}))

	require.NoError(t, s.ConsumeBackupCode(ctx, rec.UserID, h1))
	assert.ErrorIs(t, s.ConsumeBackupCode(ctx, rec.UserID, h1), twofa.ErrAlreadyUsed)
	assert.ErrorIs(t, s.ConsumeBackupCode(ctx, rec.UserID, sha256.Sum256([]byte("x"))), twofa.ErrInvalidCode)
	assert.ErrorIs(t, s.ConsumeBackupCode(ctx, "missing", h2), twofa.ErrUserNotFound)

	codes, _ := s.GetBackupCodes(ctx, rec.UserID)
	assert.Equal(t, 1, codes.Remaining())
}

func TestConsumeBackupCodeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec, _ := s.CreateUser(ctx, "a@example.com", "hash")
	h := sha256.Sum256([]byte("one"))
	require.NoError(t, s.ReplaceBackupCodes(ctx, rec.UserID, twofa.BackupCodeSet{
		Salt:  []byte("salt"),
		Codes: []twofa.BackupCodeRecord{{Hash: h}},
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ConsumeBackupCode(ctx, rec.UserID, h) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
