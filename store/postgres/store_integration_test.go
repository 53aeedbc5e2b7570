//go:build integration

package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("twofa_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool, nil)
	require.NoError(t, store.EnsureSchema(ctx))
	// Idempotent.
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func codeSet(codes ...string) twofa.BackupCodeSet {
	set := twofa.BackupCodeSet{Salt: []byte("salt")}
	for _, c := range codes {
		set.Codes = append(set.Codes, twofa.BackupCodeRecord{Hash: sha256.Sum256([]byte(c))})
	}
	return set
}

func TestStoreUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateUser(ctx, " Alice@Example.com ", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", rec.Email)
	assert.False(t, rec.TwoFactorEnabled)

	_, err = s.CreateUser(ctx, "alice@example.com", "hash-2")
	assert.ErrorIs(t, err, ErrEmailTaken)

	byEmail, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, rec.UserID, byEmail.UserID)

	_, err = s.GetUserByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, twofa.ErrUserNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, twofa.ErrUserNotFound)

	require.NoError(t, s.UpdatePasswordHash(ctx, rec.UserID, "hash-3"))
	require.NoError(t, s.MarkEmailVerified(ctx, rec.UserID))
	got, err := s.GetUserByID(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, "hash-3", got.PasswordHash)
	assert.True(t, got.EmailVerified)
}

func TestStoreTwoFactorLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateUser(ctx, "bob@example.com", "hash")
	require.NoError(t, err)

	require.NoError(t, s.ActivateTwoFactor(ctx, rec.UserID, "SECRET", codeSet("a", "b")))
	got, err := s.GetUserByID(ctx, rec.UserID)
	require.NoError(t, err)
	assert.True(t, got.TwoFactorEnabled)
	assert.Equal(t, "SECRET", got.TOTPSecret)
	assert.Equal(t, uint64(1), got.TrustEpoch)

	set, err := s.GetBackupCodes(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, []byte("salt"), set.Salt)
	assert.Len(t, set.Codes, 2)

	epoch, err := s.IncrementTrustEpoch(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), epoch)

	require.NoError(t, s.DisableTwoFactor(ctx, rec.UserID))
	got, err = s.GetUserByID(ctx, rec.UserID)
	require.NoError(t, err)
	assert.False(t, got.TwoFactorEnabled)
	assert.Empty(t, got.TOTPSecret)
	assert.Equal(t, uint64(3), got.TrustEpoch)

	set, err = s.GetBackupCodes(ctx, rec.UserID)
	require.NoError(t, err)
	assert.Empty(t, set.Codes)
}

func TestStoreConsumeBackupCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateUser(ctx, "carol@example.com", "hash")
	require.NoError(t, err)
	require.NoError(t, s.ActivateTwoFactor(ctx, rec.UserID, "SECRET", codeSet("a", "b")))

	require.NoError(t, s.ConsumeBackupCode(ctx, rec.UserID, sha256.Sum256([]byte("a"))))
	assert.ErrorIs(t, s.ConsumeBackupCode(ctx, rec.UserID, sha256.Sum256([]byte("a"))), twofa.ErrAlreadyUsed)
	assert.ErrorIs(t, s.ConsumeBackupCode(ctx, rec.UserID, sha256.Sum256([]byte("z"))), twofa.ErrInvalidCode)

	set, err := s.GetBackupCodes(ctx, rec.UserID)
	require.NoError(t, err)
	used := 0
	for _, c := range set.Codes {
		if c.Used {
			used++
		}
	}
	assert.Equal(t, 1, used)

	require.NoError(t, s.ReplaceBackupCodes(ctx, rec.UserID, codeSet("c")))
	assert.ErrorIs(t, s.ConsumeBackupCode(ctx, rec.UserID, sha256.Sum256([]byte("b"))), twofa.ErrInvalidCode)
}

func TestStoreConcurrentConsume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateUser(ctx, "dave@example.com", "hash")
	require.NoError(t, err)
	require.NoError(t, s.ActivateTwoFactor(ctx, rec.UserID, "SECRET", codeSet("only")))

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	hash := sha256.Sum256([]byte("only"))
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ConsumeBackupCode(ctx, rec.UserID, hash) == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), success.Load())
}

func saltedSet(gen int) twofa.BackupCodeSet {
	salt := fmt.Sprintf("gen-%d", gen)
	set := twofa.BackupCodeSet{Salt: []byte(salt)}
	for i := 0; i < 4; i++ {
		set.Codes = append(set.Codes, twofa.BackupCodeRecord{Hash: sha256.Sum256([]byte(fmt.Sprintf("%s/%d", salt, i)))})
	}
	return set
}

func TestStoreGetBackupCodesConsistentWithReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateUser(ctx, "erin@example.com", "hash")
	require.NoError(t, err)
	require.NoError(t, s.ActivateTwoFactor(ctx, rec.UserID, "SECRET", saltedSet(0)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; gen <= 50; gen++ {
			if err := s.ReplaceBackupCodes(ctx, rec.UserID, saltedSet(gen)); err != nil {
				t.Errorf("ReplaceBackupCodes: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		set, err := s.GetBackupCodes(ctx, rec.UserID)
		require.NoError(t, err)
		require.Len(t, set.Codes, 4)
		want := map[[32]byte]bool{}
		for j := 0; j < 4; j++ {
			want[sha256.Sum256([]byte(fmt.Sprintf("%s/%d", set.Salt, j)))] = true
		}
		for _, c := range set.Codes {
			require.True(t, want[c.Hash], "salt %q paired with hashes of another set", set.Salt)
		}
	}
	wg.Wait()
}
