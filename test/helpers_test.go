//go:build integration
// +build integration

package test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/mail"
	"github.com/MrEthical07/twofa/store/memory"
	"github.com/redis/go-redis/v9"
)

const compatPassword = "compat-password"

var compatSigningKey = []byte("compat-signing-key-0123456789abc")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newCompatEngine builds an engine over rdb with a fresh in-memory user.
func newCompatEngine(t *testing.T, rdb redis.UniversalClient, prefix string) (*twofa.Engine, twofa.UserRecord) {
	t.Helper()

	cfg := twofa.DefaultConfig()
	cfg.KeyPrefix = prefix
	cfg.TrustedDevice.PrivateKey = compatSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1

	store := memory.New()
	engine, err := twofa.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mail.NewLogSender(quietLogger())).
		WithLogger(quietLogger()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.HashPassword(compatPassword)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	user, err := store.CreateUser(context.Background(), "compat@example.com", hash)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return engine, user
}
