//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				// Flush the test DB to avoid state leaking between runs.
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	// Cluster mode: when REDIS_CLUSTER_ADDRS is set (comma-separated).
	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				clusterAddrs := splitAddrs(addrs)
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: clusterAddrs})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	// Sentinel mode: when REDIS_SENTINEL_ADDRS and REDIS_SENTINEL_MASTER are set.
	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis sentinel: %v", err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// compatPrefix keeps runs against a shared server from colliding.
func compatPrefix() string {
	return fmt.Sprintf("tfc%d", time.Now().UnixNano())
}

func TestRedisCompatEmailOTP(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			engine, _ := newCompatEngine(t, rdb, compatPrefix())
			ctx := context.Background()

			first, err := engine.IssueEmailOTP(ctx, "compat@example.com", twofa.PurposeSignIn)
			if err != nil {
				t.Fatalf("IssueEmailOTP failed: %v", err)
			}
			second, err := engine.IssueEmailOTP(ctx, "compat@example.com", twofa.PurposeSignIn)
			if err != nil {
				t.Fatalf("reissue failed: %v", err)
			}
			if first != second {
				if err := engine.VerifyEmailOTP(ctx, "compat@example.com", twofa.PurposeSignIn, first); !errors.Is(err, twofa.ErrInvalidCode) {
					t.Fatalf("superseded code: expected ErrInvalidCode, got %v", err)
				}
			}
			if err := engine.VerifyEmailOTP(ctx, "compat@example.com", twofa.PurposeSignIn, second); err != nil {
				t.Fatalf("VerifyEmailOTP failed: %v", err)
			}
			if err := engine.VerifyEmailOTP(ctx, "compat@example.com", twofa.PurposeSignIn, second); !errors.Is(err, twofa.ErrInvalidCode) {
				t.Fatalf("reuse: expected ErrInvalidCode, got %v", err)
			}
		})
	}
}

func TestRedisCompatEnrollmentAndChallenge(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			engine, user := newCompatEngine(t, rdb, compatPrefix())
			ctx := context.Background()

			enrollment, err := engine.Enable(ctx, user.UserID, compatPassword)
			if err != nil {
				t.Fatalf("Enable failed: %v", err)
			}
			status, err := engine.Status(ctx, user.UserID)
			if err != nil || !status.Pending {
				t.Fatalf("expected pending enrollment, status=%+v err=%v", status, err)
			}
			code, err := totp.GenerateCode(enrollment.Secret, time.Now())
			if err != nil {
				t.Fatalf("GenerateCode failed: %v", err)
			}
			if err := engine.ConfirmEnrollment(ctx, user.UserID, code); err != nil {
				t.Fatalf("ConfirmEnrollment failed: %v", err)
			}

			login, err := engine.Login(ctx, twofa.LoginRequest{Email: user.Email, Password: compatPassword})
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			if !login.ChallengeRequired || login.ChallengeID == "" {
				t.Fatalf("expected a challenge, got %+v", login)
			}

			res, err := engine.VerifyChallenge(ctx, twofa.VerifyRequest{
				ChallengeID: login.ChallengeID,
				Method:      twofa.MethodBackupCode,
				Code:        enrollment.BackupCodes[0],
				TrustDevice: true,
			})
			if err != nil {
				t.Fatalf("VerifyChallenge failed: %v", err)
			}
			if res.UserID != user.UserID || res.TrustToken == nil {
				t.Fatalf("unexpected verify result %+v", res)
			}

			// The challenge is single use.
			_, err = engine.VerifyChallenge(ctx, twofa.VerifyRequest{
				ChallengeID: login.ChallengeID,
				Method:      twofa.MethodBackupCode,
				Code:        enrollment.BackupCodes[1],
			})
			if !errors.Is(err, twofa.ErrChallengeNotFound) {
				t.Fatalf("expected ErrChallengeNotFound, got %v", err)
			}

			trusted, err := engine.Login(ctx, twofa.LoginRequest{
				Email:      user.Email,
				Password:   compatPassword,
				TrustToken: res.TrustToken.Token,
			})
			if err != nil || !trusted.Completed || !trusted.TrustedDevice {
				t.Fatalf("expected trusted login, got %+v err=%v", trusted, err)
			}
		})
	}
}

func TestRedisCompatConcurrentEnable(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			engine, user := newCompatEngine(t, rdb, compatPrefix())
			ctx := context.Background()

			const workers = 6
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				secrets = map[string]struct{}{}
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := engine.Enable(ctx, user.UserID, compatPassword)
					if err != nil {
						return
					}
					mu.Lock()
					secrets[res.Secret] = struct{}{}
					mu.Unlock()
				}()
			}
			wg.Wait()

			if len(secrets) == 0 {
				t.Fatal("expected at least one enrollment to start")
			}
			status, err := engine.Status(ctx, user.UserID)
			if err != nil || !status.Pending || status.Enabled {
				t.Fatalf("expected a single pending enrollment, status=%+v err=%v", status, err)
			}
		})
	}
}
