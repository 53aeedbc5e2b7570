package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestWindowRecordFailureLimitsAtMax(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewWindow(rdb, "tf:lim:totp", Config{Max: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("failure %d: unexpected %v", i+1, err)
		}
	}
	if err := l.RecordFailure(ctx, "u1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited on third failure, got %v", err)
	}
	if err := l.Check(ctx, "u1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected Check to report ErrLimited, got %v", err)
	}
	if err := l.Check(ctx, "u2"); err != nil {
		t.Fatalf("expected other keys unaffected, got %v", err)
	}
}

func TestWindowExpiresAndResets(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewWindow(rdb, "tf:lim:x", Config{Max: 1, Window: time.Minute})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "u1")
	if err := l.Check(ctx, "u1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected limited, got %v", err)
	}

	mr.FastForward(61 * time.Second)
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}

	_ = l.RecordFailure(ctx, "u1")
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected reset to clear counter, got %v", err)
	}
}

func TestWindowAllowPermitsExactlyMax(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewWindow(rdb, "tf:lim:send", Config{Max: 2, Window: time.Minute})
	ctx := context.Background()

	if err := l.Allow(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow(ctx, "a"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected third send to be limited, got %v", err)
	}
}

func TestWindowNilSafe(t *testing.T) {
	var l *Window
	ctx := context.Background()
	if err := l.Check(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordFailure(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if err := l.Reset(ctx, "u"); err != nil {
		t.Fatal(err)
	}
}
