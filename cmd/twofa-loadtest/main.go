// Command twofa-loadtest races concurrent consumers against single-use
// credentials and fails if any email OTP or backup code is accepted twice.
//
//	go run ./cmd/twofa-loadtest -users 200 -racers 8
//
// Without -redis-addr or REDIS_ADDR it runs on miniredis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/mail"
	"github.com/MrEthical07/twofa/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "correct-pw"

type nopMailer struct{}

func (nopMailer) Send(context.Context, mail.Message) (mail.Result, error) {
	return mail.Result{MessageID: "loadtest"}, nil
}

type target struct {
	userID string
	email  string
	code   string
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of enrolled users")
		racers      = flag.Int("racers", 8, "concurrent consumers per credential")
		concurrency = flag.Int("concurrency", 64, "credentials raced at once")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *racers <= 1 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "users and concurrency must be > 0, racers > 1")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := twofa.DefaultConfig()
	cfg.KeyPrefix = fmt.Sprintf("tfload%d", time.Now().UnixNano())
	cfg.TrustedDevice.PrivateKey = []byte("loadtest-loadtest-loadtest-key-32")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	// Losers of each race count as failures; keep the limiters out of the way.
	cfg.BackupCodes.MaxFailures = *racers * *users
	cfg.EmailOTP.MaxAttempts = *racers + 1

	store := memory.New()
	engine, err := twofa.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithMailer(nopMailer{}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("enrolling %d users...\n", *users)
	start := time.Now()
	backup, err := seed(ctx, engine, store, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("enrolled in %s\n", time.Since(start).Round(time.Millisecond))

	otps := make([]target, 0, *users)
	for _, b := range backup {
		code, err := engine.IssueEmailOTP(ctx, b.email, twofa.PurposeSignIn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue otp: %v\n", err)
			os.Exit(1)
		}
		otps = append(otps, target{userID: b.userID, email: b.email, code: code})
	}

	otpStats := race(otps, *racers, *concurrency, func(t target) error {
		return engine.VerifyEmailOTP(ctx, t.email, twofa.PurposeSignIn, t.code)
	})
	backupStats := race(backup, *racers, *concurrency, func(t target) error {
		return engine.ConsumeBackupCode(ctx, t.userID, t.code)
	})

	fmt.Println("---- results ----")
	printStats("email-otp", otpStats)
	printStats("backup-code", backupStats)

	if otpStats.doubleSpent > 0 || backupStats.doubleSpent > 0 {
		fmt.Fprintln(os.Stderr, "FAIL: a single-use credential was accepted more than once")
		os.Exit(1)
	}
	if otpStats.unspent > 0 || backupStats.unspent > 0 {
		fmt.Fprintln(os.Stderr, "FAIL: a valid credential was never accepted")
		os.Exit(1)
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// seed enrolls n users and returns one backup code per user.
func seed(ctx context.Context, engine *twofa.Engine, store *memory.Store, n int) ([]target, error) {
	hash, err := engine.HashPassword(loadPassword)
	if err != nil {
		return nil, err
	}

	out := make([]target, 0, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("load-%d@example.com", i)
		user, err := store.CreateUser(ctx, email, hash)
		if err != nil {
			return nil, err
		}
		res, err := engine.Enable(ctx, user.UserID, loadPassword)
		if err != nil {
			return nil, fmt.Errorf("enable %s: %w", email, err)
		}
		code, err := totp.GenerateCode(res.Secret, time.Now())
		if err != nil {
			return nil, err
		}
		if err := engine.ConfirmEnrollment(ctx, user.UserID, code); err != nil {
			return nil, fmt.Errorf("confirm %s: %w", email, err)
		}
		out = append(out, target{userID: user.UserID, email: email, code: res.BackupCodes[0]})
	}
	return out, nil
}

type raceStats struct {
	credentials int
	attempts    int
	accepted    int64
	rejected    int64
	unexpected  int64
	doubleSpent int
	unspent     int
	total       time.Duration
	p50         time.Duration
	p95         time.Duration
	p99         time.Duration
}

// race runs racers concurrent attempts against each target, concurrency
// targets at a time.
func race(targets []target, racers, concurrency int, attempt func(target) error) raceStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		accepted  int64
		rejected  int64
		unexpect  int64
		wins      = make([]int32, len(targets))
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(targets)*racers)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(targets) {
					return
				}

				var inner sync.WaitGroup
				gate := make(chan struct{})
				for r := 0; r < racers; r++ {
					inner.Add(1)
					go func() {
						defer inner.Done()
						<-gate
						t0 := time.Now()
						err := attempt(targets[i])
						d := time.Since(t0)

						switch {
						case err == nil:
							atomic.AddInt64(&accepted, 1)
							atomic.AddInt32(&wins[i], 1)
						case errors.Is(err, twofa.ErrAlreadyUsed),
							errors.Is(err, twofa.ErrInvalidCode),
							errors.Is(err, twofa.ErrRateLimited):
							atomic.AddInt64(&rejected, 1)
						default:
							atomic.AddInt64(&unexpect, 1)
						}
						mu.Lock()
						latencies = append(latencies, d)
						mu.Unlock()
					}()
				}
				close(gate)
				inner.Wait()
			}
		}()
	}
	wg.Wait()

	s := raceStats{
		credentials: len(targets),
		attempts:    len(latencies),
		accepted:    accepted,
		rejected:    rejected,
		unexpected:  unexpect,
		total:       time.Since(start),
	}
	for _, n := range wins {
		switch {
		case n > 1:
			s.doubleSpent++
		case n == 0:
			s.unspent++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.p50 = percentile(latencies, 50)
	s.p95 = percentile(latencies, 95)
	s.p99 = percentile(latencies, 99)
	return s
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s raceStats) {
	fmt.Printf("%s: credentials=%d attempts=%d accepted=%d rejected=%d unexpected=%d double_spent=%d unspent=%d total=%s p50=%s p95=%s p99=%s\n",
		name,
		s.credentials,
		s.attempts,
		s.accepted,
		s.rejected,
		s.unexpected,
		s.doubleSpent,
		s.unspent,
		s.total.Round(time.Millisecond),
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
