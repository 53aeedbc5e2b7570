package twofa

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/twofa/mail"
	"github.com/MrEthical07/twofa/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-pw"

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type mockStore struct {
	mu      sync.Mutex
	users   map[string]UserRecord
	byEmail map[string]string
	codes   map[string]BackupCodeSet

	getErr error
	// onConsume runs inside ConsumeBackupCode before the code is checked.
	onConsume func()
}

func newMockStore() *mockStore {
	return &mockStore{
		users:   map[string]UserRecord{},
		byEmail: map[string]string{},
		codes:   map[string]BackupCodeSet{},
	}
}

func (m *mockStore) addUser(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
	m.byEmail[u.Email] = u.UserID
}

func (m *mockStore) user(id string) UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *mockStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	id, ok := m.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockStore) update(userID string, fn func(*UserRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	m.users[userID] = u
	return nil
}

func (m *mockStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return m.update(userID, func(u *UserRecord) { u.PasswordHash = hash })
}

func (m *mockStore) MarkEmailVerified(_ context.Context, userID string) error {
	return m.update(userID, func(u *UserRecord) { u.EmailVerified = true })
}

func (m *mockStore) ActivateTwoFactor(_ context.Context, userID, secret string, codes BackupCodeSet) error {
	err := m.update(userID, func(u *UserRecord) {
		u.TwoFactorEnabled = true
		u.TOTPSecret = secret
		u.TrustEpoch++
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.codes[userID] = codes
	m.mu.Unlock()
	return nil
}

func (m *mockStore) DisableTwoFactor(_ context.Context, userID string) error {
	err := m.update(userID, func(u *UserRecord) {
		u.TwoFactorEnabled = false
		u.TOTPSecret = ""
		u.TrustEpoch++
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.codes, userID)
	m.mu.Unlock()
	return nil
}

func (m *mockStore) IncrementTrustEpoch(_ context.Context, userID string) (uint64, error) {
	var epoch uint64
	err := m.update(userID, func(u *UserRecord) {
		u.TrustEpoch++
		epoch = u.TrustEpoch
	})
	return epoch, err
}

func (m *mockStore) GetBackupCodes(_ context.Context, userID string) (BackupCodeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return BackupCodeSet{}, ErrUserNotFound
	}
	set := m.codes[userID]
	out := BackupCodeSet{Salt: set.Salt, Codes: append([]BackupCodeRecord(nil), set.Codes...)}
	return out, nil
}

func (m *mockStore) ReplaceBackupCodes(_ context.Context, userID string, codes BackupCodeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	m.codes[userID] = codes
	return nil
}

func (m *mockStore) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) error {
	if m.onConsume != nil {
		m.onConsume()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.codes[userID]
	if !ok {
		return ErrInvalidCode
	}
	for i := range set.Codes {
		if subtle.ConstantTimeCompare(set.Codes[i].Hash[:], hash[:]) != 1 {
			continue
		}
		if set.Codes[i].Used {
			return ErrAlreadyUsed
		}
		set.Codes[i].Used = true
		return nil
	}
	return ErrInvalidCode
}

type mockMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *mockMailer) Send(_ context.Context, msg mail.Message) (mail.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return mail.Result{}, m.err
	}
	m.sent = append(m.sent, msg)
	return mail.Result{MessageID: "test"}, nil
}

func (m *mockMailer) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var mailCodePattern = regexp.MustCompile(`code is: (\d+)`)

// lastCode extracts the code from the most recent message.
func (m *mockMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no message sent")
	}
	match := mailCodePattern.FindStringSubmatch(m.sent[len(m.sent)-1].Text)
	if match == nil {
		t.Fatalf("no code in message %q", m.sent[len(m.sent)-1].Text)
	}
	return match[1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// Aligned to the start of a 30 second TOTP step.
	return &fakeClock{now: time.Unix(1_700_000_010, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine *Engine
	store  *mockStore
	mailer *mockMailer
	clock  *fakeClock
	redis  *miniredis.Miniredis
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TrustedDevice.PrivateKey = testSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEnv(t testing.TB, mutate ...func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithSink(t, nil, mutate...)
}

func newTestEnvWithSink(t testing.TB, sink AuditSink, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		store:  newMockStore(),
		mailer: &mockMailer{},
		clock:  newFakeClock(),
		redis:  mr,
	}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(env.store).
		WithMailer(env.mailer).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(env.clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

var testHasher struct {
	once sync.Once
	hash string
}

// passwordHash hashes testPassword once per test binary.
func passwordHash(t testing.TB) string {
	t.Helper()
	testHasher.once.Do(func() {
		h, err := password.NewArgon2(password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		})
		if err != nil {
			panic(err)
		}
		testHasher.hash, err = h.Hash(testPassword)
		if err != nil {
			panic(err)
		}
	})
	return testHasher.hash
}

func (env *testEnv) addUser(t testing.TB, id, email string) {
	t.Helper()
	env.store.addUser(UserRecord{
		UserID:       id,
		Email:        email,
		PasswordHash: passwordHash(t),
	})
}

// totpCode computes the code for secret at the fake clock plus offset.
func (env *testEnv) totpCode(t *testing.T, secret string, offset time.Duration) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, env.clock.Now().Add(offset), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// enroll runs Enable and ConfirmEnrollment for a fresh user and returns the
// enrollment material. The clock is moved past the confirmation step so the
// next TOTP code is not a replay.
func (env *testEnv) enroll(t *testing.T, id, email string) EnrollmentResult {
	t.Helper()
	env.addUser(t, id, email)

	ctx := context.Background()
	res, err := env.engine.Enable(ctx, id, testPassword)
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if err := env.engine.ConfirmEnrollment(ctx, id, env.totpCode(t, res.Secret, 0)); err != nil {
		t.Fatalf("ConfirmEnrollment failed: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	return res
}

func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
