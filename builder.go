package twofa

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/twofa/internal/audit"
	"github.com/MrEthical07/twofa/internal/limiters"
	"github.com/MrEthical07/twofa/internal/stores"
	"github.com/MrEthical07/twofa/jwt"
	"github.com/MrEthical07/twofa/password"
	"github.com/redis/go-redis/v9"
)

// Builder collects the Engine's dependencies. It is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     CredentialStore
	mailer    Mailer
	logger    *slog.Logger
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig sets the engine configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client that holds every short-lived record.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the durable user and backup-code store.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.users = store
	return b
}

// WithMailer sets the mailer used for email OTP delivery.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithLogger sets the structured logger. Nil means slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink and enables auditing when non-nil.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("credential store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config: cfg,
		logger: logger.With("component", "twofa"),
		now:    clock,
		users:  b.users,
		mailer: b.mailer,
	}

	// -------- REDIS STATE --------
	p := cfg.KeyPrefix
	engine.otps = stores.NewEmailOTPStore(b.redis, p+":otp")
	engine.enrollments = stores.NewEnrollmentStore(b.redis, p+":enr")
	engine.challenges = stores.NewChallengeStore(b.redis, p+":chl")
	engine.usedCodes = stores.NewUsedCodeStore(b.redis, p+":totpu")
	engine.userLock = stores.NewUserLock(b.redis, p+":lock", stores.LockConfig{
		TTL:   cfg.Lock.TTL,
		Wait:  cfg.Lock.Wait,
		Retry: cfg.Lock.Retry,
	})

	// -------- LIMITERS --------
	engine.resendLimiter = limiters.NewWindow(b.redis, p+":rl:otp", limiters.Config{
		Max:    cfg.EmailOTP.ResendMax,
		Window: cfg.EmailOTP.ResendWindow,
	})
	engine.totpLimiter = limiters.NewWindow(b.redis, p+":rl:totp", limiters.Config{
		Max:    cfg.TOTP.MaxFailures,
		Window: cfg.TOTP.FailureWindow,
	})
	engine.backupLimiter = limiters.NewWindow(b.redis, p+":rl:bc", limiters.Config{
		Max:    cfg.BackupCodes.MaxFailures,
		Window: cfg.BackupCodes.FailureWindow,
	})
	engine.loginLimiter = limiters.NewWindow(b.redis, p+":rl:login", limiters.Config{
		Max:    cfg.Login.MaxAttempts,
		Window: cfg.Login.Cooldown,
	})

	// -------- CRYPTO --------
	engine.totp = newTOTPManager(cfg.TOTP)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	tm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.TrustedDevice.TTL,
		SigningMethod: jwt.SigningMethod(cfg.TrustedDevice.SigningMethod),
		PrivateKey:    cloneBytes(cfg.TrustedDevice.PrivateKey),
		PublicKey:     cloneBytes(cfg.TrustedDevice.PublicKey),
		Issuer:        cfg.TrustedDevice.Issuer,
		KeyID:         cfg.TrustedDevice.KeyID,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.trust = tm

	// -------- OBSERVABILITY --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return engine, nil
}

// HashPassword hashes a password with the Engine's argon2id parameters, for
// stores that create users.
func (e *Engine) HashPassword(password string) (string, error) {
	if e == nil || e.passwordHash == nil {
		return "", ErrEngineNotReady
	}
	return e.passwordHash.Hash(password)
}
