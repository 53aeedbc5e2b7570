package twofa

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override what you need; Builder.Build validates and copies it.
type Config struct {
	// AppName appears in email subjects and bodies.
	AppName string
	// KeyPrefix namespaces every Redis key the Engine writes.
	KeyPrefix string

	TOTP          TOTPConfig
	EmailOTP      EmailOTPConfig
	BackupCodes   BackupCodeConfig
	TrustedDevice TrustedDeviceConfig
	Enrollment    EnrollmentConfig
	Challenge     ChallengeConfig
	Login         LoginConfig
	Lock          LockConfig
	Password      PasswordConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
FACTOR CONFIG
====================================
*/

// TOTPConfig controls authenticator-app codes.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string // SHA1 (default), SHA256, SHA512
	Skew                    int
	EnforceReplayProtection bool
	MaxFailures             int
	FailureWindow           time.Duration
}

// EmailOTPConfig controls emailed one-time codes.
type EmailOTPConfig struct {
	Digits      int
	TTL         time.Duration
	Grace       time.Duration
	MaxAttempts int
	// ResendMax codes may be issued per (email, purpose) per ResendWindow.
	ResendMax    int
	ResendWindow time.Duration
}

// BackupCodeConfig controls recovery codes.
type BackupCodeConfig struct {
	Count         int
	Length        int
	MaxFailures   int
	FailureWindow time.Duration
}

// TrustedDeviceConfig controls the signed "remember this device" token.
type TrustedDeviceConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	KeyID         string
	// BindDevice embeds a hash of the client User-Agent in the token.
	BindDevice bool
}

/*
====================================
STATE MACHINE CONFIG
====================================
*/

// EnrollmentConfig controls pending TOTP enrollments.
type EnrollmentConfig struct {
	PendingTTL  time.Duration
	MaxAttempts int
}

// ChallengeConfig controls login challenges.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
	// BusyTimeout is how long a challenge may sit in the verifying state
	// before another request can take it over.
	BusyTimeout time.Duration
	// AllowEmailOTP offers an emailed code as a second factor.
	AllowEmailOTP bool
}

// LoginConfig throttles primary authentication per email and client IP.
type LoginConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// LockConfig bounds the per-user lock around enrollment changes.
type LockConfig struct {
	TTL   time.Duration
	Wait  time.Duration
	Retry time.Duration
}

// PasswordConfig holds the argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. TrustedDevice.PrivateKey
// has no default and must be set before Build.
func DefaultConfig() Config {
	return Config{
		AppName:   "Task Manager",
		KeyPrefix: "tf",
		TOTP: TOTPConfig{
			Issuer:                  "Task Manager",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			MaxFailures:             5,
			FailureWindow:           time.Minute,
		},
		EmailOTP: EmailOTPConfig{
			Digits:       6,
			TTL:          5 * time.Minute,
			Grace:        time.Minute,
			MaxAttempts:  5,
			ResendMax:    5,
			ResendWindow: 15 * time.Minute,
		},
		BackupCodes: BackupCodeConfig{
			Count:         10,
			Length:        8,
			MaxFailures:   10,
			FailureWindow: 15 * time.Minute,
		},
		TrustedDevice: TrustedDeviceConfig{
			TTL:           30 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "twofa",
			BindDevice:    false,
		},
		Enrollment: EnrollmentConfig{
			PendingTTL:  15 * time.Minute,
			MaxAttempts: 5,
		},
		Challenge: ChallengeConfig{
			TTL:           5 * time.Minute,
			MaxAttempts:   5,
			BusyTimeout:   10 * time.Second,
			AllowEmailOTP: true,
		},
		Login: LoginConfig{
			MaxAttempts: 5,
			Cooldown:    15 * time.Minute,
		},
		Lock: LockConfig{
			TTL:   5 * time.Second,
			Wait:  2 * time.Second,
			Retry: 25 * time.Millisecond,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        1,
			Parallelism: 4,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.TrustedDevice.PrivateKey = cloneBytes(cfg.TrustedDevice.PrivateKey)
	out.TrustedDevice.PublicKey = cloneBytes(cfg.TrustedDevice.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return errors.New("AppName must not be empty")
	}
	if strings.TrimSpace(c.KeyPrefix) == "" || strings.ContainsAny(c.KeyPrefix, " :") {
		return errors.New("KeyPrefix must be non-empty and contain no spaces or colons")
	}

	// TOTP
	if c.TOTP.Issuer == "" || strings.Contains(c.TOTP.Issuer, ":") {
		return errors.New("TOTP Issuer must be non-empty and contain no colon")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	if c.TOTP.MaxFailures <= 0 || c.TOTP.FailureWindow <= 0 {
		return errors.New("TOTP MaxFailures and FailureWindow must be > 0")
	}

	// Email OTP
	if c.EmailOTP.Digits < 6 || c.EmailOTP.Digits > 10 {
		return errors.New("EmailOTP Digits must be between 6 and 10")
	}
	if c.EmailOTP.TTL <= 0 {
		return errors.New("EmailOTP TTL must be > 0")
	}
	if c.EmailOTP.Grace < 0 {
		return errors.New("EmailOTP Grace must be >= 0")
	}
	if c.EmailOTP.MaxAttempts <= 0 {
		return errors.New("EmailOTP MaxAttempts must be > 0")
	}
	if c.EmailOTP.ResendMax <= 0 || c.EmailOTP.ResendWindow <= 0 {
		return errors.New("EmailOTP ResendMax and ResendWindow must be > 0")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 50 {
		return errors.New("BackupCodes Count must be between 1 and 50")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length%2 != 0 {
		return errors.New("BackupCodes Length must be an even number >= 8")
	}
	if c.BackupCodes.MaxFailures <= 0 || c.BackupCodes.FailureWindow <= 0 {
		return errors.New("BackupCodes MaxFailures and FailureWindow must be > 0")
	}

	// Trusted device
	if c.TrustedDevice.TTL <= 0 {
		return errors.New("TrustedDevice TTL must be > 0")
	}
	switch c.TrustedDevice.SigningMethod {
	case "hs256":
		if len(c.TrustedDevice.PrivateKey) < 32 {
			return errors.New("TrustedDevice hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.TrustedDevice.PrivateKey) == 0 {
			return errors.New("TrustedDevice ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported TrustedDevice signing method")
	}

	// State machine
	if c.Enrollment.PendingTTL <= 0 || c.Enrollment.MaxAttempts <= 0 {
		return errors.New("Enrollment PendingTTL and MaxAttempts must be > 0")
	}
	if c.Challenge.TTL <= 0 || c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge TTL and MaxAttempts must be > 0")
	}
	if c.Challenge.BusyTimeout <= 0 || c.Challenge.BusyTimeout >= c.Challenge.TTL {
		return errors.New("Challenge BusyTimeout must be > 0 and shorter than TTL")
	}
	if c.Login.MaxAttempts <= 0 || c.Login.Cooldown <= 0 {
		return errors.New("Login MaxAttempts and Cooldown must be > 0")
	}
	if c.Lock.TTL <= 0 || c.Lock.Wait < 0 || c.Lock.Retry <= 0 {
		return errors.New("Lock TTL and Retry must be > 0, Wait >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
