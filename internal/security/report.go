package security

import (
	"math"
	"strings"
	"time"
)

// Warning codes attached to a Report.
const (
	WarnTOTPReplayUnprotected = "totp_replay_unprotected"
	WarnTOTPWideSkew          = "totp_wide_skew"
	WarnEmailOTPShort         = "email_otp_short"
	WarnEmailOTPLongTTL       = "email_otp_long_ttl"
	WarnBackupCodeEntropyLow  = "backup_code_entropy_low"
	WarnTrustUnbound          = "trusted_device_unbound"
	WarnTrustLongTTL          = "trusted_device_long_ttl"
	WarnLoginUnthrottled      = "login_unthrottled"
	WarnArgon2Weak            = "argon2_weak"
)

const (
	minBackupEntropyBits = 40
	maxEmailOTPTTL       = 15 * time.Minute
	maxTrustTTL          = 90 * 24 * time.Hour
	minArgon2MemoryKB    = 19 * 1024
)

// PasswordReport holds the argon2id parameters.
type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// TOTPReport describes TOTP verification settings.
type TOTPReport struct {
	Algorithm        string
	Digits           int
	PeriodSeconds    int
	Skew             int
	ReplayProtection bool
}

// EmailOTPReport describes email OTP settings.
type EmailOTPReport struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	ResendMax   int
}

// BackupCodeReport describes backup-code generation.
type BackupCodeReport struct {
	Count       int
	Length      int
	EntropyBits float64
}

// TrustedDeviceReport describes trust-token settings.
type TrustedDeviceReport struct {
	SigningMethod string
	TTL           time.Duration
	DeviceBinding bool
}

// ChallengeReport describes login challenge settings.
type ChallengeReport struct {
	TTL           time.Duration
	MaxAttempts   int
	EmailOTPOffer bool
}

// Report is a read-only snapshot of the effective 2FA posture.
type Report struct {
	TOTP                TOTPReport
	EmailOTP            EmailOTPReport
	BackupCodes         BackupCodeReport
	TrustedDevice       TrustedDeviceReport
	Challenge           ChallengeReport
	LoginThrottleActive bool
	Argon2              PasswordReport
	AuditEnabled        bool
	MetricsEnabled      bool
	Warnings            []string
}

// ReportInput carries the config values BuildReport inspects.
type ReportInput struct {
	TOTP                  TOTPReport
	EmailOTP              EmailOTPReport
	BackupCodeCount       int
	BackupCodeLength      int
	BackupAlphabetSize    int
	TrustedDevice         TrustedDeviceReport
	Challenge             ChallengeReport
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	Password              PasswordReport
	AuditEnabled          bool
	MetricsEnabled        bool
}

// BuildReport derives a Report and its warnings from input.
func BuildReport(input ReportInput) Report {
	totp := input.TOTP
	totp.Algorithm = strings.ToUpper(totp.Algorithm)
	trust := input.TrustedDevice
	trust.SigningMethod = strings.ToLower(trust.SigningMethod)

	r := Report{
		TOTP:     totp,
		EmailOTP: input.EmailOTP,
		BackupCodes: BackupCodeReport{
			Count:       input.BackupCodeCount,
			Length:      input.BackupCodeLength,
			EntropyBits: entropyBits(input.BackupAlphabetSize, input.BackupCodeLength),
		},
		TrustedDevice:       trust,
		Challenge:           input.Challenge,
		LoginThrottleActive: input.MaxLoginAttempts > 0 && input.LoginCooldownDuration > 0,
		Argon2:              input.Password,
		AuditEnabled:        input.AuditEnabled,
		MetricsEnabled:      input.MetricsEnabled,
	}
	r.Warnings = warnings(r)
	return r
}

func entropyBits(alphabet, length int) float64 {
	if alphabet < 2 || length <= 0 {
		return 0
	}
	return float64(length) * math.Log2(float64(alphabet))
}

func warnings(r Report) []string {
	var out []string
	if !r.TOTP.ReplayProtection {
		out = append(out, WarnTOTPReplayUnprotected)
	}
	if r.TOTP.Skew > 1 {
		out = append(out, WarnTOTPWideSkew)
	}
	if r.EmailOTP.Digits < 6 {
		out = append(out, WarnEmailOTPShort)
	}
	if r.EmailOTP.TTL > maxEmailOTPTTL {
		out = append(out, WarnEmailOTPLongTTL)
	}
	if r.BackupCodes.EntropyBits < minBackupEntropyBits {
		out = append(out, WarnBackupCodeEntropyLow)
	}
	if !r.TrustedDevice.DeviceBinding {
		out = append(out, WarnTrustUnbound)
	}
	if r.TrustedDevice.TTL > maxTrustTTL {
		out = append(out, WarnTrustLongTTL)
	}
	if !r.LoginThrottleActive {
		out = append(out, WarnLoginUnthrottled)
	}
	if r.Argon2.Memory < minArgon2MemoryKB || r.Argon2.Time == 0 {
		out = append(out, WarnArgon2Weak)
	}
	return out
}
