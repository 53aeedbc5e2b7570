package security

import (
	"slices"
	"testing"
	"time"
)

func baselineInput() ReportInput {
	return ReportInput{
		TOTP: TOTPReport{Algorithm: "sha1", Digits: 6, PeriodSeconds: 30, Skew: 1, ReplayProtection: true},
		EmailOTP: EmailOTPReport{
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			ResendMax:   5,
		},
		BackupCodeCount:    10,
		BackupCodeLength:   8,
		BackupAlphabetSize: 32,
		TrustedDevice: TrustedDeviceReport{
			SigningMethod: "HS256",
			TTL:           30 * 24 * time.Hour,
			DeviceBinding: true,
		},
		Challenge:             ChallengeReport{TTL: 5 * time.Minute, MaxAttempts: 5},
		MaxLoginAttempts:      5,
		LoginCooldownDuration: 15 * time.Minute,
		Password:              PasswordReport{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32},
	}
}

func TestBuildReportBaselineHasNoWarnings(t *testing.T) {
	r := BuildReport(baselineInput())
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if r.TOTP.Algorithm != "SHA1" || r.TrustedDevice.SigningMethod != "hs256" {
		t.Fatalf("names not normalized: %q %q", r.TOTP.Algorithm, r.TrustedDevice.SigningMethod)
	}
	if r.BackupCodes.EntropyBits != 40 {
		t.Fatalf("expected 40 bits, got %v", r.BackupCodes.EntropyBits)
	}
	if !r.LoginThrottleActive {
		t.Fatal("expected login throttle active")
	}
}

func TestBuildReportWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReportInput)
		want   string
	}{
		{"replay", func(in *ReportInput) { in.TOTP.ReplayProtection = false }, WarnTOTPReplayUnprotected},
		{"skew", func(in *ReportInput) { in.TOTP.Skew = 3 }, WarnTOTPWideSkew},
		{"short otp", func(in *ReportInput) { in.EmailOTP.Digits = 4 }, WarnEmailOTPShort},
		{"otp ttl", func(in *ReportInput) { in.EmailOTP.TTL = time.Hour }, WarnEmailOTPLongTTL},
		{"backup entropy", func(in *ReportInput) { in.BackupCodeLength = 6 }, WarnBackupCodeEntropyLow},
		{"unbound", func(in *ReportInput) { in.TrustedDevice.DeviceBinding = false }, WarnTrustUnbound},
		{"trust ttl", func(in *ReportInput) { in.TrustedDevice.TTL = 365 * 24 * time.Hour }, WarnTrustLongTTL},
		{"no cooldown", func(in *ReportInput) { in.LoginCooldownDuration = 0 }, WarnLoginUnthrottled},
		{"argon2", func(in *ReportInput) { in.Password.Memory = 8 * 1024 }, WarnArgon2Weak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baselineInput()
			tt.mutate(&in)
			r := BuildReport(in)
			if !slices.Equal(r.Warnings, []string{tt.want}) {
				t.Fatalf("expected [%s], got %v", tt.want, r.Warnings)
			}
		})
	}
}

func TestEntropyBitsDegenerate(t *testing.T) {
	if got := entropyBits(1, 8); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := entropyBits(32, 0); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
