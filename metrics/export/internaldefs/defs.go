package internaldefs

import (
	"github.com/MrEthical07/twofa"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   twofa.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   twofa.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: twofa.MetricLoginSuccess, Name: "twofa_login_success_total", Help: "Primary logins that passed the password check."},
	{ID: twofa.MetricLoginFailure, Name: "twofa_login_failure_total", Help: "Primary logins rejected for bad credentials."},
	{ID: twofa.MetricLoginRateLimited, Name: "twofa_login_rate_limited_total", Help: "Primary logins refused by the login limiter."},
	{ID: twofa.MetricChallengeIssued, Name: "twofa_challenge_issued_total", Help: "Second-factor challenges created."},
	{ID: twofa.MetricChallengeVerified, Name: "twofa_challenge_verified_total", Help: "Challenges completed with a valid factor."},
	{ID: twofa.MetricChallengeFailed, Name: "twofa_challenge_failed_total", Help: "Challenge verifications that failed."},
	{ID: twofa.MetricChallengeAttemptsExceeded, Name: "twofa_challenge_attempts_exceeded_total", Help: "Challenges discarded after too many failures."},
	{ID: twofa.MetricChallengeBusy, Name: "twofa_challenge_busy_total", Help: "Verifications refused because the challenge was in use."},
	{ID: twofa.MetricTrustedDeviceAccepted, Name: "twofa_trusted_device_accepted_total", Help: "Logins that skipped the challenge on a trusted device."},
	{ID: twofa.MetricTrustedDeviceRejected, Name: "twofa_trusted_device_rejected_total", Help: "Trust tokens rejected as invalid or stale."},
	{ID: twofa.MetricTrustTokenIssued, Name: "twofa_trust_token_issued_total", Help: "Trusted-device tokens issued."},
	{ID: twofa.MetricTrustRevoked, Name: "twofa_trust_revoked_total", Help: "Trusted-device revocations."},
	{ID: twofa.MetricTOTPSuccess, Name: "twofa_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: twofa.MetricTOTPFailure, Name: "twofa_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: twofa.MetricTOTPReplay, Name: "twofa_totp_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: twofa.MetricEmailOTPIssued, Name: "twofa_email_otp_issued_total", Help: "Email OTPs issued and delivered."},
	{ID: twofa.MetricEmailOTPDeliveryFailed, Name: "twofa_email_otp_delivery_failed_total", Help: "Email OTPs rolled back after a delivery failure."},
	{ID: twofa.MetricEmailOTPVerified, Name: "twofa_email_otp_verified_total", Help: "Email OTPs consumed."},
	{ID: twofa.MetricEmailOTPFailed, Name: "twofa_email_otp_failed_total", Help: "Email OTP verifications that failed."},
	{ID: twofa.MetricEmailOTPAttemptsExceeded, Name: "twofa_email_otp_attempts_exceeded_total", Help: "Email OTPs discarded after too many failures."},
	{ID: twofa.MetricBackupCodeUsed, Name: "twofa_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: twofa.MetricBackupCodeFailed, Name: "twofa_backup_code_failed_total", Help: "Backup codes that matched nothing."},
	{ID: twofa.MetricBackupCodeReplay, Name: "twofa_backup_code_replay_total", Help: "Backup codes presented after being used."},
	{ID: twofa.MetricBackupCodeRegenerated, Name: "twofa_backup_code_regenerated_total", Help: "Backup-code set regenerations."},
	{ID: twofa.MetricEnrollmentStarted, Name: "twofa_enrollment_started_total", Help: "Enrollments started."},
	{ID: twofa.MetricEnrollmentConfirmed, Name: "twofa_enrollment_confirmed_total", Help: "Enrollments confirmed."},
	{ID: twofa.MetricEnrollmentFailed, Name: "twofa_enrollment_failed_total", Help: "Enrollment confirmations that failed."},
	{ID: twofa.MetricTwoFactorDisabled, Name: "twofa_disabled_total", Help: "Two-factor disable operations."},
	{ID: twofa.MetricEmailVerified, Name: "twofa_email_verified_total", Help: "Email addresses verified."},
	{ID: twofa.MetricPasswordReset, Name: "twofa_password_reset_total", Help: "Passwords reset by email OTP."},
	{ID: twofa.MetricRateLimitHit, Name: "twofa_rate_limit_hit_total", Help: "Requests denied by any limiter."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: twofa.MetricVerifyLatency, Name: "twofa_verify_latency_seconds", Help: "Challenge verification latency."},
}

// HistogramBounds are the upper bounds of the eight latency buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundValues mirrors HistogramBounds for exporters that need numbers.
// The last bucket is open-ended and has no entry.
var HistogramBoundValues = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
