package twofa

import (
	"context"
	"time"

	"github.com/MrEthical07/twofa/internal/audit"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventChallengeRequired     = "challenge_required"
	auditEventChallengeVerified     = "challenge_verified"
	auditEventChallengeFailed       = "challenge_failed"
	auditEventTrustedDeviceAccepted = "trusted_device_accepted"
	auditEventTrustedDeviceRejected = "trusted_device_rejected"
	auditEventTrustTokenIssued      = "trust_token_issued"
	auditEventTrustRevoked          = "trust_revoked"
	auditEventOTPIssued             = "email_otp_issued"
	auditEventOTPDeliveryFailed     = "email_otp_delivery_failed"
	auditEventOTPVerified           = "email_otp_verified"
	auditEventOTPFailed             = "email_otp_failed"
	auditEventTOTPSuccess           = "totp_success"
	auditEventTOTPFailure           = "totp_failure"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventEnrollmentStarted     = "two_factor_enrollment_started"
	auditEventEnrollmentConfirmed   = "two_factor_enabled"
	auditEventEnrollmentFailed      = "two_factor_enrollment_failed"
	auditEventTwoFactorDisabled     = "two_factor_disabled"
	auditEventEmailVerified         = "email_verified"
	auditEventPasswordReset         = "password_reset"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// auditFields carries the optional parts of an event.
type auditFields struct {
	userID      string
	challengeID string
	method      Method
	metadata    func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, err error, f auditFields) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		UserID:      f.userID,
		ChallengeID: f.challengeID,
		Method:      string(f.method),
		IP:          ClientIPFromContext(ctx),
		UserAgent:   UserAgentFromContext(ctx),
		Success:     err == nil,
		Error:       string(ErrorCodeOf(err)),
	}
	if f.metadata != nil {
		event.Metadata = f.metadata()
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, userID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, ErrRateLimited, auditFields{
		userID: userID,
		metadata: func() map[string]string {
			return map[string]string{"scope": scope}
		},
	})
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}
