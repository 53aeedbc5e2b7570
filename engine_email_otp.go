package twofa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/internal"
	"github.com/MrEthical07/twofa/internal/stores"
	"github.com/MrEthical07/twofa/mail"
)

// IssueEmailOTP generates a code for (email, purpose), replaces any live
// code for the pair, and mails it. The code is returned for callers that
// deliver it themselves or need it in tests; it is never stored in clear.
//
// If the mailer fails, the new code is rolled back and the previous live
// code (if any) is restored, then an error wrapping ErrDeliveryFailure is
// returned. More than EmailOTP.ResendMax issues per window yield
// ErrRateLimited.
func (e *Engine) IssueEmailOTP(ctx context.Context, email string, purpose Purpose) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if !purpose.valid() {
		return "", ErrInvalidPurpose
	}
	email = internal.NormalizeEmail(email)
	if email == "" {
		return "", ErrInvalidRequest
	}
	return e.issueEmailOTP(ctx, email, purpose, "")
}

// VerifyEmailOTP consumes the live code for (email, purpose). It returns
// ErrInvalidCode for a mismatch or when no code is live, ErrExpired for a
// code past its lifetime and ErrAttemptsExceeded when the mismatch used up
// the last attempt. A verified code is deleted.
func (e *Engine) VerifyEmailOTP(ctx context.Context, email string, purpose Purpose, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !purpose.valid() {
		return ErrInvalidPurpose
	}
	email = internal.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}
	return e.consumeEmailOTP(ctx, email, purpose, code, "")
}

func (e *Engine) issueEmailOTP(ctx context.Context, email string, purpose Purpose, userID string) (string, error) {
	if err := e.allowEmailOTPIssue(ctx, email, purpose, userID); err != nil {
		return "", err
	}
	return e.deliverEmailOTP(ctx, email, purpose, userID)
}

// allowEmailOTPIssue spends one unit of the (purpose, email) resend budget.
func (e *Engine) allowEmailOTPIssue(ctx context.Context, email string, purpose Purpose, userID string) error {
	if err := limitErr(e.resendLimiter.Allow(ctx, string(purpose)+":"+email)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, "email_otp_issue", userID)
		}
		return err
	}
	return nil
}

func (e *Engine) deliverEmailOTP(ctx context.Context, email string, purpose Purpose, userID string) (string, error) {
	fields := auditFields{
		userID: userID,
		metadata: func() map[string]string {
			return map[string]string{"purpose": string(purpose)}
		},
	}

	code, err := internal.NewOTP(e.config.EmailOTP.Digits)
	if err != nil {
		return "", err
	}
	issueID, err := internal.NewIssueID()
	if err != nil {
		return "", err
	}

	now := e.now()
	record := stores.OTPRecord{
		ExpiresAt: now.Add(e.config.EmailOTP.TTL).Unix(),
		IssueID:   issueID,
		Hash:      stores.HashOTP(string(purpose), email, code),
	}
	issue, err := e.otps.Issue(ctx, string(purpose), email, record, now, e.config.EmailOTP.Grace)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	msg, err := mail.OTPMessage(e.config.AppName, code, string(purpose), e.config.EmailOTP.TTL)
	if err == nil {
		msg.To = email
		var res mail.Result
		res, err = e.mailer.Send(ctx, msg)
		if err == nil {
			e.metricInc(MetricEmailOTPIssued)
			e.emitAudit(ctx, auditEventOTPIssued, nil, fields)
			e.logger.DebugContext(ctx, "email otp sent", "purpose", purpose, "message_id", res.MessageID)
			return code, nil
		}
	}

	// The caller may already be cancelled; the rollback must still run.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, rbErr := e.otps.Rollback(rctx, string(purpose), email, issue, e.now()); rbErr != nil {
		e.logger.ErrorContext(ctx, "email otp rollback failed", "purpose", purpose, "err", rbErr)
	}

	e.metricInc(MetricEmailOTPDeliveryFailed)
	deliveryErr := fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	e.emitAudit(ctx, auditEventOTPDeliveryFailed, deliveryErr, fields)
	e.logger.WarnContext(ctx, "email otp delivery failed", "purpose", purpose, "err", err)
	return "", deliveryErr
}

func (e *Engine) consumeEmailOTP(ctx context.Context, email string, purpose Purpose, code, userID string) error {
	code = strings.TrimSpace(code)
	candidate := stores.HashOTP(string(purpose), email, code)

	_, err := e.otps.Consume(ctx, string(purpose), email, candidate, e.config.EmailOTP.MaxAttempts, e.now())
	if err != nil {
		var mapped error
		switch {
		case errors.Is(err, stores.ErrNotFound), errors.Is(err, stores.ErrOTPMismatch):
			mapped = ErrInvalidCode
			e.metricInc(MetricEmailOTPFailed)
		case errors.Is(err, stores.ErrExpired):
			mapped = ErrExpired
			e.metricInc(MetricEmailOTPFailed)
		case errors.Is(err, stores.ErrOTPAttemptsExceeded):
			mapped = ErrAttemptsExceeded
			e.metricInc(MetricEmailOTPAttemptsExceeded)
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		e.emitAudit(ctx, auditEventOTPFailed, mapped, auditFields{
			userID: userID,
			method: MethodEmailOTP,
			metadata: func() map[string]string {
				return map[string]string{"purpose": string(purpose)}
			},
		})
		return mapped
	}

	e.metricInc(MetricEmailOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerified, nil, auditFields{
		userID: userID,
		method: MethodEmailOTP,
		metadata: func() map[string]string {
			return map[string]string{"purpose": string(purpose)}
		},
	})
	return nil
}
