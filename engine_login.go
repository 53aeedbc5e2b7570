package twofa

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/twofa/internal"
	"github.com/MrEthical07/twofa/internal/stores"
)

// Login performs primary password authentication. Users without 2FA are
// done immediately. Users with 2FA are done only when TrustToken is a valid
// trust token of theirs; otherwise a challenge is created and must be
// passed with VerifyChallenge.
//
// Attempts are throttled per email and client IP (ErrRateLimited).
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	email := internal.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	device := deviceFromContext(ctx, req.Device)
	limitKey := email + "|" + device.IP

	if err := limitErr(e.loginLimiter.Check(ctx, limitKey)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", "")
		}
		return LoginResult{}, err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return LoginResult{}, storeErr(err)
	}
	if err != nil {
		e.passwordHash.VerifyDummy(req.Password)
		return LoginResult{}, e.loginFailed(ctx, limitKey, "")
	}
	ok, err := e.passwordHash.Verify(req.Password, user.PasswordHash)
	if err != nil {
		e.logger.WarnContext(ctx, "stored password hash unreadable", "user_id", user.UserID, "err", err)
	}
	if !ok {
		return LoginResult{}, e.loginFailed(ctx, limitKey, user.UserID)
	}
	_ = e.loginLimiter.Reset(ctx, limitKey)

	return e.afterPrimary(ctx, user, req.TrustToken, device)
}

func (e *Engine) loginFailed(ctx context.Context, limitKey, userID string) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, ErrInvalidCredentials, auditFields{userID: userID})
	if err := e.loginLimiter.RecordFailure(ctx, limitKey); err != nil {
		e.logger.DebugContext(ctx, "login failure budget exhausted", "err", err)
	}
	return ErrInvalidCredentials
}

// afterPrimary decides what a successful first factor leads to.
func (e *Engine) afterPrimary(ctx context.Context, user UserRecord, trustToken string, device DeviceContext) (LoginResult, error) {
	if !user.TwoFactorEnabled {
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, nil, auditFields{userID: user.UserID})
		return LoginResult{UserID: user.UserID, Completed: true}, nil
	}

	if trustToken != "" {
		trusted, err := e.validateTrustToken(ctx, trustToken, device)
		switch {
		case err == nil && trusted.UserID == user.UserID:
			e.metricInc(MetricLoginSuccess)
			e.emitAudit(ctx, auditEventLoginSuccess, nil, auditFields{
				userID: user.UserID,
				metadata: func() map[string]string {
					return map[string]string{"trusted_device": "true"}
				},
			})
			return LoginResult{UserID: user.UserID, Completed: true, TrustedDevice: true}, nil
		case err != nil && errors.Is(err, ErrUnavailable):
			return LoginResult{}, err
		}
	}

	return e.createChallenge(ctx, user)
}

func (e *Engine) createChallenge(ctx context.Context, user UserRecord) (LoginResult, error) {
	factors := Factors{
		TOTP:     user.TOTPSecret != "",
		EmailOTP: e.config.Challenge.AllowEmailOTP && user.Email != "",
	}
	set, err := e.users.GetBackupCodes(ctx, user.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return LoginResult{}, storeErr(err)
	}
	factors.BackupCode = set.Remaining() > 0

	id, err := internal.NewChallengeID()
	if err != nil {
		return LoginResult{}, err
	}
	now := e.now()
	record := &stores.Challenge{
		UserID:    user.UserID,
		Email:     internal.NormalizeEmail(user.Email),
		Factors:   factors.bits(),
		State:     stores.ChallengeRequired,
		ExpiresAt: now.Add(e.config.Challenge.TTL).Unix(),
	}
	if err := e.challenges.Save(ctx, id.String(), record, now); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventChallengeRequired, nil, auditFields{userID: user.UserID, challengeID: id.String()})
	return LoginResult{
		UserID:             user.UserID,
		ChallengeRequired:  true,
		ChallengeID:        id.String(),
		ChallengeExpiresAt: time.Unix(record.ExpiresAt, 0),
		Factors:            factors,
	}, nil
}

// SendChallengeOTP emails a 2fa-verification code to the user behind a
// pending challenge.
func (e *Engine) SendChallengeOTP(ctx context.Context, challengeID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	record, err := e.getChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if !factorsFromBits(record.Factors).EmailOTP {
		return ErrUnsupportedMethod
	}
	_, err = e.issueEmailOTP(ctx, record.Email, PurposeTwoFactor, record.UserID)
	return err
}

// VerifyChallenge submits one second factor for a pending challenge.
//
// The challenge moves to verifying for the duration of the call, so a
// concurrent VerifyChallenge on the same challenge gets ErrChallengeBusy. On
// success the challenge is deleted and, if requested, a trust token is
// issued. Once the factor is spent the login completes even if the
// challenge lapsed meanwhile. On a wrong code the factor's error is returned
// and the challenge counts one failure; the Challenge.MaxAttempts-th failure
// deletes it and returns ErrAttemptsExceeded.
func (e *Engine) VerifyChallenge(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	if err := e.ready(); err != nil {
		return VerifyResult{}, err
	}
	defer e.observe(MetricVerifyLatency, time.Now())

	switch req.Method {
	case MethodTOTP, MethodEmailOTP, MethodBackupCode:
	default:
		return VerifyResult{}, ErrUnsupportedMethod
	}
	if _, err := internal.ParseChallengeID(req.ChallengeID); err != nil {
		return VerifyResult{}, ErrChallengeNotFound
	}

	record, err := e.challenges.Begin(ctx, req.ChallengeID, e.now(), e.config.Challenge.BusyTimeout)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeBusy) {
			e.metricInc(MetricChallengeBusy)
		}
		return VerifyResult{}, challengeErr(err)
	}
	fields := auditFields{userID: record.UserID, challengeID: req.ChallengeID, method: req.Method}

	if !factorsFromBits(record.Factors).allows(req.Method) {
		e.releaseChallenge(ctx, req.ChallengeID)
		return VerifyResult{}, ErrUnsupportedMethod
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil || !user.TwoFactorEnabled {
		// The account changed under the challenge; it cannot complete.
		_, _ = e.challenges.Complete(ctx, req.ChallengeID)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return VerifyResult{}, storeErr(err)
		}
		return VerifyResult{}, ErrChallengeNotFound
	}

	var verr error
	switch req.Method {
	case MethodTOTP:
		verr = e.verifyTOTP(ctx, user.UserID, user.TOTPSecret, req.Code, true)
	case MethodEmailOTP:
		verr = e.consumeEmailOTP(ctx, record.Email, PurposeTwoFactor, req.Code, user.UserID)
	case MethodBackupCode:
		verr = e.consumeBackupCode(ctx, user.UserID, req.Code)
	}
	if verr != nil {
		return VerifyResult{}, e.challengeFailed(ctx, req.ChallengeID, verr, fields)
	}

	// The factor is spent at this point, so the login completes even when
	// the challenge lapsed or was taken over while the factor was checked.
	if ok, err := e.challenges.Complete(ctx, req.ChallengeID); err != nil {
		e.logger.WarnContext(ctx, "challenge not deleted", "user_id", user.UserID, "err", err)
	} else if !ok {
		e.logger.InfoContext(ctx, "challenge gone before completion", "user_id", user.UserID)
	}

	e.metricInc(MetricChallengeVerified)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventChallengeVerified, nil, fields)

	result := VerifyResult{UserID: user.UserID, Method: req.Method}
	if req.TrustDevice {
		token, err := e.issueTrustToken(ctx, user, deviceFromContext(ctx, req.Device))
		if err != nil {
			// Login already completed; the device just isn't remembered.
			e.logger.WarnContext(ctx, "trust token not issued", "user_id", user.UserID, "err", err)
		} else {
			result.TrustToken = &token
		}
	}
	return result, nil
}

// challengeFailed records a failed factor against the challenge. Errors the
// user did not cause release the challenge without counting.
func (e *Engine) challengeFailed(ctx context.Context, challengeID string, verr error, fields auditFields) error {
	switch {
	case errors.Is(verr, ErrInvalidCode),
		errors.Is(verr, ErrExpired),
		errors.Is(verr, ErrAlreadyUsed),
		errors.Is(verr, ErrAttemptsExceeded):
	default:
		e.releaseChallenge(ctx, challengeID)
		return verr
	}

	attempts, err := e.challenges.Fail(ctx, challengeID, e.config.Challenge.MaxAttempts, e.now())
	if errors.Is(err, stores.ErrChallengeExceeded) {
		e.metricInc(MetricChallengeAttemptsExceeded)
		e.emitAudit(ctx, auditEventChallengeFailed, ErrAttemptsExceeded, fields)
		return ErrAttemptsExceeded
	}
	if err != nil && !errors.Is(err, stores.ErrNotFound) && !errors.Is(err, stores.ErrExpired) {
		e.logger.WarnContext(ctx, "challenge failure not recorded", "err", err)
	}

	e.metricInc(MetricChallengeFailed)
	fields.metadata = func() map[string]string {
		return map[string]string{"attempts": strconv.Itoa(int(attempts))}
	}
	e.emitAudit(ctx, auditEventChallengeFailed, verr, fields)
	return verr
}

func (e *Engine) releaseChallenge(ctx context.Context, challengeID string) {
	if err := e.challenges.Release(ctx, challengeID, e.now()); err != nil &&
		!errors.Is(err, stores.ErrNotFound) && !errors.Is(err, stores.ErrExpired) {
		e.logger.WarnContext(ctx, "challenge not released", "err", err)
	}
}

func (e *Engine) getChallenge(ctx context.Context, challengeID string) (*stores.Challenge, error) {
	if _, err := internal.ParseChallengeID(challengeID); err != nil {
		return nil, ErrChallengeNotFound
	}
	record, err := e.challenges.Get(ctx, challengeID, e.now())
	if err != nil {
		return nil, challengeErr(err)
	}
	return record, nil
}

func challengeErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrNotFound), errors.Is(err, stores.ErrExpired):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrChallengeBusy):
		return ErrChallengeBusy
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
