package twofa

import (
	"context"
	"errors"

	"github.com/MrEthical07/twofa/internal"
	"github.com/MrEthical07/twofa/password"
)

// RequestEmailOTP is the user-facing "send me a code" for sign-in, email
// verification and password reset. Known and unknown addresses share the
// resend budget and get the same results, so the endpoint does not reveal
// which accounts exist: unknown addresses succeed silently, and a delivery
// failure is logged, counted and audited but not returned. Codes for
// 2fa-verification are only sent through SendChallengeOTP.
func (e *Engine) RequestEmailOTP(ctx context.Context, email string, purpose Purpose) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !purpose.valid() || purpose == PurposeTwoFactor {
		return ErrInvalidPurpose
	}
	email = internal.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}

	if err := e.allowEmailOTPIssue(ctx, email, purpose, ""); err != nil {
		return err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.logger.DebugContext(ctx, "otp requested for unknown email", "purpose", purpose)
			return nil
		}
		return storeErr(err)
	}

	_, err = e.deliverEmailOTP(ctx, email, purpose, user.UserID)
	if errors.Is(err, ErrDeliveryFailure) {
		return nil
	}
	return err
}

// SignInWithEmailOTP treats a sign-in code as the primary factor. The
// address is marked verified. A user with 2FA still gets a challenge unless
// trustToken is a valid trust token of theirs.
func (e *Engine) SignInWithEmailOTP(ctx context.Context, email, code, trustToken string, device DeviceContext) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	email = internal.NormalizeEmail(email)
	if email == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	if err := e.consumeEmailOTP(ctx, email, PurposeSignIn, code, ""); err != nil {
		e.metricInc(MetricLoginFailure)
		return LoginResult{}, err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCode
		}
		return LoginResult{}, storeErr(err)
	}
	if !user.EmailVerified {
		if err := e.users.MarkEmailVerified(ctx, user.UserID); err != nil {
			return LoginResult{}, storeErr(err)
		}
		user.EmailVerified = true
	}

	return e.afterPrimary(ctx, user, trustToken, deviceFromContext(ctx, device))
}

// VerifyEmail marks the address verified with an email-verification code.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = internal.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}

	if err := e.consumeEmailOTP(ctx, email, PurposeEmailVerification, code, ""); err != nil {
		return err
	}
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCode
		}
		return storeErr(err)
	}
	if err := e.users.MarkEmailVerified(ctx, user.UserID); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, nil, auditFields{userID: user.UserID})
	return nil
}

// ResetPassword sets a new password with a forget-password code. It bumps
// the trust epoch, so trusted devices must pass 2FA again.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = internal.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}
	if len(newPassword) < password.MinPasswordBytes || len(newPassword) > password.MaxPasswordBytes {
		return ErrInvalidRequest
	}

	if err := e.consumeEmailOTP(ctx, email, PurposeForgetPassword, code, ""); err != nil {
		return err
	}
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCode
		}
		return storeErr(err)
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.UserID, hash); err != nil {
		return storeErr(err)
	}
	if _, err := e.users.IncrementTrustEpoch(ctx, user.UserID); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricPasswordReset)
	e.emitAudit(ctx, auditEventPasswordReset, nil, auditFields{userID: user.UserID})
	return nil
}
