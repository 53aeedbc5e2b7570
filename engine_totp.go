package twofa

import (
	"context"
	"errors"
	"fmt"
)

// VerifyTOTP checks an authenticator code against the user's active secret.
// A code is accepted within one period of clock skew either side and, with
// replay protection on, only once per time step (ErrAlreadyUsed after).
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return storeErr(err)
	}
	if !user.TwoFactorEnabled || user.TOTPSecret == "" {
		return ErrTwoFactorNotEnabled
	}
	return e.verifyTOTP(ctx, userID, user.TOTPSecret, code, true)
}

// verifyTOTP is shared by login challenges (replay-protected) and
// enrollment confirmation against a pending secret.
func (e *Engine) verifyTOTP(ctx context.Context, userID, secret, code string, markUsed bool) error {
	if err := limitErr(e.totpLimiter.Check(ctx, userID)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, "totp", userID)
		}
		return err
	}

	ok, counter, err := e.totp.Verify(secret, code, e.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, ErrInvalidCode, auditFields{userID: userID, method: MethodTOTP})
		if err := e.totpLimiter.RecordFailure(ctx, userID); err != nil {
			e.logger.DebugContext(ctx, "totp failure budget exhausted", "user_id", userID, "err", err)
		}
		return ErrInvalidCode
	}

	if markUsed && e.config.TOTP.EnforceReplayProtection {
		fresh, err := e.usedCodes.MarkUsed(ctx, userID, counter, e.totp.replayTTL())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !fresh {
			e.metricInc(MetricTOTPReplay)
			e.emitAudit(ctx, auditEventTOTPFailure, ErrAlreadyUsed, auditFields{userID: userID, method: MethodTOTP})
			return ErrAlreadyUsed
		}
	}

	_ = e.totpLimiter.Reset(ctx, userID)
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, nil, auditFields{userID: userID, method: MethodTOTP})
	return nil
}
