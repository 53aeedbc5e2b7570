package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/twofa/internal/backupcodes"
	"github.com/MrEthical07/twofa/internal/stores"
)

// Enable starts two-factor enrollment after password re-authentication. It
// generates a TOTP secret and a backup code set and parks them as a pending
// enrollment for Enrollment.PendingTTL; TwoFactorEnabled stays false until
// ConfirmEnrollment succeeds. Calling Enable again restarts enrollment with
// new material.
func (e *Engine) Enable(ctx context.Context, userID, password string) (EnrollmentResult, error) {
	if err := e.ready(); err != nil {
		return EnrollmentResult{}, err
	}

	release, err := e.lockUser(ctx, userID)
	if err != nil {
		return EnrollmentResult{}, err
	}
	defer release()

	user, err := e.reauthenticate(ctx, userID, password)
	if err != nil {
		e.emitAudit(ctx, auditEventEnrollmentFailed, err, auditFields{userID: userID})
		return EnrollmentResult{}, err
	}
	if user.TwoFactorEnabled {
		return EnrollmentResult{}, ErrTwoFactorAlreadyEnabled
	}

	secret, uri, err := e.totp.Generate(user.Email)
	if err != nil {
		return EnrollmentResult{}, err
	}
	set, err := backupcodes.Generate(userID, e.config.BackupCodes.Count, e.config.BackupCodes.Length, nil)
	if err != nil {
		return EnrollmentResult{}, err
	}

	now := e.now()
	expiresAt := now.Add(e.config.Enrollment.PendingTTL)
	pending := &stores.PendingEnrollment{
		UserID:    userID,
		Secret:    secret,
		Salt:      set.Salt,
		Hashes:    set.Hashes,
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.enrollments.Save(ctx, pending, now); err != nil {
		return EnrollmentResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricEnrollmentStarted)
	e.emitAudit(ctx, auditEventEnrollmentStarted, nil, auditFields{userID: userID})
	return EnrollmentResult{
		TOTPURI:     uri,
		Secret:      secret,
		BackupCodes: set.Codes,
		ExpiresAt:   time.Unix(pending.ExpiresAt, 0),
	}, nil
}

// ConfirmEnrollment activates two-factor authentication once the user
// proves their authenticator produces valid codes for the pending secret.
// A wrong code leaves 2FA disabled and returns ErrInvalidCode; after
// Enrollment.MaxAttempts wrong codes the pending enrollment is discarded and
// ErrAttemptsExceeded is returned.
func (e *Engine) ConfirmEnrollment(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	release, err := e.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	pending, err := e.enrollments.Get(ctx, userID, e.now())
	if err != nil {
		return enrollmentErr(err)
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return storeErr(err)
	}
	if user.TwoFactorEnabled {
		_, _ = e.enrollments.Delete(ctx, userID)
		return ErrTwoFactorAlreadyEnabled
	}

	if err := e.verifyTOTP(ctx, userID, pending.Secret, code, true); err != nil {
		if !errors.Is(err, ErrInvalidCode) && !errors.Is(err, ErrAlreadyUsed) {
			return err
		}
		e.metricInc(MetricEnrollmentFailed)
		e.emitAudit(ctx, auditEventEnrollmentFailed, err, auditFields{userID: userID, method: MethodTOTP})
		if ferr := e.enrollments.RecordFailure(ctx, userID, e.config.Enrollment.MaxAttempts, e.now()); ferr != nil {
			if errors.Is(ferr, stores.ErrEnrollmentAttemptsExceeded) {
				return ErrAttemptsExceeded
			}
			return enrollmentErr(ferr)
		}
		return err
	}

	codes := fromPendingHashes(pending.Salt, pending.Hashes)
	if err := e.users.ActivateTwoFactor(ctx, userID, pending.Secret, codes); err != nil {
		return storeErr(err)
	}
	if _, err := e.enrollments.Delete(ctx, userID); err != nil {
		e.logger.WarnContext(ctx, "pending enrollment not removed", "user_id", userID, "err", err)
	}

	e.metricInc(MetricEnrollmentConfirmed)
	e.emitAudit(ctx, auditEventEnrollmentConfirmed, nil, auditFields{userID: userID, method: MethodTOTP})
	return nil
}

// Disable turns two-factor authentication off after password
// re-authentication. It clears the secret and backup codes, drops any
// pending enrollment and bumps the trust epoch so every trusted-device token
// stops working.
func (e *Engine) Disable(ctx context.Context, userID, password string) error {
	if err := e.ready(); err != nil {
		return err
	}

	release, err := e.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	user, err := e.reauthenticate(ctx, userID, password)
	if err != nil {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, err, auditFields{userID: userID})
		return err
	}

	hadPending, err := e.enrollments.Delete(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.TwoFactorEnabled {
		if hadPending {
			return nil
		}
		return ErrTwoFactorNotEnabled
	}

	if err := e.users.DisableTwoFactor(ctx, userID); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, nil, auditFields{userID: userID})
	return nil
}

// TOTPURI returns the provisioning URI of the active secret, so the user can
// add it to another authenticator.
func (e *Engine) TOTPURI(ctx context.Context, userID, password string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	user, err := e.reauthenticate(ctx, userID, password)
	if err != nil {
		return "", err
	}
	if !user.TwoFactorEnabled || user.TOTPSecret == "" {
		return "", ErrTwoFactorNotEnabled
	}
	return e.totp.ProvisionURI(user.TOTPSecret, user.Email)
}

// Status reports whether 2FA is on, whether an enrollment is pending and how
// many backup codes are left.
func (e *Engine) Status(ctx context.Context, userID string) (Status, error) {
	if err := e.ready(); err != nil {
		return Status{}, err
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return Status{}, storeErr(err)
	}

	st := Status{Enabled: user.TwoFactorEnabled}
	pending, err := e.enrollments.Get(ctx, userID, e.now())
	switch {
	case err == nil:
		st.Pending = true
		st.PendingExpiresAt = time.Unix(pending.ExpiresAt, 0)
	case errors.Is(err, stores.ErrNotFound), errors.Is(err, stores.ErrExpired):
	default:
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if user.TwoFactorEnabled {
		set, err := e.users.GetBackupCodes(ctx, userID)
		if err != nil {
			return Status{}, storeErr(err)
		}
		st.BackupCodesRemaining = set.Remaining()
	}
	return st, nil
}

func enrollmentErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrNotFound), errors.Is(err, stores.ErrExpired):
		return ErrEnrollmentNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
