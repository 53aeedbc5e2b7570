package twofa

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/MrEthical07/twofa/internal"
	"github.com/MrEthical07/twofa/jwt"
)

// IssueTrustToken mints a "remember this device" token for a user with 2FA
// enabled. The token carries the user's current trust epoch, so any later
// epoch bump (disable, re-enable, password reset, revoke) invalidates it.
func (e *Engine) IssueTrustToken(ctx context.Context, userID string, device DeviceContext) (TrustToken, error) {
	if err := e.ready(); err != nil {
		return TrustToken{}, err
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return TrustToken{}, storeErr(err)
	}
	if !user.TwoFactorEnabled {
		return TrustToken{}, ErrTwoFactorNotEnabled
	}
	return e.issueTrustToken(ctx, user, deviceFromContext(ctx, device))
}

func (e *Engine) issueTrustToken(ctx context.Context, user UserRecord, device DeviceContext) (TrustToken, error) {
	nonce, err := internal.NewNonce(16)
	if err != nil {
		return TrustToken{}, err
	}
	token, exp, err := e.trust.Issue(user.UserID, user.TrustEpoch, e.deviceHash(device), nonce)
	if err != nil {
		return TrustToken{}, err
	}

	e.metricInc(MetricTrustTokenIssued)
	e.emitAudit(ctx, auditEventTrustTokenIssued, nil, auditFields{userID: user.UserID})
	return TrustToken{Token: token, ExpiresAt: exp}, nil
}

// ValidateTrustToken returns the user a trust token belongs to. It returns
// ErrExpired past the token's expiry and ErrInvalidToken for a bad
// signature, a stale trust epoch, a user without 2FA or a device mismatch.
func (e *Engine) ValidateTrustToken(ctx context.Context, token string, device DeviceContext) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	user, err := e.validateTrustToken(ctx, token, deviceFromContext(ctx, device))
	if err != nil {
		return "", err
	}
	return user.UserID, nil
}

func (e *Engine) validateTrustToken(ctx context.Context, token string, device DeviceContext) (UserRecord, error) {
	user, err := e.checkTrustToken(ctx, token, device)
	if err != nil {
		if ErrorCodeOf(err) != CodeUnavailable {
			e.metricInc(MetricTrustedDeviceRejected)
			e.emitAudit(ctx, auditEventTrustedDeviceRejected, err, auditFields{userID: user.UserID})
		}
		return UserRecord{}, err
	}
	e.metricInc(MetricTrustedDeviceAccepted)
	e.emitAudit(ctx, auditEventTrustedDeviceAccepted, nil, auditFields{userID: user.UserID})
	return user, nil
}

func (e *Engine) checkTrustToken(ctx context.Context, token string, device DeviceContext) (UserRecord, error) {
	claims, err := e.trust.Parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return UserRecord{}, ErrExpired
		}
		return UserRecord{}, ErrInvalidToken
	}

	user, err := e.users.GetUserByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrInvalidToken
		}
		return UserRecord{}, storeErr(err)
	}
	if !user.TwoFactorEnabled || user.TrustEpoch != claims.Epoch {
		return UserRecord{UserID: user.UserID}, ErrInvalidToken
	}
	if claims.Device != "" {
		presented := e.deviceHash(device)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(claims.Device)) != 1 {
			return UserRecord{UserID: user.UserID}, ErrInvalidToken
		}
	}
	return user, nil
}

// RevokeTrustedDevices invalidates every trust token of the user.
func (e *Engine) RevokeTrustedDevices(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	epoch, err := e.users.IncrementTrustEpoch(ctx, userID)
	if err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricTrustRevoked)
	e.emitAudit(ctx, auditEventTrustRevoked, nil, auditFields{
		userID: userID,
		metadata: func() map[string]string {
			return map[string]string{"epoch": fmt.Sprint(epoch)}
		},
	})
	return nil
}

func (e *Engine) deviceHash(device DeviceContext) string {
	if !e.config.TrustedDevice.BindDevice {
		return ""
	}
	return internal.HashDevice(device.UserAgent)
}
