package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/twofa/internal/audit"
	"github.com/MrEthical07/twofa/internal/limiters"
	"github.com/MrEthical07/twofa/internal/stores"
	"github.com/MrEthical07/twofa/jwt"
	"github.com/MrEthical07/twofa/password"
)

// Engine runs the second-factor flows: email OTP, TOTP, backup codes,
// trusted devices, enrollment and login challenges. It is created by a
// Builder and is safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	users  CredentialStore
	mailer Mailer

	otps        *stores.EmailOTPStore
	enrollments *stores.EnrollmentStore
	challenges  *stores.ChallengeStore
	usedCodes   *stores.UsedCodeStore
	userLock    *stores.UserLock

	resendLimiter *limiters.Window
	totpLimiter   *limiters.Window
	backupLimiter *limiters.Window
	loginLimiter  *limiters.Window

	totp         *totpManager
	trust        *jwt.Manager
	passwordHash *password.Argon2
	audit        *audit.Dispatcher
	metrics      *Metrics
}

// Close flushes pending audit events. The Engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the Engine's configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.otps == nil || e.trust == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	return nil
}

// reauthenticate loads userID and checks password against it.
func (e *Engine) reauthenticate(ctx context.Context, userID, password string) (UserRecord, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.passwordHash.VerifyDummy(password)
			return UserRecord{}, ErrInvalidCredentials
		}
		return UserRecord{}, storeErr(err)
	}
	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.WarnContext(ctx, "stored password hash unreadable", "user_id", userID, "err", err)
		return UserRecord{}, ErrInvalidCredentials
	}
	if !ok {
		return UserRecord{}, ErrInvalidCredentials
	}
	return user, nil
}

// lockUser serializes enrollment changes for one user.
func (e *Engine) lockUser(ctx context.Context, userID string) (func(), error) {
	release, err := e.userLock.Acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrLockBusy) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return release, nil
}

// storeErr passes taxonomy errors through and wraps everything else as
// ErrUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if ErrorCodeOf(err) != CodeInternal {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// limitErr maps limiter outcomes onto the package taxonomy.
func limitErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrLimited):
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
