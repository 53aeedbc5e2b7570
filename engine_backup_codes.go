package twofa

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/twofa/internal/backupcodes"
)

// ConsumeBackupCode spends one recovery code. Each code works exactly once:
// a second use returns ErrAlreadyUsed, an unknown code ErrInvalidCode.
func (e *Engine) ConsumeBackupCode(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return storeErr(err)
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	return e.consumeBackupCode(ctx, userID, code)
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) error {
	if err := limitErr(e.backupLimiter.Check(ctx, userID)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, "backup_code", userID)
		}
		return err
	}

	set, err := e.users.GetBackupCodes(ctx, userID)
	if err != nil {
		return storeErr(err)
	}

	canonical := backupcodes.Canonicalize(code)
	if canonical == "" || len(set.Salt) == 0 {
		return e.backupCodeFailed(ctx, userID, ErrInvalidCode)
	}

	hash := backupcodes.Hash(set.Salt, userID, canonical)
	if err := e.users.ConsumeBackupCode(ctx, userID, hash); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyUsed):
			e.metricInc(MetricBackupCodeReplay)
			return e.backupCodeFailed(ctx, userID, ErrAlreadyUsed)
		case errors.Is(err, ErrInvalidCode):
			return e.backupCodeFailed(ctx, userID, ErrInvalidCode)
		default:
			return storeErr(err)
		}
	}

	_ = e.backupLimiter.Reset(ctx, userID)
	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, nil, auditFields{
		userID: userID,
		method: MethodBackupCode,
		metadata: func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(set.Remaining() - 1)}
		},
	})
	return nil
}

func (e *Engine) backupCodeFailed(ctx context.Context, userID string, reason error) error {
	e.metricInc(MetricBackupCodeFailed)
	e.emitAudit(ctx, auditEventBackupCodeFailed, reason, auditFields{userID: userID, method: MethodBackupCode})
	if err := e.backupLimiter.RecordFailure(ctx, userID); err != nil {
		e.logger.DebugContext(ctx, "backup code failure budget exhausted", "user_id", userID, "err", err)
	}
	return reason
}

// RegenerateBackupCodes replaces the user's whole code set after password
// re-authentication and returns the new plaintext codes. No code of the old
// set works afterwards.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	release, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	user, err := e.reauthenticate(ctx, userID, password)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	set, err := backupcodes.Generate(userID, e.config.BackupCodes.Count, e.config.BackupCodes.Length, nil)
	if err != nil {
		return nil, err
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, toBackupCodeSet(set)); err != nil {
		return nil, storeErr(err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, nil, auditFields{userID: userID})
	return set.Codes, nil
}

// BackupCodesRemaining counts the user's unused recovery codes.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	set, err := e.users.GetBackupCodes(ctx, userID)
	if err != nil {
		return 0, storeErr(err)
	}
	return set.Remaining(), nil
}

func toBackupCodeSet(set backupcodes.Set) BackupCodeSet {
	out := BackupCodeSet{
		Salt:  set.Salt,
		Codes: make([]BackupCodeRecord, len(set.Hashes)),
	}
	for i, h := range set.Hashes {
		out.Codes[i] = BackupCodeRecord{Hash: h}
	}
	return out
}

func fromPendingHashes(salt []byte, hashes [][32]byte) BackupCodeSet {
	return toBackupCodeSet(backupcodes.Set{Salt: salt, Hashes: hashes})
}
