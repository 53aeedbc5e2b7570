package twofa

import (
	"github.com/MrEthical07/twofa/internal/backupcodes"
	"github.com/MrEthical07/twofa/internal/security"
)

// SecurityReport is a read-only snapshot of the engine's 2FA posture.
type SecurityReport = security.Report

// SecurityReport summarizes the effective configuration and flags settings
// weaker than the recommended baseline. It never includes key material.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		TOTP: security.TOTPReport{
			Algorithm:        c.TOTP.Algorithm,
			Digits:           c.TOTP.Digits,
			PeriodSeconds:    c.TOTP.Period,
			Skew:             c.TOTP.Skew,
			ReplayProtection: c.TOTP.EnforceReplayProtection,
		},
		EmailOTP: security.EmailOTPReport{
			Digits:      c.EmailOTP.Digits,
			TTL:         c.EmailOTP.TTL,
			MaxAttempts: c.EmailOTP.MaxAttempts,
			ResendMax:   c.EmailOTP.ResendMax,
		},
		BackupCodeCount:    c.BackupCodes.Count,
		BackupCodeLength:   c.BackupCodes.Length,
		BackupAlphabetSize: len(backupcodes.Alphabet),
		TrustedDevice: security.TrustedDeviceReport{
			SigningMethod: c.TrustedDevice.SigningMethod,
			TTL:           c.TrustedDevice.TTL,
			DeviceBinding: c.TrustedDevice.BindDevice,
		},
		Challenge: security.ChallengeReport{
			TTL:           c.Challenge.TTL,
			MaxAttempts:   c.Challenge.MaxAttempts,
			EmailOTPOffer: c.Challenge.AllowEmailOTP,
		},
		MaxLoginAttempts:      c.Login.MaxAttempts,
		LoginCooldownDuration: c.Login.Cooldown,
		Password: security.PasswordReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		AuditEnabled:   c.Audit.Enabled,
		MetricsEnabled: c.Metrics.Enabled,
	})
}
