package twofa

import (
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/internal"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	config TOTPConfig
	opts   totp.ValidateOpts
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	digits := otp.DigitsSix
	if cfg.Digits == 8 {
		digits = otp.DigitsEight
	}
	return &totpManager{
		config: cfg,
		opts: totp.ValidateOpts{
			Period:    uint(cfg.Period),
			Skew:      0,
			Digits:    digits,
			Algorithm: totpAlgorithm(cfg.Algorithm),
		},
	}
}

func totpAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// Generate creates a fresh secret for account and returns it with its
// otpauth:// provisioning URI.
func (m *totpManager) Generate(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      m.opts.Period,
		SecretSize:  totpSecretBytes,
		Digits:      m.opts.Digits,
		Algorithm:   m.opts.Algorithm,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ProvisionURI rebuilds the URI of an existing secret.
func (m *totpManager) ProvisionURI(secret, account string) (string, error) {
	raw, err := secretEncoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      m.opts.Period,
		Secret:      raw,
		Digits:      m.opts.Digits,
		Algorithm:   m.opts.Algorithm,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// Verify checks code against every step within the configured skew and
// returns the matching time-step counter.
func (m *totpManager) Verify(secret, code string, now time.Time) (bool, int64, error) {
	if secret == "" {
		return false, 0, errors.New("empty totp secret")
	}
	code = strings.TrimSpace(code)
	if !internal.IsDigits(code, m.opts.Digits.Length()) {
		return false, 0, nil
	}

	period := int64(m.config.Period)
	base := now.Unix() / period
	matched := int64(-1)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0), m.opts)
		if err != nil {
			return false, 0, err
		}
		// every step is computed, match or not
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && matched < 0 {
			matched = counter
		}
	}
	if matched < 0 {
		return false, 0, nil
	}
	return true, matched, nil
}

// replayTTL covers every step a code could still be accepted in.
func (m *totpManager) replayTTL() time.Duration {
	return time.Duration((2*m.config.Skew+2)*m.config.Period) * time.Second
}
