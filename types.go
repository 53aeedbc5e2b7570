package twofa

import (
	"context"
	"time"

	"github.com/MrEthical07/twofa/mail"
)

// UserRecord is the slice of a user account the Engine reads. The Engine
// never creates or deletes users.
type UserRecord struct {
	UserID           string
	Email            string
	PasswordHash     string
	EmailVerified    bool
	TwoFactorEnabled bool
	// TOTPSecret is base32 without padding; empty while 2FA is off.
	TOTPSecret string
	TrustEpoch uint64
}

// BackupCodeRecord is one stored recovery code.
type BackupCodeRecord struct {
	Hash [32]byte
	Used bool
}

// BackupCodeSet is everything persisted about a user's recovery codes.
type BackupCodeSet struct {
	Salt  []byte
	Codes []BackupCodeRecord
}

// Remaining counts codes not yet consumed.
func (s BackupCodeSet) Remaining() int {
	n := 0
	for _, c := range s.Codes {
		if !c.Used {
			n++
		}
	}
	return n
}

// CredentialStore is the persistence the Engine relies on. Implementations
// return ErrUserNotFound for unknown users and must make every method atomic
// with respect to the others for the same user.
type CredentialStore interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	MarkEmailVerified(ctx context.Context, userID string) error

	// ActivateTwoFactor stores the secret and code set, sets
	// TwoFactorEnabled and increments TrustEpoch in one step.
	ActivateTwoFactor(ctx context.Context, userID, secret string, codes BackupCodeSet) error
	// DisableTwoFactor clears the secret and codes, unsets
	// TwoFactorEnabled and increments TrustEpoch in one step.
	DisableTwoFactor(ctx context.Context, userID string) error
	IncrementTrustEpoch(ctx context.Context, userID string) (uint64, error)

	GetBackupCodes(ctx context.Context, userID string) (BackupCodeSet, error)
	// ReplaceBackupCodes swaps the whole set; no code of the old set may
	// remain valid afterwards.
	ReplaceBackupCodes(ctx context.Context, userID string, codes BackupCodeSet) error
	// ConsumeBackupCode flips the unused record with the given hash to used.
	// It returns ErrAlreadyUsed when the record is already used and
	// ErrInvalidCode when no record matches.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) error
}

// Mailer delivers one message. Any error is surfaced to the caller as
// ErrDeliveryFailure.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) (mail.Result, error)
}

// Purpose scopes an email OTP so a code issued for one flow cannot be used
// in another.
type Purpose string

const (
	PurposeSignIn            Purpose = "sign-in"
	PurposeEmailVerification Purpose = "email-verification"
	PurposeForgetPassword    Purpose = "forget-password"
	PurposeTwoFactor         Purpose = "2fa-verification"
)

func (p Purpose) valid() bool {
	switch p {
	case PurposeSignIn, PurposeEmailVerification, PurposeForgetPassword, PurposeTwoFactor:
		return true
	}
	return false
}

// Method names a second factor in a login challenge.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodEmailOTP   Method = "otp"
	MethodBackupCode Method = "backup-code"
)

// DeviceContext carries the client signals a trust token may be bound to.
// Empty fields are filled from the request context.
type DeviceContext struct {
	IP        string
	UserAgent string
}

// TrustToken is a signed "remember this device" credential.
type TrustToken struct {
	Token     string
	ExpiresAt time.Time
}

// EnrollmentResult is returned once by Enable. BackupCodes is the only time
// the plaintext codes are ever available.
type EnrollmentResult struct {
	TOTPURI     string
	Secret      string
	BackupCodes []string
	ExpiresAt   time.Time
}

// Factors lists the second factors a challenge accepts.
type Factors struct {
	TOTP       bool `json:"totp"`
	EmailOTP   bool `json:"otp"`
	BackupCode bool `json:"backupCode"`
}

func (f Factors) allows(m Method) bool {
	switch m {
	case MethodTOTP:
		return f.TOTP
	case MethodEmailOTP:
		return f.EmailOTP
	case MethodBackupCode:
		return f.BackupCode
	}
	return false
}

func (f Factors) bits() uint8 {
	var b uint8
	if f.TOTP {
		b |= 1
	}
	if f.EmailOTP {
		b |= 2
	}
	if f.BackupCode {
		b |= 4
	}
	return b
}

func factorsFromBits(b uint8) Factors {
	return Factors{TOTP: b&1 != 0, EmailOTP: b&2 != 0, BackupCode: b&4 != 0}
}

// LoginRequest is a password sign-in.
type LoginRequest struct {
	Email      string
	Password   string
	TrustToken string
	Device     DeviceContext
}

// LoginResult is either Completed or ChallengeRequired, never both.
type LoginResult struct {
	UserID             string
	Completed          bool
	TrustedDevice      bool
	ChallengeRequired  bool
	ChallengeID        string
	ChallengeExpiresAt time.Time
	Factors            Factors
}

// VerifyRequest answers a challenge with one factor.
type VerifyRequest struct {
	ChallengeID string
	Method      Method
	Code        string
	TrustDevice bool
	Device      DeviceContext
}

// VerifyResult reports a completed challenge. TrustToken is set only when
// TrustDevice was requested.
type VerifyResult struct {
	UserID     string
	Method     Method
	TrustToken *TrustToken
}

// Status summarizes a user's second-factor state.
type Status struct {
	Enabled              bool
	Pending              bool
	PendingExpiresAt     time.Time
	BackupCodesRemaining int
}
