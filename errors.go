package twofa

import "errors"

var (
	// ErrInvalidCredentials reports a failed password re-authentication.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCode reports a code that matches nothing live.
	ErrInvalidCode = errors.New("invalid code")
	// ErrExpired reports a code, challenge or token past its lifetime.
	ErrExpired = errors.New("expired")
	// ErrAttemptsExceeded reports a code or challenge discarded after too many failures.
	ErrAttemptsExceeded = errors.New("attempts exceeded")
	// ErrAlreadyUsed reports a backup code or TOTP step that was already spent.
	ErrAlreadyUsed = errors.New("code already used")
	// ErrDeliveryFailure reports that the mailer could not send a code.
	ErrDeliveryFailure = errors.New("code delivery failed")

	ErrInvalidToken            = errors.New("invalid trust token")
	ErrRateLimited             = errors.New("rate limited")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrEnrollmentNotFound      = errors.New("no pending two-factor enrollment")
	ErrChallengeNotFound       = errors.New("two-factor challenge not found")
	ErrChallengeBusy           = errors.New("two-factor challenge busy")
	ErrUnsupportedMethod       = errors.New("unsupported verification method")
	ErrInvalidPurpose          = errors.New("invalid otp purpose")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrUserNotFound            = errors.New("user not found")
	// ErrBusy reports that another request holds the user's state lock.
	ErrBusy = errors.New("user state busy")
	// ErrUnavailable wraps backend (Redis, store) failures.
	ErrUnavailable    = errors.New("backend unavailable")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorCode is the stable, machine-readable name of an error, used in HTTP
// responses and audit events.
type ErrorCode string

const (
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeInvalidCode        ErrorCode = "INVALID_CODE"
	CodeExpired            ErrorCode = "EXPIRED"
	CodeAttemptsExceeded   ErrorCode = "ATTEMPTS_EXCEEDED"
	CodeAlreadyUsed        ErrorCode = "ALREADY_USED"
	CodeDeliveryFailure    ErrorCode = "DELIVERY_FAILURE"
	CodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeNotEnabled         ErrorCode = "TWO_FACTOR_NOT_ENABLED"
	CodeAlreadyEnabled     ErrorCode = "TWO_FACTOR_ALREADY_ENABLED"
	CodeEnrollmentNotFound ErrorCode = "ENROLLMENT_NOT_FOUND"
	CodeChallengeNotFound  ErrorCode = "CHALLENGE_NOT_FOUND"
	CodeChallengeBusy      ErrorCode = "CHALLENGE_BUSY"
	CodeUnsupportedMethod  ErrorCode = "UNSUPPORTED_METHOD"
	CodeInvalidPurpose     ErrorCode = "INVALID_PURPOSE"
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	CodeBusy               ErrorCode = "BUSY"
	CodeUnavailable        ErrorCode = "UNAVAILABLE"
	CodeInternal           ErrorCode = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrInvalidCode, CodeInvalidCode},
	{ErrExpired, CodeExpired},
	{ErrAttemptsExceeded, CodeAttemptsExceeded},
	{ErrAlreadyUsed, CodeAlreadyUsed},
	{ErrDeliveryFailure, CodeDeliveryFailure},
	{ErrInvalidToken, CodeInvalidToken},
	{ErrRateLimited, CodeRateLimited},
	{ErrTwoFactorNotEnabled, CodeNotEnabled},
	{ErrTwoFactorAlreadyEnabled, CodeAlreadyEnabled},
	{ErrEnrollmentNotFound, CodeEnrollmentNotFound},
	{ErrChallengeNotFound, CodeChallengeNotFound},
	{ErrChallengeBusy, CodeChallengeBusy},
	{ErrUnsupportedMethod, CodeUnsupportedMethod},
	{ErrInvalidPurpose, CodeInvalidPurpose},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrUserNotFound, CodeUserNotFound},
	{ErrBusy, CodeBusy},
	{ErrUnavailable, CodeUnavailable},
	{ErrEngineNotReady, CodeUnavailable},
}

// ErrorCodeOf maps err to its ErrorCode. It returns "" for nil and
// CodeInternal for errors that are not part of this package's taxonomy.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
