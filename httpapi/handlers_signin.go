package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/middleware"
	"github.com/go-chi/render"
)

// SignInEmailRequest is a password sign-in.
type SignInEmailRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TrustToken string `json:"trustToken,omitempty"`
}

// SignInEmailOTPRequest is a sign-in with an emailed code.
type SignInEmailOTPRequest struct {
	Email      string `json:"email"`
	OTP        string `json:"otp"`
	TrustToken string `json:"trustToken,omitempty"`
}

// UserResponse describes the signed-in user.
type UserResponse struct {
	ID string `json:"id"`
}

// SignInResponse is either a session (Token set) or a challenge
// (TwoFactorRedirect set).
type SignInResponse struct {
	Token         string        `json:"token,omitempty"`
	User          *UserResponse `json:"user,omitempty"`
	TrustedDevice bool          `json:"trustedDevice,omitempty"`

	TwoFactorRedirect bool           `json:"twoFactorRedirect,omitempty"`
	ChallengeID       string         `json:"challengeId,omitempty"`
	ExpiresAt         *time.Time     `json:"expiresAt,omitempty"`
	Factors           *twofa.Factors `json:"factors,omitempty"`
}

// SendOTPRequest asks for a 2FA code by email for a challenge.
type SendOTPRequest struct {
	ChallengeID string `json:"challengeId"`
}

// VerifyRequest answers a challenge with one factor.
type VerifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
	TrustDevice bool   `json:"trustDevice"`
}

// VerifyResponse is returned once a challenge is satisfied.
type VerifyResponse struct {
	Token               string       `json:"token"`
	User                UserResponse `json:"user"`
	TrustToken          string       `json:"trustToken,omitempty"`
	TrustTokenExpiresAt *time.Time   `json:"trustTokenExpiresAt,omitempty"`
}

// SuccessResponse acknowledges requests with no other result.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// SignInEmail handles POST /sign-in/email.
func (h *Handler) SignInEmail(w http.ResponseWriter, r *http.Request) {
	var req SignInEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Login(r.Context(), twofa.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		TrustToken: trustTokenFrom(r, req.TrustToken),
	})
	h.finishSignIn(w, r, res, err)
}

// SignInEmailOTP handles POST /sign-in/email-otp.
func (h *Handler) SignInEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req SignInEmailOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.SignInWithEmailOTP(r.Context(), req.Email, req.OTP,
		trustTokenFrom(r, req.TrustToken), twofa.DeviceContext{})
	h.finishSignIn(w, r, res, err)
}

func (h *Handler) finishSignIn(w http.ResponseWriter, r *http.Request, res twofa.LoginResult, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.ChallengeRequired {
		expiresAt := res.ChallengeExpiresAt
		factors := res.Factors
		render.JSON(w, r, SignInResponse{
			TwoFactorRedirect: true,
			ChallengeID:       res.ChallengeID,
			ExpiresAt:         &expiresAt,
			Factors:           &factors,
		})
		return
	}

	token, ok := h.startSession(w, r, res.UserID)
	if !ok {
		return
	}
	render.JSON(w, r, SignInResponse{
		Token:         token,
		User:          &UserResponse{ID: res.UserID},
		TrustedDevice: res.TrustedDevice,
	})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	token, exp, err := h.sessions.Issue(userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "issue session failed", "user_id", userID, "err", err)
		h.writeError(w, r, err)
		return "", false
	}
	h.setCookie(w, middleware.SessionCookie, token, exp)
	return token, true
}

// SendOTP handles POST /two-factor/send-otp.
func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.SendChallengeOTP(r.Context(), req.ChallengeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, SuccessResponse{Success: true})
}

func (h *Handler) verifyWith(method twofa.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		if !h.decode(w, r, &req) {
			return
		}
		res, err := h.engine.VerifyChallenge(r.Context(), twofa.VerifyRequest{
			ChallengeID: req.ChallengeID,
			Method:      method,
			Code:        req.Code,
			TrustDevice: req.TrustDevice,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		token, ok := h.startSession(w, r, res.UserID)
		if !ok {
			return
		}
		resp := VerifyResponse{Token: token, User: UserResponse{ID: res.UserID}}
		if res.TrustToken != nil {
			expiresAt := res.TrustToken.ExpiresAt
			resp.TrustToken = res.TrustToken.Token
			resp.TrustTokenExpiresAt = &expiresAt
			h.setCookie(w, TrustCookie, res.TrustToken.Token, expiresAt)
		}
		render.JSON(w, r, resp)
	}
}
