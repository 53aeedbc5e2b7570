package httpapi

import (
	"net/http"

	"github.com/MrEthical07/twofa"
	"github.com/go-chi/render"
)

// SendVerificationOTPRequest asks for an email OTP of the given type.
type SendVerificationOTPRequest struct {
	Email string `json:"email"`
	// Type is sign-in, email-verification or forget-password.
	Type string `json:"type"`
}

// VerifyEmailRequest carries an email-verification code.
type VerifyEmailRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// ResetPasswordRequest carries a forget-password code and the new password.
type ResetPasswordRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

// SendVerificationOTP handles POST /email-otp/send-verification-otp.
func (h *Handler) SendVerificationOTP(w http.ResponseWriter, r *http.Request) {
	var req SendVerificationOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.RequestEmailOTP(r.Context(), req.Email, twofa.Purpose(req.Type)); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, SuccessResponse{Success: true})
}

// VerifyEmail handles POST /email-otp/verify-email.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.VerifyEmail(r.Context(), req.Email, req.OTP); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, SuccessResponse{Success: true})
}

// ResetPassword handles POST /email-otp/reset-password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Email, req.OTP, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	// The reset bumped the trust epoch, so any stored device token is dead.
	h.clearCookie(w, TrustCookie)
	render.JSON(w, r, SuccessResponse{Success: true})
}
