package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/twofa/middleware"
	"github.com/go-chi/render"
)

// PasswordRequest re-authenticates a session user with their password.
type PasswordRequest struct {
	Password string `json:"password"`
}

// ConfirmRequest confirms a pending enrollment with a TOTP code.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// EnableResponse carries the new secret, its URI and the backup codes.
type EnableResponse struct {
	TOTPURI     string    `json:"totpURI"`
	Secret      string    `json:"secret"`
	BackupCodes []string  `json:"backupCodes"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// BackupCodesResponse carries a freshly generated backup-code set.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

// TOTPURIResponse carries the otpauth provisioning URI.
type TOTPURIResponse struct {
	TOTPURI string `json:"totpURI"`
}

// StatusResponse reports the 2FA state of the session user.
type StatusResponse struct {
	Enabled              bool       `json:"enabled"`
	Pending              bool       `json:"pending"`
	PendingExpiresAt     *time.Time `json:"pendingExpiresAt,omitempty"`
	BackupCodesRemaining int        `json:"backupCodesRemaining"`
}

// sessionUser is only reachable behind RequireSession.
func sessionUser(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}

// Enable handles POST /two-factor/enable.
func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Enable(r.Context(), sessionUser(r), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, EnableResponse{
		TOTPURI:     res.TOTPURI,
		Secret:      res.Secret,
		BackupCodes: res.BackupCodes,
		ExpiresAt:   res.ExpiresAt,
	})
}

// Confirm handles POST /two-factor/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.ConfirmEnrollment(r.Context(), sessionUser(r), req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, SuccessResponse{Success: true})
}

// Disable handles POST /two-factor/disable.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Disable(r.Context(), sessionUser(r), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearCookie(w, TrustCookie)
	render.JSON(w, r, SuccessResponse{Success: true})
}

// GenerateBackupCodes handles POST /two-factor/generate-backup-codes.
func (h *Handler) GenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	codes, err := h.engine.RegenerateBackupCodes(r.Context(), sessionUser(r), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, BackupCodesResponse{BackupCodes: codes})
}

// GetTOTPURI handles POST /two-factor/get-totp-uri.
func (h *Handler) GetTOTPURI(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	uri, err := h.engine.TOTPURI(r.Context(), sessionUser(r), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, TOTPURIResponse{TOTPURI: uri})
}

// Status handles GET /two-factor/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context(), sessionUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := StatusResponse{
		Enabled:              st.Enabled,
		Pending:              st.Pending,
		BackupCodesRemaining: st.BackupCodesRemaining,
	}
	if st.Pending {
		exp := st.PendingExpiresAt
		resp.PendingExpiresAt = &exp
	}
	render.JSON(w, r, resp)
}

// RevokeTrustedDevices handles POST /two-factor/revoke-trusted-devices.
func (h *Handler) RevokeTrustedDevices(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RevokeTrustedDevices(r.Context(), sessionUser(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearCookie(w, TrustCookie)
	render.JSON(w, r, SuccessResponse{Success: true})
}
