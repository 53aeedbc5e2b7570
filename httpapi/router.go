package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// TrustCookie carries the trusted-device token between sign-ins.
const TrustCookie = "trust_device"

// Options configures NewRouter.
type Options struct {
	Engine   *twofa.Engine
	Sessions *Sessions
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool
	// SecureCookies sets the Secure attribute on every cookie.
	SecureCookies bool
	// AllowedOrigins enables CORS with credentials for these origins.
	AllowedOrigins []string
}

// Handler serves the twofa HTTP routes.
type Handler struct {
	engine        *twofa.Engine
	sessions      *Sessions
	logger        *slog.Logger
	secureCookies bool
}

// NewRouter builds the chi router for every twofa route.
func NewRouter(opts Options) http.Handler {
	h := &Handler{
		engine:        opts.Engine,
		sessions:      opts.Sessions,
		logger:        opts.Logger,
		secureCookies: opts.SecureCookies,
	}
	if h.logger == nil {
		h.logger = discardLogger()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.ClientInfo(opts.TrustProxy))

	r.Post("/sign-in/email", h.SignInEmail)
	r.Post("/sign-in/email-otp", h.SignInEmailOTP)

	r.Route("/email-otp", func(r chi.Router) {
		r.Post("/send-verification-otp", h.SendVerificationOTP)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/reset-password", h.ResetPassword)
	})

	r.Route("/two-factor", func(r chi.Router) {
		r.Post("/send-otp", h.SendOTP)
		r.Post("/verify-totp", h.verifyWith(twofa.MethodTOTP))
		r.Post("/verify-otp", h.verifyWith(twofa.MethodEmailOTP))
		r.Post("/verify-backup-code", h.verifyWith(twofa.MethodBackupCode))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(h.sessions.Auth()))
			r.Post("/enable", h.Enable)
			r.Post("/confirm", h.Confirm)
			r.Post("/disable", h.Disable)
			r.Post("/generate-backup-codes", h.GenerateBackupCodes)
			r.Post("/get-totp-uri", h.GetTOTPURI)
			r.Get("/status", h.Status)
			r.Post("/revoke-trusted-devices", h.RevokeTrustedDevices)
		})
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func trustTokenFrom(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	if c, err := r.Cookie(TrustCookie); err == nil {
		return c.Value
	}
	return ""
}
