package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/twofa"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
)

// SessionCookie is the cookie RequireSession falls back to when no bearer
// token is present.
const SessionCookie = "session"

type userIDContextKey struct{}

// UserIDFromContext returns the session subject stored by RequireSession.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	return id, ok && id != ""
}

// RequireSession rejects requests without a valid session token signed by ja.
func RequireSession(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	verify := jwtauth.Verify(ja, jwtauth.TokenFromHeader, tokenFromCookie)
	return func(next http.Handler) http.Handler {
		return verify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				unauthorized(w, r, err)
				return
			}
			sub := token.Subject()
			if sub == "" {
				unauthorized(w, r, nil)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

func tokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

type errorBody struct {
	Code    twofa.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

const codeUnauthorized twofa.ErrorCode = "UNAUTHORIZED"

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.DebugContext(r.Context(), "session rejected", "err", err)
	}
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, errorBody{Code: codeUnauthorized, Message: "unauthorized"})
}
