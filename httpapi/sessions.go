package httpapi

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
)

const defaultSessionTTL = 24 * time.Hour

// Sessions issues the HS256 session tokens handed out after a completed
// sign-in and verified by middleware.RequireSession.
type Sessions struct {
	auth *jwtauth.JWTAuth
	ttl  time.Duration
	now  func() time.Time
}

// NewSessions returns an HS256 session issuer. secret must be at least
// 32 bytes.
func NewSessions(secret []byte, ttl time.Duration) (*Sessions, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Sessions{
		auth: jwtauth.New("HS256", secret, nil),
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Auth is the verifier side, for middleware.RequireSession.
func (s *Sessions) Auth() *jwtauth.JWTAuth {
	return s.auth
}

// Issue signs a session token for userID.
func (s *Sessions) Issue(userID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := map[string]interface{}{"sub": userID}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, exp)

	_, token, err := s.auth.Encode(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}
