package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the tokens the upstream gym API handed out at login.
// It is safe for concurrent use.
type Session struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time // zero when the token carries no exp claim
}

// Set stores a new token pair. The expiry is read from the access token
// without verifying it; the upstream key is not ours to hold.
func (s *Session) Set(accessToken, refreshToken string) {
	exp := tokenExpiry(accessToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.expiresAt = exp
}

// Clear drops the stored tokens.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken, s.refreshToken, s.expiresAt = "", "", time.Time{}
}

// AccessToken returns the current access token, or "" when none is held.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// Valid reports whether an access token is held and will not expire within skew.
func (s *Session) Valid(skew time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == "" {
		return false
	}
	return s.expiresAt.IsZero() || time.Now().Add(skew).Before(s.expiresAt)
}

func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
