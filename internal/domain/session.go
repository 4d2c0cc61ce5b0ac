package domain

import "time"

// Identity is the authenticated principal as reported by the auth provider.
type Identity struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"user_metadata,omitempty"`
}

// Session is an auth provider session: tokens plus the identity they belong
// to. The access token is opaque to us apart from its expiry claims.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     *Identity `json:"user"`
}

// Expired reports whether the access token is past its expiry at t.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && t.After(s.ExpiresAt)
}
