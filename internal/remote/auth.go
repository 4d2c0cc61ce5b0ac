package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/tallyapp/tally-go/internal/domain"
)

// tokenResponse is the auth endpoint's session shape.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	User         *identityJSON `json:"user"`
}

type identityJSON struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

func (j *identityJSON) toDomain() *domain.Identity {
	if j == nil {
		return nil
	}
	meta := make(map[string]string, len(j.Metadata))
	for k, v := range j.Metadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	return &domain.Identity{ID: j.ID, Email: j.Email, Metadata: meta}
}

func (r *tokenResponse) toSession(now time.Time) *domain.Session {
	return &domain.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(r.ExpiresIn) * time.Second),
		Identity:     r.User.toDomain(),
	}
}

// SignUp registers a new identity. Metadata travels to the auth provider as
// user_metadata.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*domain.Session, error) {
	body, err := marshal(map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	})
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/v1/signup",
		body:      body,
		limitKey:  limitAuth,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}

	resp, err := decode[tokenResponse](data)
	if err != nil {
		return nil, err
	}
	return resp.toSession(time.Now()), nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	body, err := marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/v1/token",
		query:     url.Values{"grant_type": {"password"}},
		body:      body,
		limitKey:  limitAuth,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}

	resp, err := decode[tokenResponse](data)
	if err != nil {
		return nil, err
	}
	return resp.toSession(time.Now()), nil
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	body, err := marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/v1/token",
		query:     url.Values{"grant_type": {"refresh_token"}},
		body:      body,
		limitKey:  limitAuth,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}

	resp, err := decode[tokenResponse](data)
	if err != nil {
		return nil, err
	}
	return resp.toSession(time.Now()), nil
}

// GetUser returns the identity behind the current access token.
func (c *Client) GetUser(ctx context.Context) (*domain.Identity, error) {
	data, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/auth/v1/user",
		limitKey: limitAuth,
	})
	if err != nil {
		return nil, err
	}

	j, err := decode[identityJSON](data)
	if err != nil {
		return nil, err
	}
	return j.toDomain(), nil
}

// UpdateUser changes attributes of the signed-in identity. Only the
// password travels through auth; profile fields live in the profiles table.
func (c *Client) UpdateUser(ctx context.Context, password string) (*domain.Identity, error) {
	body, err := marshal(map[string]string{"password": password})
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, request{
		method:   http.MethodPut,
		path:     "/auth/v1/user",
		body:     body,
		limitKey: limitAuth,
	})
	if err != nil {
		return nil, err
	}

	j, err := decode[identityJSON](data)
	if err != nil {
		return nil, err
	}
	return j.toDomain(), nil
}

// SignOut revokes the current session server-side.
func (c *Client) SignOut(ctx context.Context) error {
	_, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/auth/v1/logout",
		limitKey: limitAuth,
	})
	return err
}

// OAuthURL builds the browser redirect URL for a third-party provider flow.
// No network call: the provider handshake happens in the user's browser.
func (c *Client) OAuthURL(provider, redirectTo string) string {
	q := url.Values{"provider": {provider}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/auth/v1/authorize?" + q.Encode()
}
