package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Client is a generic Client over golang.org/x/oauth2. It covers every
// provider that speaks plain OAuth2 + a JSON userinfo endpoint; providers with
// odd profile shapes plug in their own Normalize.
type OAuth2Client struct {
	Config      oauth2.Config
	UserInfoURL string

	// Normalize maps the raw userinfo body to a UserInfo. When nil, the
	// OIDC-standard claim names are assumed.
	Normalize func(raw []byte) (UserInfo, error)

	// HTTPTimeout bounds the userinfo fetch. Zero means 10s.
	HTTPTimeout time.Duration
}

// GetCallback exchanges the code (with the PKCE verifier) and fetches the
// profile from the userinfo endpoint.
func (c *OAuth2Client) GetCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	tok, err := c.Config.Exchange(ctx, in.Code,
		oauth2.SetAuthURLParam("code_verifier", in.CodeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		ts.ExpiresAt = &exp
	}

	info, err := c.fetchUserInfo(ctx, tok)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{TokenSet: ts, UserInfo: info}, nil
}

func (c *OAuth2Client) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (UserInfo, error) {
	timeout := c.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.UserInfoURL, nil)
	if err != nil {
		return UserInfo{}, err
	}
	tok.SetAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: userinfo: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UserInfo{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("%w: userinfo status %d", ErrExchangeFailed, resp.StatusCode)
	}

	if c.Normalize != nil {
		return c.Normalize(body)
	}
	return normalizeOIDC(body)
}

// normalizeOIDC maps standard OIDC userinfo claims.
func normalizeOIDC(raw []byte) (UserInfo, error) {
	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return UserInfo{}, fmt.Errorf("%w: userinfo decode: %v", ErrExchangeFailed, err)
	}
	if claims.Sub == "" {
		return UserInfo{}, fmt.Errorf("%w: userinfo missing sub", ErrExchangeFailed)
	}

	info := UserInfo{AccountID: claims.Sub, EmailVerified: claims.EmailVerified}
	if claims.Email != "" {
		info.Email = &claims.Email
	}
	if claims.Name != "" {
		info.DisplayName = &claims.Name
	}
	if claims.Picture != "" {
		info.ProfileImageURL = &claims.Picture
	}
	return info, nil
}

// StaticRegistry is a fixed providerConfigID → Client map, enough for
// configuration-file driven deployments.
type StaticRegistry map[string]Client

func (r StaticRegistry) Get(_ context.Context, _ string, providerConfigID string) (Client, error) {
	c, ok := r[providerConfigID]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	return c, nil
}
