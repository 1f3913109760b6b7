// Package provider defines the capability the callback flow consumes from
// per-provider OAuth implementations, plus a generic OAuth2 implementation.
package provider

import (
	"context"
	"errors"
	"time"
)

// TokenSet is the result of exchanging an authorization code with a provider.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// UserInfo is the normalized profile a provider reports for the account.
type UserInfo struct {
	AccountID       string
	Email           *string
	EmailVerified   bool
	DisplayName     *string
	ProfileImageURL *string
}

// CallbackInput carries everything a provider needs to finish its leg of the
// flow: the code from the callback query plus the PKCE verifier persisted at
// authorize time.
type CallbackInput struct {
	Code         string
	State        string
	CodeVerifier string
	Scopes       []string
}

// CallbackResult bundles the exchanged tokens with the fetched profile.
type CallbackResult struct {
	TokenSet TokenSet
	UserInfo UserInfo
}

// Client exchanges an authorization code for tokens and fetches the normalized
// profile. Implementations wrap concrete provider APIs (Google, GitHub, ...).
type Client interface {
	GetCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error)
}

// ErrAccessDenied is returned when the user declined consent at the provider.
var ErrAccessDenied = errors.New("provider: user denied access")

// ErrExchangeFailed wraps provider-side exchange failures.
var ErrExchangeFailed = errors.New("provider: code exchange failed")

// Registry resolves a Client for a tenancy's provider config id.
type Registry interface {
	Get(ctx context.Context, tenancyID, providerConfigID string) (Client, error)
}

// ErrProviderNotConfigured is returned by registries for unknown provider ids.
var ErrProviderNotConfigured = errors.New("provider: not configured")
