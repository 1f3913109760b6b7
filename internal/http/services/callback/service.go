// Package callback implements the external OAuth sign-in/link callback engine:
// anti-CSRF state validation, the provider token exchange, account resolution,
// provider token persistence and the final OAuth2 grant response for the
// original caller.
package callback

import (
	"context"
)

// Service handles a redirect back from an external OAuth provider.
type Service interface {
	// Callback runs the full flow. A nil error means Result.RedirectURL must
	// be followed; this is also how redirect-eligible failures are delivered
	// once the outer request row has been loaded and its errorRedirectUrl
	// validated. Errors are *FlowError.
	Callback(ctx context.Context, req Request) (*Result, error)
}

// Request is the pre-validated callback input from the HTTP boundary.
type Request struct {
	// ProviderID is the path's provider config id.
	ProviderID string

	// State is the inner-state token echoed back by the provider.
	State string

	// Code is the provider's authorization code. Empty when the provider
	// reported an error instead.
	Code string

	// ProviderError and ProviderErrorDescription carry the provider's error
	// parameters, when present.
	ProviderError            string
	ProviderErrorDescription string

	// Jar gives the guard access to the single-use marker cookie.
	Jar CookieJar
}

// Result is the success (or redirected-failure) outcome.
type Result struct {
	// RedirectURL is where the browser goes next: the afterCallbackRedirectUrl
	// with the authorization response appended, or the errorRedirectUrl with
	// error parameters.
	RedirectURL string

	// ErrorRedirect is true when RedirectURL delivers a FlowError rather than
	// an authorization response.
	ErrorRedirect bool
}
