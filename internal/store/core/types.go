package core

import "time"

// FlowType says whether a callback completes a fresh sign-in/sign-up or attaches
// a new provider to an already-authenticated user.
type FlowType string

const (
	FlowSignIn FlowType = "sign_in"
	FlowLink   FlowType = "link"
)

// MergeStrategy is the per-tenancy policy for attaching a new OAuth identity to
// an existing account that shares its email.
type MergeStrategy string

const (
	MergeLinkMethod      MergeStrategy = "link_method"
	MergeRaiseError      MergeStrategy = "raise_error"
	MergeAllowDuplicates MergeStrategy = "allow_duplicates"
)

// Tenancy is the owning tenant of a callback flow. BranchID distinguishes
// environments (main, preview branches) within a project.
type Tenancy struct {
	ID                   string
	BranchID             string
	PublishableClientKey string
	SignUpEnabled        bool
	MergeStrategy        MergeStrategy
	// TrustedDomains are the allow-listed domains for caller-supplied redirect
	// URLs. Entries may carry a "*." prefix for subdomain wildcards.
	TrustedDomains []string
	AllowLocalhost bool
	CreatedAt      time.Time
}

// ClientOAuthParams are the parameters of the original inbound OAuth2 request
// that the callback flow must ultimately satisfy.
type ClientOAuthParams struct {
	PublishableClientKey string
	RedirectURI          string
	State                string
	Scope                string
	GrantType            string
	CodeChallenge        string
	CodeChallengeMethod  string
	ResponseType         string
}

// OuterAuthRequest is the server-persisted context of an in-flight external
// OAuth flow, keyed by the inner-state token echoed through the provider.
// Created when the outbound authorize request begins; read once on callback;
// never mutated.
type OuterAuthRequest struct {
	InnerState       string
	TenancyID        string
	FlowType         FlowType
	LinkedUserID     *string // set iff FlowType == FlowLink
	ProviderConfigID string
	CodeVerifier     string // PKCE verifier forwarded to the provider exchange
	ProviderScope    string // extra scopes beyond the provider default
	ClientParams     ClientOAuthParams

	ErrorRedirectURL         *string
	AfterCallbackRedirectURL *string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// OAuthAccount links an external provider account to a user. At most one row
// per (tenancy, provider config, provider account id); the unique index is the
// backstop for concurrent create races.
type OAuthAccount struct {
	ID                     string
	TenancyID              string
	ProviderConfigID       string
	ProviderAccountID      string
	UserID                 string
	Email                  string // snapshot at link time
	AllowSignIn            bool
	AllowConnectedAccounts bool
	CreatedAt              time.Time
}

// AuthMethod marks an OAuthAccount as usable for authentication, as opposed to
// merely connected. Invariant: an AuthMethod exists iff the underlying account
// has AllowSignIn.
type AuthMethod struct {
	ID             string
	TenancyID      string
	UserID         string
	OAuthAccountID string
	CreatedAt      time.Time
}

// ContactChannel is an email ownership record.
type ContactChannel struct {
	ID          string
	TenancyID   string
	UserID      string
	Value       string // normalized email
	IsVerified  bool
	UsedForAuth bool
	IsPrimary   bool
	CreatedAt   time.Time
}

// User is a project user within a tenancy.
type User struct {
	ID              string
	TenancyID       string
	DisplayName     *string
	ProfileImageURL *string
	CreatedAt       time.Time
}

// ProviderToken is one stored provider access/refresh token pair. Rows are
// append-only; historical tokens are retained as a refresh/audit log.
type ProviderToken struct {
	ID                string
	TenancyID         string
	ProviderConfigID  string
	ProviderAccountID string
	AccessToken       string // sealed at rest
	RefreshToken      string // sealed at rest
	ExpiresAt         *time.Time
	Scopes            []string
	CreatedAt         time.Time
}
