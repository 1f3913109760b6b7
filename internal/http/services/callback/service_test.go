package callback

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumakey/lumakey/internal/oauth/provider"
	"github.com/lumakey/lumakey/internal/store/core"
)

type flowFixture struct {
	svc       Service
	outer     *memOuter
	tenancies *memTenancies
	accounts  *memAccounts
	prov      *fakeProvider
	tokens    *fakeTokens
	finalizer *fakeFinalizer
	now       time.Time
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := &flowFixture{
		outer: &memOuter{},
		tenancies: &memTenancies{rows: map[string]*core.Tenancy{
			"ten_1": {
				ID:                   "ten_1",
				BranchID:             "main",
				PublishableClientKey: "pck",
				SignUpEnabled:        true,
				MergeStrategy:        core.MergeLinkMethod,
				TrustedDomains:       []string{"example.com"},
			},
		}},
		accounts: &memAccounts{},
		prov: &fakeProvider{result: &provider.CallbackResult{
			TokenSet: provider.TokenSet{AccessToken: "at", RefreshToken: "rt"},
			UserInfo: provider.UserInfo{
				AccountID:     "gh-42",
				Email:         strptr("a@example.com"),
				EmailVerified: true,
			},
		}},
		tokens:    &fakeTokens{},
		finalizer: &fakeFinalizer{},
		now:       now,
	}
	f.svc = New(Deps{
		Outer:     f.outer,
		Tenancies: f.tenancies,
		Accounts:  f.accounts,
		Providers: provider.StaticRegistry{"github": f.prov},
		Resolver:  NewResolver(f.accounts),
		Tokens:    f.tokens,
		Finalizer: f.finalizer,
		Now:       func() time.Time { return f.now },
	})
	return f
}

func (f *flowFixture) addOuter(t *testing.T, mutate func(*core.OuterAuthRequest)) *core.OuterAuthRequest {
	t.Helper()
	req := &core.OuterAuthRequest{
		InnerState:       "inner123",
		TenancyID:        "ten_1",
		FlowType:         core.FlowSignIn,
		ProviderConfigID: "github",
		CodeVerifier:     "pkce-verifier",
		ProviderScope:    "read:user user:email",
		ClientParams: core.ClientOAuthParams{
			PublishableClientKey: "pck",
			RedirectURI:          "https://example.com/handler",
			State:                "client-state",
			Scope:                "openid",
			GrantType:            "authorization_code",
			CodeChallenge:        "challenge",
			CodeChallengeMethod:  "S256",
			ResponseType:         "code",
		},
		ErrorRedirectURL: strptr("https://example.com/error"),
		CreatedAt:        f.now.Add(-time.Minute),
		ExpiresAt:        f.now.Add(10 * time.Minute),
	}
	if mutate != nil {
		mutate(req)
	}
	require.NoError(t, f.outer.Create(context.Background(), req))
	return req
}

func (f *flowFixture) request() Request {
	jar := newFakeJar()
	(CookieGuard{}).Issue(jar, "inner123", time.Minute)
	return Request{
		ProviderID: "github",
		State:      "inner123",
		Code:       "provider-code",
		Jar:        jar,
	}
}

func TestCallbackSignUpHappyPath(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.False(t, res.ErrorRedirect)
	assert.Contains(t, res.RedirectURL, "https://example.com/handler")

	// Exchange received the persisted PKCE verifier.
	assert.Equal(t, "pkce-verifier", f.prov.lastInput.CodeVerifier)
	assert.Equal(t, "provider-code", f.prov.lastInput.Code)

	// One new user with the provider account as auth method.
	require.Len(t, f.accounts.users, 1)
	assert.Equal(t, f.accounts.users[0].ID, f.finalizer.last.UserID)
	assert.True(t, f.finalizer.last.NewUser)

	// Provider tokens stored once.
	assert.Equal(t, 1, f.tokens.calls)
	assert.Equal(t, "at", f.tokens.last.AccessToken)
}

func TestCallbackDuplicateFriendlySignUpEndToEnd(t *testing.T) {
	f := newFlowFixture(t)
	f.tenancies.rows["ten_1"].MergeStrategy = core.MergeAllowDuplicates
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.AfterCallbackRedirectURL = strptr("https://app.example.com/done")
	})

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.False(t, res.ErrorRedirect)
	assert.Contains(t, res.RedirectURL, "https://app.example.com/done")

	require.Len(t, f.accounts.users, 1)
	require.Len(t, f.accounts.accounts, 1)
	require.Len(t, f.accounts.methods, 1)
	require.Len(t, f.accounts.channels, 1)
	assert.False(t, f.accounts.channels[0].UsedForAuth,
		"email auth disabled on duplicate-friendly provisioning")
	assert.True(t, f.finalizer.last.NewUser)
}

func TestCallbackMissingCookieNeverRedirects(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)

	req := f.request()
	req.Jar = newFakeJar() // no marker cookie

	_, err := f.svc.Callback(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidOAuthCookie)
	assert.Equal(t, 0, f.tokens.calls)
}

func TestCallbackUnknownStateNeverRedirects(t *testing.T) {
	f := newFlowFixture(t)
	// No outer row at all; the cookie exists so the guard passes.

	_, err := f.svc.Callback(context.Background(), f.request())
	require.ErrorIs(t, err, ErrOuterRequestNotFound)
}

func TestCallbackProviderIDMismatch(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)

	req := f.request()
	req.ProviderID = "gitlab"

	_, err := f.svc.Callback(context.Background(), req)
	require.ErrorIs(t, err, ErrOuterRequestNotFound)
}

func TestCallbackExpiryIsInclusive(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.ExpiresAt = f.now // expires exactly now
	})

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err, "timeout is delivered via the error redirect")
	assert.True(t, res.ErrorRedirect)
	assert.Contains(t, res.RedirectURL, "OUTER_OAUTH_TIMEOUT")
}

func TestCallbackJustBeforeExpirySucceeds(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.ExpiresAt = f.now.Add(time.Millisecond)
	})

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.False(t, res.ErrorRedirect)
}

func TestCallbackAccessDeniedRedirects(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)

	req := f.request()
	req.Code = ""
	req.ProviderError = "access_denied"

	res, err := f.svc.Callback(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.ErrorRedirect)

	u, perr := url.Parse(res.RedirectURL)
	require.NoError(t, perr)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, "OAUTH_PROVIDER_ACCESS_DENIED", u.Query().Get("errorCode"))
	assert.NotEmpty(t, u.Query().Get("message"))
}

func TestCallbackRedirectableErrorWithoutTargetPropagates(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.ErrorRedirectURL = nil
		r.ExpiresAt = f.now.Add(-time.Second)
	})

	_, err := f.svc.Callback(context.Background(), f.request())
	require.ErrorIs(t, err, ErrOuterFlowTimeout)
}

func TestCallbackUntrustedErrorRedirectPropagates(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.ErrorRedirectURL = strptr("https://attacker.io/error")
		r.ExpiresAt = f.now.Add(-time.Second)
	})

	// The stored target fails the allow-list, so the error propagates instead
	// of leaking the flow outcome to an untrusted host.
	_, err := f.svc.Callback(context.Background(), f.request())
	require.ErrorIs(t, err, ErrOuterFlowTimeout)
}

func TestCallbackExchangeFailure(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)
	f.prov.err = provider.ErrExchangeFailed

	_, err := f.svc.Callback(context.Background(), f.request())
	fe := AsFlowError(err)
	require.NotNil(t, fe)
	assert.Equal(t, ErrProviderExchangeFailed.Code, fe.Code)
}

func TestCallbackProviderReportedAccessDeniedDuringExchange(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)
	f.prov.err = provider.ErrAccessDenied

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, res.ErrorRedirect)
	assert.Contains(t, res.RedirectURL, "OAUTH_PROVIDER_ACCESS_DENIED")
}

func TestCallbackTokenPersistenceIsBestEffort(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)
	f.tokens.err = errBoom

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err, "a failed token write must not fail the flow")
	assert.False(t, res.ErrorRedirect)
	assert.Equal(t, 1, f.tokens.calls)
}

func TestCallbackAfterCallbackRedirectOverridesRedirectURI(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.AfterCallbackRedirectURL = strptr("https://app.example.com/done")
	})

	_, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/done", f.finalizer.last.Params.RedirectURI)
	assert.Equal(t, "client-state", f.finalizer.last.Params.State, "other params unchanged")
}

func TestCallbackLinkFlowRejectsSecondConnection(t *testing.T) {
	f := newFlowFixture(t)
	f.accounts.accounts = []core.OAuthAccount{{
		ID: "acc_1", TenancyID: "ten_1", ProviderConfigID: "github",
		ProviderAccountID: "gh-OTHER", UserID: "user_1",
	}}
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.FlowType = core.FlowLink
		r.LinkedUserID = strptr("user_1")
	})

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, res.ErrorRedirect)
	assert.Contains(t, res.RedirectURL, "USER_ALREADY_CONNECTED_TO_ANOTHER_OAUTH_CONNECTION")
}

func TestCallbackLinkFlowSameConnectionIsIdempotent(t *testing.T) {
	f := newFlowFixture(t)
	f.accounts.accounts = []core.OAuthAccount{{
		ID: "acc_1", TenancyID: "ten_1", ProviderConfigID: "github",
		ProviderAccountID: "gh-42", UserID: "user_1",
	}}
	f.addOuter(t, func(r *core.OuterAuthRequest) {
		r.FlowType = core.FlowLink
		r.LinkedUserID = strptr("user_1")
	})

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.False(t, res.ErrorRedirect)
	assert.Len(t, f.accounts.accounts, 1)
	assert.Equal(t, 1, f.tokens.calls, "fresh tokens stored even on a no-op link")
}

func TestCallbackSignInConflictRedirectCarriesErrorParams(t *testing.T) {
	f := newFlowFixture(t)
	f.tenancies.rows["ten_1"].MergeStrategy = core.MergeRaiseError
	f.accounts.channels = []core.ContactChannel{{
		ID: "ch_1", TenancyID: "ten_1", UserID: "user_1",
		Value: "a@example.com", IsVerified: true, UsedForAuth: true,
	}}
	f.addOuter(t, nil)

	res, err := f.svc.Callback(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, res.ErrorRedirect)

	u, perr := url.Parse(res.RedirectURL)
	require.NoError(t, perr)
	assert.Equal(t, "/error", u.Path)
	assert.Equal(t, "CONTACT_CHANNEL_ALREADY_USED_FOR_AUTH_BY_SOMEONE_ELSE", u.Query().Get("errorCode"))
}

func TestCallbackFinalizerFailurePropagates(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)
	f.finalizer.err = ErrRedirectURIMisconfigured

	// Non-redirectable: surfaces as the flow error, not a redirect.
	_, err := f.svc.Callback(context.Background(), f.request())
	fe := AsFlowError(err)
	require.NotNil(t, fe)
	assert.Equal(t, ErrRedirectURIMisconfigured.Code, fe.Code)
}

func TestCallbackReplayFailsOnCookie(t *testing.T) {
	f := newFlowFixture(t)
	f.addOuter(t, nil)

	jar := newFakeJar()
	(CookieGuard{}).Issue(jar, "inner123", time.Minute)
	req := Request{ProviderID: "github", State: "inner123", Code: "provider-code", Jar: jar}

	_, err := f.svc.Callback(context.Background(), req)
	require.NoError(t, err)

	// Same browser, same state, cookie already consumed.
	_, err = f.svc.Callback(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidOAuthCookie)
}
