package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumakey/lumakey/internal/oauth/authserver"
	"github.com/lumakey/lumakey/internal/oauth/provider"
	"github.com/lumakey/lumakey/internal/store/core"
)

// memAccounts is an in-memory AccountStore with snapshot rollback, honoring
// the unique key on (tenancy, provider config, provider account).
type memAccounts struct {
	accounts []core.OAuthAccount
	methods  []core.AuthMethod
	channels []core.ContactChannel
	users    []core.User
}

func (m *memAccounts) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.AccountTx) error) error {
	snapshot := *m
	snapshot.accounts = append([]core.OAuthAccount(nil), m.accounts...)
	snapshot.methods = append([]core.AuthMethod(nil), m.methods...)
	snapshot.channels = append([]core.ContactChannel(nil), m.channels...)
	snapshot.users = append([]core.User(nil), m.users...)

	if err := fn(ctx, m); err != nil {
		*m = snapshot
		return err
	}
	return nil
}

func (m *memAccounts) ListUserAccounts(_ context.Context, tenancyID, userID, providerConfigID string) ([]core.OAuthAccount, error) {
	var out []core.OAuthAccount
	for _, a := range m.accounts {
		if a.TenancyID == tenancyID && a.UserID == userID && a.ProviderConfigID == providerConfigID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAccounts) GetAccount(_ context.Context, tenancyID, providerConfigID, providerAccountID string) (*core.OAuthAccount, error) {
	for i := range m.accounts {
		a := &m.accounts[i]
		if a.TenancyID == tenancyID && a.ProviderConfigID == providerConfigID && a.ProviderAccountID == providerAccountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memAccounts) CreateAccount(ctx context.Context, a *core.OAuthAccount) error {
	if _, err := m.GetAccount(ctx, a.TenancyID, a.ProviderConfigID, a.ProviderAccountID); err == nil {
		return fmt.Errorf("oauth_account unique key: %w", core.ErrConflict)
	}
	m.accounts = append(m.accounts, *a)
	return nil
}

func (m *memAccounts) CreateAuthMethod(_ context.Context, am *core.AuthMethod) error {
	m.methods = append(m.methods, *am)
	return nil
}

// GetContactChannelByValue prefers the auth-bearing row, matching the pg
// store's ordering when duplicates share a value.
func (m *memAccounts) GetContactChannelByValue(_ context.Context, tenancyID, value string) (*core.ContactChannel, error) {
	var found *core.ContactChannel
	for i := range m.channels {
		c := &m.channels[i]
		if c.TenancyID != tenancyID || c.Value != value {
			continue
		}
		if found == nil || (c.UsedForAuth && !found.UsedForAuth) {
			found = c
		}
	}
	if found == nil {
		return nil, core.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *memAccounts) CreateUser(_ context.Context, u *core.User) error {
	m.users = append(m.users, *u)
	return nil
}

func (m *memAccounts) CreateContactChannel(_ context.Context, c *core.ContactChannel) error {
	m.channels = append(m.channels, *c)
	return nil
}

type memOuter struct {
	rows map[string]*core.OuterAuthRequest
}

func (m *memOuter) GetByInnerState(_ context.Context, innerState string) (*core.OuterAuthRequest, error) {
	r, ok := m.rows[innerState]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memOuter) Create(_ context.Context, req *core.OuterAuthRequest) error {
	if m.rows == nil {
		m.rows = map[string]*core.OuterAuthRequest{}
	}
	cp := *req
	m.rows[req.InnerState] = &cp
	return nil
}

type memTenancies struct {
	rows map[string]*core.Tenancy
}

func (m *memTenancies) GetTenancy(_ context.Context, id string) (*core.Tenancy, error) {
	t, ok := m.rows[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// fakeProvider returns a fixed callback result or error.
type fakeProvider struct {
	result *provider.CallbackResult
	err    error

	lastInput provider.CallbackInput
}

func (f *fakeProvider) GetCallback(_ context.Context, in provider.CallbackInput) (*provider.CallbackResult, error) {
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeTokens struct {
	calls int
	err   error
	last  provider.TokenSet
}

func (f *fakeTokens) Store(_ context.Context, _, _, _ string, ts provider.TokenSet, _ []string) error {
	f.calls++
	f.last = ts
	return f.err
}

type fakeFinalizer struct {
	err  error
	last struct {
		UserID  string
		NewUser bool
		Params  core.ClientOAuthParams
	}
}

func (f *fakeFinalizer) Finalize(_ context.Context, _ *core.Tenancy, userID string, newUser bool, params core.ClientOAuthParams) (*authserver.AuthorizationResponse, error) {
	f.last.UserID = userID
	f.last.NewUser = newUser
	f.last.Params = params
	if f.err != nil {
		return nil, f.err
	}
	return &authserver.AuthorizationResponse{
		Code:        "authcode",
		RedirectURL: params.RedirectURI + "?code=authcode",
	}, nil
}

var errBoom = errors.New("boom")
