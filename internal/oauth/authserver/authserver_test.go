package authserver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/lumakey/lumakey/internal/cache"
	"github.com/lumakey/lumakey/internal/store/core"
)

type fakeTenancies struct{ t *core.Tenancy }

func (f *fakeTenancies) GetTenancy(_ context.Context, id string) (*core.Tenancy, error) {
	if f.t != nil && f.t.ID == id {
		return f.t, nil
	}
	return nil, core.ErrNotFound
}

func testTenancy() *core.Tenancy {
	return &core.Tenancy{
		ID:                   "ten_1",
		BranchID:             "main",
		PublishableClientKey: "pck_secret",
		SignUpEnabled:        true,
		MergeStrategy:        core.MergeLinkMethod,
		TrustedDomains:       []string{"example.com"},
	}
}

func testServer(t *testing.T, tenancy *core.Tenancy) *Server {
	t.Helper()
	issuer, err := NewIssuer("https://auth.test", "", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return New(Deps{
		Cache:     cache.NewMemory("test:", time.Minute),
		Issuer:    issuer,
		Tenancies: &fakeTenancies{t: tenancy},
		CodeTTL:   time.Minute,
	})
}

func pkce(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func issue(t *testing.T, s *Server, tenancy *core.Tenancy, verifier string) *AuthorizationResponse {
	t.Helper()
	resp, err := s.IssueCode(context.Background(), GrantRequest{
		Tenancy:             tenancy,
		UserID:              "user_1",
		NewUser:             true,
		ClientID:            "ten_1#main",
		ClientSecret:        "pck_secret",
		RedirectURI:         "https://example.com/handler",
		Scope:               "openid email",
		State:               "client-state",
		CodeChallenge:       pkce(verifier),
		CodeChallengeMethod: "S256",
		ResponseType:        "code",
	})
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	return resp
}

func TestIssueAndRedeem(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)
	resp := issue(t, s, tenancy, "verifier-value")

	u, err := url.Parse(resp.RedirectURL)
	if err != nil {
		t.Fatalf("redirect url: %v", err)
	}
	if u.Query().Get("code") != resp.Code {
		t.Fatal("redirect must carry the issued code")
	}
	if u.Query().Get("state") != "client-state" {
		t.Fatal("redirect must echo the client state")
	}

	tok, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "authorization_code",
		Code:         resp.Code,
		CodeVerifier: "verifier-value",
		RedirectURI:  "https://example.com/handler",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if tok.TokenType != "Bearer" || tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatalf("incomplete token response: %+v", tok)
	}
	if tok.IDToken == "" {
		t.Fatal("openid scope must yield an id_token")
	}

	parsed, err := jwtv5.Parse(tok.IDToken, s.issuer.Keyfunc(), jwtv5.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !parsed.Valid {
		t.Fatalf("id_token does not verify: %v", err)
	}
	claims := parsed.Claims.(jwtv5.MapClaims)
	if claims["sub"] != "user_1" || claims["new_user"] != true {
		t.Fatalf("unexpected id_token claims: %v", claims)
	}
}

func TestRedeemCodeIsSingleUse(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)
	resp := issue(t, s, tenancy, "v")

	req := RedeemRequest{
		GrantType:    "authorization_code",
		Code:         resp.Code,
		CodeVerifier: "v",
		RedirectURI:  "https://example.com/handler",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	}
	if _, err := s.Redeem(context.Background(), req); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := s.Redeem(context.Background(), req); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("second redeem: got %v, want ErrInvalidGrant", err)
	}
}

func TestRedeemRejectsWrongVerifier(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)
	resp := issue(t, s, tenancy, "right-verifier")

	_, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "authorization_code",
		Code:         resp.Code,
		CodeVerifier: "wrong-verifier",
		RedirectURI:  "https://example.com/handler",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("got %v, want ErrInvalidGrant", err)
	}
}

func TestRedeemRejectsRedirectMismatch(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)
	resp := issue(t, s, tenancy, "v")

	_, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "authorization_code",
		Code:         resp.Code,
		CodeVerifier: "v",
		RedirectURI:  "https://example.com/other",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("got %v, want ErrInvalidGrant", err)
	}
}

func TestRedeemRejectsWrongClientSecret(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)
	resp := issue(t, s, tenancy, "v")

	_, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "authorization_code",
		Code:         resp.Code,
		CodeVerifier: "v",
		RedirectURI:  "https://example.com/handler",
		ClientID:     "ten_1#main",
		ClientSecret: "wrong",
	})
	if !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("got %v, want ErrInvalidClient", err)
	}
}

func TestIssueCodeRejectsUntrustedRedirect(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)

	_, err := s.IssueCode(context.Background(), GrantRequest{
		Tenancy:      tenancy,
		UserID:       "user_1",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
		RedirectURI:  "https://attacker.io/cb",
		ResponseType: "code",
	})
	if !errors.Is(err, ErrRedirectURIMismatch) {
		t.Fatalf("got %v, want ErrRedirectURIMismatch", err)
	}
}

func TestIssueCodeRejectsUnknownScope(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)

	_, err := s.IssueCode(context.Background(), GrantRequest{
		Tenancy:      tenancy,
		UserID:       "user_1",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
		RedirectURI:  "https://example.com/handler",
		Scope:        "openid admin:everything",
		ResponseType: "code",
	})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("got %v, want ErrInvalidScope", err)
	}
}

func TestIssueCodeRejectsBadClient(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)

	for _, tc := range []struct{ id, secret string }{
		{"ten_1#main", "wrong"},
		{"ten_2#main", "pck_secret"},
		{"ten_1#preview", "pck_secret"},
		{"no-separator", "pck_secret"},
	} {
		_, err := s.IssueCode(context.Background(), GrantRequest{
			Tenancy:      tenancy,
			UserID:       "user_1",
			ClientID:     tc.id,
			ClientSecret: tc.secret,
			RedirectURI:  "https://example.com/handler",
			ResponseType: "code",
		})
		if !errors.Is(err, ErrInvalidClient) {
			t.Fatalf("client %q/%q: got %v, want ErrInvalidClient", tc.id, tc.secret, err)
		}
	}
}

func redeem(t *testing.T, s *Server, code string) *TokenResponse {
	t.Helper()
	tok, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "authorization_code",
		Code:         code,
		CodeVerifier: "v",
		RedirectURI:  "https://example.com/handler",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	return tok
}

func TestRefreshGrantRotates(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)
	first := redeem(t, s, issue(t, s, tenancy, "v").Code)

	second, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.AccessToken == "" || second.RefreshToken == "" {
		t.Fatalf("incomplete refresh response: %+v", second)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token must rotate")
	}
	if second.Scope != first.Scope {
		t.Fatalf("scope changed on refresh: %q -> %q", first.Scope, second.Scope)
	}

	// The consumed token is gone; the rotated one still works.
	_, err = s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replayed refresh: got %v, want ErrInvalidGrant", err)
	}
	if _, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "refresh_token",
		RefreshToken: second.RefreshToken,
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	}); err != nil {
		t.Fatalf("rotated refresh: %v", err)
	}
}

func TestRefreshGrantRequiresClientAuth(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)
	first := redeem(t, s, issue(t, s, tenancy, "v").Code)

	_, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     "ten_1#main",
		ClientSecret: "wrong",
	})
	if !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("got %v, want ErrInvalidClient", err)
	}
}

func TestRefreshGrantUnknownToken(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)

	_, err := s.Redeem(context.Background(), RedeemRequest{
		GrantType:    "refresh_token",
		RefreshToken: "never-issued",
		ClientID:     "ten_1#main",
		ClientSecret: "pck_secret",
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("got %v, want ErrInvalidGrant", err)
	}
}

func TestRedeemRejectsWrongGrantType(t *testing.T) {
	tenancy := testTenancy()
	s := testServer(t, tenancy)

	_, err := s.Redeem(context.Background(), RedeemRequest{GrantType: "client_credentials", Code: "x"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest", err)
	}
}
