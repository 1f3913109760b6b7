// Package authserver is the embedded OAuth2 authorization server the callback
// flow finalizes against. Only the authorization-code grant is implemented:
// code issuance for a resolved user, and redemption at the token endpoint.
package authserver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lumakey/lumakey/internal/cache"
	"github.com/lumakey/lumakey/internal/observability/logger"
	"github.com/lumakey/lumakey/internal/security/token"
	"github.com/lumakey/lumakey/internal/store/core"
	"github.com/lumakey/lumakey/internal/validation"
)

// Sentinel errors. The callback finalizer translates some of these into
// clearer user-facing messages.
var (
	ErrInvalidClient       = errors.New("authserver: client authentication failed")
	ErrRedirectURIMismatch = errors.New("authserver: redirect_uri is not allowed for this client")
	ErrInvalidScope        = errors.New("authserver: requested scope is not allowed")
	ErrInvalidRequest      = errors.New("authserver: malformed authorization request")
	ErrInvalidGrant        = errors.New("authserver: invalid or expired authorization code")
)

// allowedScopes is the scope vocabulary of the embedded server.
var allowedScopes = map[string]bool{
	"openid":         true,
	"profile":        true,
	"email":          true,
	"offline_access": true,
}

const (
	codeCachePrefix    = "oauth:code:"
	refreshCachePrefix = "oauth:refresh:"
)

// codeRecord is the cached payload behind an issued authorization code.
type codeRecord struct {
	UserID          string    `json:"user_id"`
	TenancyID       string    `json:"tenancy_id"`
	ClientID        string    `json:"client_id"`
	RedirectURI     string    `json:"redirect_uri"`
	Scope           string    `json:"scope"`
	CodeChallenge   string    `json:"code_challenge"`
	ChallengeMethod string    `json:"code_challenge_method"`
	NewUser         bool      `json:"new_user"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// GrantRequest asks for an authorization code for an already-resolved user.
// ClientID is "tenancyID#branchID" and ClientSecret the tenancy's publishable
// client key.
type GrantRequest struct {
	Tenancy      *core.Tenancy
	UserID       string
	NewUser      bool
	ClientID     string
	ClientSecret string

	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ResponseType        string
}

// AuthorizationResponse is the RFC 6749 authorization response for the
// original caller: the redirect location carrying code (+state).
type AuthorizationResponse struct {
	Code        string
	RedirectURL string
}

// refreshRecord is the cached payload behind an issued refresh token.
type refreshRecord struct {
	UserID    string    `json:"user_id"`
	TenancyID string    `json:"tenancy_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedeemRequest is the token-endpoint request. Code (+verifier, redirect URI)
// for the authorization_code grant, RefreshToken for refresh_token.
type RedeemRequest struct {
	GrantType    string
	Code         string
	CodeVerifier string
	RedirectURI  string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the standard OAuth2 token response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Server issues and redeems authorization codes. Codes live in the cache,
// hashed, with a short TTL, and are single-use.
type Server struct {
	cache     cache.Client
	issuer    *Issuer
	tenancies core.TenancyRepository
	codeTTL   time.Duration
}

// Deps wires a Server.
type Deps struct {
	Cache     cache.Client
	Issuer    *Issuer
	Tenancies core.TenancyRepository
	CodeTTL   time.Duration
}

// New creates a Server. CodeTTL defaults to 5 minutes.
func New(d Deps) *Server {
	ttl := d.CodeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Server{cache: d.Cache, issuer: d.Issuer, tenancies: d.Tenancies, codeTTL: ttl}
}

// IssueCode validates the internal grant request and issues a code bound to
// the resolved user.
func (s *Server) IssueCode(ctx context.Context, req GrantRequest) (*AuthorizationResponse, error) {
	if req.Tenancy == nil {
		return nil, ErrInvalidRequest
	}
	if err := s.checkClient(req.Tenancy, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}
	if req.ResponseType != "" && req.ResponseType != "code" {
		return nil, fmt.Errorf("%w: unsupported response_type %q", ErrInvalidRequest, req.ResponseType)
	}
	for _, sc := range strings.Fields(req.Scope) {
		if !allowedScopes[strings.ToLower(sc)] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, sc)
		}
	}
	if err := validation.ValidateRedirectURL(req.RedirectURI, req.Tenancy.TrustedDomains, req.Tenancy.AllowLocalhost); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedirectURIMismatch, err)
	}

	code, err := token.GenerateOpaque(32)
	if err != nil {
		return nil, err
	}

	rec := codeRecord{
		UserID:          req.UserID,
		TenancyID:       req.Tenancy.ID,
		ClientID:        req.ClientID,
		RedirectURI:     req.RedirectURI,
		Scope:           req.Scope,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: req.CodeChallengeMethod,
		NewUser:         req.NewUser,
		ExpiresAt:       time.Now().Add(s.codeTTL),
	}
	b, _ := json.Marshal(rec)
	if err := s.cache.Set(ctx, codeCachePrefix+token.SHA256Base64URL(code), b, s.codeTTL); err != nil {
		return nil, err
	}

	loc, err := appendQuery(req.RedirectURI, map[string]string{
		"code":  code,
		"state": req.State,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedirectURIMismatch, err)
	}

	logger.From(ctx).Debug("authorization code issued",
		logger.Component("authserver"),
		logger.TenancyID(req.Tenancy.ID),
		logger.UserID(req.UserID),
	)

	return &AuthorizationResponse{Code: code, RedirectURL: loc}, nil
}

// Redeem exchanges an authorization code or refresh token for tokens. Codes
// are deleted on first read; PKCE S256 is enforced when a challenge was
// recorded; refresh tokens rotate on every use.
func (s *Server) Redeem(ctx context.Context, req RedeemRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.redeemCode(ctx, req)
	case "refresh_token":
		return s.redeemRefresh(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unsupported grant_type %q", ErrInvalidRequest, req.GrantType)
	}
}

func (s *Server) redeemCode(ctx context.Context, req RedeemRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: code required", ErrInvalidRequest)
	}

	key := codeCachePrefix + token.SHA256Base64URL(req.Code)
	b, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, ErrInvalidGrant
	}
	// Single use: gone before any further validation.
	_ = s.cache.Delete(ctx, key)

	var rec codeRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, ErrInvalidGrant
	}
	if !time.Now().Before(rec.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if rec.ClientID != req.ClientID {
		return nil, ErrInvalidClient
	}

	tenancyID, _, ok := splitClientID(req.ClientID)
	if !ok {
		return nil, ErrInvalidClient
	}
	tenancy, err := s.tenancies.GetTenancy(ctx, tenancyID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	if err := s.checkClient(tenancy, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	if req.RedirectURI != rec.RedirectURI {
		return nil, ErrInvalidGrant
	}
	if rec.CodeChallenge != "" {
		if !strings.EqualFold(rec.ChallengeMethod, "S256") {
			return nil, ErrInvalidGrant
		}
		sum := sha256.Sum256([]byte(req.CodeVerifier))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != rec.CodeChallenge {
			return nil, ErrInvalidGrant
		}
	}

	resp, err := s.issueTokens(ctx, rec.TenancyID, rec.UserID, rec.ClientID, rec.Scope)
	if err != nil {
		return nil, err
	}
	if strings.Contains(rec.Scope, "openid") {
		idTok, err := s.issuer.SignID(rec.TenancyID, rec.UserID, rec.ClientID, rec.NewUser)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idTok
	}
	return resp, nil
}

// redeemRefresh rotates a refresh token: the presented token is consumed and
// a new pair is issued for the same user, client and scope.
func (s *Server) redeemRefresh(ctx context.Context, req RedeemRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token required", ErrInvalidRequest)
	}

	key := refreshCachePrefix + token.SHA256Base64URL(req.RefreshToken)
	b, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, ErrInvalidGrant
	}
	_ = s.cache.Delete(ctx, key)

	var rec refreshRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, ErrInvalidGrant
	}
	if !time.Now().Before(rec.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if rec.ClientID != req.ClientID {
		return nil, ErrInvalidClient
	}

	tenancyID, _, ok := splitClientID(req.ClientID)
	if !ok {
		return nil, ErrInvalidClient
	}
	tenancy, err := s.tenancies.GetTenancy(ctx, tenancyID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	if err := s.checkClient(tenancy, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, rec.TenancyID, rec.UserID, rec.ClientID, rec.Scope)
}

// issueTokens mints an access token and a persisted, redeemable refresh token.
func (s *Server) issueTokens(ctx context.Context, tenancyID, userID, clientID, scope string) (*TokenResponse, error) {
	access, err := s.issuer.SignAccess(tenancyID, userID, clientID, scope)
	if err != nil {
		return nil, err
	}
	refresh, err := token.GenerateOpaque(32)
	if err != nil {
		return nil, err
	}

	rec := refreshRecord{
		UserID:    userID,
		TenancyID: tenancyID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: time.Now().Add(s.issuer.RefreshTTL),
	}
	b, _ := json.Marshal(rec)
	if err := s.cache.Set(ctx, refreshCachePrefix+token.SHA256Base64URL(refresh), b, s.issuer.RefreshTTL); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// checkClient verifies the internal client convention: id "tenancyID#branchID",
// secret the tenancy's publishable client key.
func (s *Server) checkClient(t *core.Tenancy, clientID, clientSecret string) error {
	tenancyID, branchID, ok := splitClientID(clientID)
	if !ok || tenancyID != t.ID || branchID != t.BranchID {
		return ErrInvalidClient
	}
	if clientSecret == "" || clientSecret != t.PublishableClientKey {
		return ErrInvalidClient
	}
	return nil
}

func splitClientID(clientID string) (tenancyID, branchID string, ok bool) {
	parts := strings.SplitN(clientID, "#", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func appendQuery(raw string, params map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
