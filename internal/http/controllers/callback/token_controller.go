package callback

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/lumakey/lumakey/internal/http/errors"
	"github.com/lumakey/lumakey/internal/oauth/authserver"
	"github.com/lumakey/lumakey/internal/observability/logger"
)

// TokenController handles POST /oauth/token: the endpoint the authorization
// code issued by the callback flow is redeemed against.
type TokenController struct {
	server *authserver.Server
}

// NewTokenController creates the token endpoint controller.
func NewTokenController(server *authserver.Server) *TokenController {
	return &TokenController{server: server}
}

// Token redeems an authorization code for a token set.
func (c *TokenController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Token"))

	if err := r.ParseForm(); err != nil {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("malformed form body"))
		return
	}

	clientID, clientSecret := r.Form.Get("client_id"), r.Form.Get("client_secret")
	// Basic auth is equivalent per RFC 6749 §2.3.1.
	if u, p, ok := r.BasicAuth(); ok {
		clientID, clientSecret = u, p
	}

	resp, err := c.server.Redeem(ctx, authserver.RedeemRequest{
		GrantType:    strings.TrimSpace(r.Form.Get("grant_type")),
		Code:         strings.TrimSpace(r.Form.Get("code")),
		CodeVerifier: strings.TrimSpace(r.Form.Get("code_verifier")),
		RedirectURI:  strings.TrimSpace(r.Form.Get("redirect_uri")),
		RefreshToken: strings.TrimSpace(r.Form.Get("refresh_token")),
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
	})
	if err != nil {
		log.Warn("token redemption failed", logger.Err(err))
		switch {
		case errors.Is(err, authserver.ErrInvalidClient):
			httperrors.WriteError(w, httperrors.New(http.StatusUnauthorized, "invalid_client", "client authentication failed"))
		case errors.Is(err, authserver.ErrInvalidGrant):
			httperrors.WriteError(w, httperrors.New(http.StatusBadRequest, "invalid_grant", "authorization code is invalid or expired"))
		case errors.Is(err, authserver.ErrInvalidRequest):
			httperrors.WriteError(w, httperrors.New(http.StatusBadRequest, "invalid_request", "malformed token request"))
		default:
			httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
		}
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(resp)
}
