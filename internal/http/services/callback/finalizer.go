package callback

import (
	"context"
	"errors"

	"github.com/lumakey/lumakey/internal/oauth/authserver"
	"github.com/lumakey/lumakey/internal/observability/logger"
	"github.com/lumakey/lumakey/internal/store/core"
)

// GrantFinalizer turns a resolved user identity into a standards-compliant
// OAuth2 authorization response for the original caller, via the embedded
// authorization server. The internal client convention: "tenancyID#branchID"
// as client id, the tenancy's publishable client key as secret.
type GrantFinalizer interface {
	Finalize(ctx context.Context, tenancy *core.Tenancy, userID string, newUser bool, params core.ClientOAuthParams) (*authserver.AuthorizationResponse, error)
}

type grantFinalizer struct {
	server *authserver.Server
}

// NewGrantFinalizer wraps the embedded authorization server.
func NewGrantFinalizer(server *authserver.Server) GrantFinalizer {
	return &grantFinalizer{server: server}
}

func (f *grantFinalizer) Finalize(ctx context.Context, tenancy *core.Tenancy, userID string, newUser bool, params core.ClientOAuthParams) (*authserver.AuthorizationResponse, error) {
	resp, err := f.server.IssueCode(ctx, authserver.GrantRequest{
		Tenancy:             tenancy,
		UserID:              userID,
		NewUser:             newUser,
		ClientID:            tenancy.ID + "#" + tenancy.BranchID,
		ClientSecret:        params.PublishableClientKey,
		RedirectURI:         params.RedirectURI,
		Scope:               params.Scope,
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		ResponseType:        params.ResponseType,
	})
	if err != nil {
		return nil, f.translate(ctx, err)
	}
	return resp, nil
}

// translate maps authorization-server failures to user-facing flow errors.
func (f *grantFinalizer) translate(ctx context.Context, err error) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("callback.finalizer"))

	switch {
	case errors.Is(err, authserver.ErrRedirectURIMismatch):
		// The client error mentions redirect_uri; the actionable fix lives in
		// the project's dashboard configuration, so say that instead.
		return ErrRedirectURIMisconfigured.WithCause(err)
	case errors.Is(err, authserver.ErrInvalidScope):
		// Almost certainly a client bug: the authorize leg accepted these
		// params. Captured for operators, generic 400 for the user.
		log.Error("invalid scope reached grant finalization, likely a client bug", logger.Err(err))
		return ErrInvalidAuthorizationScope.WithCause(err)
	case errors.Is(err, authserver.ErrInvalidClient):
		return fatal("internal grant client authentication failed", err)
	default:
		return fatal("grant finalization failed", err)
	}
}
