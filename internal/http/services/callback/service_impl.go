package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumakey/lumakey/internal/metrics"
	"github.com/lumakey/lumakey/internal/oauth/provider"
	"github.com/lumakey/lumakey/internal/observability/logger"
	"github.com/lumakey/lumakey/internal/store/core"
	"github.com/lumakey/lumakey/internal/validation"
)

// Deps wires the callback orchestrator.
type Deps struct {
	Outer     core.OuterRequestRepository
	Tenancies core.TenancyRepository
	Accounts  core.AccountStore
	Providers provider.Registry
	Resolver  Resolver
	Tokens    TokenPersister
	Finalizer GrantFinalizer
	Guard     CookieGuard

	// Now overrides the clock, for expiry tests.
	Now func() time.Time
}

type service struct {
	outer     core.OuterRequestRepository
	tenancies core.TenancyRepository
	accounts  core.AccountStore
	providers provider.Registry
	resolver  Resolver
	tokens    TokenPersister
	finalizer GrantFinalizer
	guard     CookieGuard
	now       func() time.Time
}

// New creates the callback Service.
func New(d Deps) Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		outer:     d.Outer,
		tenancies: d.Tenancies,
		accounts:  d.Accounts,
		providers: d.Providers,
		resolver:  d.Resolver,
		tokens:    d.Tokens,
		finalizer: d.Finalizer,
		guard:     d.Guard,
		now:       now,
	}
}

// Callback sequences the flow: cookie check, outer state load + expiry check,
// provider exchange, account resolution, token persistence, grant
// finalization. Failures raised after the outer row loads go through the
// redirect policy; everything earlier propagates as an error.
func (s *service) Callback(ctx context.Context, req Request) (*Result, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("callback"))

	// The marker cookie is consumed before anything else. No redirect target
	// is trusted at this point, so failures always propagate.
	if err := s.guard.Validate(req.State, req.Jar); err != nil {
		metrics.ObserveCallback(req.ProviderID, "invalid_cookie")
		return nil, err
	}

	outer, err := s.outer.GetByInnerState(ctx, req.State)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Stale or spoofed state value. Not believed safe to redirect.
			metrics.ObserveCallback(req.ProviderID, "state_not_found")
			return nil, ErrOuterRequestNotFound
		}
		return nil, fatal("outer request lookup failed", err)
	}

	if outer.ProviderConfigID != req.ProviderID {
		return nil, ErrOuterRequestNotFound
	}

	tenancy, err := s.tenancies.GetTenancy(ctx, outer.TenancyID)
	if err != nil {
		// A still-valid outer row pointing at a missing tenancy is a
		// data-integrity problem, not user error.
		return nil, fatal("tenancy not found for outer request", err)
	}

	log = log.With(logger.TenancyID(tenancy.ID), logger.Provider(outer.ProviderConfigID), logger.FlowType(string(outer.FlowType)))

	// From here on, redirect-eligible errors may be delivered to the caller's
	// errorRedirectUrl. One policy decision for the rest of the flow.
	res, err := s.run(ctx, log, req, outer, tenancy)
	if err != nil {
		metrics.ObserveCallback(req.ProviderID, outcomeLabel(err))
		if redirect := s.errorRedirect(log, outer, tenancy, err); redirect != "" {
			return &Result{RedirectURL: redirect, ErrorRedirect: true}, nil
		}
		return nil, err
	}
	return res, nil
}

func (s *service) run(ctx context.Context, log *zap.Logger, req Request, outer *core.OuterAuthRequest, tenancy *core.Tenancy) (*Result, error) {
	// Inclusive boundary: a row expiring exactly now is expired.
	if !s.now().UTC().Before(outer.ExpiresAt) {
		return nil, ErrOuterFlowTimeout
	}

	// The provider reported an error instead of a code.
	if req.ProviderError != "" {
		if req.ProviderError == "access_denied" {
			return nil, ErrProviderAccessDenied
		}
		return nil, ErrProviderExchangeFailed.WithDetails(map[string]any{
			"provider_error":             req.ProviderError,
			"provider_error_description": req.ProviderErrorDescription,
		})
	}
	if req.Code == "" {
		return nil, ErrProviderExchangeFailed.WithDetails(map[string]any{"reason": "missing code"})
	}

	client, err := s.providers.Get(ctx, tenancy.ID, outer.ProviderConfigID)
	if err != nil {
		return nil, fatal("provider not configured for outer request", err)
	}

	start := s.now()
	exchanged, err := client.GetCallback(ctx, provider.CallbackInput{
		Code:         req.Code,
		State:        req.State,
		CodeVerifier: outer.CodeVerifier,
		Scopes:       strings.Fields(outer.ProviderScope),
	})
	metrics.ObserveExchange(outer.ProviderConfigID, s.now().Sub(start))
	if err != nil {
		if errors.Is(err, provider.ErrAccessDenied) {
			return nil, ErrProviderAccessDenied
		}
		return nil, ErrProviderExchangeFailed.WithCause(err)
	}

	// Link flows reject a second distinct account on the same provider before
	// the resolver runs, using the user's already-known links.
	if outer.FlowType == core.FlowLink && outer.LinkedUserID != nil {
		links, err := s.accounts.ListUserAccounts(ctx, tenancy.ID, *outer.LinkedUserID, outer.ProviderConfigID)
		if err != nil {
			return nil, fatal("listing user oauth accounts failed", err)
		}
		for _, l := range links {
			if l.ProviderAccountID != exchanged.UserInfo.AccountID {
				return nil, ErrUserAlreadyConnectedToAnotherOAuthConnection
			}
		}
	}

	resolution, err := s.resolver.Resolve(ctx, ResolveInput{
		Tenancy:          tenancy,
		FlowType:         outer.FlowType,
		LinkedUserID:     outer.LinkedUserID,
		ProviderConfigID: outer.ProviderConfigID,
		Profile:          exchanged.UserInfo,
	})
	if err != nil {
		return nil, err
	}

	// Token persistence is best effort once resolution has committed: log and
	// carry on, never roll back a resolved account.
	if err := s.tokens.Store(ctx, tenancy.ID, outer.ProviderConfigID, exchanged.UserInfo.AccountID, exchanged.TokenSet, strings.Fields(outer.ProviderScope)); err != nil {
		metrics.ObserveTokenWriteFailure()
		log.Warn("provider token persistence failed", logger.Err(err))
	}

	params := outer.ClientParams
	if outer.AfterCallbackRedirectURL != nil && *outer.AfterCallbackRedirectURL != "" {
		params.RedirectURI = *outer.AfterCallbackRedirectURL
	}
	grant, err := s.finalizer.Finalize(ctx, tenancy, resolution.UserID, resolution.NewUser, params)
	if err != nil {
		return nil, err
	}

	metrics.ObserveCallback(outer.ProviderConfigID, resolution.Branch)
	log.Info("callback completed",
		logger.UserID(resolution.UserID),
		logger.String("branch", resolution.Branch),
		logger.Bool("new_user", resolution.NewUser),
	)

	return &Result{RedirectURL: grant.RedirectURL}, nil
}

// errorRedirect returns the validated error redirect location for err, or ""
// when the error must propagate instead.
func (s *service) errorRedirect(log *zap.Logger, outer *core.OuterAuthRequest, tenancy *core.Tenancy, err error) string {
	fe := AsFlowError(err)
	if fe == nil || !fe.Redirectable {
		return ""
	}
	if outer.ErrorRedirectURL == nil || *outer.ErrorRedirectURL == "" {
		return ""
	}
	target := *outer.ErrorRedirectURL
	if verr := validation.ValidateRedirectURL(target, tenancy.TrustedDomains, tenancy.AllowLocalhost); verr != nil {
		log.Warn("error redirect url rejected by allow-list", logger.Err(verr))
		return ""
	}

	u, perr := url.Parse(target)
	if perr != nil {
		return ""
	}
	q := u.Query()
	q.Set("errorCode", fe.Code)
	q.Set("message", fe.Message)
	if len(fe.Details) > 0 {
		if b, jerr := json.Marshal(fe.Details); jerr == nil {
			q.Set("details", string(b))
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// outcomeLabel keeps metric cardinality bounded to flow error codes.
func outcomeLabel(err error) string {
	if fe := AsFlowError(err); fe != nil {
		return strings.ToLower(fe.Code)
	}
	return "internal_error"
}
