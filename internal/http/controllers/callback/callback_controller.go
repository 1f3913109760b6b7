// Package callback contains the HTTP controller for the external OAuth
// callback endpoint.
package callback

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/lumakey/lumakey/internal/http/errors"
	svc "github.com/lumakey/lumakey/internal/http/services/callback"
	"github.com/lumakey/lumakey/internal/observability/logger"
)

// Controller handles GET|POST /oauth/callback/{providerId}.
type Controller struct {
	service      svc.Service
	secureCookie bool
}

// NewController creates the callback controller.
func NewController(service svc.Service, secureCookie bool) *Controller {
	return &Controller{service: service, secureCookie: secureCookie}
}

// Callback parses the provider's redirect parameters and runs the flow. The
// response is a redirect on success (and for redirect-eligible failures with a
// valid error redirect target), a JSON error otherwise.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Callback"))

	providerID := chi.URLParam(r, "providerId")
	if providerID == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("missing provider id"))
		return
	}

	// Providers may POST the parameters (form_post response mode) or GET them.
	params := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("malformed form body"))
			return
		}
		params = r.Form
	}

	state := strings.TrimSpace(params.Get("state"))
	if state == "" {
		log.Warn("missing state", logger.Provider(providerID))
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("state required"))
		return
	}

	result, err := c.service.Callback(ctx, svc.Request{
		ProviderID:               providerID,
		State:                    state,
		Code:                     strings.TrimSpace(params.Get("code")),
		ProviderError:            strings.TrimSpace(params.Get("error")),
		ProviderErrorDescription: strings.TrimSpace(params.Get("error_description")),
		Jar:                      &svc.HTTPCookieJar{R: r, W: w, Secure: c.secureCookie},
	})
	if err != nil {
		log.Warn("callback failed", logger.Provider(providerID), logger.Err(err))
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	status := http.StatusFound
	if r.Method == http.MethodPost {
		// 303 turns the provider's POST into a GET on the redirect target.
		status = http.StatusSeeOther
	}
	http.Redirect(w, r, result.RedirectURL, status)
}

// writeFlowError maps flow errors to the JSON envelope. Redirect-eligible
// errors land here only when no valid error redirect target existed.
func writeFlowError(w http.ResponseWriter, err error) {
	if fe := svc.AsFlowError(err); fe != nil {
		app := httperrors.New(fe.Status, fe.Code, fe.Message)
		if len(fe.Details) > 0 {
			httperrors.WriteErrorWithDetails(w, app, fe.Details)
			return
		}
		httperrors.WriteError(w, app)
		return
	}
	httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
}
