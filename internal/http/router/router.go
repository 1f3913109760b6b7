// Package router assembles the HTTP surface.
package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cbctrl "github.com/lumakey/lumakey/internal/http/controllers/callback"
	"github.com/lumakey/lumakey/internal/http/middleware"
)

// Deps contains everything the router mounts.
type Deps struct {
	Callback *cbctrl.Controller
	Token    *cbctrl.TokenController

	// ReadyCheck reports readiness (DB ping). Nil means always ready.
	ReadyCheck func(ctx context.Context) error
}

// New builds the chi router.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if d.ReadyCheck != nil {
			if err := d.ReadyCheck(req.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/callback/{providerId}", d.Callback.Callback)
		r.Post("/callback/{providerId}", d.Callback.Callback)
		r.Post("/token", d.Token.Token)
	})

	return r
}
