package api

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/dandi/internal/api/middleware"
	"github.com/kiranshivaraju/dandi/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	// TrustedProxies may set the client address through forwarded headers.
	TrustedProxies []netip.Prefix

	HealthHandler       http.HandlerFunc
	ListKeysHandler     http.HandlerFunc
	CreateKeyHandler    http.HandlerFunc
	GetKeyHandler       http.HandlerFunc
	RenameKeyHandler    http.HandlerFunc
	SetKeyStatusHandler http.HandlerFunc
	DeleteKeyHandler    http.HandlerFunc
	ValidateKeyHandler  http.HandlerFunc
	ProtectedHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.TrustedRealIP(deps.TrustedProxies))
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Key management
	r.Route("/api/v1/keys", func(r chi.Router) {
		r.Get("/", orNotImplemented(deps.ListKeysHandler))
		r.Post("/", orNotImplemented(deps.CreateKeyHandler))
		r.Get("/{keyID}", orNotImplemented(deps.GetKeyHandler))
		r.Patch("/{keyID}", orNotImplemented(deps.RenameKeyHandler))
		r.Put("/{keyID}/status", orNotImplemented(deps.SetKeyStatusHandler))
		r.Delete("/{keyID}", orNotImplemented(deps.DeleteKeyHandler))
	})

	// Validation surface, rate limited per client
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/validate", orNotImplemented(deps.ValidateKeyHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)

			r.Get("/api/v1/protected", orNotImplemented(deps.ProtectedHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
