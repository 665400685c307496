package proxy

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/omarluq/flow-relay/internal/config"
)

// RouterDeps bundles what NewRouter needs. Admin may be nil.
type RouterDeps struct {
	Config    config.RuntimeConfig
	Logger    *zerolog.Logger
	Generator Generator
	Admin     *Admin
}

// NewRouter builds the relay's HTTP handler. Keys, timeouts and body
// limits are read from Config per request so they follow hot-reloads.
func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	r := chi.NewRouter()
	r.Use(LoggerMiddleware(logger))
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", Health)

	h := NewHandler(deps.Generator)
	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(func() []string { return cfg.Get().Server.APIKeys }))
		r.Use(MaxBodyBytesMiddleware(func() int64 { return cfg.Get().Server.GetMaxBodyBytes() }))
		r.Use(TimeoutMiddleware(func() time.Duration { return cfg.Get().Server.GetTimeout() }))

		r.Get("/models", h.Models)
		r.Post("/images/generations", h.Images)
		r.Post("/videos/generations", h.Videos)
		r.Post("/videos/status", h.VideoStatus)
	})

	if deps.Admin != nil {
		adminKeys := func() []string { return cfg.Get().Server.AdminKeys }
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireKeysMiddleware(adminKeys))
			r.Use(AuthMiddleware(adminKeys))
			r.Use(MaxBodyBytesMiddleware(func() int64 { return cfg.Get().Server.GetMaxBodyBytes() }))
			deps.Admin.Mount(r)
		})
	}

	return withCORS(cfg.Get().Server.CORS, r)
}

// withCORS wraps h when origins are configured. CORS settings apply at
// startup only.
func withCORS(c config.CORSConfig, h http.Handler) http.Handler {
	if !c.IsEnabled() {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{HeaderRelayAccount, HeaderRelayAttempts, "Retry-After", "X-Request-ID"},
		AllowCredentials: c.AllowCredentials,
	}).Handler(h)
}
