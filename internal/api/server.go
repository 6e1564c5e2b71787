package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/licenseserver/internal/license"
	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/provider"
	"github.com/org/licenseserver/internal/sign"
	"github.com/org/licenseserver/internal/storage"
	"github.com/org/licenseserver/internal/token"
	"github.com/org/licenseserver/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr       string
	TLSCertFile      string
	TLSKeyFile       string
	ProviderCacheTTL time.Duration
	LicenseCacheTTL  time.Duration
}

// Server is the API server. Each worker process constructs its own Server
// with its own store connections and caches; nothing is shared.
type Server struct {
	registry  storage.RegistryStore
	providers *provider.Registry
	vault     *license.Vault
	tokens    *token.Authority
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(registry storage.RegistryStore, secrets storage.SecretStore, cfg Config) *Server {
	if cfg.ProviderCacheTTL == 0 {
		cfg.ProviderCacheTTL = time.Hour
	}
	if cfg.LicenseCacheTTL == 0 {
		cfg.LicenseCacheTTL = time.Minute
	}
	providers := provider.NewRegistry(registry, secrets, cfg.ProviderCacheTTL)
	return &Server{
		registry:  registry,
		providers: providers,
		vault:     license.NewVault(providers, registry, cfg.LicenseCacheTTL),
		tokens:    token.NewAuthority(registry),
		cfg:       cfg,
	}
}

// Providers exposes the provider registry (for bootstrap).
func (s *Server) Providers() *provider.Registry {
	return s.providers
}

// Tokens exposes the token authority (for the expired-token sweeper).
func (s *Server) Tokens() *token.Authority {
	return s.tokens
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)
	r.Use(accessLogMiddleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	r.Post("/providers", s.ProviderCreateHandler)
	r.Post("/providers.json", s.ProviderCreateHandler)
	r.Delete("/providers/{name}", s.ProviderDestroyHandler)

	r.Post("/licenses", s.LicenseCreateHandler)
	r.Post("/licenses.json", s.LicenseCreateHandler)
	r.Get("/licenses/{content_id}", s.LicenseGetHandler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_, jsonFormat := splitFormat(r.URL.Path)
		writeErr(w, jsonFormat, lserr.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_, jsonFormat := splitFormat(r.URL.Path)
		writeErr(w, jsonFormat, lserr.ErrNotFound)
	})

	return r
}

// authenticate resolves the caller named by the provider parameter. Every
// route requires it.
func (s *Server) authenticate(ctx context.Context, params sign.Params) (*models.RawProvider, error) {
	name := paramString(params, "provider")
	if name == "" {
		return nil, fmt.Errorf("%w: Provider missing", lserr.ErrInvalidArgument)
	}
	return s.providers.GetRaw(ctx, name)
}

// requireSignature verifies the request signature under the caller's
// signing pair.
func requireSignature(params sign.Params, caller *models.RawProvider) error {
	if !sign.Verify(params, caller.SignIV, caller.SignKey) {
		return fmt.Errorf("%w: Missing or invalid signature", lserr.ErrAuthFailed)
	}
	return nil
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server and the cache sweepers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.providers.Close()
	s.vault.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
