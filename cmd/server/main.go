package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/licenseserver/internal/api"
	"github.com/org/licenseserver/internal/storage"
	"github.com/org/licenseserver/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr            string `yaml:"listen_addr"`
	HealthcheckAddr       string `yaml:"healthcheck_addr"`
	TLSCertFile           string `yaml:"tls_cert"`
	TLSKeyFile            string `yaml:"tls_key"`
	RegistryDBUrl         string `yaml:"registry_db_url"`
	SecretDBUrl           string `yaml:"secret_db_url"`
	RegistryMigrationsDir string `yaml:"registry_migrations_dir"`
	SecretMigrationsDir   string `yaml:"secret_migrations_dir"`
	ProviderCacheTTLSec   int    `yaml:"provider_cache_ttl_s"`
	LicenseCacheTTLSec    int    `yaml:"license_cache_ttl_s"`
	TokenSweepIntervalSec int    `yaml:"token_sweep_interval_s"`
	BootstrapProvider     string `yaml:"bootstrap_provider"`
	LogLevel              string `yaml:"log_level"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("LS_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:            ":8300",
		HealthcheckAddr:       ":8301",
		RegistryMigrationsDir: "migrations/registry",
		SecretMigrationsDir:   "migrations/secrets",
		ProviderCacheTTLSec:   3600,
		LicenseCacheTTLSec:    60,
		TokenSweepIntervalSec: 3600,
		LogLevel:              "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("LS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REGISTRY_DATABASE_URL"); v != "" {
		cfg.RegistryDBUrl = v
	}
	if v := os.Getenv("SECRET_DATABASE_URL"); v != "" {
		cfg.SecretDBUrl = v
	}
	if v := os.Getenv("LS_BOOTSTRAP_PROVIDER"); v != "" {
		cfg.BootstrapProvider = v
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.RegistryDBUrl == "" || cfg.SecretDBUrl == "" {
		log.Fatal().Msg("registry_db_url and secret_db_url must both be configured")
	}

	ctx := context.Background()

	// Two independent stores: identity/licenses/tokens vs key material.
	registry, err := storage.NewPostgresRegistry(ctx, cfg.RegistryDBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to registry store")
	}
	defer registry.Close()

	secrets, err := storage.NewPostgresSecrets(ctx, cfg.SecretDBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to secret store")
	}
	defer secrets.Close()

	if err := storage.RunMigrations(cfg.RegistryDBUrl, cfg.RegistryMigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate registry store")
	}
	if err := storage.RunMigrations(cfg.SecretDBUrl, cfg.SecretMigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate secret store")
	}
	log.Info().Msg("migrations applied")

	srv := api.NewServer(registry, secrets, api.Config{
		ListenAddr:       cfg.ListenAddr,
		TLSCertFile:      cfg.TLSCertFile,
		TLSKeyFile:       cfg.TLSKeyFile,
		ProviderCacheTTL: time.Duration(cfg.ProviderCacheTTLSec) * time.Second,
		LicenseCacheTTL:  time.Duration(cfg.LicenseCacheTTLSec) * time.Second,
	})

	if cfg.BootstrapProvider != "" {
		bootstrapProvider(ctx, srv, cfg.BootstrapProvider)
	}

	// Expired-token sweep, off the request path.
	sweepStop := make(chan struct{})
	go runTokenSweeper(srv, time.Duration(cfg.TokenSweepIntervalSec)*time.Second, sweepStop)

	healthSrv := &http.Server{
		Addr:    cfg.HealthcheckAddr,
		Handler: api.NewHealthHandler(registry, secrets),
	}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("healthcheck server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	close(sweepStop)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	healthSrv.Shutdown(shutdownCtx) //nolint:errcheck
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// bootstrapProvider seeds an all-flags provider when it does not exist yet.
// The signing pair is printed once; there is no other way to recover it.
func bootstrapProvider(ctx context.Context, srv *api.Server, name string) {
	view, err := srv.Providers().Create(ctx, name, models.Flags{
		CheckSign:       true,
		CheckToken:      true,
		ManageProviders: true,
	})
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("bootstrap provider not created")
		return
	}
	log.Info().
		Str("name", view.Name).
		Str("sign_iv", view.SignIV).
		Str("sign_key", view.SignKey).
		Msg("bootstrap provider created - record the signing pair now")
}

func runTokenSweeper(srv *api.Server, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := srv.Tokens().DeleteExpired(context.Background()); err != nil {
				log.Error().Err(err).Msg("token sweep failed")
			}
		}
	}
}
