// Package provider manages provider identity across the two stores: the
// registry store holds name, flags, and a reference into the secret store's
// id space; the secret store holds the key material. There is no cross-store
// transaction — create is a two-step saga with a compensating delete, and
// destroy removes the secret row first so a partial failure leaves a
// detectable dangling reference rather than an unreachable secret.
package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/org/licenseserver/internal/cache"
	"github.com/org/licenseserver/internal/crypto"
	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/storage"
	"github.com/org/licenseserver/pkg/models"
	"github.com/rs/zerolog/log"
)

var nameRe = regexp.MustCompile(`^\w{5,255}$`)

// Registry manages providers and their secrets.
type Registry struct {
	registry storage.RegistryStore
	secrets  storage.SecretStore
	cache    *cache.Cache[*models.RawProvider]
}

// NewRegistry creates a Registry with a read-through cache of the given TTL.
func NewRegistry(registry storage.RegistryStore, secrets storage.SecretStore, cacheTTL time.Duration) *Registry {
	return &Registry{
		registry: registry,
		secrets:  secrets,
		cache:    cache.New[*models.RawProvider]("provider", cacheTTL, cacheTTL),
	}
}

// Close stops the cache sweeper. Store connections are owned by the caller.
func (r *Registry) Close() {
	r.cache.Stop()
}

// Create registers a new provider: key material goes into the secret store
// first, then the identity row into the registry store. If the second insert
// fails the secret row is deleted best-effort and the original error is
// returned. The response carries the signing pair in hex; the crypto pair is
// never exposed.
func (r *Registry) Create(ctx context.Context, name string, flags models.Flags) (*models.ProviderView, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name missing", lserr.ErrInvalidArgument)
	}
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid name", lserr.ErrInvalidArgument)
	}

	count, err := r.registry.CountProvidersByName(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("checking provider name")
		return nil, lserr.ErrInternal
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: name exists", lserr.ErrConflict)
	}

	secret, err := newSecret()
	if err != nil {
		log.Error().Err(err).Msg("generating provider secrets")
		return nil, lserr.ErrInternal
	}

	secretID, err := r.secrets.CreateSecret(ctx, secret)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("inserting provider secret")
		return nil, lserr.ErrInternal
	}

	p := &models.Provider{
		Name:      name,
		Flags:     flags.Sum(),
		SecretRef: secretID,
	}
	id, err := r.registry.CreateProvider(ctx, p)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("inserting provider")
		// Compensate: the secret row is unreachable without a registry row.
		if delErr := r.secrets.DeleteSecret(ctx, secretID); delErr != nil {
			log.Error().Err(delErr).Int64("secret_ref", secretID).
				Msg("rolling back provider secret")
		}
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: name exists", lserr.ErrConflict)
		}
		return nil, lserr.ErrInternal
	}
	p.ID = id

	return merge(p, secret).View(), nil
}

// Destroy removes a provider and its secret. The secret row is deleted
// before the registry row: failing between the two leaves a dangling
// secret_ref, which is detectable, instead of an orphaned secret, which is
// not. Returns the pre-delete view.
func (r *Registry) Destroy(ctx context.Context, name string) (*models.ProviderView, error) {
	p, err := r.registry.GetProviderByName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, lserr.ErrNotFound
		}
		log.Error().Err(err).Str("name", name).Msg("resolving provider")
		return nil, lserr.ErrInternal
	}

	secret, err := r.secrets.GetSecret(ctx, p.SecretRef)
	if err != nil {
		// The view will omit the sign fields; deletion proceeds regardless.
		log.Error().Err(err).Str("name", name).Int64("secret_ref", p.SecretRef).
			Msg("resolving provider secret")
		secret = &models.ProviderSecret{ID: p.SecretRef}
	}

	if err := r.secrets.DeleteSecret(ctx, p.SecretRef); err != nil {
		log.Error().Err(err).Str("name", name).Int64("secret_ref", p.SecretRef).
			Msg("deleting provider secret")
		return nil, lserr.ErrInternal
	}
	if err := r.registry.DeleteProvider(ctx, p.ID); err != nil {
		log.Error().Err(err).Str("name", name).Int64("id", p.ID).
			Msg("deleting provider")
		return nil, lserr.ErrInternal
	}

	r.cache.Delete(name)
	return merge(p, secret).View(), nil
}

// Get returns the public view of a provider.
func (r *Registry) Get(ctx context.Context, name string) (*models.ProviderView, error) {
	raw, err := r.GetRaw(ctx, name)
	if err != nil {
		return nil, err
	}
	return raw.View(), nil
}

// GetRaw returns the merged provider row including crypto material, through
// the cache. For internal use only; callers must not serialize the result.
func (r *Registry) GetRaw(ctx context.Context, name string) (*models.RawProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name missing", lserr.ErrNotFound)
	}
	return r.cache.Get(ctx, name, func(ctx context.Context) (*models.RawProvider, error) {
		log.Debug().Str("name", name).Msg("loading provider from store")
		p, err := r.registry.GetProviderByName(ctx, name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, lserr.ErrNotFound
			}
			log.Error().Err(err).Str("name", name).Msg("loading provider")
			return nil, lserr.ErrInternal
		}
		secret, err := r.secrets.GetSecret(ctx, p.SecretRef)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Error().Str("name", name).Int64("secret_ref", p.SecretRef).
					Msg("provider secret missing")
				return nil, lserr.ErrNotFound
			}
			log.Error().Err(err).Str("name", name).Msg("loading provider secret")
			return nil, lserr.ErrInternal
		}
		return merge(p, secret), nil
	})
}

// Invalidate drops a provider's cache entry.
func (r *Registry) Invalidate(name string) {
	r.cache.Delete(name)
}

func newSecret() (*models.ProviderSecret, error) {
	signIV, err := crypto.RandomBytes(crypto.IVLength)
	if err != nil {
		return nil, err
	}
	signKey, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return nil, err
	}
	cryptoIV, err := crypto.RandomBytes(crypto.IVLength)
	if err != nil {
		return nil, err
	}
	cryptoKey, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return nil, err
	}
	return &models.ProviderSecret{
		SignIV:    signIV,
		SignKey:   signKey,
		CryptoIV:  cryptoIV,
		CryptoKey: cryptoKey,
	}, nil
}

func merge(p *models.Provider, s *models.ProviderSecret) *models.RawProvider {
	return &models.RawProvider{
		ID:        p.ID,
		Name:      p.Name,
		Flags:     models.ParseFlags(p.Flags),
		SecretRef: p.SecretRef,
		SignIV:    s.SignIV,
		SignKey:   s.SignKey,
		CryptoIV:  s.CryptoIV,
		CryptoKey: s.CryptoKey,
	}
}
