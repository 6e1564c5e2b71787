// Package license issues and retrieves per-content license material. The
// 8-byte license is stored AES-256-CBC encrypted under the owning provider's
// crypto pair; reads go through a short-TTL cache of the decrypted hex.
package license

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/org/licenseserver/internal/cache"
	"github.com/org/licenseserver/internal/crypto"
	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/provider"
	"github.com/org/licenseserver/internal/storage"
	"github.com/org/licenseserver/pkg/models"
	"github.com/rs/zerolog/log"
)

// Vault creates and serves licenses.
type Vault struct {
	providers *provider.Registry
	store     storage.RegistryStore
	cache     *cache.Cache[string]
}

// NewVault creates a Vault with a read cache of the given TTL.
func NewVault(providers *provider.Registry, store storage.RegistryStore, cacheTTL time.Duration) *Vault {
	return &Vault{
		providers: providers,
		store:     store,
		cache:     cache.New[string]("license", cacheTTL, cacheTTL),
	}
}

// Close stops the cache sweeper.
func (v *Vault) Close() {
	v.cache.Stop()
}

// Create issues a new license for (provider, contentID, sequenceID). The
// returned view carries the hex of the unencrypted material; only the
// ciphertext is persisted.
func (v *Vault) Create(ctx context.Context, providerName, contentID, sequenceID string) (*models.LicenseView, error) {
	cid, sid, err := parseIDs(contentID, sequenceID)
	if err != nil {
		return nil, err
	}

	p, err := v.providers.GetRaw(ctx, providerName)
	if err != nil {
		return nil, err
	}

	unenc, err := crypto.RandomBytes(crypto.LicenseLength)
	if err != nil {
		log.Error().Err(err).Msg("generating license material")
		return nil, lserr.ErrInternal
	}
	ciphertext, err := crypto.EncryptLicense(unenc, p.CryptoIV, p.CryptoKey)
	if err != nil {
		log.Error().Err(err).Str("provider", providerName).Msg("encrypting license")
		return nil, lserr.ErrInternal
	}

	l := &models.License{
		ProviderID: p.ID,
		ContentID:  cid,
		SequenceID: sid,
		Ciphertext: ciphertext,
	}
	if err := v.store.CreateLicense(ctx, l); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: license exists", lserr.ErrConflict)
		}
		log.Error().Err(err).Str("provider", providerName).
			Int64("content_id", cid).Int64("sequence_id", sid).
			Msg("inserting license")
		return nil, lserr.ErrInternal
	}

	return &models.LicenseView{
		ProviderID: p.ID,
		ContentID:  cid,
		SequenceID: sid,
		License:    hex.EncodeToString(unenc),
	}, nil
}

// Get returns the hex of the decrypted license material, cache-backed.
func (v *Vault) Get(ctx context.Context, providerName, contentID, sequenceID string) (string, error) {
	cid, sid, err := parseIDs(contentID, sequenceID)
	if err != nil {
		return "", err
	}

	key := cacheKey(providerName, cid, sid)
	return v.cache.Get(ctx, key, func(ctx context.Context) (string, error) {
		p, err := v.providers.GetRaw(ctx, providerName)
		if err != nil {
			return "", err
		}
		log.Debug().Str("key", key).Msg("loading license from store")
		ciphertext, err := v.store.GetLicense(ctx, p.ID, cid, sid)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", lserr.ErrNotFound
			}
			log.Error().Err(err).Str("key", key).Msg("loading license")
			return "", lserr.ErrInternal
		}
		unenc, err := crypto.DecryptLicense(ciphertext, p.CryptoIV, p.CryptoKey)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("decrypting license")
			return "", lserr.ErrInternal
		}
		return hex.EncodeToString(unenc), nil
	})
}

func cacheKey(providerName string, contentID, sequenceID int64) string {
	return strings.Join([]string{
		providerName,
		strconv.FormatInt(contentID, 10),
		strconv.FormatInt(sequenceID, 10),
	}, "_")
}

// parseIDs validates that contentID is present and numeric and sequenceID is
// numeric when present (defaulting to 0).
func parseIDs(contentID, sequenceID string) (int64, int64, error) {
	if contentID == "" {
		return 0, 0, fmt.Errorf("%w: missing or invalid content_id", lserr.ErrInvalidArgument)
	}
	cid, err := strconv.ParseInt(contentID, 10, 64)
	if err != nil || cid < 0 {
		return 0, 0, fmt.Errorf("%w: missing or invalid content_id", lserr.ErrInvalidArgument)
	}
	if sequenceID == "" {
		return cid, 0, nil
	}
	sid, err := strconv.ParseInt(sequenceID, 10, 64)
	if err != nil || sid < 0 {
		return 0, 0, fmt.Errorf("%w: invalid sequence_id", lserr.ErrInvalidArgument)
	}
	return cid, sid, nil
}
