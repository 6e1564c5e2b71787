package storage

import (
	"context"
	"errors"

	"github.com/org/licenseserver/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing key.
var ErrConflict = errors.New("already exists")

// RegistryStore is the persistence interface for provider identity, licenses,
// and the token anti-replay ledger. It is physically separate from the
// SecretStore so that a compromise of one store alone does not reveal both
// identity and secret material.
type RegistryStore interface {
	// Providers
	CreateProvider(ctx context.Context, p *models.Provider) (int64, error)
	GetProviderByName(ctx context.Context, name string) (*models.Provider, error)
	CountProvidersByName(ctx context.Context, name string) (int64, error)
	DeleteProvider(ctx context.Context, id int64) error

	// Licenses
	CreateLicense(ctx context.Context, l *models.License) error
	GetLicense(ctx context.Context, providerID, contentID, sequenceID int64) ([]byte, error)

	// Token ledger
	HasToken(ctx context.Context, payload string) (bool, error)
	InsertToken(ctx context.Context, t *models.Token) error
	DeleteExpiredTokens(ctx context.Context, now int64) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}

// SecretStore is the persistence interface for provider key material.
type SecretStore interface {
	CreateSecret(ctx context.Context, s *models.ProviderSecret) (int64, error)
	GetSecret(ctx context.Context, id int64) (*models.ProviderSecret, error)
	DeleteSecret(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close()
}
