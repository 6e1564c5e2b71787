// Package storagetest provides in-memory RegistryStore and SecretStore
// implementations for package tests.
package storagetest

import (
	"context"
	"sync"

	"github.com/org/licenseserver/internal/storage"
	"github.com/org/licenseserver/pkg/models"
)

type licenseKey struct {
	providerID, contentID, sequenceID int64
}

// MemRegistry is an in-memory storage.RegistryStore.
type MemRegistry struct {
	mu        sync.Mutex
	nextID    int64
	providers map[int64]*models.Provider
	licenses  map[licenseKey][]byte
	tokens    map[string]int64 // payload → exp

	// FailCreateProvider forces the next CreateProvider call to fail with
	// the given error. Used to exercise the compensation path.
	FailCreateProvider error
}

// NewMemRegistry creates an empty MemRegistry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		providers: map[int64]*models.Provider{},
		licenses:  map[licenseKey][]byte{},
		tokens:    map[string]int64{},
	}
}

func (m *MemRegistry) CreateProvider(ctx context.Context, p *models.Provider) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateProvider != nil {
		err := m.FailCreateProvider
		m.FailCreateProvider = nil
		return 0, err
	}
	for _, existing := range m.providers {
		if existing.Name == p.Name {
			return 0, storage.ErrConflict
		}
	}
	m.nextID++
	stored := *p
	stored.ID = m.nextID
	m.providers[stored.ID] = &stored
	return stored.ID, nil
}

func (m *MemRegistry) GetProviderByName(ctx context.Context, name string) (*models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MemRegistry) CountProvidersByName(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, p := range m.providers {
		if p.Name == name {
			count++
		}
	}
	return count, nil
}

func (m *MemRegistry) DeleteProvider(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, id)
	return nil
}

func (m *MemRegistry) CreateLicense(ctx context.Context, l *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := licenseKey{l.ProviderID, l.ContentID, l.SequenceID}
	if _, ok := m.licenses[key]; ok {
		return storage.ErrConflict
	}
	m.licenses[key] = append([]byte(nil), l.Ciphertext...)
	return nil
}

func (m *MemRegistry) GetLicense(ctx context.Context, providerID, contentID, sequenceID int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.licenses[licenseKey{providerID, contentID, sequenceID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), ct...), nil
}

// StoredLicense returns the at-rest ciphertext for assertions.
func (m *MemRegistry) StoredLicense(providerID, contentID, sequenceID int64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.licenses[licenseKey{providerID, contentID, sequenceID}]
}

func (m *MemRegistry) HasToken(ctx context.Context, payload string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[payload]
	return ok, nil
}

func (m *MemRegistry) InsertToken(ctx context.Context, t *models.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.Payload]; ok {
		return storage.ErrConflict
	}
	m.tokens[t.Payload] = t.Exp
	return nil
}

func (m *MemRegistry) DeleteExpiredTokens(ctx context.Context, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for payload, exp := range m.tokens {
		if exp < now {
			delete(m.tokens, payload)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemRegistry) Ping(ctx context.Context) error { return nil }
func (m *MemRegistry) Close()                         {}

// MemSecrets is an in-memory storage.SecretStore.
type MemSecrets struct {
	mu      sync.Mutex
	nextID  int64
	secrets map[int64]*models.ProviderSecret
}

// NewMemSecrets creates an empty MemSecrets.
func NewMemSecrets() *MemSecrets {
	return &MemSecrets{secrets: map[int64]*models.ProviderSecret{}}
}

func (m *MemSecrets) CreateSecret(ctx context.Context, s *models.ProviderSecret) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	stored := *s
	stored.ID = m.nextID
	m.secrets[stored.ID] = &stored
	return stored.ID, nil
}

func (m *MemSecrets) GetSecret(ctx context.Context, id int64) (*models.ProviderSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemSecrets) DeleteSecret(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, id)
	return nil
}

// Count returns the number of live secret rows.
func (m *MemSecrets) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.secrets)
}

func (m *MemSecrets) Ping(ctx context.Context) error { return nil }
func (m *MemSecrets) Close()                         {}
