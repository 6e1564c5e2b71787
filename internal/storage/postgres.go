package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/licenseserver/pkg/models"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func newPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return pool, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresRegistry is a RegistryStore backed by PostgreSQL.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry opens a pgxpool connection to the registry store.
func NewPostgresRegistry(ctx context.Context, connStr string) (*PostgresRegistry, error) {
	pool, err := newPool(ctx, connStr)
	if err != nil {
		return nil, err
	}
	return &PostgresRegistry{pool: pool}, nil
}

func (p *PostgresRegistry) Close() {
	p.pool.Close()
}

func (p *PostgresRegistry) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// --- Providers ---

func (p *PostgresRegistry) CreateProvider(ctx context.Context, pr *models.Provider) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO providers (name, flags, secret_ref) VALUES ($1, $2, $3) RETURNING id`,
		pr.Name, int64(pr.Flags), pr.SecretRef,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("inserting provider: %w", err)
	}
	return id, nil
}

func (p *PostgresRegistry) GetProviderByName(ctx context.Context, name string) (*models.Provider, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, flags, secret_ref FROM providers WHERE name = $1`,
		name,
	)
	var pr models.Provider
	var flags int64
	if err := row.Scan(&pr.ID, &pr.Name, &flags, &pr.SecretRef); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pr.Flags = uint64(flags)
	return &pr, nil
}

func (p *PostgresRegistry) CountProvidersByName(ctx context.Context, name string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM providers WHERE name = $1`, name,
	).Scan(&count)
	return count, err
}

func (p *PostgresRegistry) DeleteProvider(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	return err
}

// --- Licenses ---

func (p *PostgresRegistry) CreateLicense(ctx context.Context, l *models.License) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO licenses (provider_id, content_id, sequence_id, license)
		 VALUES ($1, $2, $3, $4)`,
		l.ProviderID, l.ContentID, l.SequenceID, l.Ciphertext,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting license: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) GetLicense(ctx context.Context, providerID, contentID, sequenceID int64) ([]byte, error) {
	var ciphertext []byte
	err := p.pool.QueryRow(ctx,
		`SELECT license FROM licenses
		 WHERE provider_id = $1 AND content_id = $2 AND sequence_id = $3`,
		providerID, contentID, sequenceID,
	).Scan(&ciphertext)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ciphertext, nil
}

// --- Token ledger ---

func (p *PostgresRegistry) HasToken(ctx context.Context, payload string) (bool, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tokens WHERE payload = $1`, payload,
	).Scan(&count)
	return count > 0, err
}

func (p *PostgresRegistry) InsertToken(ctx context.Context, t *models.Token) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tokens (payload, exp) VALUES ($1, $2)`,
		t.Payload, t.Exp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) DeleteExpiredTokens(ctx context.Context, now int64) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM tokens WHERE exp < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PostgresSecrets is a SecretStore backed by PostgreSQL. It connects to a
// database physically separate from the registry store.
type PostgresSecrets struct {
	pool *pgxpool.Pool
}

// NewPostgresSecrets opens a pgxpool connection to the secret store.
func NewPostgresSecrets(ctx context.Context, connStr string) (*PostgresSecrets, error) {
	pool, err := newPool(ctx, connStr)
	if err != nil {
		return nil, err
	}
	return &PostgresSecrets{pool: pool}, nil
}

func (p *PostgresSecrets) Close() {
	p.pool.Close()
}

func (p *PostgresSecrets) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresSecrets) CreateSecret(ctx context.Context, s *models.ProviderSecret) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO provider_secrets (sign_iv, sign_key, crypto_iv, crypto_key)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		s.SignIV, s.SignKey, s.CryptoIV, s.CryptoKey,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting provider secret: %w", err)
	}
	return id, nil
}

func (p *PostgresSecrets) GetSecret(ctx context.Context, id int64) (*models.ProviderSecret, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, sign_iv, sign_key, crypto_iv, crypto_key
		 FROM provider_secrets WHERE id = $1`,
		id,
	)
	var s models.ProviderSecret
	if err := row.Scan(&s.ID, &s.SignIV, &s.SignKey, &s.CryptoIV, &s.CryptoKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresSecrets) DeleteSecret(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM provider_secrets WHERE id = $1`, id)
	return err
}
