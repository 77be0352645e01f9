package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tweetattest-backend/core"
)

// Only the sha256 of a key is stored; lookups hash the presented key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// PGAPIKeyStore persists API keys in Postgres.
type PGAPIKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGAPIKeyStore connects and initializes schema.
func NewPGAPIKeyStore(ctx context.Context, dsn string) (*PGAPIKeyStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGAPIKeyStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGAPIKeyStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS attest_api_keys (
  key_hash TEXT PRIMARY KEY,
  label TEXT NOT NULL DEFAULT '',
  wallet_address TEXT NOT NULL,
  admin BOOLEAN NOT NULL DEFAULT false,
  source TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGAPIKeyStore) Close() { s.pool.Close() }

// Validate implements APIKeyValidator.
func (s *PGAPIKeyStore) Validate(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Get returns the API key record for the provided key.
func (s *PGAPIKeyStore) Get(key string) (APIKey, bool) {
	if key == "" {
		return APIKey{}, false
	}
	rec, err := s.scan(s.pool.QueryRow(context.Background(),
		"SELECT label, wallet_address, admin, source, created_at FROM attest_api_keys WHERE key_hash=$1",
		hashKey(key)))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Printf("api key lookup: %v", err)
		}
		return APIKey{}, false
	}
	rec.Key = key
	return rec, true
}

// Issue implements APIKeyIssuer.
func (s *PGAPIKeyStore) Issue(label string, wallet common.Address, admin bool) (APIKey, error) {
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Key: key, Label: label, Wallet: wallet, Admin: admin, Source: "issued", CreatedAt: time.Now()}
	_, err = s.pool.Exec(context.Background(),
		"INSERT INTO attest_api_keys (key_hash, label, wallet_address, admin, source, created_at) VALUES ($1,$2,$3,$4,$5,$6)",
		hashKey(key), rec.Label, rec.Wallet.Hex(), rec.Admin, rec.Source, rec.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return rec, nil
}

// UpdateWallet binds a wallet address to an existing API key.
func (s *PGAPIKeyStore) UpdateWallet(key string, wallet common.Address) (APIKey, error) {
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return APIKey{}, fmt.Errorf("%w: api key required", core.ErrInvalidInput)
	}
	if wallet == (common.Address{}) {
		return APIKey{}, fmt.Errorf("%w: wallet required", core.ErrInvalidInput)
	}
	rec, err := s.scan(s.pool.QueryRow(context.Background(), `
UPDATE attest_api_keys
SET wallet_address=$2
WHERE key_hash=$1
RETURNING label, wallet_address, admin, source, created_at
`, hashKey(normalizedKey), wallet.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, fmt.Errorf("api key: %w", core.ErrNotFound)
	}
	if err != nil {
		return APIKey{}, err
	}
	rec.Key = normalizedKey
	return rec, nil
}

// Seed inserts a configured key, refreshing its wallet and admin flag.
func (s *PGAPIKeyStore) Seed(key string, wallet common.Address, admin bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	_, err := s.pool.Exec(context.Background(), `
INSERT INTO attest_api_keys (key_hash, wallet_address, admin, source, created_at) VALUES ($1,$2,$3,'config',$4)
ON CONFLICT (key_hash) DO UPDATE SET wallet_address=EXCLUDED.wallet_address, admin=EXCLUDED.admin
`, hashKey(key), wallet.Hex(), admin, time.Now())
	if err != nil {
		log.Printf("seed api key: %v", err)
	}
}

func (s *PGAPIKeyStore) scan(row pgx.Row) (APIKey, error) {
	var rec APIKey
	var wallet string
	if err := row.Scan(&rec.Label, &wallet, &rec.Admin, &rec.Source, &rec.CreatedAt); err != nil {
		return APIKey{}, err
	}
	rec.Wallet = common.HexToAddress(wallet)
	return rec, nil
}
