package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

// APIKey binds a key to the wallet that signs its transactions.
type APIKey struct {
	Key       string         `json:"key"`
	Label     string         `json:"label,omitempty"`
	Wallet    common.Address `json:"wallet"`
	Admin     bool           `json:"admin,omitempty"` // may resolve disputes
	CreatedAt time.Time      `json:"created_at"`
	Source    string         `json:"source,omitempty"` // e.g. "config", "issued"
}

// APIKeyValidator defines the minimal interface required by auth middleware.
type APIKeyValidator interface {
	Validate(key string) bool
	Get(key string) (APIKey, bool)
}

// APIKeyWalletUpdater allows updating a wallet binding for an existing API key.
type APIKeyWalletUpdater interface {
	UpdateWallet(key string, wallet common.Address) (APIKey, error)
}

// APIKeyIssuer allows creating new API keys.
type APIKeyIssuer interface {
	Issue(label string, wallet common.Address, admin bool) (APIKey, error)
}

// APIKeyStore provides in-memory API key validation/issuance.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewAPIKeyStore constructs an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]APIKey)}
}

// Seed adds a pre-existing key from configuration.
func (s *APIKeyStore) Seed(key string, wallet common.Address, admin bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = APIKey{Key: key, Wallet: wallet, Admin: admin, Source: "config", CreatedAt: time.Now()}
}

// Validate returns true if the key exists.
func (s *APIKeyStore) Validate(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Get returns the stored record for a key, if present.
func (s *APIKeyStore) Get(key string) (APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[key]
	return rec, ok
}

func (s *APIKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Issue creates and stores a new API key.
func (s *APIKeyStore) Issue(label string, wallet common.Address, admin bool) (APIKey, error) {
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Key: key, Label: label, Wallet: wallet, Admin: admin, Source: "issued", CreatedAt: time.Now()}
	s.mu.Lock()
	s.keys[key] = rec
	s.mu.Unlock()
	return rec, nil
}

// UpdateWallet binds a wallet address to an existing API key.
func (s *APIKeyStore) UpdateWallet(key string, wallet common.Address) (APIKey, error) {
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return APIKey{}, fmt.Errorf("%w: api key required", core.ErrInvalidInput)
	}
	if wallet == (common.Address{}) {
		return APIKey{}, fmt.Errorf("%w: wallet required", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[normalizedKey]
	if !ok {
		return APIKey{}, fmt.Errorf("api key: %w", core.ErrNotFound)
	}
	rec.Wallet = wallet
	s.keys[normalizedKey] = rec
	return rec, nil
}

func generateKey() (string, error) {
	b := make([]byte, 32) // 256-bit key
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
