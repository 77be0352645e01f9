package auth

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

var wallet = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

type keyStore interface {
	APIKeyValidator
	APIKeyIssuer
	APIKeyWalletUpdater
	Seed(key string, wallet common.Address, admin bool)
}

func testKeyStore(t *testing.T, s keyStore) {
	t.Run("seed", func(t *testing.T) {
		s.Seed("operator-key", wallet, true)
		s.Seed("  ", wallet, false)
		if !s.Validate("operator-key") {
			t.Fatal("seeded key should validate")
		}
		if s.Validate("") || s.Validate("nope") {
			t.Fatal("unknown keys must not validate")
		}
		rec, ok := s.Get("operator-key")
		if !ok || rec.Wallet != wallet || !rec.Admin {
			t.Fatalf("unexpected record %+v", rec)
		}
	})

	t.Run("issue", func(t *testing.T) {
		rec, err := s.Issue("cli", wallet, false)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if len(rec.Key) != 64 {
			t.Fatalf("expected 64 hex chars, got %d", len(rec.Key))
		}
		got, ok := s.Get(rec.Key)
		if !ok || got.Label != "cli" || got.Admin {
			t.Fatalf("unexpected record %+v", got)
		}
	})

	t.Run("update wallet", func(t *testing.T) {
		other := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
		rec, err := s.UpdateWallet("operator-key", other)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if rec.Wallet != other {
			t.Fatalf("wallet not updated: %s", rec.Wallet.Hex())
		}
		if _, err := s.UpdateWallet("missing", other); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := s.UpdateWallet("operator-key", common.Address{}); !errors.Is(err, core.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})
}

func TestAPIKeyStore(t *testing.T) {
	s := NewAPIKeyStore()
	testKeyStore(t, s)
	if s.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", s.Len())
	}
}

func TestPGAPIKeyStore(t *testing.T) {
	dsn := os.Getenv("ATTEST_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ATTEST_TEST_PG_DSN not set")
	}
	s, err := NewPGAPIKeyStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(context.Background(), "TRUNCATE attest_api_keys"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	testKeyStore(t, s)
}
