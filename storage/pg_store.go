package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tweetattest-backend/core"
)

// PGStore persists ledger state in Postgres. Updates run in serializable transactions.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS attest_head (
  id BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
  number BIGINT NOT NULL,
  block_time TIMESTAMPTZ,
  nonce BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS attest_claims (
  assertion_id TEXT PRIMARY KEY,
  claimer TEXT NOT NULL,
  twitter_handle TEXT NOT NULL,
  tweet_text TEXT NOT NULL,
  asserted_claim_text TEXT NOT NULL,
  submitted_at TIMESTAMPTZ NOT NULL,
  is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
  is_rewarded BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS attest_assertions (
  assertion_id TEXT PRIMARY KEY,
  claim BYTEA NOT NULL,
  asserter TEXT NOT NULL,
  disputer TEXT NOT NULL,
  callback_recipient TEXT NOT NULL,
  assertion_time TIMESTAMPTZ NOT NULL,
  expiration_time TIMESTAMPTZ NOT NULL,
  settlement_time TIMESTAMPTZ,
  validated BOOLEAN NOT NULL,
  resolved BOOLEAN NOT NULL,
  dispute_resolution BOOLEAN NOT NULL,
  settled BOOLEAN NOT NULL,
  settlement_resolution BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS attest_balances (
  address TEXT PRIMARY KEY,
  wei TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS attest_receipts (
  tx_hash TEXT PRIMARY KEY,
  block_number BIGINT NOT NULL,
  receipt JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attest_claims_claimer ON attest_claims(claimer, submitted_at);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGStore) View(ctx context.Context, fn func(core.StateReader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(pgState{tx: tx})
}

func (s *PGStore) Update(ctx context.Context, fn func(core.StateWriter) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(pgState{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

type pgState struct {
	tx pgx.Tx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p pgState) Head(ctx context.Context) (core.Head, error) {
	var (
		h  core.Head
		bt *time.Time
	)
	err := p.tx.QueryRow(ctx, `SELECT number, block_time, nonce FROM attest_head WHERE id`).Scan(&h.Number, &bt, &h.Nonce)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Head{}, nil
	}
	if err != nil {
		return core.Head{}, err
	}
	if bt != nil {
		h.Time = bt.UTC()
	}
	return h, nil
}

func (p pgState) Claim(ctx context.Context, id common.Hash) (core.Claim, error) {
	var (
		c       core.Claim
		claimer string
	)
	err := p.tx.QueryRow(ctx, `
SELECT claimer, twitter_handle, tweet_text, asserted_claim_text, submitted_at, is_resolved, is_rewarded
FROM attest_claims WHERE assertion_id=$1`, id.Hex()).
		Scan(&claimer, &c.TwitterHandle, &c.TweetText, &c.AssertedClaimText, &c.SubmittedAt, &c.IsResolved, &c.IsRewarded)
	if err != nil {
		return core.Claim{}, notFound(err)
	}
	c.AssertionID = id
	c.Claimer = common.HexToAddress(claimer)
	c.SubmittedAt = c.SubmittedAt.UTC()
	return c, nil
}

func (p pgState) ClaimsByClaimer(ctx context.Context, claimer common.Address) ([]common.Hash, error) {
	rows, err := p.tx.Query(ctx, `
SELECT assertion_id FROM attest_claims WHERE claimer=$1 ORDER BY submitted_at, assertion_id`, claimer.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []common.Hash
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, common.HexToHash(id))
	}
	return ids, rows.Err()
}

func (p pgState) Assertion(ctx context.Context, id common.Hash) (core.Assertion, error) {
	var (
		a                            core.Assertion
		claim                        []byte
		asserter, disputer, callback string
		settledAt                    *time.Time
	)
	err := p.tx.QueryRow(ctx, `
SELECT claim, asserter, disputer, callback_recipient, assertion_time, expiration_time, settlement_time,
       validated, resolved, dispute_resolution, settled, settlement_resolution
FROM attest_assertions WHERE assertion_id=$1`, id.Hex()).
		Scan(&claim, &asserter, &disputer, &callback, &a.AssertionTime, &a.ExpirationTime, &settledAt,
			&a.Validated, &a.Resolved, &a.DisputeResolution, &a.Settled, &a.SettlementResolution)
	if err != nil {
		return core.Assertion{}, notFound(err)
	}
	a.AssertionID = id
	a.Claim = claim
	a.Asserter = common.HexToAddress(asserter)
	a.Disputer = common.HexToAddress(disputer)
	a.CallbackRecipient = common.HexToAddress(callback)
	a.AssertionTime = a.AssertionTime.UTC()
	a.ExpirationTime = a.ExpirationTime.UTC()
	if settledAt != nil {
		a.SettlementTime = settledAt.UTC()
	}
	return a, nil
}

func (p pgState) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var wei string
	err := p.tx.QueryRow(ctx, `SELECT wei FROM attest_balances WHERE address=$1`, addr.Hex()).Scan(&wei)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance for %s: %q", addr.Hex(), wei)
	}
	return bal, nil
}

func (p pgState) Receipt(ctx context.Context, txHash common.Hash) (core.Receipt, error) {
	var raw []byte
	err := p.tx.QueryRow(ctx, `SELECT receipt FROM attest_receipts WHERE tx_hash=$1`, txHash.Hex()).Scan(&raw)
	if err != nil {
		return core.Receipt{}, notFound(err)
	}
	var r core.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return core.Receipt{}, fmt.Errorf("decode receipt %s: %w", txHash.Hex(), err)
	}
	return r, nil
}

func (p pgState) SetHead(ctx context.Context, head core.Head) error {
	_, err := p.tx.Exec(ctx, `
INSERT INTO attest_head (id, number, block_time, nonce) VALUES (TRUE, $1, $2, $3)
ON CONFLICT (id) DO UPDATE SET number=EXCLUDED.number, block_time=EXCLUDED.block_time, nonce=EXCLUDED.nonce`,
		head.Number, nullTime(head.Time), head.Nonce)
	return err
}

// The claimer index is the (claimer, submitted_at) index on attest_claims.
func (p pgState) PutClaim(ctx context.Context, c core.Claim) error {
	_, err := p.tx.Exec(ctx, `
INSERT INTO attest_claims (assertion_id, claimer, twitter_handle, tweet_text, asserted_claim_text, submitted_at, is_resolved, is_rewarded)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (assertion_id) DO UPDATE SET is_resolved=EXCLUDED.is_resolved, is_rewarded=EXCLUDED.is_rewarded`,
		c.AssertionID.Hex(), c.Claimer.Hex(), c.TwitterHandle, c.TweetText, c.AssertedClaimText, c.SubmittedAt, c.IsResolved, c.IsRewarded)
	return err
}

func (p pgState) PutAssertion(ctx context.Context, a core.Assertion) error {
	_, err := p.tx.Exec(ctx, `
INSERT INTO attest_assertions (assertion_id, claim, asserter, disputer, callback_recipient, assertion_time, expiration_time,
  settlement_time, validated, resolved, dispute_resolution, settled, settlement_resolution)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (assertion_id) DO UPDATE SET disputer=EXCLUDED.disputer, settlement_time=EXCLUDED.settlement_time,
  resolved=EXCLUDED.resolved, dispute_resolution=EXCLUDED.dispute_resolution, settled=EXCLUDED.settled,
  settlement_resolution=EXCLUDED.settlement_resolution`,
		a.AssertionID.Hex(), []byte(a.Claim), a.Asserter.Hex(), a.Disputer.Hex(), a.CallbackRecipient.Hex(),
		a.AssertionTime, a.ExpirationTime, nullTime(a.SettlementTime),
		a.Validated, a.Resolved, a.DisputeResolution, a.Settled, a.SettlementResolution)
	return err
}

func (p pgState) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	if wei.Sign() < 0 {
		return fmt.Errorf("%w: negative balance", core.ErrInvalidInput)
	}
	_, err := p.tx.Exec(ctx, `
INSERT INTO attest_balances (address, wei) VALUES ($1,$2)
ON CONFLICT (address) DO UPDATE SET wei=EXCLUDED.wei`, addr.Hex(), wei.String())
	return err
}

func (p pgState) PutReceipt(ctx context.Context, r core.Receipt) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	_, err = p.tx.Exec(ctx, `
INSERT INTO attest_receipts (tx_hash, block_number, receipt) VALUES ($1,$2,$3)
ON CONFLICT (tx_hash) DO NOTHING`, r.TxHash.Hex(), r.BlockNumber, raw)
	return err
}
