package core

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Claim is the registry record for one tweet attestation.
// A claim exists iff Claimer is non-zero.
type Claim struct {
	AssertionID       common.Hash    `json:"assertion_id"`
	Claimer           common.Address `json:"claimer"`
	TwitterHandle     string         `json:"twitter_handle"`
	TweetText         string         `json:"tweet_text"`
	AssertedClaimText string         `json:"asserted_claim_text"`
	SubmittedAt       time.Time      `json:"submitted_at"`
	IsResolved        bool           `json:"is_resolved"`
	IsRewarded        bool           `json:"is_rewarded"`
}

// Exists reports whether the record was ever written.
func (c Claim) Exists() bool { return c.Claimer != (common.Address{}) }

// Details projects the claim onto the getClaimDetails tuple.
func (c Claim) Details() ClaimDetails {
	return ClaimDetails{
		Claimer:       c.Claimer,
		TwitterHandle: c.TwitterHandle,
		TweetText:     c.TweetText,
		IsResolved:    c.IsResolved,
		IsRewarded:    c.IsRewarded,
	}
}

// ClaimDetails is the read view of a claim. Unknown ids yield the zero value.
type ClaimDetails struct {
	Claimer       common.Address `json:"claimer"`
	TwitterHandle string         `json:"twitter_handle"`
	TweetText     string         `json:"tweet_text"`
	IsResolved    bool           `json:"is_resolved"`
	IsRewarded    bool           `json:"is_rewarded"`
}

// Exists reports whether the details belong to a stored claim.
func (d ClaimDetails) Exists() bool { return d.Claimer != (common.Address{}) }

// Assertion is the oracle-owned record backing a claim.
type Assertion struct {
	AssertionID          common.Hash    `json:"assertion_id"`
	Claim                hexutil.Bytes  `json:"claim"`
	Asserter             common.Address `json:"asserter"`
	Disputer             common.Address `json:"disputer"`
	CallbackRecipient    common.Address `json:"callback_recipient"`
	AssertionTime        time.Time      `json:"assertion_time"`
	ExpirationTime       time.Time      `json:"expiration_time"`
	SettlementTime       time.Time      `json:"settlement_time"`
	Validated            bool           `json:"validated"`
	Resolved             bool           `json:"resolved"`
	DisputeResolution    bool           `json:"dispute_resolution"`
	Settled              bool           `json:"settled"`
	SettlementResolution bool           `json:"settlement_resolution"`
}

// Exists reports whether the oracle knows the assertion.
func (a Assertion) Exists() bool { return a.Asserter != (common.Address{}) }

// Disputed reports whether a challenger has disputed the assertion.
func (a Assertion) Disputed() bool { return a.Disputer != (common.Address{}) }

// Receipt statuses, matching the EVM convention.
const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// Log is one event emitted during a transaction. Topic 0 is the event signature hash.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
	Index       uint           `json:"log_index"`
}

// Receipt records the outcome of one ledger transaction.
type Receipt struct {
	TxHash       common.Hash    `json:"tx_hash"`
	BlockNumber  uint64         `json:"block_number"`
	BlockTime    time.Time      `json:"block_time"`
	Nonce        uint64         `json:"nonce"`
	From         common.Address `json:"from"`
	To           common.Address `json:"to"`
	Method       string         `json:"method"`
	Value        *big.Int       `json:"value"`
	Status       uint64         `json:"status"`
	RevertReason string         `json:"revert_reason,omitempty"`
	Logs         []Log          `json:"logs"`
}

// Succeeded reports whether the transaction committed.
func (r *Receipt) Succeeded() bool { return r.Status == ReceiptStatusSuccessful }

// Head is the latest committed block. A zero Time means the ledger has no genesis yet.
type Head struct {
	Number uint64    `json:"number"`
	Time   time.Time `json:"time"`
	Nonce  uint64    `json:"nonce"`
}

// ChainInfo describes the network a registry is deployed on.
type ChainInfo struct {
	ChainID         uint64         `json:"chain_id"`
	RegistryAddress common.Address `json:"registry_address"`
	OracleAddress   common.Address `json:"oracle_address"`
	RewardWei       *big.Int       `json:"reward_wei"`
	LivenessSeconds int64          `json:"liveness_seconds"`
	BlockNumber     uint64         `json:"block_number"`
}

// StateReader reads ledger state. Missing records return ErrNotFound,
// except Balance which returns zero for unknown accounts.
type StateReader interface {
	Head(ctx context.Context) (Head, error)
	Claim(ctx context.Context, id common.Hash) (Claim, error)
	ClaimsByClaimer(ctx context.Context, claimer common.Address) ([]common.Hash, error)
	Assertion(ctx context.Context, id common.Hash) (Assertion, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Receipt(ctx context.Context, txHash common.Hash) (Receipt, error)
}

// StateWriter mutates ledger state inside one store transaction.
// PutClaim appends the id to the claimer index the first time it is written.
type StateWriter interface {
	StateReader
	SetHead(ctx context.Context, head Head) error
	PutClaim(ctx context.Context, claim Claim) error
	PutAssertion(ctx context.Context, a Assertion) error
	SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error
	PutReceipt(ctx context.Context, r Receipt) error
}

// Store persists ledger state. Update commits all writes made by fn or none of them.
type Store interface {
	View(ctx context.Context, fn func(StateReader) error) error
	Update(ctx context.Context, fn func(StateWriter) error) error
	Close() error
}
