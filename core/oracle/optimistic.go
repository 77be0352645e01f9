// Package oracle simulates an optimistic oracle inside the ledger. Assertions
// are presumed true unless disputed before their challenge window closes;
// disputed assertions wait for ResolveDispute, which stands in for the vote.
package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"tweetattest-backend/core"
	"tweetattest-backend/core/ledger"
)

// DefaultLiveness is the challenge window applied by AssertWithDefaults.
const DefaultLiveness = 2 * time.Hour

// ErrNoTransaction is returned when a state-changing call runs outside a ledger transaction.
const ErrNoTransaction = core.Err("oracle: state-changing call outside a transaction")

// ErrNoState is returned when a read runs without a ledger view or transaction.
const ErrNoState = core.Err("oracle: no ledger state in context")

// Optimistic is the in-ledger oracle simulator.
type Optimistic struct {
	address  common.Address
	liveness time.Duration
}

// New returns a simulator living at address. A non-positive liveness means DefaultLiveness.
func New(address common.Address, liveness time.Duration) *Optimistic {
	if liveness <= 0 {
		liveness = DefaultLiveness
	}
	return &Optimistic{address: address, liveness: liveness}
}

func (o *Optimistic) Address() common.Address { return o.address }
func (o *Optimistic) Liveness() time.Duration { return o.liveness }

// AssertWithDefaults records claim as asserted by asserter, open for disputes
// until block time + liveness.
func (o *Optimistic) AssertWithDefaults(ctx context.Context, claim []byte, asserter common.Address) (common.Hash, error) {
	tx, ok := ledger.TxFromContext(ctx)
	if !ok {
		return common.Hash{}, ErrNoTransaction
	}
	if len(claim) == 0 {
		return common.Hash{}, fmt.Errorf("%w: empty claim", core.ErrInvalidInput)
	}
	now := tx.BlockTime()
	id := assertionID(claim, asserter, now, tx.Nonce())

	if _, err := tx.State().Assertion(ctx, id); err == nil {
		return common.Hash{}, core.ErrAssertionExists
	} else if !errors.Is(err, core.ErrNotFound) {
		return common.Hash{}, fmt.Errorf("read assertion: %w", err)
	}

	a := core.Assertion{
		AssertionID:       id,
		Claim:             append([]byte(nil), claim...),
		Asserter:          asserter,
		CallbackRecipient: tx.Recipient(),
		AssertionTime:     now,
		ExpirationTime:    now.Add(o.liveness),
		Validated:         true,
	}
	if err := tx.State().PutAssertion(ctx, a); err != nil {
		return common.Hash{}, fmt.Errorf("store assertion: %w", err)
	}
	data, err := ABI.Events[EventAssertionMade].Inputs.NonIndexed().Pack([]byte(a.Claim), uint64(a.ExpirationTime.Unix()))
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode %s: %w", EventAssertionMade, err)
	}
	tx.EmitLog(o.address, []common.Hash{AssertionMadeTopic, id, addressTopic(asserter)}, data)
	return id, nil
}

// SettleAndGetAssertionResult settles the assertion if it can be, and returns its resolution.
// Settling an already settled assertion returns the stored result.
func (o *Optimistic) SettleAndGetAssertionResult(ctx context.Context, id common.Hash) (bool, error) {
	tx, ok := ledger.TxFromContext(ctx)
	if !ok {
		return false, ErrNoTransaction
	}
	a, err := o.load(ctx, tx.State(), id)
	if err != nil {
		return false, err
	}
	if a.Settled {
		return a.SettlementResolution, nil
	}

	now := tx.BlockTime()
	switch {
	case !a.Disputed():
		if now.Before(a.ExpirationTime) {
			return false, fmt.Errorf("%w (expires %s)", core.ErrAssertionNotExpired, a.ExpirationTime.Format(time.RFC3339))
		}
		a.SettlementResolution = true
	case !a.Resolved:
		return false, core.ErrDisputeUnresolved
	default:
		a.SettlementResolution = a.DisputeResolution
	}
	a.Settled = true
	a.SettlementTime = now
	if err := tx.State().PutAssertion(ctx, a); err != nil {
		return false, fmt.Errorf("store assertion: %w", err)
	}

	ev := ABI.Events[EventAssertionSettled]
	data, err := ev.Inputs.NonIndexed().Pack(a.Disputed(), a.SettlementResolution)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", EventAssertionSettled, err)
	}
	tx.EmitLog(o.address, []common.Hash{ev.ID, id}, data)
	return a.SettlementResolution, nil
}

// GetAssertionResult returns the resolution of a settled assertion.
func (o *Optimistic) GetAssertionResult(ctx context.Context, id common.Hash) (bool, error) {
	state, _, ok := ledger.Reader(ctx)
	if !ok {
		return false, ErrNoState
	}
	a, err := o.load(ctx, state, id)
	if err != nil {
		return false, err
	}
	if !a.Settled {
		return false, core.ErrAssertionNotSettled
	}
	return a.SettlementResolution, nil
}

// GetAssertion returns the full assertion record.
func (o *Optimistic) GetAssertion(ctx context.Context, id common.Hash) (core.Assertion, error) {
	state, _, ok := ledger.Reader(ctx)
	if !ok {
		return core.Assertion{}, ErrNoState
	}
	return o.load(ctx, state, id)
}

// DisputeAssertion challenges an assertion while its window is open.
func (o *Optimistic) DisputeAssertion(ctx context.Context, id common.Hash, disputer common.Address) error {
	tx, ok := ledger.TxFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if disputer == (common.Address{}) {
		return fmt.Errorf("%w: disputer address required", core.ErrInvalidInput)
	}
	a, err := o.load(ctx, tx.State(), id)
	if err != nil {
		return err
	}
	switch {
	case a.Settled:
		return core.ErrAssertionSettled
	case a.Disputed():
		return core.ErrAssertionDisputed
	case !tx.BlockTime().Before(a.ExpirationTime):
		return core.ErrAssertionExpired
	}
	a.Disputer = disputer
	if err := tx.State().PutAssertion(ctx, a); err != nil {
		return fmt.Errorf("store assertion: %w", err)
	}
	tx.EmitLog(o.address, []common.Hash{ABI.Events[EventAssertionDisputed].ID, id, addressTopic(disputer)}, nil)
	return nil
}

// ResolveDispute records the outcome of the vote on a disputed assertion.
func (o *Optimistic) ResolveDispute(ctx context.Context, id common.Hash, truthful bool) error {
	tx, ok := ledger.TxFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	a, err := o.load(ctx, tx.State(), id)
	if err != nil {
		return err
	}
	switch {
	case !a.Disputed():
		return core.ErrAssertionNotDisputed
	case a.Resolved:
		return core.ErrDisputeResolved
	}
	a.Resolved = true
	a.DisputeResolution = truthful
	if err := tx.State().PutAssertion(ctx, a); err != nil {
		return fmt.Errorf("store assertion: %w", err)
	}
	return nil
}

func (o *Optimistic) load(ctx context.Context, state core.StateReader, id common.Hash) (core.Assertion, error) {
	a, err := state.Assertion(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return core.Assertion{}, core.ErrAssertionNotFound
	}
	if err != nil {
		return core.Assertion{}, fmt.Errorf("read assertion: %w", err)
	}
	return a, nil
}

func assertionID(claim []byte, asserter common.Address, at time.Time, nonce uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(at.Unix()))
	binary.BigEndian.PutUint64(buf[8:], nonce)
	return crypto.Keccak256Hash(claim, asserter.Bytes(), buf[:])
}
