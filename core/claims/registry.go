// Package claims implements the tweet claim registry: it forwards claims to an
// optimistic oracle, records them, and pays a fixed reward for claims the
// oracle settles as true.
package claims

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
	"tweetattest-backend/core/ledger"
)

// RewardAmount is the payout for a verified claim: 0.01 of the native unit.
var RewardAmount = big.NewInt(1e16)

// Oracle is the subset of the optimistic oracle the registry consumes.
type Oracle interface {
	AssertWithDefaults(ctx context.Context, claim []byte, asserter common.Address) (common.Hash, error)
	SettleAndGetAssertionResult(ctx context.Context, id common.Hash) (bool, error)
	GetAssertionResult(ctx context.Context, id common.Hash) (bool, error)
	GetAssertion(ctx context.Context, id common.Hash) (core.Assertion, error)
}

// ClaimSentence renders the exact sentence submitted to the oracle.
func ClaimSentence(handle, text string, at time.Time) string {
	return fmt.Sprintf("Twitter user @%s posted a tweet with the exact text: '%s' as of timestamp %d", handle, text, at.Unix())
}

// Registry holds claims in ledger state. Mutating methods run inside a ledger
// transaction; read methods take a view.
type Registry struct {
	address common.Address
	oracle  Oracle
	reward  *big.Int
}

// NewRegistry returns a registry at address. A nil reward means RewardAmount.
func NewRegistry(address common.Address, oracle Oracle, reward *big.Int) *Registry {
	if reward == nil {
		reward = RewardAmount
	}
	return &Registry{address: address, oracle: oracle, reward: new(big.Int).Set(reward)}
}

func (r *Registry) Address() common.Address { return r.address }
func (r *Registry) Reward() *big.Int        { return new(big.Int).Set(r.reward) }

// SubmitClaim asserts that handle posted text, as of the block time, and stores the claim.
func (r *Registry) SubmitClaim(ctx context.Context, tx *ledger.Tx, handle, text string) (common.Hash, error) {
	sentence := ClaimSentence(handle, text, tx.BlockTime())
	id, err := r.oracle.AssertWithDefaults(ctx, []byte(sentence), r.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("assert claim: %w", err)
	}
	if _, err := tx.State().Claim(ctx, id); err == nil {
		return common.Hash{}, core.ErrClaimExists
	} else if !errors.Is(err, core.ErrNotFound) {
		return common.Hash{}, fmt.Errorf("read claim: %w", err)
	}

	claim := core.Claim{
		AssertionID:       id,
		Claimer:           tx.Sender(),
		TwitterHandle:     handle,
		TweetText:         text,
		AssertedClaimText: sentence,
		SubmittedAt:       tx.BlockTime(),
	}
	if err := tx.State().PutClaim(ctx, claim); err != nil {
		return common.Hash{}, fmt.Errorf("store claim: %w", err)
	}
	if err := r.emit(tx, EventClaimSubmitted, []common.Hash{id, addressTopic(claim.Claimer)}, handle, text); err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

// SettleAndGetAssertionResult settles the claim's assertion and pays the
// claimer if the oracle returns true. A resolved claim cannot be settled again.
func (r *Registry) SettleAndGetAssertionResult(ctx context.Context, tx *ledger.Tx, id common.Hash) (bool, error) {
	claim, err := r.load(ctx, tx.State(), id)
	if err != nil {
		return false, err
	}
	if claim.IsResolved {
		return false, core.ErrAlreadyResolved
	}

	result, err := r.oracle.SettleAndGetAssertionResult(ctx, id)
	if err != nil {
		return false, fmt.Errorf("settle assertion: %w", err)
	}
	claim.IsResolved = true
	if err := r.emit(tx, EventClaimResolved, []common.Hash{id}, result); err != nil {
		return false, err
	}

	if result && !claim.IsRewarded {
		bal, err := tx.Balance(ctx, r.address)
		if err != nil {
			return false, fmt.Errorf("registry balance: %w", err)
		}
		if bal.Cmp(r.reward) < 0 {
			return false, fmt.Errorf("%w: have %s, need %s", core.ErrInsufficientBalance, bal, r.reward)
		}
		claim.IsRewarded = true
		if err := tx.Transfer(ctx, r.address, claim.Claimer, r.reward); err != nil {
			return false, fmt.Errorf("pay reward: %w", err)
		}
		if err := r.emit(tx, EventRewardPaid, []common.Hash{id, addressTopic(claim.Claimer)}, new(big.Int).Set(r.reward)); err != nil {
			return false, err
		}
	}

	if err := tx.State().PutClaim(ctx, claim); err != nil {
		return false, fmt.Errorf("store claim: %w", err)
	}
	return result, nil
}

// Deposit accepts the value attached to tx. The ledger has already credited it.
func (r *Registry) Deposit(ctx context.Context, tx *ledger.Tx) error {
	if tx.Recipient() != r.address {
		return fmt.Errorf("%w: deposit must target the registry", core.ErrInvalidInput)
	}
	return nil
}

// GetAssertionResult passes through to the oracle.
func (r *Registry) GetAssertionResult(ctx context.Context, view *ledger.View, id common.Hash) (bool, error) {
	return r.oracle.GetAssertionResult(ledger.WithView(ctx, view), id)
}

// GetAssertion passes through to the oracle.
func (r *Registry) GetAssertion(ctx context.Context, view *ledger.View, id common.Hash) (core.Assertion, error) {
	return r.oracle.GetAssertion(ledger.WithView(ctx, view), id)
}

// GetClaim returns the stored claim, or the zero claim for unknown ids.
func (r *Registry) GetClaim(ctx context.Context, view *ledger.View, id common.Hash) (core.Claim, error) {
	c, err := view.State().Claim(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return core.Claim{}, nil
	}
	return c, err
}

// GetClaimDetails returns the claim tuple; all fields are zero for unknown ids.
func (r *Registry) GetClaimDetails(ctx context.Context, view *ledger.View, id common.Hash) (core.ClaimDetails, error) {
	c, err := r.GetClaim(ctx, view, id)
	if err != nil {
		return core.ClaimDetails{}, err
	}
	return c.Details(), nil
}

// IsClaimVerified reports whether the claim settled true and was paid.
func (r *Registry) IsClaimVerified(ctx context.Context, view *ledger.View, id common.Hash) (bool, error) {
	c, err := r.GetClaim(ctx, view, id)
	if err != nil {
		return false, err
	}
	return c.IsResolved && c.IsRewarded, nil
}

// CanBeSettled reports whether settling now would pass the oracle's timing
// check. Oracle read failures yield false.
func (r *Registry) CanBeSettled(ctx context.Context, view *ledger.View, id common.Hash) (bool, error) {
	c, err := r.GetClaim(ctx, view, id)
	if err != nil {
		return false, err
	}
	if !c.Exists() || c.IsResolved {
		return false, nil
	}
	a, err := r.GetAssertion(ctx, view, id)
	if err != nil {
		return false, nil
	}
	return !a.Settled && !view.Now().Before(a.ExpirationTime), nil
}

func (r *Registry) load(ctx context.Context, state core.StateReader, id common.Hash) (core.Claim, error) {
	c, err := state.Claim(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return core.Claim{}, core.ErrClaimNotFound
	}
	if err != nil {
		return core.Claim{}, fmt.Errorf("read claim: %w", err)
	}
	return c, nil
}

func (r *Registry) emit(tx *ledger.Tx, name string, indexed []common.Hash, args ...interface{}) error {
	topics, data, err := encodeEvent(name, indexed, args...)
	if err != nil {
		return err
	}
	tx.EmitLog(r.address, topics, data)
	return nil
}
