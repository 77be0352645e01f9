package claims

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
	"tweetattest-backend/core/ledger"
)

// Arbiter is the dispute side of the oracle, used by operators and tests.
type Arbiter interface {
	Address() common.Address
	Liveness() time.Duration
	DisputeAssertion(ctx context.Context, id common.Hash, disputer common.Address) error
	ResolveDispute(ctx context.Context, id common.Hash, truthful bool) error
}

// Service runs registry calls as ledger transactions and views.
// Every receipt, committed or reverted, is passed to the registered listeners.
type Service struct {
	chain    *ledger.Chain
	registry *Registry
	arbiter  Arbiter

	mu        sync.RWMutex
	listeners []func(*core.Receipt)
}

func NewService(chain *ledger.Chain, registry *Registry, arbiter Arbiter) *Service {
	return &Service{chain: chain, registry: registry, arbiter: arbiter}
}

// OnReceipt registers fn to be called after every transaction.
func (s *Service) OnReceipt(fn func(*core.Receipt)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) publish(r *core.Receipt) {
	if r == nil {
		return
	}
	s.mu.RLock()
	listeners := append([]func(*core.Receipt){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(r)
	}
}

func (s *Service) execute(ctx context.Context, msg ledger.Message, fn func(ctx context.Context, tx *ledger.Tx) error) (*core.Receipt, error) {
	receipt, err := s.chain.Execute(ctx, msg, fn)
	s.publish(receipt)
	return receipt, err
}

// Info describes the deployment.
func (s *Service) Info(ctx context.Context) (core.ChainInfo, error) {
	head, err := s.chain.Head(ctx)
	if err != nil {
		return core.ChainInfo{}, err
	}
	info := core.ChainInfo{
		ChainID:         s.chain.ChainID(),
		RegistryAddress: s.registry.Address(),
		RewardWei:       s.registry.Reward(),
		BlockNumber:     head.Number,
	}
	if s.arbiter != nil {
		info.OracleAddress = s.arbiter.Address()
		info.LivenessSeconds = int64(s.arbiter.Liveness() / time.Second)
	}
	return info, nil
}

// SubmitClaim sends submitClaim(handle, text) from the given account.
func (s *Service) SubmitClaim(ctx context.Context, from common.Address, handle, text string) (*core.Receipt, error) {
	msg := ledger.Message{From: from, To: s.registry.Address(), Method: "submitClaim", Args: []any{handle, text}}
	return s.execute(ctx, msg, func(ctx context.Context, tx *ledger.Tx) error {
		_, err := s.registry.SubmitClaim(ctx, tx, handle, text)
		return err
	})
}

// Settle sends settleAndGetAssertionResult(id) from the given account.
func (s *Service) Settle(ctx context.Context, from common.Address, id common.Hash) (*core.Receipt, error) {
	msg := ledger.Message{From: from, To: s.registry.Address(), Method: "settleAndGetAssertionResult", Args: []any{id}}
	return s.execute(ctx, msg, func(ctx context.Context, tx *ledger.Tx) error {
		_, err := s.registry.SettleAndGetAssertionResult(ctx, tx, id)
		return err
	})
}

// Deposit transfers amount from the given account to the registry. A zero
// amount is accepted and moves nothing.
func (s *Service) Deposit(ctx context.Context, from common.Address, amount *big.Int) (*core.Receipt, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: deposit amount must not be negative", core.ErrInvalidInput)
	}
	msg := ledger.Message{From: from, To: s.registry.Address(), Method: "receive", Value: amount}
	return s.execute(ctx, msg, s.registry.Deposit)
}

// Dispute challenges the assertion behind a claim.
func (s *Service) Dispute(ctx context.Context, from common.Address, id common.Hash) (*core.Receipt, error) {
	if s.arbiter == nil {
		return nil, fmt.Errorf("%w: oracle does not accept disputes", core.ErrInvalidInput)
	}
	msg := ledger.Message{From: from, To: s.arbiter.Address(), Method: "disputeAssertion", Args: []any{id}}
	return s.execute(ctx, msg, func(ctx context.Context, tx *ledger.Tx) error {
		return s.arbiter.DisputeAssertion(ctx, id, tx.Sender())
	})
}

// ResolveDispute records the vote outcome for a disputed assertion.
func (s *Service) ResolveDispute(ctx context.Context, from common.Address, id common.Hash, truthful bool) (*core.Receipt, error) {
	if s.arbiter == nil {
		return nil, fmt.Errorf("%w: oracle does not accept disputes", core.ErrInvalidInput)
	}
	msg := ledger.Message{From: from, To: s.arbiter.Address(), Method: "resolveDispute", Args: []any{id, truthful}}
	return s.execute(ctx, msg, func(ctx context.Context, tx *ledger.Tx) error {
		return s.arbiter.ResolveDispute(ctx, id, truthful)
	})
}

// Receipt returns a transaction receipt.
func (s *Service) Receipt(ctx context.Context, txHash common.Hash) (*core.Receipt, error) {
	return s.chain.Receipt(ctx, txHash)
}

// Balance returns an account balance.
func (s *Service) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return s.chain.Balance(ctx, addr)
}

// Claim returns the full claim record; unknown ids give the zero claim.
func (s *Service) Claim(ctx context.Context, id common.Hash) (core.Claim, error) {
	var c core.Claim
	err := s.chain.Call(ctx, func(ctx context.Context, view *ledger.View) error {
		var err error
		c, err = s.registry.GetClaim(ctx, view, id)
		return err
	})
	return c, err
}

func (s *Service) ClaimDetails(ctx context.Context, id common.Hash) (core.ClaimDetails, error) {
	var d core.ClaimDetails
	err := s.chain.Call(ctx, func(ctx context.Context, view *ledger.View) error {
		var err error
		d, err = s.registry.GetClaimDetails(ctx, view, id)
		return err
	})
	return d, err
}

// ClaimsByClaimer lists a claimer's assertion ids in submission order.
func (s *Service) ClaimsByClaimer(ctx context.Context, claimer common.Address) ([]common.Hash, error) {
	var ids []common.Hash
	err := s.chain.Call(ctx, func(ctx context.Context, view *ledger.View) error {
		var err error
		ids, err = view.State().ClaimsByClaimer(ctx, claimer)
		return err
	})
	return ids, err
}

func (s *Service) Assertion(ctx context.Context, id common.Hash) (core.Assertion, error) {
	var a core.Assertion
	err := s.chain.Call(ctx, func(ctx context.Context, view *ledger.View) error {
		var err error
		a, err = s.registry.GetAssertion(ctx, view, id)
		return err
	})
	return a, err
}

func (s *Service) AssertionResult(ctx context.Context, id common.Hash) (bool, error) {
	var result bool
	err := s.chain.Call(ctx, func(ctx context.Context, view *ledger.View) error {
		var err error
		result, err = s.registry.GetAssertionResult(ctx, view, id)
		return err
	})
	return result, err
}

func (s *Service) IsClaimVerified(ctx context.Context, id common.Hash) (bool, error) {
	var ok bool
	err := s.chain.Call(ctx, func(ctx context.Context, view *ledger.View) error {
		var err error
		ok, err = s.registry.IsClaimVerified(ctx, view, id)
		return err
	})
	return ok, err
}

func (s *Service) CanBeSettled(ctx context.Context, id common.Hash) (bool, error) {
	var ok bool
	err := s.chain.Call(ctx, func(ctx context.Context, view *ledger.View) error {
		var err error
		ok, err = s.registry.CanBeSettled(ctx, view, id)
		return err
	})
	return ok, err
}
