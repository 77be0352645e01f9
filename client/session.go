// Package client drives a single claim from submission to settlement.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

// Backend is the registry as seen by a client.
type Backend interface {
	Info(ctx context.Context) (core.ChainInfo, error)
	SubmitClaim(ctx context.Context, from common.Address, handle, text string) (*core.Receipt, error)
	Settle(ctx context.Context, from common.Address, id common.Hash) (*core.Receipt, error)
	Receipt(ctx context.Context, txHash common.Hash) (*core.Receipt, error)
	ClaimDetails(ctx context.Context, id common.Hash) (core.ClaimDetails, error)
	Assertion(ctx context.Context, id common.Hash) (core.Assertion, error)
	CanBeSettled(ctx context.Context, id common.Hash) (bool, error)
}

// State is where a session is in the claim lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted" // mined, id not yet extracted
	StateIDKnown    State = "id-known"
	StateChecking   State = "checking-status"
	StateSettleable State = "settleable"
	StateNotYet     State = "not-yet"
	StateSettling   State = "settling"
	StateSettled    State = "settled"
)

// Status is the last status read for the session's claim. SettleableGuessed is
// set when settleability could not be read and is assumed true.
type Status struct {
	AssertionID       common.Hash       `json:"assertion_id"`
	Details           core.ClaimDetails `json:"details"`
	Assertion         *core.Assertion   `json:"assertion,omitempty"` // nil when the oracle read failed
	CanBeSettled      bool              `json:"can_be_settled"`
	SettleableGuessed bool              `json:"settleable_guessed,omitempty"`
	CheckedAt         time.Time         `json:"checked_at"`
}

// Snapshot is a copy of the session for rendering.
type Snapshot struct {
	State       State         `json:"state"`
	Busy        bool          `json:"busy"`
	Wallet      string        `json:"wallet,omitempty"`
	TxHash      *common.Hash  `json:"tx_hash,omitempty"`
	AssertionID *common.Hash  `json:"assertion_id,omitempty"`
	Status      *Status       `json:"status,omitempty"`
	Receipt     *core.Receipt `json:"receipt,omitempty"`
	Err         string        `json:"error,omitempty"`
	ErrCategory string        `json:"error_category,omitempty"`
}

// Session tracks one claim. Every step is user-initiated and at most one runs at a time.
type Session struct {
	backend Backend
	wallet  common.Address
	chainID uint64 // zero accepts any network

	mu          sync.Mutex
	busy        bool
	state       State
	txHash      common.Hash
	assertionID common.Hash
	status      *Status
	receipt     *core.Receipt
	lastErr     error
}

// NewSession creates an idle session signing as wallet on chainID.
func NewSession(backend Backend, wallet common.Address, chainID uint64) *Session {
	return &Session{backend: backend, wallet: wallet, chainID: chainID, state: StateIdle}
}

func (s *Session) begin(next State) (prev State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return s.state, ErrBusy
	}
	s.busy = true
	prev = s.state
	s.state = next
	return prev, nil
}

// end releases the session, records err and moves to state.
func (s *Session) end(state State, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.state = state
	s.lastErr = err
	return err
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// checkConnection gates mutating actions on a wallet and the expected network.
func (s *Session) checkConnection(ctx context.Context) (core.ChainInfo, error) {
	if s.wallet == (common.Address{}) {
		return core.ChainInfo{}, ErrNoWallet
	}
	info, err := s.info(ctx)
	if err != nil {
		return core.ChainInfo{}, err
	}
	if s.chainID != 0 && info.ChainID != s.chainID {
		return core.ChainInfo{}, fmt.Errorf("%w: expected chain %d, registry is on %d", ErrWrongNetwork, s.chainID, info.ChainID)
	}
	return info, nil
}

func (s *Session) info(ctx context.Context) (core.ChainInfo, error) {
	info, err := s.backend.Info(ctx)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			return core.ChainInfo{}, err
		}
		return core.ChainInfo{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return info, nil
}

// Submit sends submitClaim and extracts the assertion id from the receipt.
func (s *Session) Submit(ctx context.Context, handle, text string) (common.Hash, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	text = strings.TrimSpace(text)
	if handle == "" || text == "" {
		return common.Hash{}, s.fail(ErrMissingInput)
	}
	prev, err := s.begin(StateSubmitting)
	if err != nil {
		return common.Hash{}, err
	}
	info, err := s.checkConnection(ctx)
	if err != nil {
		return common.Hash{}, s.end(prev, err)
	}

	receipt, err := s.backend.SubmitClaim(ctx, s.wallet, handle, text)
	if err != nil {
		return common.Hash{}, s.end(prev, err)
	}

	s.mu.Lock()
	s.txHash = receipt.TxHash
	s.receipt = receipt
	s.status = nil
	s.mu.Unlock()

	id, ok := AssertionIDFromLogs(receipt.Logs, info)
	if !ok {
		return common.Hash{}, s.end(StateSubmitted, fmt.Errorf("%w: tx %s has no submission log", ErrNoAssertion, receipt.TxHash.Hex()))
	}
	s.mu.Lock()
	s.assertionID = id
	s.mu.Unlock()
	return id, s.end(StateIDKnown, nil)
}

// FindByTxHash recovers the assertion id from an earlier submission transaction.
func (s *Session) FindByTxHash(ctx context.Context, txHash common.Hash) (common.Hash, error) {
	prev, err := s.begin(StateSubmitted)
	if err != nil {
		return common.Hash{}, err
	}
	info, err := s.info(ctx)
	if err != nil {
		return common.Hash{}, s.end(prev, err)
	}
	receipt, err := s.backend.Receipt(ctx, txHash)
	if err != nil {
		return common.Hash{}, s.end(prev, err)
	}
	id, ok := AssertionIDFromLogs(receipt.Logs, info)
	if !ok {
		return common.Hash{}, s.end(prev, fmt.Errorf("%w: tx %s has no submission log", ErrNoAssertion, txHash.Hex()))
	}
	s.mu.Lock()
	s.txHash = txHash
	s.receipt = receipt
	s.assertionID = id
	s.status = nil
	s.mu.Unlock()
	return id, s.end(StateIDKnown, nil)
}

// UseAssertionID points the session at a known assertion id.
func (s *Session) UseAssertionID(id common.Hash) error {
	if id == (common.Hash{}) {
		return s.fail(fmt.Errorf("%w: assertion id is zero", core.ErrInvalidInput))
	}
	if _, err := s.begin(StateIDKnown); err != nil {
		return err
	}
	s.mu.Lock()
	s.assertionID = id
	s.txHash = common.Hash{}
	s.receipt = nil
	s.status = nil
	s.mu.Unlock()
	return s.end(StateIDKnown, nil)
}

// CheckStatus reads claim details and, best-effort, the oracle record and settleability.
func (s *Session) CheckStatus(ctx context.Context) (Status, error) {
	s.mu.Lock()
	id := s.assertionID
	s.mu.Unlock()
	if id == (common.Hash{}) {
		return Status{}, s.fail(ErrNoAssertion)
	}
	prev, err := s.begin(StateChecking)
	if err != nil {
		return Status{}, err
	}
	st, err := s.readStatus(ctx, id)
	if err != nil {
		return Status{}, s.end(prev, err)
	}
	return st, s.end(stateFor(st), nil)
}

func (s *Session) readStatus(ctx context.Context, id common.Hash) (Status, error) {
	details, err := s.backend.ClaimDetails(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if !details.Exists() {
		return Status{}, fmt.Errorf("%w: %s", core.ErrClaimNotFound, id.Hex())
	}
	st := Status{AssertionID: id, Details: details, CheckedAt: time.Now()}
	if a, err := s.backend.Assertion(ctx, id); err == nil {
		st.Assertion = &a
	}
	if !details.IsResolved {
		can, err := s.backend.CanBeSettled(ctx, id)
		if err != nil {
			can, st.SettleableGuessed = true, true
		}
		st.CanBeSettled = can
	}

	s.mu.Lock()
	s.status = &st
	s.mu.Unlock()
	return st, nil
}

func stateFor(st Status) State {
	switch {
	case st.Details.IsResolved:
		return StateSettled
	case st.CanBeSettled:
		return StateSettleable
	default:
		return StateNotYet
	}
}

// Settle sends settleAndGetAssertionResult regardless of the local settleability
// flag. Status is refreshed after success or an already-resolved rejection.
func (s *Session) Settle(ctx context.Context) (*core.Receipt, error) {
	s.mu.Lock()
	id := s.assertionID
	s.mu.Unlock()
	if id == (common.Hash{}) {
		return nil, s.fail(ErrNoAssertion)
	}
	prev, err := s.begin(StateSettling)
	if err != nil {
		return nil, err
	}
	if _, err := s.checkConnection(ctx); err != nil {
		return nil, s.end(prev, err)
	}

	receipt, err := s.backend.Settle(ctx, s.wallet, id)
	s.mu.Lock()
	if receipt != nil {
		s.receipt = receipt
	}
	s.mu.Unlock()

	if err != nil && Categorize(err) != CategoryIdempotency {
		return receipt, s.end(prev, err)
	}
	next := StateSettled
	if st, rerr := s.readStatus(ctx, id); rerr == nil {
		next = stateFor(st)
	}
	return receipt, s.end(next, err)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, Busy: s.busy, Receipt: s.receipt}
	if s.wallet != (common.Address{}) {
		snap.Wallet = s.wallet.Hex()
	}
	if s.txHash != (common.Hash{}) {
		h := s.txHash
		snap.TxHash = &h
	}
	if s.assertionID != (common.Hash{}) {
		id := s.assertionID
		snap.AssertionID = &id
	}
	if s.status != nil {
		st := *s.status
		snap.Status = &st
	}
	if s.lastErr != nil {
		snap.Err = UserMessage(s.lastErr)
		snap.ErrCategory = Categorize(s.lastErr).String()
	}
	return snap
}
