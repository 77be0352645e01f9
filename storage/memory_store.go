package storage

import (
	"context"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

// MemoryStore holds ledger state in maps guarded by a single RWMutex.
// Update stages writes in an overlay and applies them only if fn succeeds.
type MemoryStore struct {
	mu         sync.RWMutex
	head       core.Head
	claims     map[common.Hash]core.Claim
	byClaimer  map[common.Address][]common.Hash
	assertions map[common.Hash]core.Assertion
	balances   map[common.Address]*big.Int
	receipts   map[common.Hash]core.Receipt
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:     make(map[common.Hash]core.Claim),
		byClaimer:  make(map[common.Address][]common.Hash),
		assertions: make(map[common.Hash]core.Assertion),
		balances:   make(map[common.Address]*big.Int),
		receipts:   make(map[common.Hash]core.Receipt),
	}
}

func (s *MemoryStore) View(ctx context.Context, fn func(core.StateReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memReader{s})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(core.StateWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		base:       s,
		claims:     make(map[common.Hash]core.Claim),
		newIndex:   make(map[common.Address][]common.Hash),
		assertions: make(map[common.Hash]core.Assertion),
		balances:   make(map[common.Address]*big.Int),
		receipts:   make(map[common.Hash]core.Receipt),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// memReader reads committed state. The caller holds s.mu.
type memReader struct{ s *MemoryStore }

func (r memReader) Head(ctx context.Context) (core.Head, error) { return r.s.head, nil }

func (r memReader) Claim(ctx context.Context, id common.Hash) (core.Claim, error) {
	c, ok := r.s.claims[id]
	if !ok {
		return core.Claim{}, core.ErrNotFound
	}
	return c, nil
}

func (r memReader) ClaimsByClaimer(ctx context.Context, claimer common.Address) ([]common.Hash, error) {
	return slices.Clone(r.s.byClaimer[claimer]), nil
}

func (r memReader) Assertion(ctx context.Context, id common.Hash) (core.Assertion, error) {
	a, ok := r.s.assertions[id]
	if !ok {
		return core.Assertion{}, core.ErrNotFound
	}
	return a, nil
}

func (r memReader) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if b, ok := r.s.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (r memReader) Receipt(ctx context.Context, txHash common.Hash) (core.Receipt, error) {
	rc, ok := r.s.receipts[txHash]
	if !ok {
		return core.Receipt{}, core.ErrNotFound
	}
	return rc, nil
}

// memTx overlays uncommitted writes on the base store.
type memTx struct {
	base       *MemoryStore
	head       *core.Head
	claims     map[common.Hash]core.Claim
	newIndex   map[common.Address][]common.Hash
	assertions map[common.Hash]core.Assertion
	balances   map[common.Address]*big.Int
	receipts   map[common.Hash]core.Receipt
}

func (t *memTx) Head(ctx context.Context) (core.Head, error) {
	if t.head != nil {
		return *t.head, nil
	}
	return t.base.head, nil
}

func (t *memTx) Claim(ctx context.Context, id common.Hash) (core.Claim, error) {
	if c, ok := t.claims[id]; ok {
		return c, nil
	}
	return memReader{t.base}.Claim(ctx, id)
}

func (t *memTx) ClaimsByClaimer(ctx context.Context, claimer common.Address) ([]common.Hash, error) {
	ids := slices.Clone(t.base.byClaimer[claimer])
	return append(ids, t.newIndex[claimer]...), nil
}

func (t *memTx) Assertion(ctx context.Context, id common.Hash) (core.Assertion, error) {
	if a, ok := t.assertions[id]; ok {
		return a, nil
	}
	return memReader{t.base}.Assertion(ctx, id)
}

func (t *memTx) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if b, ok := t.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return memReader{t.base}.Balance(ctx, addr)
}

func (t *memTx) Receipt(ctx context.Context, txHash common.Hash) (core.Receipt, error) {
	if r, ok := t.receipts[txHash]; ok {
		return r, nil
	}
	return memReader{t.base}.Receipt(ctx, txHash)
}

func (t *memTx) SetHead(ctx context.Context, head core.Head) error {
	t.head = &head
	return nil
}

func (t *memTx) PutClaim(ctx context.Context, claim core.Claim) error {
	_, staged := t.claims[claim.AssertionID]
	_, committed := t.base.claims[claim.AssertionID]
	if !staged && !committed {
		t.newIndex[claim.Claimer] = append(t.newIndex[claim.Claimer], claim.AssertionID)
	}
	t.claims[claim.AssertionID] = claim
	return nil
}

func (t *memTx) PutAssertion(ctx context.Context, a core.Assertion) error {
	t.assertions[a.AssertionID] = a
	return nil
}

func (t *memTx) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	t.balances[addr] = new(big.Int).Set(wei)
	return nil
}

func (t *memTx) PutReceipt(ctx context.Context, r core.Receipt) error {
	t.receipts[r.TxHash] = r
	return nil
}

func (t *memTx) apply() {
	s := t.base
	if t.head != nil {
		s.head = *t.head
	}
	for id, c := range t.claims {
		s.claims[id] = c
	}
	for addr, ids := range t.newIndex {
		s.byClaimer[addr] = append(s.byClaimer[addr], ids...)
	}
	for id, a := range t.assertions {
		s.assertions[id] = a
	}
	for addr, b := range t.balances {
		s.balances[addr] = b
	}
	for h, r := range t.receipts {
		s.receipts[h] = r
	}
}
