// Package ledger executes registry and oracle calls as serial, all-or-nothing
// transactions over a core.Store, producing EVM-shaped receipts and logs.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"

	"tweetattest-backend/core"
)

const receiptCacheSize = 1024

// Message describes a transaction submitted to the chain.
// Args only feed the transaction hash.
type Message struct {
	From   common.Address
	To     common.Address
	Method string
	Args   []any
	Value  *big.Int
}

// Chain serializes transactions over a store.
type Chain struct {
	mu       sync.Mutex
	store    core.Store
	clock    Clock
	chainID  uint64
	receipts *lru.Cache
}

// NewChain wraps store. A nil clock means wall-clock time.
func NewChain(store core.Store, clock Clock, chainID uint64) (*Chain, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	cache, err := lru.New(receiptCacheSize)
	if err != nil {
		return nil, fmt.Errorf("receipt cache: %w", err)
	}
	return &Chain{store: store, clock: clock, chainID: chainID, receipts: cache}, nil
}

// ChainID returns the network identifier.
func (c *Chain) ChainID() uint64 { return c.chainID }

// Genesis credits alloc and writes block zero, once. Later calls are no-ops.
func (c *Chain) Genesis(ctx context.Context, alloc map[common.Address]*big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Update(ctx, func(state core.StateWriter) error {
		head, err := state.Head(ctx)
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		if !head.Time.IsZero() {
			return nil
		}
		for addr, wei := range alloc {
			if wei == nil || wei.Sign() < 0 {
				return fmt.Errorf("%w: genesis balance for %s", core.ErrInvalidInput, addr.Hex())
			}
			if err := state.SetBalance(ctx, addr, wei); err != nil {
				return fmt.Errorf("genesis balance %s: %w", addr.Hex(), err)
			}
		}
		log.Printf("ledger genesis: chain %d, %d funded accounts", c.chainID, len(alloc))
		return state.SetHead(ctx, core.Head{Time: blockTime(c.clock.Now())})
	})
}

// Execute runs fn as one transaction. State writes, value transfer and logs
// commit together when fn returns nil. Otherwise they are discarded, a
// reverted receipt is recorded and the error from fn is returned wrapped.
//
// A ctx that is already done when the transaction's turn comes sends nothing.
// One that ends while fn runs reverts the transaction.
func (c *Chain) Execute(ctx context.Context, msg Message, fn func(ctx context.Context, tx *Tx) error) (*core.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s not sent: %w", msg.Method, err)
	}

	var (
		receipt core.Receipt
		next    core.Head
		callErr error
	)
	err := c.store.Update(ctx, func(state core.StateWriter) error {
		head, err := state.Head(ctx)
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		next = c.nextHead(head)
		tx := &Tx{
			hash:   c.txHash(next.Nonce, msg),
			from:   msg.From,
			to:     msg.To,
			value:  msg.Value,
			number: next.Number,
			time:   next.Time,
			nonce:  next.Nonce,
			state:  state,
		}
		receipt = tx.receipt(msg.Method)

		if msg.Value != nil && msg.Value.Sign() > 0 {
			callErr = tx.Transfer(ctx, msg.From, msg.To, msg.Value)
		}
		if callErr == nil {
			callErr = fn(WithTx(ctx, tx), tx)
		}
		if callErr == nil {
			callErr = ctx.Err()
		}
		if callErr != nil {
			return callErr
		}

		receipt.Status = core.ReceiptStatusSuccessful
		receipt.Logs = tx.logs
		if err := state.PutReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("store receipt: %w", err)
		}
		return state.SetHead(ctx, next)
	})
	if callErr != nil {
		return c.revert(ctx, receipt, next, callErr)
	}
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", msg.Method, err)
	}
	c.receipts.Add(receipt.TxHash, receipt)
	return &receipt, nil
}

func (c *Chain) revert(ctx context.Context, receipt core.Receipt, next core.Head, callErr error) (*core.Receipt, error) {
	receipt.Status = core.ReceiptStatusFailed
	receipt.RevertReason = callErr.Error()
	receipt.Logs = nil
	err := c.store.Update(ctx, func(state core.StateWriter) error {
		if err := state.PutReceipt(ctx, receipt); err != nil {
			return err
		}
		return state.SetHead(ctx, next)
	})
	if err != nil {
		log.Printf("ledger: record reverted receipt %s: %v", receipt.TxHash.Hex(), err)
		return nil, fmt.Errorf("%s reverted: %w", receipt.Method, callErr)
	}
	c.receipts.Add(receipt.TxHash, receipt)
	return &receipt, fmt.Errorf("%s reverted: %w", receipt.Method, callErr)
}

// Call runs fn against a consistent read-only view. The view time is the
// later of the clock and the latest block time.
func (c *Chain) Call(ctx context.Context, fn func(ctx context.Context, view *View) error) error {
	return c.store.View(ctx, func(state core.StateReader) error {
		head, err := state.Head(ctx)
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		now := blockTime(c.clock.Now())
		if head.Time.After(now) {
			now = head.Time
		}
		view := &View{state: state, now: now, head: head}
		return fn(WithView(ctx, view), view)
	})
}

// Receipt returns the receipt of a committed or reverted transaction.
func (c *Chain) Receipt(ctx context.Context, txHash common.Hash) (*core.Receipt, error) {
	if v, ok := c.receipts.Get(txHash); ok {
		r := v.(core.Receipt)
		return &r, nil
	}
	var r core.Receipt
	err := c.store.View(ctx, func(state core.StateReader) error {
		var err error
		r, err = state.Receipt(ctx, txHash)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("receipt %s: %w", txHash.Hex(), core.ErrNotFound)
		}
		return nil, err
	}
	c.receipts.Add(txHash, r)
	return &r, nil
}

// Head returns the latest block.
func (c *Chain) Head(ctx context.Context) (core.Head, error) {
	var head core.Head
	err := c.store.View(ctx, func(state core.StateReader) error {
		var err error
		head, err = state.Head(ctx)
		return err
	})
	return head, err
}

// Balance returns the committed balance of addr.
func (c *Chain) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var bal *big.Int
	err := c.store.View(ctx, func(state core.StateReader) error {
		var err error
		bal, err = state.Balance(ctx, addr)
		return err
	})
	return bal, err
}

func (c *Chain) nextHead(head core.Head) core.Head {
	t := blockTime(c.clock.Now())
	if !t.After(head.Time) {
		t = head.Time.Add(time.Second)
	}
	return core.Head{Number: head.Number + 1, Time: t, Nonce: head.Nonce + 1}
}

func (c *Chain) txHash(nonce uint64, msg Message) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], c.chainID)
	binary.BigEndian.PutUint64(buf[8:], nonce)
	args, err := json.Marshal(msg.Args)
	if err != nil {
		args = []byte(fmt.Sprint(msg.Args...))
	}
	var value []byte
	if msg.Value != nil {
		value = msg.Value.Bytes()
	}
	return crypto.Keccak256Hash(buf[:], msg.From.Bytes(), msg.To.Bytes(), []byte(msg.Method), args, value)
}

// Block times have one-second resolution, like EVM timestamps.
func blockTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}
