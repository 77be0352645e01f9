package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

// Tx is the execution context of one transaction.
type Tx struct {
	hash   common.Hash
	from   common.Address
	to     common.Address
	value  *big.Int
	number uint64
	time   time.Time
	nonce  uint64
	state  core.StateWriter
	logs   []core.Log
}

func (tx *Tx) Hash() common.Hash         { return tx.hash }
func (tx *Tx) Sender() common.Address    { return tx.from }
func (tx *Tx) Recipient() common.Address { return tx.to }
func (tx *Tx) BlockNumber() uint64       { return tx.number }
func (tx *Tx) BlockTime() time.Time      { return tx.time }
func (tx *Tx) Nonce() uint64             { return tx.nonce }
func (tx *Tx) State() core.StateWriter   { return tx.state }

// Value returns the native amount attached to the message.
func (tx *Tx) Value() *big.Int {
	if tx.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(tx.value)
}

// EmitLog appends a log to the transaction. Logs are dropped if the transaction reverts.
func (tx *Tx) EmitLog(addr common.Address, topics []common.Hash, data []byte) {
	tx.logs = append(tx.logs, core.Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: tx.number,
		TxHash:      tx.hash,
		Index:       uint(len(tx.logs)),
	})
}

// Logs returns the logs emitted so far.
func (tx *Tx) Logs() []core.Log { return tx.logs }

// Balance reads addr's balance including writes made earlier in this transaction.
func (tx *Tx) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return tx.state.Balance(ctx, addr)
}

// Transfer moves amount from one account to another.
func (tx *Tx) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", core.ErrInvalidInput)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := tx.state.Balance(ctx, from)
	if err != nil {
		return fmt.Errorf("balance %s: %w", from.Hex(), err)
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", core.ErrInsufficientFunds, from.Hex(), fromBal, amount)
	}
	toBal, err := tx.state.Balance(ctx, to)
	if err != nil {
		return fmt.Errorf("balance %s: %w", to.Hex(), err)
	}
	if err := tx.state.SetBalance(ctx, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return tx.state.SetBalance(ctx, to, new(big.Int).Add(toBal, amount))
}

func (tx *Tx) receipt(method string) core.Receipt {
	return core.Receipt{
		TxHash:      tx.hash,
		BlockNumber: tx.number,
		BlockTime:   tx.time,
		Nonce:       tx.nonce,
		From:        tx.from,
		To:          tx.to,
		Method:      method,
		Value:       tx.Value(),
	}
}

// View is a read-only call context.
type View struct {
	state core.StateReader
	now   time.Time
	head  core.Head
}

func (v *View) State() core.StateReader { return v.state }
func (v *View) Now() time.Time          { return v.now }
func (v *View) Head() core.Head         { return v.head }

type txKey struct{}
type viewKey struct{}

// WithTx returns a context carrying tx.
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

// WithView returns a context carrying view.
func WithView(ctx context.Context, view *View) context.Context {
	return context.WithValue(ctx, viewKey{}, view)
}

// ViewFromContext returns the read view carried by ctx.
func ViewFromContext(ctx context.Context) (*View, bool) {
	v, ok := ctx.Value(viewKey{}).(*View)
	return v, ok && v != nil
}

// Reader returns the state visible from ctx and its current time: the
// transaction's state at block time, or a view's state at view time.
func Reader(ctx context.Context) (core.StateReader, time.Time, bool) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx.state, tx.time, true
	}
	if v, ok := ViewFromContext(ctx); ok {
		return v.state, v.now, true
	}
	return nil, time.Time{}, false
}
