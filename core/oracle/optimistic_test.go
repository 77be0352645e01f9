package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetattest-backend/core"
	"tweetattest-backend/core/ledger"
	"tweetattest-backend/storage"
)

var (
	oracleAddr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	asserter   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	challenger = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func setup(t *testing.T, liveness time.Duration) (*ledger.Chain, *ledger.ManualClock, *Optimistic) {
	t.Helper()
	clock := ledger.NewManualClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	chain, err := ledger.NewChain(storage.NewMemoryStore(), clock, 1)
	require.NoError(t, err)
	require.NoError(t, chain.Genesis(context.Background(), nil))
	return chain, clock, New(oracleAddr, liveness)
}

func assertClaim(t *testing.T, chain *ledger.Chain, o *Optimistic, claim string) (common.Hash, *core.Receipt) {
	t.Helper()
	var id common.Hash
	r, err := chain.Execute(context.Background(), ledger.Message{From: asserter, To: oracleAddr, Method: "assertTruthWithDefaults"},
		func(ctx context.Context, tx *ledger.Tx) error {
			var err error
			id, err = o.AssertWithDefaults(ctx, []byte(claim), asserter)
			return err
		})
	require.NoError(t, err)
	return id, r
}

func settle(chain *ledger.Chain, o *Optimistic, id common.Hash) (bool, *core.Receipt, error) {
	var result bool
	r, err := chain.Execute(context.Background(), ledger.Message{From: asserter, To: oracleAddr, Method: "settleAndGetAssertionResult"},
		func(ctx context.Context, tx *ledger.Tx) error {
			var err error
			result, err = o.SettleAndGetAssertionResult(ctx, id)
			return err
		})
	return result, r, err
}

func TestRequiresLedgerContext(t *testing.T) {
	o := New(oracleAddr, 0)
	ctx := context.Background()

	_, err := o.AssertWithDefaults(ctx, []byte("x"), asserter)
	assert.ErrorIs(t, err, ErrNoTransaction)
	_, err = o.SettleAndGetAssertionResult(ctx, common.Hash{})
	assert.ErrorIs(t, err, ErrNoTransaction)
	_, err = o.GetAssertion(ctx, common.Hash{})
	assert.ErrorIs(t, err, ErrNoState)
	assert.Equal(t, DefaultLiveness, o.Liveness())
}

func TestAssertEmitsAssertionMade(t *testing.T) {
	chain, _, o := setup(t, time.Minute)
	id, r := assertClaim(t, chain, o, "the sky is blue")

	require.Len(t, r.Logs, 1)
	assert.Equal(t, AssertionMadeTopic, r.Logs[0].Topics[0])
	assert.Equal(t, id, r.Logs[0].Topics[1])

	ev, err := DecodeLog(r.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, EventAssertionMade, ev.Name)
	assert.Equal(t, "the sky is blue", string(ev.Claim))
	assert.Equal(t, asserter, ev.Asserter)
	assert.Equal(t, uint64(r.BlockTime.Add(time.Minute).Unix()), ev.ExpirationTime)
}

func TestSettleUndisputed(t *testing.T) {
	chain, clock, o := setup(t, time.Minute)
	id, _ := assertClaim(t, chain, o, "claim")

	_, _, err := settle(chain, o, id)
	require.ErrorIs(t, err, core.ErrAssertionNotExpired)

	clock.Advance(time.Hour)
	result, r, err := settle(chain, o, id)
	require.NoError(t, err)
	assert.True(t, result)
	ev, err := DecodeLog(r.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, EventAssertionSettled, ev.Name)
	assert.False(t, ev.Disputed)
	assert.True(t, ev.SettlementResolution)

	// Settling again returns the stored result without new logs.
	result, r, err = settle(chain, o, id)
	require.NoError(t, err)
	assert.True(t, result)
	assert.Empty(t, r.Logs)

	err = chain.Call(context.Background(), func(ctx context.Context, view *ledger.View) error {
		got, err := o.GetAssertionResult(ctx, id)
		require.NoError(t, err)
		assert.True(t, got)
		a, err := o.GetAssertion(ctx, id)
		require.NoError(t, err)
		assert.True(t, a.Settled)
		assert.False(t, a.SettlementTime.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestDisputeFlow(t *testing.T) {
	chain, _, o := setup(t, time.Minute)
	id, _ := assertClaim(t, chain, o, "claim")
	ctx := context.Background()

	resolve := func(truthful bool) error {
		_, err := chain.Execute(ctx, ledger.Message{From: asserter, To: oracleAddr, Method: "resolveDispute"},
			func(ctx context.Context, tx *ledger.Tx) error { return o.ResolveDispute(ctx, id, truthful) })
		return err
	}
	require.ErrorIs(t, resolve(true), core.ErrAssertionNotDisputed)

	r, err := chain.Execute(ctx, ledger.Message{From: challenger, To: oracleAddr, Method: "disputeAssertion"},
		func(ctx context.Context, tx *ledger.Tx) error { return o.DisputeAssertion(ctx, id, tx.Sender()) })
	require.NoError(t, err)
	ev, err := DecodeLog(r.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, EventAssertionDisputed, ev.Name)
	assert.Equal(t, challenger, ev.Disputer)

	_, _, err = settle(chain, o, id)
	require.ErrorIs(t, err, core.ErrDisputeUnresolved)

	require.NoError(t, resolve(true))
	require.ErrorIs(t, resolve(false), core.ErrDisputeResolved)

	result, _, err := settle(chain, o, id)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestUnknownAssertion(t *testing.T) {
	chain, _, o := setup(t, 0)
	_, _, err := settle(chain, o, common.HexToHash("0x42"))
	require.ErrorIs(t, err, core.ErrAssertionNotFound)

	err = chain.Call(context.Background(), func(ctx context.Context, view *ledger.View) error {
		_, err := o.GetAssertion(ctx, common.HexToHash("0x42"))
		return err
	})
	require.ErrorIs(t, err, core.ErrAssertionNotFound)
}

func TestDecodeLogRejectsForeignTopics(t *testing.T) {
	_, err := DecodeLog(core.Log{Topics: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}})
	assert.ErrorIs(t, err, ErrUnknownEvent)
	_, err = DecodeLog(core.Log{})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}
