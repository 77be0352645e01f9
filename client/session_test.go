package client

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/core/ledger"
	"tweetattest-backend/core/oracle"
	"tweetattest-backend/storage"
)

const testChainID = 31337

var (
	registryAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	oracleAddr   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

var _ Backend = (*claims.Service)(nil)
var _ Backend = (*HTTPBackend)(nil)

func newService(t *testing.T, registryFunds *big.Int) (*claims.Service, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	chain, err := ledger.NewChain(storage.NewMemoryStore(), clock, testChainID)
	require.NoError(t, err)
	require.NoError(t, chain.Genesis(context.Background(), map[common.Address]*big.Int{
		registryAddr: registryFunds,
		alice:        big.NewInt(1e18),
	}))
	orc := oracle.New(oracleAddr, time.Hour)
	return claims.NewService(chain, claims.NewRegistry(registryAddr, orc, nil), orc), clock
}

// countingBackend records calls and can inject failures.
type countingBackend struct {
	Backend
	mu          sync.Mutex
	calls       int
	infoErr     error
	canSettleOK bool
}

func (b *countingBackend) count() {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
}

func (b *countingBackend) Info(ctx context.Context) (core.ChainInfo, error) {
	b.count()
	if b.infoErr != nil {
		return core.ChainInfo{}, b.infoErr
	}
	return b.Backend.Info(ctx)
}

func (b *countingBackend) SubmitClaim(ctx context.Context, from common.Address, handle, text string) (*core.Receipt, error) {
	b.count()
	return b.Backend.SubmitClaim(ctx, from, handle, text)
}

func (b *countingBackend) CanBeSettled(ctx context.Context, id common.Hash) (bool, error) {
	b.count()
	if b.canSettleOK {
		return b.Backend.CanBeSettled(ctx, id)
	}
	return false, errors.New("eth_call: header not found")
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t, claims.RewardAmount)
	s := NewSession(svc, alice, testChainID)
	assert.Equal(t, StateIdle, s.Snapshot().State)

	id, err := s.Submit(ctx, " @jack ", "just setting up my twttr")
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, id)
	snap := s.Snapshot()
	assert.Equal(t, StateIDKnown, snap.State)
	require.NotNil(t, snap.TxHash)
	require.NotNil(t, snap.AssertionID)
	assert.Equal(t, id, *snap.AssertionID)
	assert.Equal(t, alice.Hex(), snap.Wallet)

	st, err := s.CheckStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jack", st.Details.TwitterHandle)
	assert.False(t, st.CanBeSettled)
	assert.False(t, st.SettleableGuessed)
	require.NotNil(t, st.Assertion)
	assert.Equal(t, registryAddr, st.Assertion.Asserter)
	assert.Equal(t, StateNotYet, s.Snapshot().State)

	receipt, err := s.Settle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAssertionNotExpired))
	assert.Equal(t, CategoryOracleTiming, Categorize(err))
	require.NotNil(t, receipt)
	assert.False(t, receipt.Succeeded())
	snap = s.Snapshot()
	assert.Equal(t, StateNotYet, snap.State)
	assert.Equal(t, "oracle-timing", snap.ErrCategory)
	assert.NotEmpty(t, snap.Err)

	clock.Advance(2 * time.Hour)
	st, err = s.CheckStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.CanBeSettled)
	assert.Equal(t, StateSettleable, s.Snapshot().State)
	assert.Empty(t, s.Snapshot().Err)

	receipt, err = s.Settle(ctx)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	snap = s.Snapshot()
	assert.Equal(t, StateSettled, snap.State)
	require.NotNil(t, snap.Status)
	assert.True(t, snap.Status.Details.IsResolved)
	assert.True(t, snap.Status.Details.IsRewarded)

	bal, err := svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Add(big.NewInt(1e18), claims.RewardAmount).String(), bal.String())

	// A second settle is rejected but the session still reflects the final state.
	_, err = s.Settle(ctx)
	require.Error(t, err)
	assert.Equal(t, CategoryIdempotency, Categorize(err))
	snap = s.Snapshot()
	assert.Equal(t, StateSettled, snap.State)
	assert.Equal(t, "idempotency", snap.ErrCategory)
}

func TestSessionSubmitValidatesBeforeNetwork(t *testing.T) {
	svc, _ := newService(t, claims.RewardAmount)
	b := &countingBackend{Backend: svc}
	s := NewSession(b, alice, testChainID)

	for _, tc := range []struct{ handle, text string }{
		{"", "text"},
		{"@", "text"},
		{"jack", "   "},
	} {
		_, err := s.Submit(context.Background(), tc.handle, tc.text)
		assert.ErrorIs(t, err, ErrMissingInput)
	}
	assert.Zero(t, b.calls)
	assert.Equal(t, StateIdle, s.Snapshot().State)
	assert.Equal(t, "validation", s.Snapshot().ErrCategory)
}

func TestSessionConnectionChecks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, claims.RewardAmount)

	s := NewSession(svc, common.Address{}, testChainID)
	_, err := s.Submit(ctx, "jack", "hello")
	assert.ErrorIs(t, err, ErrNoWallet)
	assert.Equal(t, StateIdle, s.Snapshot().State)

	s = NewSession(svc, alice, 1)
	_, err = s.Submit(ctx, "jack", "hello")
	assert.ErrorIs(t, err, ErrWrongNetwork)
	assert.Equal(t, CategoryTransport, Categorize(err))

	b := &countingBackend{Backend: svc, infoErr: errors.New("dial tcp: connection refused")}
	s = NewSession(b, alice, testChainID)
	_, err = s.Submit(ctx, "jack", "hello")
	assert.ErrorIs(t, err, ErrUnreachable)

	// Zero chain id accepts any network.
	s = NewSession(svc, alice, 0)
	_, err = s.Submit(ctx, "jack", "hello")
	assert.NoError(t, err)
}

func TestSessionFindByTxHash(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, claims.RewardAmount)

	first := NewSession(svc, alice, testChainID)
	id, err := first.Submit(ctx, "jack", "hello")
	require.NoError(t, err)
	txHash := *first.Snapshot().TxHash

	s := NewSession(svc, common.Address{}, testChainID)
	got, err := s.FindByTxHash(ctx, txHash)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, StateIDKnown, s.Snapshot().State)

	// Reads work without a wallet.
	st, err := s.CheckStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, st.Details.Claimer)

	dep, err := svc.Deposit(ctx, alice, big.NewInt(5))
	require.NoError(t, err)
	_, err = s.FindByTxHash(ctx, dep.TxHash)
	assert.ErrorIs(t, err, ErrNoAssertion)
	assert.Equal(t, StateIDKnown, s.Snapshot().State)

	_, err = s.FindByTxHash(ctx, common.HexToHash("0xdead"))
	assert.Error(t, err)
}

func TestSessionUnknownAssertion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, claims.RewardAmount)
	s := NewSession(svc, alice, testChainID)

	_, err := s.CheckStatus(ctx)
	assert.ErrorIs(t, err, ErrNoAssertion)
	_, err = s.Settle(ctx)
	assert.ErrorIs(t, err, ErrNoAssertion)

	assert.ErrorIs(t, s.UseAssertionID(common.Hash{}), core.ErrInvalidInput)
	require.NoError(t, s.UseAssertionID(common.HexToHash("0x1234")))
	_, err = s.CheckStatus(ctx)
	assert.ErrorIs(t, err, core.ErrClaimNotFound)
	assert.Equal(t, CategoryNotFound, Categorize(err))
	assert.Equal(t, StateIDKnown, s.Snapshot().State)

	_, err = s.Settle(ctx)
	assert.ErrorIs(t, err, core.ErrClaimNotFound)
}

func TestSessionSettleableGuessedOnReadFailure(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, claims.RewardAmount)
	b := &countingBackend{Backend: svc}
	s := NewSession(b, alice, testChainID)

	_, err := s.Submit(ctx, "jack", "hello")
	require.NoError(t, err)
	st, err := s.CheckStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.CanBeSettled)
	assert.True(t, st.SettleableGuessed)
	assert.Equal(t, StateSettleable, s.Snapshot().State)

	// The oracle still enforces the challenge window.
	_, err = s.Settle(ctx)
	assert.ErrorIs(t, err, core.ErrAssertionNotExpired)
}

func TestSessionInsufficientRegistryBalance(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t, big.NewInt(0))
	s := NewSession(svc, alice, testChainID)

	id, err := s.Submit(ctx, "jack", "hello")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = s.CheckStatus(ctx)
	require.NoError(t, err)

	_, err = s.Settle(ctx)
	require.Error(t, err)
	assert.Equal(t, CategoryResourceExhausted, Categorize(err))
	assert.Equal(t, StateSettleable, s.Snapshot().State)

	_, err = svc.Deposit(ctx, alice, claims.RewardAmount)
	require.NoError(t, err)
	_, err = s.Settle(ctx)
	require.NoError(t, err)

	d, err := svc.ClaimDetails(ctx, id)
	require.NoError(t, err)
	assert.True(t, d.IsRewarded)
}

// blockingBackend parks SubmitClaim until released.
type blockingBackend struct {
	Backend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) SubmitClaim(ctx context.Context, from common.Address, handle, text string) (*core.Receipt, error) {
	close(b.entered)
	<-b.release
	return b.Backend.SubmitClaim(ctx, from, handle, text)
}

func TestSessionRejectsConcurrentActions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, claims.RewardAmount)
	b := &blockingBackend{Backend: svc, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(b, alice, testChainID)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, "jack", "hello")
		done <- err
	}()
	<-b.entered

	snap := s.Snapshot()
	assert.True(t, snap.Busy)
	assert.Equal(t, StateSubmitting, snap.State)

	_, err := s.Submit(ctx, "jack", "again")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.FindByTxHash(ctx, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrBusy)

	close(b.release)
	require.NoError(t, <-done)
	assert.False(t, s.Snapshot().Busy)
	assert.Equal(t, StateIDKnown, s.Snapshot().State)
}

func TestAssertionIDFromLogs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, claims.RewardAmount)
	info, err := svc.Info(ctx)
	require.NoError(t, err)
	receipt, err := svc.SubmitClaim(ctx, alice, "jack", "hello")
	require.NoError(t, err)

	id, ok := AssertionIDFromLogs(receipt.Logs, info)
	require.True(t, ok)
	made := receipt.Logs[0]
	assert.Equal(t, made.Topics[1], id)

	// The oracle's log alone still yields the id.
	got, ok := AssertionIDFromLogs(receipt.Logs[:1], info)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	// Identical logs from any other contract are ignored.
	impostor := common.HexToAddress("0x00000000000000000000000000000000000bad00")
	var forged []core.Log
	for _, l := range receipt.Logs {
		l.Address = impostor
		forged = append(forged, l)
	}
	_, ok = AssertionIDFromLogs(forged, info)
	assert.False(t, ok)

	_, ok = AssertionIDFromLogs(nil, info)
	assert.False(t, ok)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{nil, CategoryNone},
		{ErrMissingInput, CategoryValidation},
		{ErrBusy, CategoryValidation},
		{ErrNoWallet, CategoryTransport},
		{core.ErrInsufficientBalance, CategoryResourceExhausted},
		{core.ErrInsufficientFunds, CategoryInsufficientFunds},
		{core.ErrTimeout, CategoryOutcomeUnknown},
		{errors.New("insufficient funds for gas * price + value"), CategoryInsufficientFunds},
		{core.ErrAssertionNotExpired, CategoryOracleTiming},
		{core.ErrAlreadyResolved, CategoryIdempotency},
		{core.ErrClaimNotFound, CategoryNotFound},
		{errors.New("execution reverted: Assertion not expired"), CategoryOracleTiming},
		{errors.New("execution reverted: Claim already resolved"), CategoryIdempotency},
		{errors.New("execution reverted: Insufficient balance"), CategoryResourceExhausted},
		{errors.New("execution reverted: Claim does not exist"), CategoryNotFound},
		{errors.New("nonce too low"), CategoryInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.err), "%v", tt.err)
	}
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(core.ErrInsufficientBalance), "fund")
}
