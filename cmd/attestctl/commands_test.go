package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetattest-backend/client"
	"tweetattest-backend/config"
	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/core/ledger"
	"tweetattest-backend/core/oracle"
	"tweetattest-backend/storage"
)

var (
	registryAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	oracleAddr   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type harness struct {
	t       *testing.T
	svc     *claims.Service
	clock   *ledger.ManualClock
	cfgFile string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := ledger.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	chain, err := ledger.NewChain(storage.NewMemoryStore(), clock, 31337)
	require.NoError(t, err)
	require.NoError(t, chain.Genesis(context.Background(), map[common.Address]*big.Int{
		registryAddr: claims.RewardAmount,
		alice:        big.NewInt(1e18),
	}))
	orc := oracle.New(oracleAddr, time.Hour)
	svc := claims.NewService(chain, claims.NewRegistry(registryAddr, orc, nil), orc)

	cfgFile := filepath.Join(t.TempDir(), "attest.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("server: http://registry.invalid\napi_key: secret-key\n"), 0o600))
	return &harness{t: t, svc: svc, clock: clock, cfgFile: cfgFile}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	root := newRootCmd(func(*config.ClientConfig) backend { return h.svc })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", h.cfgFile}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) snapshot(args ...string) client.Snapshot {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err)
	var snap client.Snapshot
	require.NoError(h.t, json.Unmarshal([]byte(out), &snap), out)
	return snap
}

func TestClaimLifecycle(t *testing.T) {
	h := newHarness(t)

	snap := h.snapshot("submit", "--from", alice.Hex(), "--handle", "@jack", "--text", "just setting up my twttr")
	assert.Equal(t, client.StateIDKnown, snap.State)
	require.NotNil(t, snap.AssertionID)
	require.NotNil(t, snap.TxHash)
	id := snap.AssertionID.Hex()

	found := h.snapshot("find", snap.TxHash.Hex())
	require.NotNil(t, found.AssertionID)
	assert.Equal(t, id, found.AssertionID.Hex())

	status := h.snapshot("status", id)
	assert.Equal(t, client.StateNotYet, status.State)

	_, err := h.run("settle", id, "--from", alice.Hex())
	require.Error(t, err)
	assert.Equal(t, client.CategoryOracleTiming, client.Categorize(err))

	h.clock.Advance(2 * time.Hour)
	settled := h.snapshot("settle", id, "--from", alice.Hex())
	assert.Equal(t, client.StateSettled, settled.State)
	require.NotNil(t, settled.Status)
	assert.True(t, settled.Status.Details.IsRewarded)

	again := h.snapshot("settle", id, "--from", alice.Hex())
	assert.Equal(t, client.StateSettled, again.State)
	assert.Equal(t, "idempotency", again.ErrCategory)
}

func TestDepositAndBalance(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("deposit", "0.5", "--from", alice.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, `"status"`)

	out, err = h.run("balance", registryAddr.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, `"balance_wei": "510000000000000000"`)
	assert.Contains(t, out, `"balance_ether": "0.51"`)

	_, err = h.run("balance")
	assert.ErrorIs(t, err, client.ErrNoWallet)

	_, err = h.run("deposit", "lots", "--from", alice.Hex())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestDisputeNeedsResolution(t *testing.T) {
	h := newHarness(t)
	snap := h.snapshot("submit", "--from", alice.Hex(), "--handle", "jack", "--text", "hello")
	id := snap.AssertionID.Hex()

	_, err := h.run("dispute", id, "--from", alice.Hex())
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	_, err = h.run("settle", id, "--from", alice.Hex())
	assert.ErrorIs(t, err, core.ErrDisputeUnresolved)

	_, err = h.run("resolve", id, "--truthful", "--from", alice.Hex())
	require.NoError(t, err)
	settled := h.snapshot("settle", id, "--from", alice.Hex())
	assert.Equal(t, client.StateSettled, settled.State)
}

func TestConfigShowRedactsKey(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "server: http://registry.invalid")
	assert.Contains(t, out, "<redacted>")
	assert.NotContains(t, out, "secret-key")
}

func TestBadArguments(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("status", "0x12")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = h.run("submit", "--from", alice.Hex(), "--handle", "jack")
	assert.ErrorIs(t, err, client.ErrMissingInput)

	_, err = h.run("submit", "--from", "nobody", "--handle", "jack", "--text", "hi")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
