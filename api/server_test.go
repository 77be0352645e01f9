package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/core/ledger"
	"tweetattest-backend/core/oracle"
	"tweetattest-backend/events"
	"tweetattest-backend/middleware"
	"tweetattest-backend/storage"
	auth "tweetattest-backend/storage/auth"
)

var (
	registryAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	oracleAddr   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type harness struct {
	mux   *http.ServeMux
	clock *ledger.ManualClock
	svc   *claims.Service
}

func newHarness(t *testing.T, keys auth.APIKeyValidator) *harness {
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
	bus := events.NewBus(0)
	svc.OnReceipt(bus.PublishReceipt)

	mux := http.NewServeMux()
	NewServer(svc, keys, bus).RegisterRoutes(mux)
	RegisterDocs(mux)
	return &harness{mux: mux, clock: clock, svc: svc}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (h *harness) submit(t *testing.T, from common.Address) common.Hash {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/claims", SubmitClaimBody{
		TwitterHandle: "@drextron", TweetText: " gm ", From: from.Hex(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp TxResponse
	decode(t, rec, &resp)
	require.NotNil(t, resp.AssertionID)
	require.True(t, resp.Receipt.Succeeded())
	return *resp.AssertionID
}

func TestClaimLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, alice)

	rec := h.do(t, http.MethodGet, "/api/claims/"+id.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var claim ClaimResponse
	decode(t, rec, &claim)
	assert.True(t, claim.Exists)
	assert.Equal(t, alice, claim.Claimer)
	assert.Equal(t, "drextron", claim.TwitterHandle)
	assert.Equal(t, "gm", claim.TweetText)
	assert.False(t, claim.IsResolved)

	rec = h.do(t, http.MethodGet, "/api/claims/"+id.Hex()+"/settleable", nil)
	assert.JSONEq(t, `{"assertion_id":"`+id.Hex()+`","can_be_settled":false}`, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/claims/"+id.Hex()+"/settle", map[string]string{"from": bob.Hex()})
	require.Equal(t, http.StatusConflict, rec.Code)
	var failure ErrorResponse
	decode(t, rec, &failure)
	assert.Equal(t, "ASSERTION_NOT_EXPIRED", failure.Code)
	require.NotNil(t, failure.Receipt)
	assert.Equal(t, core.ReceiptStatusFailed, failure.Receipt.Status)

	h.clock.Advance(2 * time.Hour)
	rec = h.do(t, http.MethodPost, "/api/claims/"+id.Hex()+"/settle", map[string]string{"from": bob.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var settled TxResponse
	decode(t, rec, &settled)
	require.NotNil(t, settled.Truthful)
	assert.True(t, *settled.Truthful)

	rec = h.do(t, http.MethodGet, "/api/claims/"+id.Hex()+"/verified", nil)
	assert.JSONEq(t, `{"assertion_id":"`+id.Hex()+`","verified":true}`, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/claims/"+id.Hex()+"/settle", map[string]string{"from": bob.Hex()})
	require.Equal(t, http.StatusConflict, rec.Code)
	decode(t, rec, &failure)
	assert.Equal(t, "ALREADY_RESOLVED", failure.Code)

	rec = h.do(t, http.MethodGet, "/api/balances/"+alice.Hex(), nil)
	var bal map[string]string
	decode(t, rec, &bal)
	assert.Equal(t, new(big.Int).Add(big.NewInt(1e18), claims.RewardAmount).String(), bal["balance_wei"])

	rec = h.do(t, http.MethodGet, "/api/assertions/"+id.Hex()+"/result", nil)
	assert.JSONEq(t, `{"assertion_id":"`+id.Hex()+`","result":true}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/tx/"+settled.TxHash.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var receipt core.Receipt
	decode(t, rec, &receipt)
	assert.Len(t, receipt.Logs, 3)

	rec = h.do(t, http.MethodGet, "/api/claims?claimer="+alice.Hex(), nil)
	var list struct {
		Claims []ClaimResponse `json:"claims"`
		Total  int             `json:"total"`
	}
	decode(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.True(t, list.Claims[0].IsRewarded)

	rec = h.do(t, http.MethodGet, "/api/events?entity_id="+id.Hex()+"&limit=1", nil)
	var feed struct {
		Events []events.Event `json:"events"`
	}
	decode(t, rec, &feed)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, events.TypeRewardPaid, feed.Events[0].Type)
}

func TestUnknownClaim(t *testing.T) {
	h := newHarness(t, nil)
	id := common.HexToHash("0x1234")

	rec := h.do(t, http.MethodGet, "/api/claims/"+id.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var claim ClaimResponse
	decode(t, rec, &claim)
	assert.False(t, claim.Exists)
	assert.Equal(t, common.Address{}, claim.Claimer)

	rec = h.do(t, http.MethodPost, "/api/claims/"+id.Hex()+"/settle", map[string]string{"from": bob.Hex()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "CLAIM_NOT_FOUND")

	rec = h.do(t, http.MethodGet, "/api/claims/not-a-hash", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/assertions/"+id.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/claims", SubmitClaimBody{TwitterHandle: " ", TweetText: "gm", From: alice.Hex()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/claims", SubmitClaimBody{TwitterHandle: "a", TweetText: "gm"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "from address required")
}

func TestInsufficientBalanceAndDeposit(t *testing.T) {
	h := newHarness(t, nil)
	first := h.submit(t, alice)
	second := h.submit(t, alice)
	h.clock.Advance(2 * time.Hour)

	rec := h.do(t, http.MethodPost, "/api/claims/"+first.Hex()+"/settle", map[string]string{"from": alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/claims/"+second.Hex()+"/settle", map[string]string{"from": alice.Hex()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "INSUFFICIENT_BALANCE")

	rec = h.do(t, http.MethodPost, "/api/deposit", DepositBody{AmountEther: "0.01", From: alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/claims/"+second.Hex()+"/settle", map[string]string{"from": alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/deposit", DepositBody{AmountWei: "1", AmountEther: "1", From: alice.Hex()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMode(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	keys.Seed("user-key", alice, false)
	keys.Seed("admin-key", bob, true)
	h := newHarness(t, keys)

	rec := h.do(t, http.MethodPost, "/api/claims", SubmitClaimBody{TwitterHandle: "drextron", TweetText: "gm"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/claims",
		SubmitClaimBody{TwitterHandle: "drextron", TweetText: "gm", From: bob.Hex()}, "X-API-Key", "user-key")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp TxResponse
	decode(t, rec, &resp)
	assert.Equal(t, alice, resp.Receipt.From, "sender comes from the key, not the body")
	id := *resp.AssertionID

	rec = h.do(t, http.MethodGet, "/api/claims", nil, "X-API-Key", "user-key")
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = h.do(t, http.MethodPost, "/api/assertions/"+id.Hex()+"/dispute", nil, "X-API-Key", "admin-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/assertions/"+id.Hex()+"/resolve", map[string]bool{"truthful": false}, "X-API-Key", "user-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/assertions/"+id.Hex()+"/resolve", map[string]bool{"truthful": false}, "X-API-Key", "admin-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/claims/"+id.Hex()+"/settle", nil, "X-API-Key", "user-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &resp)
	require.NotNil(t, resp.Truthful)
	assert.False(t, *resp.Truthful)

	rec = h.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code, "config is public")
	var cfg ConfigResponse
	decode(t, rec, &cfg)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, uint64(31337), cfg.ChainID)
	assert.Equal(t, registryAddr, cfg.RegistryAddress)
	assert.Equal(t, "0.01", cfg.RewardEther)
	assert.Equal(t, int64(3600), cfg.LivenessSeconds)
}

func TestKeyIssueAndLogin(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	keys.Seed("user-key", alice, false)
	keys.Seed("admin-key", bob, true)
	h := newHarness(t, keys)

	rec := h.do(t, http.MethodPost, "/api/keys", IssueKeyBody{Label: "ci"}, "X-API-Key", "user-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/keys", IssueKeyBody{Label: "ci"}, "X-API-Key", "admin-key")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued struct {
		APIKey string `json:"api_key"`
	}
	decode(t, rec, &issued)
	require.NotEmpty(t, issued.APIKey)

	// No wallet bound yet: transactions are rejected.
	rec = h.do(t, http.MethodPost, "/api/claims", SubmitClaimBody{TwitterHandle: "jack", TweetText: "hi"}, "X-API-Key", issued.APIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	carol := common.HexToAddress("0x00000000000000000000000000000000000ca201")
	rec = h.do(t, http.MethodPost, "/api/keys/login", map[string]string{"api_key": issued.APIKey, "wallet_address": carol.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bound, ok := keys.Get(issued.APIKey)
	require.True(t, ok)
	assert.Equal(t, carol, bound.Wallet)

	rec = h.do(t, http.MethodPost, "/api/keys/login", map[string]string{"api_key": issued.APIKey, "wallet_address": alice.Hex()})
	assert.Equal(t, http.StatusForbidden, rec.Code, "rebinding is refused")

	rec = h.do(t, http.MethodPost, "/api/keys/login", map[string]string{"api_key": "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDepositQR(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/api/deposit/qr?amount_ether=0.5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ethereum:"+registryAddr.Hex()+"@31337?value=500000000000000000", rec.Header().Get("X-Payment-URI"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestDocsAndABI(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	decode(t, rec, &doc)
	assert.Contains(t, doc["paths"], "/api/claims")

	rec = h.do(t, http.MethodGet, "/api/abi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ClaimSubmitted"))
	assert.True(t, strings.Contains(rec.Body.String(), "AssertionMade"))
}

// slowStore delays every write so requests outlive short server timeouts.
type slowStore struct {
	*storage.MemoryStore
	delay time.Duration
}

func (s *slowStore) Update(ctx context.Context, fn func(core.StateWriter) error) error {
	time.Sleep(s.delay)
	return s.MemoryStore.Update(ctx, fn)
}

func TestSlowSubmitReportsCommit(t *testing.T) {
	store := &slowStore{MemoryStore: storage.NewMemoryStore()}
	chain, err := ledger.NewChain(store, ledger.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)), 31337)
	require.NoError(t, err)
	require.NoError(t, chain.Genesis(context.Background(), map[common.Address]*big.Int{alice: big.NewInt(1e18)}))
	orc := oracle.New(oracleAddr, time.Hour)
	svc := claims.NewService(chain, claims.NewRegistry(registryAddr, orc, nil), orc)

	mux := http.NewServeMux()
	NewServer(svc, nil, nil).RegisterRoutes(mux)
	handler := middleware.Chain(mux, middleware.Recovery, middleware.Timeout(20*time.Millisecond))
	store.delay = 100 * time.Millisecond

	body, err := json.Marshal(SubmitClaimBody{TwitterHandle: "jack", TweetText: "gm", From: alice.Hex()})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/claims", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp TxResponse
	decode(t, rec, &resp)
	ids, err := svc.ClaimsByClaimer(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.NotNil(t, resp.AssertionID)
	assert.Equal(t, ids[0], *resp.AssertionID)
}
