package mcp

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"

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

func newTestServer(t *testing.T, wallet common.Address) (*Server, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	chain, err := ledger.NewChain(storage.NewMemoryStore(), clock, 31337)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if err := chain.Genesis(context.Background(), map[common.Address]*big.Int{registryAddr: claims.RewardAmount}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	orc := oracle.New(oracleAddr, time.Hour)
	svc := claims.NewService(chain, claims.NewRegistry(registryAddr, orc, nil), orc)
	return NewServer(svc, wallet, 31337), clock
}

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h toolHandler, args map[string]interface{}) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func decodeSnapshot(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return out
}

func TestClaimTools(t *testing.T) {
	s, clock := newTestServer(t, alice)

	var assertionID, txHash string

	t.Run("get_config", func(t *testing.T) {
		body, isErr := call(t, s.handleGetConfig, nil)
		if isErr {
			t.Fatalf("unexpected error: %s", body)
		}
		if !strings.Contains(body, `"reward_ether": "0.01"`) || !strings.Contains(body, `"liveness_seconds": 3600`) {
			t.Fatalf("unexpected config: %s", body)
		}
	})

	t.Run("submit_claim", func(t *testing.T) {
		body, isErr := call(t, s.handleSubmitClaim, map[string]interface{}{
			"twitter_handle": "@jack",
			"tweet_text":     "just setting up my twttr",
		})
		if isErr {
			t.Fatalf("unexpected error: %s", body)
		}
		snap := decodeSnapshot(t, body)
		if snap["state"] != "id-known" {
			t.Fatalf("expected id-known, got %v", snap["state"])
		}
		assertionID, _ = snap["assertion_id"].(string)
		txHash, _ = snap["tx_hash"].(string)
		if assertionID == "" || txHash == "" {
			t.Fatalf("missing ids in %s", body)
		}
	})

	t.Run("submit_claim missing text", func(t *testing.T) {
		body, isErr := call(t, s.handleSubmitClaim, map[string]interface{}{"twitter_handle": "jack"})
		if !isErr || !strings.Contains(body, `"category":"validation"`) {
			t.Fatalf("expected validation error, got %s", body)
		}
	})

	t.Run("find_claim_by_tx", func(t *testing.T) {
		body, isErr := call(t, s.handleFindClaimByTx, map[string]interface{}{"tx_hash": txHash})
		if isErr {
			t.Fatalf("unexpected error: %s", body)
		}
		if decodeSnapshot(t, body)["assertion_id"] != assertionID {
			t.Fatalf("wrong assertion id in %s", body)
		}
	})

	t.Run("settle_claim too early", func(t *testing.T) {
		body, isErr := call(t, s.handleSettleClaim, map[string]interface{}{"assertion_id": assertionID})
		if !isErr {
			t.Fatalf("expected error, got %s", body)
		}
		if !strings.Contains(body, `"code":"ASSERTION_NOT_EXPIRED"`) || !strings.Contains(body, `"category":"oracle-timing"`) {
			t.Fatalf("unexpected error body: %s", body)
		}
	})

	t.Run("get_claim_status", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		body, isErr := call(t, s.handleGetClaimStatus, map[string]interface{}{"assertion_id": assertionID})
		if isErr {
			t.Fatalf("unexpected error: %s", body)
		}
		snap := decodeSnapshot(t, body)
		if snap["state"] != "settleable" {
			t.Fatalf("expected settleable, got %v", snap["state"])
		}
	})

	t.Run("settle_claim", func(t *testing.T) {
		body, isErr := call(t, s.handleSettleClaim, map[string]interface{}{"assertion_id": assertionID})
		if isErr {
			t.Fatalf("unexpected error: %s", body)
		}
		if decodeSnapshot(t, body)["state"] != "settled" {
			t.Fatalf("expected settled: %s", body)
		}
	})

	t.Run("settle_claim again reports status", func(t *testing.T) {
		body, isErr := call(t, s.handleSettleClaim, map[string]interface{}{"assertion_id": assertionID})
		if isErr {
			t.Fatalf("already resolved should not be a tool error: %s", body)
		}
		snap := decodeSnapshot(t, body)
		if snap["state"] != "settled" || snap["error_category"] != "idempotency" {
			t.Fatalf("unexpected snapshot: %s", body)
		}
	})
}

func TestToolErrors(t *testing.T) {
	s, _ := newTestServer(t, common.Address{})

	t.Run("no wallet", func(t *testing.T) {
		body, isErr := call(t, s.handleSubmitClaim, map[string]interface{}{"twitter_handle": "jack", "tweet_text": "hi"})
		if !isErr || !strings.Contains(body, `"code":"TRANSPORT"`) {
			t.Fatalf("expected transport error, got %s", body)
		}
	})

	t.Run("bad from", func(t *testing.T) {
		body, isErr := call(t, s.handleSubmitClaim, map[string]interface{}{"twitter_handle": "jack", "tweet_text": "hi", "from": "bob"})
		if !isErr || !strings.Contains(body, `"code":"INVALID_INPUT"`) {
			t.Fatalf("expected invalid input, got %s", body)
		}
	})

	t.Run("unknown claim", func(t *testing.T) {
		body, isErr := call(t, s.handleGetClaimStatus, map[string]interface{}{"assertion_id": common.HexToHash("0x42").Hex()})
		if !isErr || !strings.Contains(body, `"code":"CLAIM_NOT_FOUND"`) {
			t.Fatalf("expected not found, got %s", body)
		}
	})

	t.Run("missing assertion id", func(t *testing.T) {
		body, isErr := call(t, s.handleSettleClaim, map[string]interface{}{})
		if !isErr || !strings.Contains(body, `"category":"not-found"`) {
			t.Fatalf("expected not-found, got %s", body)
		}
	})

	t.Run("bad tx hash", func(t *testing.T) {
		_, isErr := call(t, s.handleFindClaimByTx, map[string]interface{}{"tx_hash": "0x12"})
		if !isErr {
			t.Fatalf("expected error")
		}
	})
}

func TestStreamableHTTPInitialize(t *testing.T) {
	s, _ := newTestServer(t, alice)
	srv := httptest.NewServer(s.HTTPHandler())
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0.0.1"}}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, out)
	}
	if !strings.Contains(string(out), serverName) {
		t.Fatalf("server info missing from %s", out)
	}
}

func TestSignerOverridesFrom(t *testing.T) {
	s, _ := newTestServer(t, common.Address{})
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	s.SetSigner(func(ctx context.Context) (common.Address, bool) { return bob, true })

	body, isErr := call(t, s.handleSubmitClaim, map[string]interface{}{
		"twitter_handle": "jack",
		"tweet_text":     "hello",
		"from":           alice.Hex(),
	})
	if isErr {
		t.Fatalf("unexpected error: %s", body)
	}
	if got := decodeSnapshot(t, body)["wallet"]; got != bob.Hex() {
		t.Fatalf("expected signer wallet %s, got %v", bob.Hex(), got)
	}
}
