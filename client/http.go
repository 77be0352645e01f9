package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"tweetattest-backend/core"
)

// APIError is a non-2xx response from the attestation API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Receipt *core.Receipt
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Unwrap maps the wire code back to its sentinel so errors.Is works across the wire.
func (e *APIError) Unwrap() error {
	if err := core.FromCode(e.Code); err != nil {
		return err
	}
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return core.ErrUnauthorized
	}
	return nil
}

// HTTPBackend talks to attestd over its REST API.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBackend creates a backend for baseURL. A zero timeout defaults to 30s.
func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("X-API-Key", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if method != http.MethodGet && isTimeout(err) {
			return fmt.Errorf("%w: %v", core.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

func parseError(status int, data []byte) error {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(data))}
	if !gjson.ValidBytes(data) {
		return apiErr
	}
	parsed := gjson.ParseBytes(data)
	if msg := parsed.Get("error"); msg.Exists() {
		apiErr.Message = msg.String()
	}
	apiErr.Code = parsed.Get("code").String()
	if raw := parsed.Get("receipt"); raw.IsObject() {
		var r core.Receipt
		if err := json.Unmarshal([]byte(raw.Raw), &r); err == nil {
			apiErr.Receipt = &r
		}
	}
	return apiErr
}

// receiptOf returns the receipt echoed back in a failed transaction response.
func receiptOf(err error) *core.Receipt {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Receipt
	}
	return nil
}

type txResponse struct {
	Receipt *core.Receipt `json:"receipt"`
}

func (b *HTTPBackend) send(ctx context.Context, path string, body interface{}) (*core.Receipt, error) {
	var resp txResponse
	if err := b.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return receiptOf(err), err
	}
	if resp.Receipt == nil {
		return nil, fmt.Errorf("response for %s carried no receipt", path)
	}
	return resp.Receipt, nil
}

func (b *HTTPBackend) Info(ctx context.Context) (core.ChainInfo, error) {
	var info core.ChainInfo
	err := b.do(ctx, http.MethodGet, "/api/config", nil, &info)
	return info, err
}

func (b *HTTPBackend) SubmitClaim(ctx context.Context, from common.Address, handle, text string) (*core.Receipt, error) {
	return b.send(ctx, "/api/claims", map[string]string{
		"twitter_handle": handle,
		"tweet_text":     text,
		"from":           from.Hex(),
	})
}

func (b *HTTPBackend) Settle(ctx context.Context, from common.Address, id common.Hash) (*core.Receipt, error) {
	return b.send(ctx, "/api/claims/"+id.Hex()+"/settle", map[string]string{"from": from.Hex()})
}

// Deposit funds the registry with amount wei.
func (b *HTTPBackend) Deposit(ctx context.Context, from common.Address, amount *big.Int) (*core.Receipt, error) {
	return b.send(ctx, "/api/deposit", map[string]string{"amount_wei": amount.String(), "from": from.Hex()})
}

func (b *HTTPBackend) Dispute(ctx context.Context, from common.Address, id common.Hash) (*core.Receipt, error) {
	return b.send(ctx, "/api/assertions/"+id.Hex()+"/dispute", map[string]string{"from": from.Hex()})
}

func (b *HTTPBackend) ResolveDispute(ctx context.Context, from common.Address, id common.Hash, truthful bool) (*core.Receipt, error) {
	return b.send(ctx, "/api/assertions/"+id.Hex()+"/resolve", map[string]interface{}{"from": from.Hex(), "truthful": truthful})
}

func (b *HTTPBackend) Receipt(ctx context.Context, txHash common.Hash) (*core.Receipt, error) {
	var r core.Receipt
	if err := b.do(ctx, http.MethodGet, "/api/tx/"+txHash.Hex(), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (b *HTTPBackend) ClaimDetails(ctx context.Context, id common.Hash) (core.ClaimDetails, error) {
	var d core.ClaimDetails
	err := b.do(ctx, http.MethodGet, "/api/claims/"+id.Hex(), nil, &d)
	return d, err
}

func (b *HTTPBackend) Assertion(ctx context.Context, id common.Hash) (core.Assertion, error) {
	var a core.Assertion
	err := b.do(ctx, http.MethodGet, "/api/assertions/"+id.Hex(), nil, &a)
	return a, err
}

func (b *HTTPBackend) CanBeSettled(ctx context.Context, id common.Hash) (bool, error) {
	return b.flag(ctx, "/api/claims/"+id.Hex()+"/settleable", "can_be_settled")
}

func (b *HTTPBackend) IsClaimVerified(ctx context.Context, id common.Hash) (bool, error) {
	return b.flag(ctx, "/api/claims/"+id.Hex()+"/verified", "verified")
}

func (b *HTTPBackend) flag(ctx context.Context, path, field string) (bool, error) {
	var raw []byte
	if err := b.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return false, err
	}
	v := gjson.GetBytes(raw, field)
	if !v.Exists() {
		return false, fmt.Errorf("response for %s has no %s field", path, field)
	}
	return v.Bool(), nil
}

// Balance returns an account balance in wei.
func (b *HTTPBackend) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var raw []byte
	if err := b.do(ctx, http.MethodGet, "/api/balances/"+addr.Hex(), nil, &raw); err != nil {
		return nil, err
	}
	return core.ParseWei(gjson.GetBytes(raw, "balance_wei").String())
}
