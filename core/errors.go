package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrNotFound     = Err("not found")
	ErrInvalidInput = Err("invalid input")
	ErrUnauthorized = Err("unauthorized")
	ErrTimeout      = Err("request timed out; the transaction may still have been mined")

	ErrClaimNotFound       = Err("claim does not exist")
	ErrClaimExists         = Err("claim already exists")
	ErrAlreadyResolved     = Err("claim already resolved")
	ErrInsufficientBalance = Err("insufficient registry balance to pay reward")
	ErrInsufficientFunds   = Err("insufficient funds for transfer")

	ErrAssertionNotFound    = Err("assertion does not exist")
	ErrAssertionExists      = Err("assertion already exists")
	ErrAssertionNotExpired  = Err("assertion not expired: challenge period has not elapsed")
	ErrAssertionExpired     = Err("assertion expired: challenge period has elapsed")
	ErrAssertionNotSettled  = Err("assertion not settled")
	ErrAssertionSettled     = Err("assertion already settled")
	ErrAssertionDisputed    = Err("assertion already disputed")
	ErrAssertionNotDisputed = Err("assertion not disputed")
	ErrDisputeUnresolved    = Err("assertion dispute not yet resolved")
	ErrDisputeResolved      = Err("assertion dispute already resolved")
)

type errorCode struct {
	err    error
	code   string
	status int
}

// Ordered most specific first; ErrNotFound is a catch-all for storage misses.
var errorCodes = []errorCode{
	{ErrClaimNotFound, "CLAIM_NOT_FOUND", http.StatusNotFound},
	{ErrClaimExists, "CLAIM_EXISTS", http.StatusConflict},
	{ErrAlreadyResolved, "ALREADY_RESOLVED", http.StatusConflict},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS", http.StatusUnprocessableEntity},
	{ErrAssertionNotFound, "ASSERTION_NOT_FOUND", http.StatusNotFound},
	{ErrAssertionExists, "ASSERTION_EXISTS", http.StatusConflict},
	{ErrAssertionNotExpired, "ASSERTION_NOT_EXPIRED", http.StatusConflict},
	{ErrAssertionExpired, "ASSERTION_EXPIRED", http.StatusConflict},
	{ErrAssertionNotSettled, "ASSERTION_NOT_SETTLED", http.StatusConflict},
	{ErrAssertionSettled, "ASSERTION_SETTLED", http.StatusConflict},
	{ErrAssertionDisputed, "ASSERTION_DISPUTED", http.StatusConflict},
	{ErrAssertionNotDisputed, "ASSERTION_NOT_DISPUTED", http.StatusConflict},
	{ErrDisputeUnresolved, "DISPUTE_UNRESOLVED", http.StatusConflict},
	{ErrDisputeResolved, "DISPUTE_RESOLVED", http.StatusConflict},
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusForbidden},
	{ErrTimeout, "TIMEOUT", http.StatusServiceUnavailable},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
}

// Code returns the stable wire code for err and the HTTP status it maps to.
// Unknown errors map to INTERNAL / 500. An ended context maps to TIMEOUT.
func Code(err error) (string, int) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "TIMEOUT", http.StatusServiceUnavailable
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return "INTERNAL", http.StatusInternalServerError
}

// FromCode returns the sentinel registered for a wire code, or nil if the code is unknown.
func FromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// ParseHash parses a 0x-prefixed 32-byte hex string.
func ParseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q is not a 32-byte hex hash", ErrInvalidInput, s)
	}
	return common.BytesToHash(b), nil
}

// ParseAddress parses a hex account address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", ErrInvalidInput, s)
	}
	return common.HexToAddress(s), nil
}
