package client

import (
	"errors"
	"strings"

	"tweetattest-backend/core"
)

var (
	ErrMissingInput = core.Err("twitter handle and tweet text are required")
	ErrNoAssertion  = core.Err("no assertion id known for this claim")
	ErrNoWallet     = core.Err("no wallet connected")
	ErrWrongNetwork = core.Err("wallet is connected to the wrong network")
	ErrUnreachable  = core.Err("registry unreachable")
	ErrBusy         = core.Err("another action is still in progress")
)

// Category groups failures by what the user can do about them.
type Category int

const (
	CategoryNone Category = iota
	CategoryValidation
	CategoryNotFound
	CategoryResourceExhausted
	CategoryInsufficientFunds
	CategoryOracleTiming
	CategoryIdempotency
	CategoryTransport
	CategoryOutcomeUnknown
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryValidation:
		return "validation"
	case CategoryNotFound:
		return "not-found"
	case CategoryResourceExhausted:
		return "resource-exhausted"
	case CategoryInsufficientFunds:
		return "insufficient-funds"
	case CategoryOracleTiming:
		return "oracle-timing"
	case CategoryIdempotency:
		return "idempotency"
	case CategoryTransport:
		return "transport"
	case CategoryOutcomeUnknown:
		return "outcome-unknown"
	default:
		return "internal"
	}
}

// Categorize classifies err. Sentinels are matched first; revert text from
// foreign backends falls back to substring matching.
func Categorize(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrMissingInput), errors.Is(err, ErrBusy), errors.Is(err, core.ErrInvalidInput):
		return CategoryValidation
	case errors.Is(err, ErrNoWallet), errors.Is(err, ErrWrongNetwork), errors.Is(err, ErrUnreachable),
		errors.Is(err, core.ErrUnauthorized):
		return CategoryTransport
	case errors.Is(err, core.ErrInsufficientBalance):
		return CategoryResourceExhausted
	case errors.Is(err, core.ErrInsufficientFunds):
		return CategoryInsufficientFunds
	case errors.Is(err, core.ErrTimeout):
		return CategoryOutcomeUnknown
	case errors.Is(err, core.ErrAssertionNotExpired), errors.Is(err, core.ErrDisputeUnresolved):
		return CategoryOracleTiming
	case errors.Is(err, core.ErrAlreadyResolved):
		return CategoryIdempotency
	case errors.Is(err, core.ErrClaimNotFound), errors.Is(err, core.ErrAssertionNotFound),
		errors.Is(err, core.ErrNotFound), errors.Is(err, ErrNoAssertion):
		return CategoryNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "challenge period"), strings.Contains(msg, "not expired"):
		return CategoryOracleTiming
	case strings.Contains(msg, "already resolved"):
		return CategoryIdempotency
	case strings.Contains(msg, "insufficient funds"):
		return CategoryInsufficientFunds
	case strings.Contains(msg, "insufficient"):
		return CategoryResourceExhausted
	case strings.Contains(msg, "does not exist"):
		return CategoryNotFound
	}
	return CategoryInternal
}

// UserMessage renders err for display.
func UserMessage(err error) string {
	switch Categorize(err) {
	case CategoryNone:
		return ""
	case CategoryValidation:
		return err.Error()
	case CategoryNotFound:
		return "Claim does not exist: " + err.Error()
	case CategoryResourceExhausted:
		return "The registry cannot pay the reward right now. Ask an operator to fund it, then settle again."
	case CategoryInsufficientFunds:
		return "Your wallet does not hold enough to cover this amount. Nothing was sent."
	case CategoryOracleTiming:
		return "The challenge period has not ended yet. Try settling again later."
	case CategoryIdempotency:
		return "This claim was already resolved. Status refreshed."
	case CategoryTransport:
		return "Connection problem: " + err.Error()
	case CategoryOutcomeUnknown:
		return "The server did not answer in time and the transaction may still have gone through. Look it up by transaction hash or check your claims before retrying."
	default:
		return "Unexpected error: " + err.Error()
	}
}
