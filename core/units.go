package core

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatEther renders a wei amount in ether without losing precision.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// ParseEther converts a decimal ether amount to wei. Fractions below one wei are truncated.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an ether amount", ErrInvalidInput, s)
	}
	return d.Shift(18).BigInt(), nil
}

// ParseWei parses a base-10 wei amount.
func ParseWei(s string) (*big.Int, error) {
	wei, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a wei amount", ErrInvalidInput, s)
	}
	return wei, nil
}
