package calc

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount   = errors.New("amount cannot be negative")
	ErrFractionalAmount = errors.New("amount must be a whole number of base units")
	ErrAmountOverflow   = errors.New("amount exceeds 2^256-1")
	ErrMalformedAmount  = errors.New("malformed amount")
)

// MaxAmount is the largest balance, allowance or price the ledger can represent.
var MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// IsWhole reports whether d has no fractional part.
func IsWhole(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// ValidateTokenAmount checks that amount is a whole, non-negative number within the ledger domain.
func ValidateTokenAmount(amount decimal.Decimal, operation string) error {
	switch {
	case amount.IsNegative():
		return fmt.Errorf("invalid %s amount %s: %w", operation, amount, ErrNegativeAmount)
	case !IsWhole(amount):
		return fmt.Errorf("invalid %s amount %s: %w", operation, amount, ErrFractionalAmount)
	case amount.GreaterThan(MaxAmount):
		return fmt.Errorf("invalid %s amount: %w", operation, ErrAmountOverflow)
	}
	return nil
}

// ParseTokenAmount parses a decimal string in base units, e.g. "1000000000000000000".
func ParseTokenAmount(raw, operation string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w %q: %v", ErrMalformedAmount, raw, err)
	}
	if err := ValidateTokenAmount(d, operation); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckedAdd returns a+b or ErrAmountOverflow when the sum leaves the ledger domain.
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	sum := a.Add(b)
	if sum.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrAmountOverflow
	}
	return sum, nil
}
