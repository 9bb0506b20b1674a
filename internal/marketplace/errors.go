package marketplace

import (
	"errors"
	"fmt"
)

// Failures surfaced to callers. On any of them, no state changed, except
// that ErrStaleOwnership also removes the stale listing.
var (
	ErrNotOwner              = errors.New("caller does not own the asset")
	ErrNotApproved           = errors.New("marketplace is not approved to transfer the asset")
	ErrNotSeller             = errors.New("caller is not the seller")
	ErrNotListed             = errors.New("asset is not listed")
	ErrAlreadyListed         = errors.New("asset is already listed")
	ErrStaleOwnership        = errors.New("seller no longer owns the asset")
	ErrInvalidRoyaltyConfig  = errors.New("invalid royalty configuration")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientLiquidity = errors.New("marketplace liquidity below price")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrInvalidPrice          = errors.New("invalid price")
)

// Error records which operation on which asset failed.
type Error struct {
	Op      string
	AssetID int64
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s asset %d: %v", e.Op, e.AssetID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var codes = []struct {
	err  error
	code string
}{
	{ErrNotOwner, "NOT_OWNER"},
	{ErrNotApproved, "NOT_APPROVED"},
	{ErrNotSeller, "NOT_SELLER"},
	{ErrNotListed, "NOT_LISTED"},
	{ErrAlreadyListed, "ALREADY_LISTED"},
	{ErrStaleOwnership, "STALE_OWNERSHIP"},
	{ErrInvalidRoyaltyConfig, "INVALID_ROYALTY_CONFIG"},
	{ErrInsufficientAllowance, "INSUFFICIENT_ALLOWANCE"},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrInsufficientLiquidity, "INSUFFICIENT_LIQUIDITY"},
	{ErrArithmeticOverflow, "ARITHMETIC_OVERFLOW"},
	{ErrInvalidPrice, "INVALID_PRICE"},
}

// Code maps an engine failure to a stable upper-snake identifier.
// Unknown errors map to "INTERNAL".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
