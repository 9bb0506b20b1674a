package api

import (
	"errors"
	"net/http"

	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/ledger"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/onramp"
	"github.com/leafsii/nft-marketplace/internal/registry"
)

var errorStatuses = []struct {
	err    error
	code   string
	status int
}{
	// engine
	{marketplace.ErrNotOwner, "NOT_OWNER", http.StatusForbidden},
	{marketplace.ErrNotSeller, "NOT_SELLER", http.StatusForbidden},
	{marketplace.ErrNotApproved, "NOT_APPROVED", http.StatusConflict},
	{marketplace.ErrNotListed, "NOT_LISTED", http.StatusNotFound},
	{marketplace.ErrAlreadyListed, "ALREADY_LISTED", http.StatusConflict},
	{marketplace.ErrStaleOwnership, "STALE_OWNERSHIP", http.StatusConflict},
	{marketplace.ErrInvalidRoyaltyConfig, "INVALID_ROYALTY_CONFIG", http.StatusBadRequest},
	{marketplace.ErrInvalidPrice, "INVALID_PRICE", http.StatusBadRequest},
	{marketplace.ErrInsufficientAllowance, "INSUFFICIENT_ALLOWANCE", http.StatusUnprocessableEntity},
	{marketplace.ErrInsufficientBalance, "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity},
	{marketplace.ErrInsufficientLiquidity, "INSUFFICIENT_LIQUIDITY", http.StatusUnprocessableEntity},
	{marketplace.ErrArithmeticOverflow, "ARITHMETIC_OVERFLOW", http.StatusUnprocessableEntity},

	// ledger
	{ledger.ErrInsufficientBalance, "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity},
	{ledger.ErrInsufficientAllowance, "INSUFFICIENT_ALLOWANCE", http.StatusUnprocessableEntity},
	{ledger.ErrZeroAddress, "ZERO_ADDRESS", http.StatusBadRequest},

	// registry
	{registry.ErrNonexistentAsset, "NONEXISTENT_ASSET", http.StatusNotFound},
	{registry.ErrNotAuthorized, "NOT_AUTHORIZED", http.StatusForbidden},
	{registry.ErrNotMinter, "NOT_MINTER", http.StatusForbidden},
	{registry.ErrWrongFrom, "WRONG_FROM", http.StatusConflict},
	{registry.ErrSelfApproval, "SELF_APPROVAL", http.StatusBadRequest},
	{registry.ErrZeroAddress, "ZERO_ADDRESS", http.StatusBadRequest},

	// on-ramp
	{onramp.ErrSoldOut, "SOLD_OUT", http.StatusConflict},
	{onramp.ErrInvalidAmount, "INVALID_AMOUNT", http.StatusBadRequest},

	// amounts
	{calc.ErrAmountOverflow, "ARITHMETIC_OVERFLOW", http.StatusUnprocessableEntity},
	{calc.ErrNegativeAmount, "INVALID_AMOUNT", http.StatusBadRequest},
	{calc.ErrFractionalAmount, "INVALID_AMOUNT", http.StatusBadRequest},
	{calc.ErrMalformedAmount, "INVALID_AMOUNT", http.StatusBadRequest},
}

// statusFor maps a domain failure to its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}
