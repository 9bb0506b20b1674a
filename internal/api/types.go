package api

import (
	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/genesis"
	"github.com/leafsii/nft-marketplace/internal/ledger"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type InfoDTO struct {
	Addresses  genesis.Addresses `json:"addresses"`
	Token      ledger.Metadata   `json:"token"`
	OnrampRate decimal.Decimal   `json:"onramp_rate"`
}

type SupplyDTO struct {
	TotalSupply decimal.Decimal `json:"total_supply"`
}

type BalanceDTO struct {
	Address address.Address `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

type AllowanceDTO struct {
	Owner     address.Address `json:"owner"`
	Spender   address.Address `json:"spender"`
	Allowance decimal.Decimal `json:"allowance"`
}

// Amounts travel as decimal strings in base units.

type ApproveTokensRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type TransferTokensRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type MintAssetRequest struct {
	To  string `json:"to"`
	URI string `json:"uri"`
}

type MintAssetResponse struct {
	ID int64 `json:"id"`
}

type ApproveAssetRequest struct {
	// To is cleared when empty.
	To string `json:"to"`
}

type TransferAssetRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type SetOperatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type OnrampBuyRequest struct {
	BaseAmount string `json:"base_amount"`
}

type ListRequest struct {
	AssetID           int64    `json:"asset_id"`
	RoyaltyRecipients []string `json:"royalty_recipients"`
	RoyaltyShareCount int64    `json:"royalty_share_count"`
	Price             string   `json:"price"`
}

type RepriceRequest struct {
	Price string `json:"price"`
}

type ListingsDTO struct {
	Items  []marketplace.Listing `json:"items"`
	Total  int64                 `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type EventsDTO struct {
	Items      []marketplace.Event `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type ReadinessDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
