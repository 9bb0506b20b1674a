package marketplace

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/db/entities"
)

// State is the lifecycle position of a listing.
type State string

const (
	StateActive    State = "Active"
	StateWithdrawn State = "Withdrawn"
	StateSettled   State = "Settled"
)

// MaxRoyaltyRecipients bounds the payout fan-out of a single sale.
const MaxRoyaltyRecipients = 256

// Listing is a snapshot of an asset offered for sale. Only Active listings
// are stored; Withdrawn and Settled appear in results and events.
type Listing struct {
	AssetID           int64             `json:"asset_id"`
	Seller            address.Address   `json:"seller"`
	RoyaltyRecipients []address.Address `json:"royalty_recipients"`
	RoyaltyShareCount int64             `json:"royalty_share_count"`
	Price             decimal.Decimal   `json:"price"`
	State             State             `json:"state"`
	MarketOwned       bool              `json:"market_owned"`
	Depositor         address.Address   `json:"depositor,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (l Listing) clone() *Listing {
	c := l
	c.RoyaltyRecipients = append([]address.Address(nil), l.RoyaltyRecipients...)
	return &c
}

func (l Listing) withState(s State) *Listing {
	c := l.clone()
	c.State = s
	return c
}

func (l Listing) entity() entities.Listing {
	recipients := make([]string, len(l.RoyaltyRecipients))
	for i, r := range l.RoyaltyRecipients {
		recipients[i] = r.String()
	}
	return entities.Listing{
		AssetID:     l.AssetID,
		Seller:      l.Seller.String(),
		Recipients:  recipients,
		ShareCount:  l.RoyaltyShareCount,
		Price:       l.Price,
		MarketOwned: l.MarketOwned,
		Depositor:   l.Depositor.String(),
	}
}

func listingFromEntity(e entities.Listing) Listing {
	recipients := make([]address.Address, len(e.Recipients))
	for i, r := range e.Recipients {
		recipients[i] = address.Address(r)
	}
	return Listing{
		AssetID:           e.AssetID,
		Seller:            address.Address(e.Seller),
		RoyaltyRecipients: recipients,
		RoyaltyShareCount: e.ShareCount,
		Price:             e.Price,
		State:             StateActive,
		MarketOwned:       e.MarketOwned,
		Depositor:         address.Address(e.Depositor),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// PayoutRole says why an address was paid.
type PayoutRole string

const (
	RoleRoyalty     PayoutRole = "royalty"
	RoleSeller      PayoutRole = "seller"
	RoleMarketplace PayoutRole = "marketplace"
)

// Payout is one transfer made while settling a sale. Zero amounts are
// reported but not transferred.
type Payout struct {
	Recipient address.Address `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Role      PayoutRole      `json:"role"`
}

// SaleKind distinguishes the three trade paths.
type SaleKind string

const (
	SaleDirect    SaleKind = "direct"
	SaleToMarket  SaleKind = "to_market"
	SaleInventory SaleKind = "inventory"
)

// Receipt is the result of a completed trade.
type Receipt struct {
	Kind    SaleKind        `json:"kind"`
	AssetID int64           `json:"asset_id"`
	Buyer   address.Address `json:"buyer"`
	Seller  address.Address `json:"seller"`
	Price   decimal.Decimal `json:"price"`
	Payouts []Payout        `json:"payouts"`
	// Listing is the market-owned listing created by a sale to the market.
	Listing *Listing `json:"listing,omitempty"`
}

// ListingFilter narrows Listings. Zero values match everything.
type ListingFilter struct {
	Seller      address.Address
	MarketOwned *bool
	Limit       int
	Offset      int
}

// Stats summarizes the marketplace's own position.
type Stats struct {
	Address           address.Address `json:"address"`
	Operator          address.Address `json:"operator"`
	Liquidity         decimal.Decimal `json:"liquidity"`
	ActiveListings    int64           `json:"active_listings"`
	InventoryListings int64           `json:"inventory_listings"`
}
