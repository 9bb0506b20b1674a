package marketplace

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/address"
)

// EventType names a committed state transition.
type EventType string

const (
	EventListed        EventType = "LISTED"
	EventPriceChanged  EventType = "PRICE_CHANGED"
	EventWithdrawn     EventType = "WITHDRAWN"
	EventSold          EventType = "SOLD"
	EventSoldToMarket  EventType = "SOLD_TO_MARKET"
	EventInventorySold EventType = "INVENTORY_SOLD"
	EventPurged        EventType = "PURGED"
)

// AllEventTypes lists every event type in lifecycle order.
var AllEventTypes = []EventType{
	EventListed, EventPriceChanged, EventWithdrawn, EventSold,
	EventSoldToMarket, EventInventorySold, EventPurged,
}

// Event carries enough to rebuild a listing's before and after state.
// Before is nil for LISTED; After is the terminal snapshot for WITHDRAWN,
// SOLD, INVENTORY_SOLD and PURGED.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	AssetID   int64            `json:"asset_id"`
	Actor     address.Address  `json:"actor"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Before    *Listing         `json:"before,omitempty"`
	After     *Listing         `json:"after,omitempty"`
	Receipt   *Receipt         `json:"receipt,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func newEvent(typ EventType, actor address.Address, before, after *Listing) Event {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Actor:     actor,
		Before:    before,
		After:     after,
		Timestamp: time.Now().UTC(),
	}
	switch {
	case after != nil:
		evt.AssetID = after.AssetID
		p := after.Price
		evt.Price = &p
	case before != nil:
		evt.AssetID = before.AssetID
	}
	return evt
}

// Participants lists every account the event concerns, in order of first
// appearance, without duplicates or the zero address.
func (e Event) Participants() []address.Address {
	var out []address.Address
	seen := map[address.Address]bool{}
	add := func(a address.Address) {
		if !a.IsZero() && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	add(e.Actor)
	for _, l := range []*Listing{e.Before, e.After} {
		if l == nil {
			continue
		}
		add(l.Seller)
		add(l.Depositor)
		for _, r := range l.RoyaltyRecipients {
			add(r)
		}
	}
	if e.Receipt != nil {
		add(e.Receipt.Buyer)
		add(e.Receipt.Seller)
		for _, p := range e.Receipt.Payouts {
			add(p.Recipient)
		}
	}
	return out
}

// Notifier receives events after the transition that produced them has
// committed. Errors are logged and never undo the transition.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Recorder receives operation metrics.
type Recorder interface {
	RecordMarketOperation(ctx context.Context, op string)
	RecordSale(ctx context.Context, kind string, price decimal.Decimal)
	RecordMarketFailure(ctx context.Context, op, reason string)
}
