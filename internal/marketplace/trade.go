package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/ledger"
	"github.com/leafsii/nft-marketplace/internal/registry"
)

// List offers assetID for sale at price. caller must own the asset and have
// approved the marketplace to transfer it. Sale proceeds divide into
// shareCount equal shares: one per recipient, the rest to the seller.
func (e *Engine) List(ctx context.Context, caller address.Address, assetID int64, recipients []address.Address, shareCount int64, price decimal.Decimal) (*Listing, error) {
	var (
		out    *Listing
		events []Event
	)
	err := e.exec.Atomic(ctx, func(ctx context.Context) error {
		if err := validatePrice(price); err != nil {
			return err
		}
		if err := validateRoyalties(caller, recipients, shareCount); err != nil {
			return err
		}

		owner, err := e.registry.OwnerOf(ctx, assetID)
		if errors.Is(err, registry.ErrNonexistentAsset) {
			return fmt.Errorf("%w: %w", ErrNotOwner, err)
		}
		if err != nil {
			return err
		}
		if owner != caller {
			return ErrNotOwner
		}
		if err := e.requireApproval(ctx, assetID); err != nil {
			return err
		}

		if _, err := e.load(ctx, assetID); err == nil {
			return ErrAlreadyListed
		} else if !errors.Is(err, ErrNotListed) {
			return err
		}

		stored, err := e.insert(ctx, Listing{
			AssetID:           assetID,
			Seller:            caller,
			RoyaltyRecipients: recipients,
			RoyaltyShareCount: shareCount,
			Price:             price,
		})
		if err != nil {
			return err
		}
		out = stored.clone()
		events = append(events, newEvent(EventListed, caller, nil, stored.clone()))
		return nil
	})
	if err := e.finish(ctx, OpList, assetID, caller, err, events); err != nil {
		return nil, err
	}
	return out, nil
}

// Reprice changes the price of an active listing. The seller, or the
// operator for a market-owned listing, may call it.
func (e *Engine) Reprice(ctx context.Context, caller address.Address, assetID int64, newPrice decimal.Decimal) (*Listing, error) {
	var (
		out    *Listing
		events []Event
	)
	err := e.exec.Atomic(ctx, func(ctx context.Context) error {
		current, err := e.load(ctx, assetID)
		if err != nil {
			return err
		}
		if !e.controls(caller, current) {
			return ErrNotSeller
		}
		if err := validatePrice(newPrice); err != nil {
			return err
		}

		next := *current.clone()
		next.Price = newPrice
		stored, err := e.replace(ctx, next)
		if err != nil {
			return err
		}
		out = stored.clone()
		events = append(events, newEvent(EventPriceChanged, caller, current.clone(), stored.clone()))
		return nil
	})
	if err := e.finish(ctx, OpReprice, assetID, caller, err, events); err != nil {
		return nil, err
	}
	return out, nil
}

// Withdraw removes an active listing. A direct listing moves nothing. A
// market-owned listing may only be withdrawn by the operator and returns the
// asset to the seller who sold it to the market.
func (e *Engine) Withdraw(ctx context.Context, caller address.Address, assetID int64) (*Listing, error) {
	var (
		out    *Listing
		events []Event
	)
	err := e.exec.Atomic(ctx, func(ctx context.Context) error {
		current, err := e.load(ctx, assetID)
		if err != nil {
			return err
		}
		if !e.controls(caller, current) {
			return ErrNotSeller
		}

		if current.MarketOwned {
			if current.Depositor.IsZero() {
				return fmt.Errorf("market-owned listing for asset %d has no depositor", assetID)
			}
			if err := e.registry.TransferFrom(ctx, e.self, e.self, current.Depositor, assetID); err != nil {
				return fmt.Errorf("return asset to depositor: %w", err)
			}
		}
		if err := e.remove(ctx, assetID); err != nil {
			return err
		}

		out = current.withState(StateWithdrawn)
		events = append(events, newEvent(EventWithdrawn, caller, current.clone(), out.clone()))
		return nil
	})
	if err := e.finish(ctx, OpWithdraw, assetID, caller, err, events); err != nil {
		return nil, err
	}
	return out, nil
}

// Buy settles a direct listing: price is pulled from caller through its
// allowance, split between royalty recipients and the seller, and the asset
// moves from seller to caller.
func (e *Engine) Buy(ctx context.Context, caller address.Address, assetID int64) (*Receipt, error) {
	var (
		out    *Receipt
		events []Event
		stale  bool
	)
	err := e.exec.Atomic(ctx, func(ctx context.Context) error {
		current, err := e.load(ctx, assetID)
		if err != nil {
			return err
		}
		if current.MarketOwned {
			return ErrNotListed
		}

		if stale, err = e.purgeIfStale(ctx, caller, current, &events); err != nil || stale {
			return err
		}
		if err := e.requireApproval(ctx, assetID); err != nil {
			return err
		}
		if err := e.requireFunds(ctx, caller, current.Price); err != nil {
			return err
		}

		if err := e.pull(ctx, caller, current.Price); err != nil {
			return err
		}
		payouts, err := e.distribute(ctx, current)
		if err != nil {
			return err
		}
		if err := e.registry.TransferFrom(ctx, e.self, current.Seller, caller, assetID); err != nil {
			return fmt.Errorf("deliver asset: %w", err)
		}
		if err := e.remove(ctx, assetID); err != nil {
			return err
		}

		out = &Receipt{
			Kind:    SaleDirect,
			AssetID: assetID,
			Buyer:   caller,
			Seller:  current.Seller,
			Price:   current.Price,
			Payouts: payouts,
		}
		evt := newEvent(EventSold, caller, current.clone(), current.withState(StateSettled))
		evt.Receipt = out
		events = append(events, evt)
		return nil
	})
	if err == nil && stale {
		err = ErrStaleOwnership
	}
	if err := e.finish(ctx, OpBuy, assetID, caller, err, events); err != nil {
		return nil, err
	}
	e.recordSale(ctx, out)
	return out, nil
}

// SellToMarket lets the seller of a direct listing sell to the marketplace
// itself. The marketplace pays price out of its own balance with the same
// split as Buy, takes custody of the asset and relists it at the same price.
func (e *Engine) SellToMarket(ctx context.Context, caller address.Address, assetID int64) (*Receipt, error) {
	var (
		out    *Receipt
		events []Event
		stale  bool
	)
	err := e.exec.Atomic(ctx, func(ctx context.Context) error {
		current, err := e.load(ctx, assetID)
		if err != nil {
			return err
		}
		if current.MarketOwned {
			return ErrNotListed
		}
		if caller != current.Seller {
			return ErrNotSeller
		}

		if stale, err = e.purgeIfStale(ctx, caller, current, &events); err != nil || stale {
			return err
		}
		if err := e.requireApproval(ctx, assetID); err != nil {
			return err
		}
		liquidity, err := e.ledger.BalanceOf(ctx, e.self)
		if err != nil {
			return err
		}
		if liquidity.LessThan(current.Price) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientLiquidity, liquidity, current.Price)
		}

		payouts, err := e.distribute(ctx, current)
		if err != nil {
			return err
		}
		if err := e.registry.TransferFrom(ctx, e.self, current.Seller, e.self, assetID); err != nil {
			return fmt.Errorf("take custody: %w", err)
		}

		inventory, err := e.replace(ctx, Listing{
			AssetID:           assetID,
			Seller:            e.self,
			RoyaltyShareCount: 1,
			Price:             current.Price,
			MarketOwned:       true,
			Depositor:         current.Seller,
		})
		if err != nil {
			return err
		}

		out = &Receipt{
			Kind:    SaleToMarket,
			AssetID: assetID,
			Buyer:   e.self,
			Seller:  current.Seller,
			Price:   current.Price,
			Payouts: payouts,
			Listing: inventory.clone(),
		}
		evt := newEvent(EventSoldToMarket, caller, current.clone(), inventory.clone())
		evt.Receipt = out
		events = append(events, evt)
		return nil
	})
	if err == nil && stale {
		err = ErrStaleOwnership
	}
	if err := e.finish(ctx, OpSellToMarket, assetID, caller, err, events); err != nil {
		return nil, err
	}
	e.recordSale(ctx, out)
	return out, nil
}

// BuyFromMarketInventory sells a market-owned asset to caller. The whole
// price goes to the marketplace with no royalty split.
func (e *Engine) BuyFromMarketInventory(ctx context.Context, caller address.Address, assetID int64) (*Receipt, error) {
	var (
		out    *Receipt
		events []Event
		stale  bool
	)
	err := e.exec.Atomic(ctx, func(ctx context.Context) error {
		current, err := e.load(ctx, assetID)
		if err != nil {
			return err
		}
		if !current.MarketOwned {
			return ErrNotListed
		}

		if stale, err = e.purgeIfStale(ctx, caller, current, &events); err != nil || stale {
			return err
		}
		if err := e.requireFunds(ctx, caller, current.Price); err != nil {
			return err
		}

		if err := e.pull(ctx, caller, current.Price); err != nil {
			return err
		}
		if err := e.registry.TransferFrom(ctx, e.self, e.self, caller, assetID); err != nil {
			return fmt.Errorf("deliver asset: %w", err)
		}
		if err := e.remove(ctx, assetID); err != nil {
			return err
		}

		out = &Receipt{
			Kind:    SaleInventory,
			AssetID: assetID,
			Buyer:   caller,
			Seller:  e.self,
			Price:   current.Price,
			Payouts: []Payout{{Recipient: e.self, Amount: current.Price, Role: RoleMarketplace}},
		}
		evt := newEvent(EventInventorySold, caller, current.clone(), current.withState(StateSettled))
		evt.Receipt = out
		events = append(events, evt)
		return nil
	})
	if err == nil && stale {
		err = ErrStaleOwnership
	}
	if err := e.finish(ctx, OpBuyFromMarketInventory, assetID, caller, err, events); err != nil {
		return nil, err
	}
	e.recordSale(ctx, out)
	return out, nil
}

// controls reports whether caller may reprice or withdraw l.
func (e *Engine) controls(caller address.Address, l Listing) bool {
	if l.MarketOwned {
		return !e.operator.IsZero() && caller == e.operator
	}
	return caller == l.Seller
}

// purgeIfStale removes l when its seller no longer holds the asset. The
// removal commits with the enclosing transaction; the caller then reports
// ErrStaleOwnership.
func (e *Engine) purgeIfStale(ctx context.Context, caller address.Address, l Listing, events *[]Event) (bool, error) {
	owner, err := e.registry.OwnerOf(ctx, l.AssetID)
	if err != nil && !errors.Is(err, registry.ErrNonexistentAsset) {
		return false, err
	}
	if err == nil && owner == l.Seller {
		return false, nil
	}

	if err := e.remove(ctx, l.AssetID); err != nil {
		return false, err
	}
	e.logger.Warnw("Purged stale listing", "asset_id", l.AssetID, "seller", l.Seller, "owner", owner)
	*events = append(*events, newEvent(EventPurged, caller, l.clone(), l.withState(StateWithdrawn)))
	return true, nil
}

func (e *Engine) requireApproval(ctx context.Context, assetID int64) error {
	ok, err := e.registry.CanTransfer(ctx, e.self, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotApproved
	}
	return nil
}

func (e *Engine) requireFunds(ctx context.Context, buyer address.Address, price decimal.Decimal) error {
	allowed, err := e.ledger.Allowance(ctx, buyer, e.self)
	if err != nil {
		return err
	}
	if allowed.LessThan(price) {
		return fmt.Errorf("%w: allowance %s, price %s", ErrInsufficientAllowance, allowed, price)
	}
	bal, err := e.ledger.BalanceOf(ctx, buyer)
	if err != nil {
		return err
	}
	if bal.LessThan(price) {
		return fmt.Errorf("%w: balance %s, price %s", ErrInsufficientBalance, bal, price)
	}
	return nil
}

// pull moves price from buyer into the marketplace's balance.
func (e *Engine) pull(ctx context.Context, buyer address.Address, price decimal.Decimal) error {
	if price.IsZero() {
		return nil
	}
	if err := e.ledger.TransferFrom(ctx, e.self, buyer, e.self, price); err != nil {
		return fmt.Errorf("collect payment: %w", translateLedgerError(err))
	}
	return nil
}

// distribute pays l's price out of the marketplace balance: one share per
// royalty recipient in list order, then the seller's remainder.
func (e *Engine) distribute(ctx context.Context, l Listing) ([]Payout, error) {
	split, err := calc.SplitPayout(l.Price, l.RoyaltyShareCount, len(l.RoyaltyRecipients))
	if err != nil {
		if errors.Is(err, calc.ErrAmountOverflow) {
			return nil, fmt.Errorf("%w: %w", ErrArithmeticOverflow, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoyaltyConfig, err)
	}

	payouts := make([]Payout, 0, len(l.RoyaltyRecipients)+1)
	for _, r := range l.RoyaltyRecipients {
		payouts = append(payouts, Payout{Recipient: r, Amount: split.Share, Role: RoleRoyalty})
	}
	payouts = append(payouts, Payout{Recipient: l.Seller, Amount: split.SellerAmount, Role: RoleSeller})

	for _, p := range payouts {
		if p.Amount.IsZero() {
			continue
		}
		if err := e.ledger.Transfer(ctx, e.self, p.Recipient, p.Amount); err != nil {
			return nil, fmt.Errorf("pay %s %s: %w", p.Role, p.Recipient, translateLedgerError(err))
		}
	}
	return payouts, nil
}

func (e *Engine) recordSale(ctx context.Context, r *Receipt) {
	if e.metrics != nil && r != nil {
		e.metrics.RecordSale(ctx, string(r.Kind), r.Price)
	}
}

func validatePrice(price decimal.Decimal) error {
	if err := calc.ValidateTokenAmount(price, "price"); err != nil {
		if errors.Is(err, calc.ErrAmountOverflow) {
			return fmt.Errorf("%w: %w", ErrArithmeticOverflow, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidPrice, err)
	}
	return nil
}

func validateRoyalties(seller address.Address, recipients []address.Address, shareCount int64) error {
	switch {
	case shareCount < 1:
		return fmt.Errorf("%w: share count %d must be at least 1", ErrInvalidRoyaltyConfig, shareCount)
	case int64(len(recipients)) > shareCount:
		return fmt.Errorf("%w: %d recipients exceed %d shares", ErrInvalidRoyaltyConfig, len(recipients), shareCount)
	case len(recipients) > MaxRoyaltyRecipients:
		return fmt.Errorf("%w: more than %d recipients", ErrInvalidRoyaltyConfig, MaxRoyaltyRecipients)
	}
	for i, r := range recipients {
		if r.IsZero() {
			return fmt.Errorf("%w: recipient %d is the zero address", ErrInvalidRoyaltyConfig, i)
		}
		if r == seller {
			return fmt.Errorf("%w: recipient %d is the seller", ErrInvalidRoyaltyConfig, i)
		}
	}
	return nil
}

func translateLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return fmt.Errorf("%w: %w", ErrInsufficientAllowance, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	case errors.Is(err, ledger.ErrOverflow):
		return fmt.Errorf("%w: %w", ErrArithmeticOverflow, err)
	}
	return err
}
