// Package marketplace is the settlement engine: it owns the listing table,
// validates every transition against the ledger and the registry, splits sale
// proceeds between royalty recipients and sellers, and moves funds and
// assets for the three trade paths.
package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/db"
	"github.com/leafsii/nft-marketplace/internal/db/entities"
	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Operation names used in errors, logs and metrics.
const (
	OpList                   = "list"
	OpReprice                = "reprice"
	OpWithdraw               = "withdraw"
	OpBuy                    = "buy"
	OpSellToMarket           = "sellToMarket"
	OpBuyFromMarketInventory = "buyFromMarketInventory"
)

// Ledger is the fungible token ledger proceeds settle in.
type Ledger interface {
	BalanceOf(ctx context.Context, owner address.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, owner, spender address.Address) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to address.Address, amount decimal.Decimal) error
	TransferFrom(ctx context.Context, spender, from, to address.Address, amount decimal.Decimal) error
}

// Registry is the asset registry listings refer to.
type Registry interface {
	OwnerOf(ctx context.Context, id int64) (address.Address, error)
	CanTransfer(ctx context.Context, spender address.Address, id int64) (bool, error)
	TransferFrom(ctx context.Context, caller, from, to address.Address, id int64) error
}

// Config is fixed for the lifetime of an engine.
type Config struct {
	// Address is the marketplace's own account: approved spender, payer of
	// sales to the market and custodian of inventory.
	Address address.Address
	// Operator may reprice and withdraw market-owned listings.
	Operator address.Address
}

// Engine is one marketplace instance. Ledger and registry must run on the
// same executor as the engine so that a trade commits or rolls back as a unit.
type Engine struct {
	exec     *db.Executor
	listings interfaces.Repository
	ledger   Ledger
	registry Registry
	self     address.Address
	operator address.Address
	notifier Notifier
	metrics  Recorder
	logger   *zap.SugaredLogger
}

// Option configures an Engine.
type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(r Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(exec *db.Executor, ledger Ledger, registry Registry, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Address.IsZero() {
		return nil, errors.New("marketplace address is required")
	}
	if cfg.Operator == cfg.Address {
		return nil, errors.New("operator must differ from the marketplace address")
	}
	e := &Engine{
		exec:     exec,
		listings: exec.Database().Repository(entities.ListingSchema),
		ledger:   ledger,
		registry: registry,
		self:     cfg.Address,
		operator: cfg.Operator,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Address() address.Address  { return e.self }
func (e *Engine) Operator() address.Address { return e.operator }

// Listing returns the active listing for assetID.
func (e *Engine) Listing(ctx context.Context, assetID int64) (*Listing, error) {
	var out *Listing
	err := e.exec.View(ctx, func(ctx context.Context) error {
		l, err := e.load(ctx, assetID)
		if err != nil {
			return err
		}
		out = l.clone()
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "listing", AssetID: assetID, Err: err}
	}
	return out, nil
}

// Listings returns active listings ordered by asset id, and the number matching f before paging.
func (e *Engine) Listings(ctx context.Context, f ListingFilter) ([]Listing, int64, error) {
	where := map[string]interface{}{}
	if !f.Seller.IsZero() {
		where["seller"] = f.Seller.String()
	}
	if f.MarketOwned != nil {
		where["market_owned"] = *f.MarketOwned
	}
	q := &interfaces.Query{
		Where:   interfaces.Where(where),
		OrderBy: []interfaces.OrderBy{{Field: "asset_id", Direction: "asc"}},
	}
	if f.Limit > 0 {
		q.Limit = &f.Limit
	}
	if f.Offset > 0 {
		q.Offset = &f.Offset
	}

	var (
		out   []Listing
		total int64
	)
	err := e.exec.View(ctx, func(ctx context.Context) error {
		page, err := e.listings.FindMany(ctx, q)
		if err != nil {
			return fmt.Errorf("list listings: %w", err)
		}
		total = page.Total
		out = make([]Listing, 0, len(page.Data))
		for _, record := range page.Data {
			ent, err := entities.ListingFromRecord(record)
			if err != nil {
				return err
			}
			out = append(out, listingFromEntity(ent))
		}
		return nil
	})
	return out, total, err
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Address: e.self, Operator: e.operator}
	err := e.exec.View(ctx, func(ctx context.Context) error {
		var err error
		if stats.Liquidity, err = e.ledger.BalanceOf(ctx, e.self); err != nil {
			return err
		}
		if stats.ActiveListings, err = e.listings.Count(ctx, nil); err != nil {
			return err
		}
		stats.InventoryListings, err = e.listings.Count(ctx, &interfaces.Query{
			Where: interfaces.Where(map[string]interface{}{"market_owned": true}),
		})
		return err
	})
	return stats, err
}

// load returns the stored listing or ErrNotListed.
func (e *Engine) load(ctx context.Context, assetID int64) (Listing, error) {
	record, err := e.listings.GetByID(ctx, interfaces.IntID(assetID))
	if errors.Is(err, interfaces.ErrNotFound) {
		return Listing{}, ErrNotListed
	}
	if err != nil {
		return Listing{}, fmt.Errorf("load listing: %w", err)
	}
	ent, err := entities.ListingFromRecord(record)
	if err != nil {
		return Listing{}, err
	}
	return listingFromEntity(ent), nil
}

func (e *Engine) insert(ctx context.Context, l Listing) (Listing, error) {
	record, err := l.entity().ToRecord()
	if err != nil {
		return Listing{}, err
	}
	stored, err := e.listings.Create(ctx, record)
	if err != nil {
		return Listing{}, fmt.Errorf("store listing: %w", err)
	}
	return decodeStored(stored)
}

func (e *Engine) replace(ctx context.Context, l Listing) (Listing, error) {
	record, err := l.entity().ToRecord()
	if err != nil {
		return Listing{}, err
	}
	stored, err := e.listings.Update(ctx, interfaces.IntID(l.AssetID), record)
	if err != nil {
		return Listing{}, fmt.Errorf("store listing: %w", err)
	}
	return decodeStored(stored)
}

func (e *Engine) remove(ctx context.Context, assetID int64) error {
	if err := e.listings.Delete(ctx, interfaces.IntID(assetID)); err != nil {
		return fmt.Errorf("remove listing: %w", err)
	}
	return nil
}

func decodeStored(record map[string]interface{}) (Listing, error) {
	ent, err := entities.ListingFromRecord(record)
	if err != nil {
		return Listing{}, err
	}
	return listingFromEntity(ent), nil
}

// finish wraps failures, records metrics and, on success, publishes the
// events of a committed transition.
func (e *Engine) finish(ctx context.Context, op string, assetID int64, caller address.Address, err error, events []Event) error {
	// Events of a partially committed failure (a purge) are still published.
	for _, evt := range events {
		e.publish(ctx, evt)
	}

	if err != nil {
		var engineErr *Error
		if !errors.As(err, &engineErr) {
			engineErr = &Error{Op: op, AssetID: assetID, Err: err}
		}
		if e.metrics != nil {
			e.metrics.RecordMarketFailure(ctx, op, Code(err))
		}
		e.logger.Debugw("Marketplace operation rejected", "op", op, "asset_id", assetID, "caller", caller, "code", Code(err), "error", err)
		return engineErr
	}

	if e.metrics != nil {
		e.metrics.RecordMarketOperation(ctx, op)
	}
	e.logger.Infow("Marketplace operation committed", "op", op, "asset_id", assetID, "caller", caller)
	return nil
}

func (e *Engine) publish(ctx context.Context, evt Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, evt); err != nil {
		e.logger.Warnw("Failed to publish marketplace event", "type", evt.Type, "asset_id", evt.AssetID, "error", err)
	}
}
