package marketplace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/db"
	"github.com/leafsii/nft-marketplace/internal/ledger"
	"github.com/leafsii/nft-marketplace/internal/registry"
)

var (
	market   = address.MustParse("0x00000000000000000000000000000000000000aa")
	operator = address.MustParse("0x00000000000000000000000000000000000000ab")
	minter   = address.MustParse("0x00000000000000000000000000000000000000ac")
	seller   = address.MustParse("0x0000000000000000000000000000000000000051")
	buyer    = address.MustParse("0x0000000000000000000000000000000000000052")
	royaltyA = address.MustParse("0x0000000000000000000000000000000000000061")
	royaltyB = address.MustParse("0x0000000000000000000000000000000000000062")
	stranger = address.MustParse("0x0000000000000000000000000000000000000099")

	oneToken     = decimal.RequireFromString("1000000000000000000")
	halfToken    = decimal.RequireFromString("500000000000000000")
	oneAndAHalf  = decimal.RequireFromString("1500000000000000000")
	twoTokens    = decimal.RequireFromString("2000000000000000000")
	tenThousand  = decimal.RequireFromString("10000000000000000000000")
	unlimitedAll = calc.MaxAmount
)

type captured struct {
	mu     sync.Mutex
	events []Event
}

func (c *captured) Notify(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func (c *captured) last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

type recorded struct {
	mu       sync.Mutex
	ops      map[string]int
	sales    map[string]int
	failures map[string]int
}

func newRecorded() *recorded {
	return &recorded{ops: map[string]int{}, sales: map[string]int{}, failures: map[string]int{}}
}

func (r *recorded) RecordMarketOperation(_ context.Context, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op]++
}

func (r *recorded) RecordSale(_ context.Context, kind string, _ decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales[kind]++
}

func (r *recorded) RecordMarketFailure(_ context.Context, op, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op+":"+reason]++
}

type harness struct {
	engine   *Engine
	ledger   *ledger.Ledger
	registry *registry.Registry
	events   *captured
	metrics  *recorded
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	database := db.NewInMemoryDatabase()
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	exec := db.NewExecutor(database)

	h := &harness{
		ledger:   ledger.New(exec, ledger.Metadata{Name: "Market Token", Symbol: "MKT", Decimals: 18}, nil),
		registry: registry.New(exec, minter, nil),
		events:   &captured{},
		metrics:  newRecorded(),
	}
	engine, err := New(exec, h.ledger, h.registry, Config{Address: market, Operator: operator},
		WithNotifier(h.events), WithMetrics(h.metrics))
	require.NoError(t, err)
	h.engine = engine
	return h
}

// mintApproved mints a fresh asset to owner and approves the marketplace for it.
func (h *harness) mintApproved(t *testing.T, owner address.Address) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := h.registry.Mint(ctx, minter, owner, "exampleUrl.ipfs")
	require.NoError(t, err)
	require.NoError(t, h.registry.Approve(ctx, owner, market, id))
	return id
}

// fund gives who amount tokens and an allowance of the same size for the marketplace.
func (h *harness) fund(t *testing.T, who address.Address, amount decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ledger.Mint(ctx, who, amount))
	require.NoError(t, h.ledger.Approve(ctx, who, market, amount))
}

func (h *harness) balance(t *testing.T, who address.Address) decimal.Decimal {
	t.Helper()
	bal, err := h.ledger.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return bal
}

func (h *harness) owner(t *testing.T, id int64) address.Address {
	t.Helper()
	o, err := h.registry.OwnerOf(context.Background(), id)
	require.NoError(t, err)
	return o
}

func assertAmount(t *testing.T, want, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, want.Equal(got), append([]interface{}{"expected %s, got %s", want, got}, msgAndArgs...)...)
}

func TestNewValidatesConfig(t *testing.T) {
	exec := db.NewExecutor(db.NewInMemoryDatabase())

	_, err := New(exec, nil, nil, Config{})
	assert.Error(t, err)

	_, err = New(exec, nil, nil, Config{Address: market, Operator: market})
	assert.Error(t, err)

	e, err := New(exec, nil, nil, Config{Address: market})
	require.NoError(t, err)
	assert.Equal(t, market, e.Address())
	assert.True(t, e.Operator().IsZero())
}

func TestListAndBuyWithRoyaltySplit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	h.fund(t, buyer, tenThousand)

	listing, err := h.engine.List(ctx, seller, id, []address.Address{royaltyA, royaltyB}, 2, oneToken)
	require.NoError(t, err)
	assert.Equal(t, StateActive, listing.State)
	assert.Equal(t, seller, listing.Seller)
	assert.False(t, listing.MarketOwned)

	receipt, err := h.engine.Buy(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, SaleDirect, receipt.Kind)
	require.Len(t, receipt.Payouts, 3)
	assert.Equal(t, RoleRoyalty, receipt.Payouts[0].Role)
	assert.Equal(t, royaltyA, receipt.Payouts[0].Recipient)
	assert.Equal(t, royaltyB, receipt.Payouts[1].Recipient)
	assert.Equal(t, RoleSeller, receipt.Payouts[2].Role)
	assertAmount(t, decimal.Zero, receipt.Payouts[2].Amount)

	assertAmount(t, halfToken, h.balance(t, royaltyA))
	assertAmount(t, halfToken, h.balance(t, royaltyB))
	assertAmount(t, decimal.Zero, h.balance(t, seller))
	assertAmount(t, decimal.Zero, h.balance(t, market))
	assertAmount(t, tenThousand.Sub(oneToken), h.balance(t, buyer))
	assert.Equal(t, buyer, h.owner(t, id))

	_, err = h.engine.Listing(ctx, id)
	assert.ErrorIs(t, err, ErrNotListed)

	assert.Equal(t, []EventType{EventListed, EventSold}, h.events.types())
	sold := h.events.last()
	require.NotNil(t, sold.Receipt)
	assert.Equal(t, StateSettled, sold.After.State)
	assert.Equal(t, 1, h.metrics.sales[string(SaleDirect)])
	assert.Equal(t, 1, h.metrics.ops[OpBuy])
}

func TestBuySellerKeepsRemainder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	h.fund(t, buyer, decimal.NewFromInt(100))

	_, err := h.engine.List(ctx, seller, id, []address.Address{royaltyA}, 3, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = h.engine.Buy(ctx, buyer, id)
	require.NoError(t, err)

	assertAmount(t, decimal.NewFromInt(3), h.balance(t, royaltyA))
	assertAmount(t, decimal.NewFromInt(7), h.balance(t, seller))
	assertAmount(t, decimal.NewFromInt(90), h.balance(t, buyer))
}

func TestDuplicateRoyaltyRecipientIsPaidTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	h.fund(t, buyer, decimal.NewFromInt(100))

	_, err := h.engine.List(ctx, seller, id, []address.Address{royaltyA, royaltyA}, 4, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = h.engine.Buy(ctx, buyer, id)
	require.NoError(t, err)

	assertAmount(t, decimal.NewFromInt(50), h.balance(t, royaltyA))
	assertAmount(t, decimal.NewFromInt(50), h.balance(t, seller))
}

func TestRepriceEmitsPriceChanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)

	updated, err := h.engine.Reprice(ctx, seller, id, oneAndAHalf)
	require.NoError(t, err)
	assertAmount(t, oneAndAHalf, updated.Price)

	evt := h.events.last()
	assert.Equal(t, EventPriceChanged, evt.Type)
	assertAmount(t, oneToken, evt.Before.Price)
	assertAmount(t, oneAndAHalf, evt.After.Price)

	got, err := h.engine.Listing(ctx, id)
	require.NoError(t, err)
	assertAmount(t, oneAndAHalf, got.Price)
}

func TestWithdrawDirectListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)

	_, err = h.engine.Withdraw(ctx, stranger, id)
	assert.ErrorIs(t, err, ErrNotSeller)

	withdrawn, err := h.engine.Withdraw(ctx, seller, id)
	require.NoError(t, err)
	assert.Equal(t, StateWithdrawn, withdrawn.State)
	assert.Equal(t, seller, h.owner(t, id))

	_, err = h.engine.Withdraw(ctx, seller, id)
	assert.ErrorIs(t, err, ErrNotListed)

	// the asset can be listed again
	_, err = h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)
}

func TestSellToMarketAndBuyFromInventory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	require.NoError(t, h.ledger.Mint(ctx, market, twoTokens))
	h.fund(t, buyer, tenThousand)

	_, err := h.engine.List(ctx, seller, id, []address.Address{royaltyA}, 4, oneToken)
	require.NoError(t, err)

	receipt, err := h.engine.SellToMarket(ctx, seller, id)
	require.NoError(t, err)
	assert.Equal(t, SaleToMarket, receipt.Kind)
	assert.Equal(t, market, receipt.Buyer)
	require.NotNil(t, receipt.Listing)
	assert.True(t, receipt.Listing.MarketOwned)
	assert.Equal(t, market, receipt.Listing.Seller)
	assert.Equal(t, seller, receipt.Listing.Depositor)
	assert.Empty(t, receipt.Listing.RoyaltyRecipients)
	assertAmount(t, oneToken, receipt.Listing.Price)

	quarter := decimal.RequireFromString("250000000000000000")
	assertAmount(t, quarter, h.balance(t, royaltyA))
	assertAmount(t, oneToken.Sub(quarter), h.balance(t, seller))
	assertAmount(t, oneToken, h.balance(t, market))
	assert.Equal(t, market, h.owner(t, id))

	// the seller no longer controls the inventory listing
	_, err = h.engine.Reprice(ctx, seller, id, twoTokens)
	assert.ErrorIs(t, err, ErrNotSeller)

	_, err = h.engine.Buy(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrNotListed)

	sale, err := h.engine.BuyFromMarketInventory(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, SaleInventory, sale.Kind)
	require.Len(t, sale.Payouts, 1)
	assert.Equal(t, RoleMarketplace, sale.Payouts[0].Role)

	assertAmount(t, twoTokens, h.balance(t, market))
	assertAmount(t, quarter, h.balance(t, royaltyA), "inventory sales pay no royalties")
	assert.Equal(t, buyer, h.owner(t, id))
	assert.Equal(t, []EventType{EventListed, EventSoldToMarket, EventInventorySold}, h.events.types())

	_, err = h.engine.Listing(ctx, id)
	assert.ErrorIs(t, err, ErrNotListed)
}

func TestBuyFromInventoryRejectsDirectListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	h.fund(t, buyer, oneToken)

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)

	_, err = h.engine.BuyFromMarketInventory(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrNotListed)
	assert.Equal(t, seller, h.owner(t, id))
}

func TestOperatorManagesInventory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	require.NoError(t, h.ledger.Mint(ctx, market, oneToken))

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)
	_, err = h.engine.SellToMarket(ctx, seller, id)
	require.NoError(t, err)

	repriced, err := h.engine.Reprice(ctx, operator, id, twoTokens)
	require.NoError(t, err)
	assertAmount(t, twoTokens, repriced.Price)

	_, err = h.engine.Withdraw(ctx, seller, id)
	assert.ErrorIs(t, err, ErrNotSeller)

	withdrawn, err := h.engine.Withdraw(ctx, operator, id)
	require.NoError(t, err)
	assert.True(t, withdrawn.MarketOwned)
	assert.Equal(t, seller, h.owner(t, id), "withdrawn inventory returns to the depositor")
	assertAmount(t, oneToken, h.balance(t, seller))
}

func TestSellToMarketFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient liquidity", func(t *testing.T) {
		h := newHarness(t)
		id := h.mintApproved(t, seller)
		require.NoError(t, h.ledger.Mint(ctx, market, halfToken))
		_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
		require.NoError(t, err)

		_, err = h.engine.SellToMarket(ctx, seller, id)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
		assert.Equal(t, "INSUFFICIENT_LIQUIDITY", Code(err))
		assert.Equal(t, seller, h.owner(t, id))
		assertAmount(t, halfToken, h.balance(t, market))

		got, err := h.engine.Listing(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.MarketOwned)
		assert.Equal(t, 1, h.metrics.failures[OpSellToMarket+":INSUFFICIENT_LIQUIDITY"])
	})

	t.Run("not the seller", func(t *testing.T) {
		h := newHarness(t)
		id := h.mintApproved(t, seller)
		require.NoError(t, h.ledger.Mint(ctx, market, oneToken))
		_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
		require.NoError(t, err)

		_, err = h.engine.SellToMarket(ctx, stranger, id)
		assert.ErrorIs(t, err, ErrNotSeller)
	})

	t.Run("not listed", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.SellToMarket(ctx, seller, 42)
		assert.ErrorIs(t, err, ErrNotListed)
	})
}

func TestListFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		caller     address.Address
		recipients []address.Address
		shareCount int64
		price      decimal.Decimal
		approve    bool
		err        error
	}{
		{"not the owner", stranger, nil, 1, oneToken, true, ErrNotOwner},
		{"marketplace not approved", seller, nil, 1, oneToken, false, ErrNotApproved},
		{"zero share count", seller, nil, 0, oneToken, true, ErrInvalidRoyaltyConfig},
		{"more recipients than shares", seller, []address.Address{royaltyA, royaltyB}, 1, oneToken, true, ErrInvalidRoyaltyConfig},
		{"zero address recipient", seller, []address.Address{address.Zero}, 2, oneToken, true, ErrInvalidRoyaltyConfig},
		{"seller as recipient", seller, []address.Address{seller}, 2, oneToken, true, ErrInvalidRoyaltyConfig},
		{"negative price", seller, nil, 1, decimal.NewFromInt(-1), true, ErrInvalidPrice},
		{"fractional price", seller, nil, 1, decimal.NewFromFloat(0.5), true, ErrInvalidPrice},
		{"overflowing price", seller, nil, 1, calc.MaxAmount.Add(decimal.NewFromInt(1)), true, ErrArithmeticOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id, err := h.registry.Mint(ctx, minter, seller, "a")
			require.NoError(t, err)
			if tt.approve {
				require.NoError(t, h.registry.Approve(ctx, seller, market, id))
			}

			_, err = h.engine.List(ctx, tt.caller, id, tt.recipients, tt.shareCount, tt.price)
			assert.ErrorIs(t, err, tt.err)

			var engineErr *Error
			require.True(t, errors.As(err, &engineErr))
			assert.Equal(t, OpList, engineErr.Op)
			assert.Equal(t, id, engineErr.AssetID)

			_, err = h.engine.Listing(ctx, id)
			assert.ErrorIs(t, err, ErrNotListed)
			assert.Empty(t, h.events.types())
		})
	}
}

func TestListNonexistentAsset(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.List(context.Background(), seller, 7, nil, 1, oneToken)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestListTooManyRecipients(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(t, seller)

	recipients := make([]address.Address, MaxRoyaltyRecipients+1)
	for i := range recipients {
		recipients[i] = royaltyA
	}
	_, err := h.engine.List(context.Background(), seller, id, recipients, int64(len(recipients)), oneToken)
	assert.ErrorIs(t, err, ErrInvalidRoyaltyConfig)
}

func TestAtMostOneActiveListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)
	_, err = h.engine.List(ctx, seller, id, nil, 1, twoTokens)
	assert.ErrorIs(t, err, ErrAlreadyListed)

	got, err := h.engine.Listing(ctx, id)
	require.NoError(t, err)
	assertAmount(t, oneToken, got.Price)
}

func TestConcurrentListOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.List(ctx, seller, id, nil, 1, oneToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRepriceFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)

	_, err = h.engine.Reprice(ctx, stranger, id, twoTokens)
	assert.ErrorIs(t, err, ErrNotSeller)

	_, err = h.engine.Reprice(ctx, operator, id, twoTokens)
	assert.ErrorIs(t, err, ErrNotSeller, "the operator only manages inventory")

	_, err = h.engine.Reprice(ctx, seller, id, decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = h.engine.Reprice(ctx, seller, 99, twoTokens)
	assert.ErrorIs(t, err, ErrNotListed)

	got, err := h.engine.Listing(ctx, id)
	require.NoError(t, err)
	assertAmount(t, oneToken, got.Price)
}

func TestBuyFailuresLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness, id int64)
		err     error
		errCode string
	}{
		{
			name:    "no allowance",
			setup:   func(t *testing.T, h *harness, id int64) { require.NoError(t, h.ledger.Mint(ctx, buyer, twoTokens)) },
			err:     ErrInsufficientAllowance,
			errCode: "INSUFFICIENT_ALLOWANCE",
		},
		{
			name: "allowance below price",
			setup: func(t *testing.T, h *harness, id int64) {
				require.NoError(t, h.ledger.Mint(ctx, buyer, twoTokens))
				require.NoError(t, h.ledger.Approve(ctx, buyer, market, halfToken))
			},
			err:     ErrInsufficientAllowance,
			errCode: "INSUFFICIENT_ALLOWANCE",
		},
		{
			name: "balance below price",
			setup: func(t *testing.T, h *harness, id int64) {
				require.NoError(t, h.ledger.Mint(ctx, buyer, halfToken))
				require.NoError(t, h.ledger.Approve(ctx, buyer, market, unlimitedAll))
			},
			err:     ErrInsufficientBalance,
			errCode: "INSUFFICIENT_BALANCE",
		},
		{
			name: "approval revoked after listing",
			setup: func(t *testing.T, h *harness, id int64) {
				h.fund(t, buyer, twoTokens)
				require.NoError(t, h.registry.Approve(ctx, seller, address.Zero, id))
			},
			err:     ErrNotApproved,
			errCode: "NOT_APPROVED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.mintApproved(t, seller)
			_, err := h.engine.List(ctx, seller, id, []address.Address{royaltyA}, 2, oneToken)
			require.NoError(t, err)
			tt.setup(t, h, id)
			buyerBefore := h.balance(t, buyer)
			allowanceBefore, err := h.ledger.Allowance(ctx, buyer, market)
			require.NoError(t, err)

			_, err = h.engine.Buy(ctx, buyer, id)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.errCode, Code(err))

			assertAmount(t, buyerBefore, h.balance(t, buyer))
			allowanceAfter, err := h.ledger.Allowance(ctx, buyer, market)
			require.NoError(t, err)
			assertAmount(t, allowanceBefore, allowanceAfter)
			assertAmount(t, decimal.Zero, h.balance(t, royaltyA))
			assert.Equal(t, seller, h.owner(t, id))

			_, err = h.engine.Listing(ctx, id)
			assert.NoError(t, err, "a rejected buy keeps the listing")
		})
	}
}

func TestBuyRollsBackWhenDeliveryFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	h.fund(t, buyer, twoTokens)
	_, err := h.engine.List(ctx, seller, id, []address.Address{royaltyA}, 2, oneToken)
	require.NoError(t, err)

	failing := &failingRegistry{Registry: h.registry, failTransfer: true}
	h.engine.registry = failing

	_, err = h.engine.Buy(ctx, buyer, id)
	require.Error(t, err)
	assert.Equal(t, "INTERNAL", Code(err))

	assertAmount(t, twoTokens, h.balance(t, buyer))
	assertAmount(t, decimal.Zero, h.balance(t, royaltyA))
	assertAmount(t, decimal.Zero, h.balance(t, seller))
	assertAmount(t, decimal.Zero, h.balance(t, market))
	assert.Equal(t, seller, h.owner(t, id))

	_, err = h.engine.Listing(ctx, id)
	assert.NoError(t, err)
}

type failingRegistry struct {
	*registry.Registry
	failTransfer bool
}

func (f *failingRegistry) TransferFrom(ctx context.Context, caller, from, to address.Address, id int64) error {
	if f.failTransfer {
		return errors.New("registry unavailable")
	}
	return f.Registry.TransferFrom(ctx, caller, from, to, id)
}

func TestStaleListingIsPurged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	h.fund(t, buyer, twoTokens)

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)

	// seller moves the asset away outside the marketplace
	require.NoError(t, h.registry.TransferFrom(ctx, seller, seller, stranger, id))

	_, err = h.engine.Buy(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrStaleOwnership)
	assert.Equal(t, "STALE_OWNERSHIP", Code(err))

	_, err = h.engine.Listing(ctx, id)
	assert.ErrorIs(t, err, ErrNotListed, "stale listing must be removed")
	assertAmount(t, twoTokens, h.balance(t, buyer))
	assert.Equal(t, EventPurged, h.events.last().Type)

	// the new owner may list it
	require.NoError(t, h.registry.Approve(ctx, stranger, market, id))
	_, err = h.engine.List(ctx, stranger, id, nil, 1, oneToken)
	require.NoError(t, err)
}

func TestSellToMarketPurgesStaleListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)
	require.NoError(t, h.ledger.Mint(ctx, market, twoTokens))

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)
	require.NoError(t, h.registry.TransferFrom(ctx, seller, seller, stranger, id))

	_, err = h.engine.SellToMarket(ctx, seller, id)
	assert.ErrorIs(t, err, ErrStaleOwnership)
	assertAmount(t, twoTokens, h.balance(t, market))

	_, err = h.engine.Listing(ctx, id)
	assert.ErrorIs(t, err, ErrNotListed)
}

func TestZeroPriceSale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.mintApproved(t, seller)

	_, err := h.engine.List(ctx, seller, id, []address.Address{royaltyA}, 2, decimal.Zero)
	require.NoError(t, err)

	receipt, err := h.engine.Buy(ctx, buyer, id)
	require.NoError(t, err)
	require.Len(t, receipt.Payouts, 2)
	assert.Equal(t, buyer, h.owner(t, id))
}

func TestListingsAndStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.ledger.Mint(ctx, market, twoTokens))

	var ids []int64
	for i := 0; i < 3; i++ {
		id := h.mintApproved(t, seller)
		_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := h.engine.SellToMarket(ctx, seller, ids[1])
	require.NoError(t, err)

	all, total, err := h.engine.Listings(ctx, ListingFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, ids[0], all[0].AssetID)

	owned := true
	inventory, total, err := h.engine.Listings(ctx, ListingFilter{MarketOwned: &owned})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, inventory, 1)
	assert.Equal(t, ids[1], inventory[0].AssetID)

	page, total, err := h.engine.Listings(ctx, ListingFilter{Seller: seller, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].AssetID)

	stats, err := h.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, market, stats.Address)
	assertAmount(t, oneToken, stats.Liquidity)
	assert.Equal(t, int64(3), stats.ActiveListings)
	assert.Equal(t, int64(1), stats.InventoryListings)
}

func TestNotifierFailureDoesNotUndoTransition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.engine.notifier = NotifierFunc(func(context.Context, Event) error {
		return errors.New("sink down")
	})
	id := h.mintApproved(t, seller)

	_, err := h.engine.List(ctx, seller, id, nil, 1, oneToken)
	require.NoError(t, err)

	_, err = h.engine.Listing(ctx, id)
	assert.NoError(t, err)
}
