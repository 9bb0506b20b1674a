package onramp

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/db"
	"github.com/leafsii/nft-marketplace/internal/ledger"
)

var (
	exchangeAddr = address.MustParse("0x00000000000000000000000000000000000000e0")
	buyer        = address.MustParse("0x00000000000000000000000000000000000000e5")
)

func newTestExchange(t *testing.T, supply int64) (*Exchange, *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	database := db.NewInMemoryDatabase()
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	exec := db.NewExecutor(database)

	l := ledger.New(exec, ledger.Metadata{Symbol: "MKT"}, nil)
	require.NoError(t, l.Mint(ctx, exchangeAddr, decimal.NewFromInt(supply)))

	ex, err := New(exec, l, exchangeAddr, decimal.NewFromInt(1), nil)
	require.NoError(t, err)
	return ex, l
}

func TestBuy(t *testing.T) {
	ctx := context.Background()
	ex, l := newTestExchange(t, 10)

	dep, err := ex.Buy(ctx, buyer, decimal.NewFromInt(4))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4).Equal(dep.Tokens))
	assert.NotEmpty(t, dep.ID)

	bal, err := l.BalanceOf(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4).Equal(bal))

	available, err := ex.Available(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6).Equal(available))

	deposits, err := ex.Deposits(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, dep.ID, deposits[0].ID)
}

func TestBuySoldOut(t *testing.T) {
	ctx := context.Background()
	ex, l := newTestExchange(t, 3)

	_, err := ex.Buy(ctx, buyer, decimal.NewFromInt(4))
	assert.ErrorIs(t, err, ErrSoldOut)

	bal, err := l.BalanceOf(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	deposits, err := ex.Deposits(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, deposits)
}

func TestBuyRejectsNonPositive(t *testing.T) {
	ex, _ := newTestExchange(t, 3)
	_, err := ex.Buy(context.Background(), buyer, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewRejectsBadRate(t *testing.T) {
	database := db.NewInMemoryDatabase()
	_, err := New(db.NewExecutor(database), nil, exchangeAddr, decimal.NewFromFloat(0.5), nil)
	assert.Error(t, err)
}
