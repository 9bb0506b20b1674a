package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/db"
)

var (
	alice = address.MustParse("0x000000000000000000000000000000000000a11c")
	bob   = address.MustParse("0x0000000000000000000000000000000000000b0b")
	carol = address.MustParse("0x00000000000000000000000000000000000ca201")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ctx := context.Background()
	database := db.NewInMemoryDatabase()
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	return New(db.NewExecutor(database), Metadata{Name: "Market Token", Symbol: "MKT", Decimals: 18}, nil)
}

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestMintAndTransfer(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	require.NoError(t, l.Mint(ctx, alice, amt(1000)))
	require.NoError(t, l.Transfer(ctx, alice, bob, amt(300)))

	balA, err := l.BalanceOf(ctx, alice)
	require.NoError(t, err)
	balB, err := l.BalanceOf(ctx, bob)
	require.NoError(t, err)
	supply, err := l.TotalSupply(ctx)
	require.NoError(t, err)

	assert.True(t, amt(700).Equal(balA))
	assert.True(t, amt(300).Equal(balB))
	assert.True(t, amt(1000).Equal(supply))
}

func TestTransferFailures(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	require.NoError(t, l.Mint(ctx, alice, amt(10)))

	tests := []struct {
		name   string
		from   address.Address
		to     address.Address
		amount decimal.Decimal
		err    error
	}{
		{"insufficient balance", alice, bob, amt(11), ErrInsufficientBalance},
		{"empty account", bob, alice, amt(1), ErrInsufficientBalance},
		{"to zero address", alice, address.Zero, amt(1), ErrZeroAddress},
		{"negative amount", alice, bob, amt(-1), calc.ErrNegativeAmount},
		{"fractional amount", alice, bob, decimal.NewFromFloat(0.5), calc.ErrFractionalAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Transfer(ctx, tt.from, tt.to, tt.amount)
			assert.ErrorIs(t, err, tt.err)

			bal, err := l.BalanceOf(ctx, alice)
			require.NoError(t, err)
			assert.True(t, amt(10).Equal(bal), "failed transfer must not change balances")
		})
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	require.NoError(t, l.Mint(ctx, alice, amt(100)))
	require.NoError(t, l.Approve(ctx, alice, carol, amt(60)))

	require.NoError(t, l.TransferFrom(ctx, carol, alice, bob, amt(40)))

	left, err := l.Allowance(ctx, alice, carol)
	require.NoError(t, err)
	assert.True(t, amt(20).Equal(left))

	err = l.TransferFrom(ctx, carol, alice, bob, amt(21))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	balB, err := l.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.True(t, amt(40).Equal(balB))
}

func TestTransferFromRollsBackAllowanceOnBalanceFailure(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	require.NoError(t, l.Mint(ctx, alice, amt(5)))
	require.NoError(t, l.Approve(ctx, alice, carol, amt(50)))

	err := l.TransferFrom(ctx, carol, alice, bob, amt(10))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	left, err := l.Allowance(ctx, alice, carol)
	require.NoError(t, err)
	assert.True(t, amt(50).Equal(left), "allowance must be restored, got %s", left)
}

func TestUnlimitedAllowance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	require.NoError(t, l.Mint(ctx, alice, amt(100)))
	require.NoError(t, l.Approve(ctx, alice, carol, calc.MaxAmount))

	require.NoError(t, l.TransferFrom(ctx, carol, alice, bob, amt(100)))

	left, err := l.Allowance(ctx, alice, carol)
	require.NoError(t, err)
	assert.True(t, calc.MaxAmount.Equal(left))
}

func TestMintOverflow(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	require.NoError(t, l.Mint(ctx, alice, calc.MaxAmount))

	err := l.Mint(ctx, bob, amt(1))
	assert.True(t, errors.Is(err, ErrOverflow))
}
