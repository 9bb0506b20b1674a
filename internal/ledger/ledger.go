// Package ledger is the fungible token ledger the marketplace settles in.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/db"
	"github.com/leafsii/nft-marketplace/internal/db/entities"
	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrOverflow              = calc.ErrAmountOverflow
	ErrZeroAddress           = errors.New("zero address")
)

// Metadata describes the token.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// Ledger keeps balances and allowances in the shared state store. Every
// mutating call runs through the executor, so it joins the caller's
// transaction when there is one.
type Ledger struct {
	exec       *db.Executor
	balances   interfaces.Repository
	allowances interfaces.Repository
	meta       Metadata
	logger     *zap.SugaredLogger
}

func New(exec *db.Executor, meta Metadata, logger *zap.SugaredLogger) *Ledger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Ledger{
		exec:       exec,
		balances:   exec.Database().Repository(entities.BalanceSchema),
		allowances: exec.Database().Repository(entities.AllowanceSchema),
		meta:       meta,
		logger:     logger,
	}
}

func (l *Ledger) Metadata() Metadata { return l.meta }

// Mint credits amount to to out of thin air. Only genesis calls it.
func (l *Ledger) Mint(ctx context.Context, to address.Address, amount decimal.Decimal) error {
	if to.IsZero() {
		return fmt.Errorf("mint: %w", ErrZeroAddress)
	}
	if err := calc.ValidateTokenAmount(amount, "mint"); err != nil {
		return err
	}
	return l.exec.Atomic(ctx, func(ctx context.Context) error {
		supply, err := l.totalSupply(ctx)
		if err != nil {
			return err
		}
		if _, err := calc.CheckedAdd(supply, amount); err != nil {
			return fmt.Errorf("mint: %w", err)
		}
		if err := l.credit(ctx, to, amount); err != nil {
			return err
		}
		l.logger.Infow("Minted tokens", "to", to, "amount", amount)
		return nil
	})
}

func (l *Ledger) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	var supply decimal.Decimal
	err := l.exec.View(ctx, func(ctx context.Context) error {
		var err error
		supply, err = l.totalSupply(ctx)
		return err
	})
	return supply, err
}

func (l *Ledger) BalanceOf(ctx context.Context, owner address.Address) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := l.exec.View(ctx, func(ctx context.Context) error {
		var err error
		bal, err = l.balanceOf(ctx, owner)
		return err
	})
	return bal, err
}

func (l *Ledger) Allowance(ctx context.Context, owner, spender address.Address) (decimal.Decimal, error) {
	var amt decimal.Decimal
	err := l.exec.View(ctx, func(ctx context.Context) error {
		var err error
		amt, err = l.allowance(ctx, owner, spender)
		return err
	})
	return amt, err
}

// Approve sets, not adds to, the amount spender may draw from owner.
func (l *Ledger) Approve(ctx context.Context, owner, spender address.Address, amount decimal.Decimal) error {
	if owner.IsZero() || spender.IsZero() {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	if err := calc.ValidateTokenAmount(amount, "approve"); err != nil {
		return err
	}
	return l.exec.Atomic(ctx, func(ctx context.Context) error {
		return l.setAllowance(ctx, owner, spender, amount)
	})
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(ctx context.Context, from, to address.Address, amount decimal.Decimal) error {
	if err := calc.ValidateTokenAmount(amount, "transfer"); err != nil {
		return err
	}
	return l.exec.Atomic(ctx, func(ctx context.Context) error {
		return l.move(ctx, from, to, amount)
	})
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// allowance. An allowance of calc.MaxAmount is treated as unlimited.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to address.Address, amount decimal.Decimal) error {
	if err := calc.ValidateTokenAmount(amount, "transferFrom"); err != nil {
		return err
	}
	return l.exec.Atomic(ctx, func(ctx context.Context) error {
		allowed, err := l.allowance(ctx, from, spender)
		if err != nil {
			return err
		}
		if allowed.LessThan(amount) {
			return fmt.Errorf("transferFrom %s by %s: %w: allowance %s, need %s", from, spender, ErrInsufficientAllowance, allowed, amount)
		}
		if !allowed.Equal(calc.MaxAmount) {
			if err := l.setAllowance(ctx, from, spender, allowed.Sub(amount)); err != nil {
				return err
			}
		}
		return l.move(ctx, from, to, amount)
	})
}

func (l *Ledger) move(ctx context.Context, from, to address.Address, amount decimal.Decimal) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	bal, err := l.balanceOf(ctx, from)
	if err != nil {
		return err
	}
	if bal.LessThan(amount) {
		return fmt.Errorf("transfer from %s: %w: balance %s, need %s", from, ErrInsufficientBalance, bal, amount)
	}
	if err := l.setBalance(ctx, from, bal.Sub(amount)); err != nil {
		return err
	}
	if err := l.credit(ctx, to, amount); err != nil {
		return err
	}
	l.logger.Debugw("Transferred tokens", "from", from, "to", to, "amount", amount)
	return nil
}

func (l *Ledger) credit(ctx context.Context, to address.Address, amount decimal.Decimal) error {
	bal, err := l.balanceOf(ctx, to)
	if err != nil {
		return err
	}
	next, err := calc.CheckedAdd(bal, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return l.setBalance(ctx, to, next)
}

func (l *Ledger) balanceOf(ctx context.Context, owner address.Address) (decimal.Decimal, error) {
	record, err := l.balances.GetByID(ctx, interfaces.StringID(owner))
	if errors.Is(err, interfaces.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load balance: %w", err)
	}
	bal, err := entities.BalanceFromRecord(record)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode balance: %w", err)
	}
	return bal.Amount, nil
}

func (l *Ledger) setBalance(ctx context.Context, owner address.Address, amount decimal.Decimal) error {
	record := entities.Balance{Address: owner.String(), Amount: amount}.ToRecord()
	if _, err := l.balances.Update(ctx, interfaces.StringID(owner), record); err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("store balance: %w", err)
		}
		if _, err := l.balances.Create(ctx, record); err != nil {
			return fmt.Errorf("store balance: %w", err)
		}
	}
	return nil
}

func (l *Ledger) allowance(ctx context.Context, owner, spender address.Address) (decimal.Decimal, error) {
	id := entities.AllowanceID(owner.String(), spender.String())
	record, err := l.allowances.GetByID(ctx, interfaces.StringID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load allowance: %w", err)
	}
	a, err := entities.AllowanceFromRecord(record)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode allowance: %w", err)
	}
	return a.Amount, nil
}

func (l *Ledger) setAllowance(ctx context.Context, owner, spender address.Address, amount decimal.Decimal) error {
	record := entities.Allowance{Owner: owner.String(), Spender: spender.String(), Amount: amount}.ToRecord()
	id := interfaces.StringID(entities.AllowanceID(owner.String(), spender.String()))
	if _, err := l.allowances.Update(ctx, id, record); err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("store allowance: %w", err)
		}
		if _, err := l.allowances.Create(ctx, record); err != nil {
			return fmt.Errorf("store allowance: %w", err)
		}
	}
	return nil
}

func (l *Ledger) totalSupply(ctx context.Context) (decimal.Decimal, error) {
	page, err := l.balances.FindMany(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list balances: %w", err)
	}
	supply := decimal.Zero
	for _, record := range page.Data {
		bal, err := entities.BalanceFromRecord(record)
		if err != nil {
			return decimal.Zero, fmt.Errorf("decode balance: %w", err)
		}
		supply = supply.Add(bal.Amount)
	}
	return supply, nil
}
