// Package onramp sells ledger tokens for base currency at a fixed rate.
package onramp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/db"
	"github.com/leafsii/nft-marketplace/internal/db/entities"
	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
	"github.com/leafsii/nft-marketplace/internal/ledger"
)

var (
	ErrSoldOut       = errors.New("exchange does not hold enough tokens")
	ErrInvalidAmount = errors.New("base amount must be positive")
)

// Ledger is the subset of the token ledger the exchange pays out of.
type Ledger interface {
	BalanceOf(ctx context.Context, owner address.Address) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to address.Address, amount decimal.Decimal) error
}

// Deposit is a completed purchase.
type Deposit = entities.Deposit

// Exchange pays tokens from its own ledger balance, which genesis funds
// with the whole initial supply.
type Exchange struct {
	exec     *db.Executor
	ledger   Ledger
	self     address.Address
	rate     decimal.Decimal
	deposits interfaces.Repository
	logger   *zap.SugaredLogger
}

// New creates an exchange holding funds at self that pays rate tokens per base unit.
func New(exec *db.Executor, l Ledger, self address.Address, rate decimal.Decimal, logger *zap.SugaredLogger) (*Exchange, error) {
	if !rate.IsPositive() || !calc.IsWhole(rate) {
		return nil, fmt.Errorf("on-ramp rate must be a positive whole number, got %s", rate)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Exchange{
		exec:     exec,
		ledger:   l,
		self:     self,
		rate:     rate,
		deposits: exec.Database().Repository(entities.DepositSchema),
		logger:   logger,
	}, nil
}

func (e *Exchange) Address() address.Address { return e.self }

func (e *Exchange) Rate() decimal.Decimal { return e.rate }

// Available is the number of tokens the exchange can still sell.
func (e *Exchange) Available(ctx context.Context) (decimal.Decimal, error) {
	return e.ledger.BalanceOf(ctx, e.self)
}

// Buy converts baseAmount of base currency into baseAmount*rate tokens credited to buyer.
func (e *Exchange) Buy(ctx context.Context, buyer address.Address, baseAmount decimal.Decimal) (Deposit, error) {
	if !baseAmount.IsPositive() {
		return Deposit{}, ErrInvalidAmount
	}
	if err := calc.ValidateTokenAmount(baseAmount, "deposit"); err != nil {
		return Deposit{}, err
	}
	tokens := baseAmount.Mul(e.rate)

	dep := Deposit{ID: uuid.NewString(), Buyer: buyer.String(), BaseAmount: baseAmount, Tokens: tokens}
	err := e.exec.Atomic(ctx, func(ctx context.Context) error {
		available, err := e.ledger.BalanceOf(ctx, e.self)
		if err != nil {
			return err
		}
		if available.LessThan(tokens) {
			return fmt.Errorf("buy %s tokens: %w (available %s)", tokens, ErrSoldOut, available)
		}
		if err := e.ledger.Transfer(ctx, e.self, buyer, tokens); err != nil {
			return err
		}
		record, err := e.deposits.Create(ctx, dep.ToRecord())
		if err != nil {
			return fmt.Errorf("record deposit: %w", err)
		}
		dep, err = entities.DepositFromRecord(record)
		return err
	})
	if err != nil {
		return Deposit{}, err
	}

	e.logger.Infow("On-ramp purchase", "buyer", buyer, "base_amount", baseAmount, "tokens", tokens)
	return dep, nil
}

// Deposits lists buyer's purchases, newest first.
func (e *Exchange) Deposits(ctx context.Context, buyer address.Address) ([]Deposit, error) {
	var out []Deposit
	err := e.exec.View(ctx, func(ctx context.Context) error {
		page, err := e.deposits.FindMany(ctx, &interfaces.Query{
			Where:   interfaces.Where(map[string]interface{}{"buyer": buyer.String()}),
			OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "desc"}},
		})
		if err != nil {
			return fmt.Errorf("list deposits: %w", err)
		}
		for _, record := range page.Data {
			d, err := entities.DepositFromRecord(record)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

var _ Ledger = (*ledger.Ledger)(nil)
