// Package genesis deploys a fresh marketplace: the token ledger with its
// initial supply parked in the on-ramp, the asset registry and the engine.
package genesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/config"
	"github.com/leafsii/nft-marketplace/internal/db"
	"github.com/leafsii/nft-marketplace/internal/ledger"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/onramp"
	"github.com/leafsii/nft-marketplace/internal/registry"
)

// Labels under which component addresses are derived from the deployer.
const (
	LabelLedger      = "ledger"
	LabelRegistry    = "registry"
	LabelOnramp      = "onramp"
	LabelMarketplace = "marketplace"
)

type Params struct {
	Deployer      address.Address
	Operator      address.Address
	Token         ledger.Metadata
	InitialSupply decimal.Decimal
	OnrampRate    decimal.Decimal
}

// ParamsFromConfig reads the validated chain section of cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Deployer: cfg.Chain.Deployer(),
		Operator: cfg.Chain.Operator(),
		Token: ledger.Metadata{
			Name:     cfg.Chain.TokenName,
			Symbol:   cfg.Chain.TokenSymbol,
			Decimals: cfg.Chain.TokenDecimals,
		},
		InitialSupply: cfg.Chain.Supply(),
		OnrampRate:    cfg.Chain.Rate(),
	}
}

// Addresses of the deployed components.
type Addresses struct {
	Deployer    address.Address `json:"deployer"`
	Ledger      address.Address `json:"ledger"`
	Registry    address.Address `json:"registry"`
	Onramp      address.Address `json:"onramp"`
	Marketplace address.Address `json:"marketplace"`
	Operator    address.Address `json:"operator,omitempty"`
}

// DeriveAddresses computes where each component of deployer's deployment lives.
func DeriveAddresses(deployer, operator address.Address) Addresses {
	return Addresses{
		Deployer:    deployer,
		Ledger:      address.Derive(deployer, LabelLedger),
		Registry:    address.Derive(deployer, LabelRegistry),
		Onramp:      address.Derive(deployer, LabelOnramp),
		Marketplace: address.Derive(deployer, LabelMarketplace),
		Operator:    operator,
	}
}

type Result struct {
	Addresses Addresses
	Exec      *db.Executor
	Ledger    *ledger.Ledger
	Registry  *registry.Registry
	Onramp    *onramp.Exchange
	Engine    *marketplace.Engine
}

// Deploy builds every component on one fresh state store. The whole initial
// supply is minted to the deployer and handed to the on-ramp; only the
// deployer may mint assets.
func Deploy(ctx context.Context, p Params, logger *zap.SugaredLogger, opts ...marketplace.Option) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if p.Deployer.IsZero() {
		return nil, errors.New("deployer address is required")
	}
	if err := calc.ValidateTokenAmount(p.InitialSupply, "initial supply"); err != nil {
		return nil, err
	}

	addrs := DeriveAddresses(p.Deployer, p.Operator)

	database, err := db.NewDatabase(&db.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}
	if err := db.ConnectAndMigrate(ctx, database, db.AllSchemas()); err != nil {
		return nil, err
	}
	exec := db.NewExecutor(database)

	tokens := ledger.New(exec, p.Token, logger.Named("ledger"))
	assets := registry.New(exec, p.Deployer, logger.Named("registry"))

	exchange, err := onramp.New(exec, tokens, addrs.Onramp, p.OnrampRate, logger.Named("onramp"))
	if err != nil {
		return nil, fmt.Errorf("failed to create on-ramp: %w", err)
	}

	err = exec.Atomic(ctx, func(ctx context.Context) error {
		if err := tokens.Mint(ctx, p.Deployer, p.InitialSupply); err != nil {
			return fmt.Errorf("failed to mint initial supply: %w", err)
		}
		if err := tokens.Transfer(ctx, p.Deployer, addrs.Onramp, p.InitialSupply); err != nil {
			return fmt.Errorf("failed to fund on-ramp: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	engine, err := marketplace.New(exec, tokens, assets, marketplace.Config{
		Address:  addrs.Marketplace,
		Operator: p.Operator,
	}, append([]marketplace.Option{marketplace.WithLogger(logger.Named("marketplace"))}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create marketplace: %w", err)
	}

	logger.Infow("Genesis complete",
		"deployer", addrs.Deployer,
		"marketplace", addrs.Marketplace,
		"onramp", addrs.Onramp,
		"supply", p.InitialSupply.String(),
		"token", p.Token.Symbol,
	)

	return &Result{
		Addresses: addrs,
		Exec:      exec,
		Ledger:    tokens,
		Registry:  assets,
		Onramp:    exchange,
		Engine:    engine,
	}, nil
}
