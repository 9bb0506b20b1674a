package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/pkg/client"
)

func main() {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	app := &cli.App{
		Name:  "marketctl",
		Usage: "drive the NFT marketplace API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8080", EnvVars: []string{"MKT_API_URL"}, Usage: "API base URL"},
			&cli.StringFlag{Name: "key", EnvVars: []string{"MKT_PRIVATE_KEY"}, Usage: "hex secp256k1 key used to sign requests"},
			&cli.StringFlag{Name: "caller", EnvVars: []string{"MKT_CALLER"}, Usage: "caller address when requests are not signed"},
		},
		Commands: []*cli.Command{
			{Name: "info", Usage: "show deployed addresses and token metadata", Action: info},
			{Name: "stats", Usage: "show market statistics", Action: stats},
			{
				Name:      "balance",
				Usage:     "show the token balance of an address",
				ArgsUsage: "<address>",
				Action:    balance,
			},
			{
				Name:      "approve-tokens",
				Usage:     "set the allowance of a spender",
				ArgsUsage: "<spender> <amount>",
				Action:    approveTokens,
			},
			{
				Name:      "transfer",
				Usage:     "transfer tokens",
				ArgsUsage: "<to> <amount>",
				Action:    transfer,
			},
			{
				Name:      "mint",
				Usage:     "mint an asset (deployer only)",
				ArgsUsage: "<to> [uri]",
				Action:    mint,
			},
			{
				Name:      "asset",
				Usage:     "show an asset",
				ArgsUsage: "<id>",
				Action:    asset,
			},
			{
				Name:      "approve-asset",
				Usage:     "approve an address to transfer an asset; omit the address to clear",
				ArgsUsage: "<id> [to]",
				Action:    approveAsset,
			},
			{
				Name:      "onramp-buy",
				Usage:     "buy tokens with base currency",
				ArgsUsage: "<base-amount>",
				Action:    onrampBuy,
			},
			{
				Name:  "listings",
				Usage: "list active listings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "seller", Usage: "filter by seller"},
					&cli.BoolFlag{Name: "market-owned", Usage: "only market inventory"},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.IntFlag{Name: "offset"},
				},
				Action: listings,
			},
			{
				Name:      "list",
				Usage:     "list an asset for sale",
				ArgsUsage: "<id> <price>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "royalty", Usage: "royalty recipient, repeatable"},
					&cli.Int64Flag{Name: "shares", Value: 1, Usage: "royalty share count"},
				},
				Action: list,
			},
			{
				Name:      "reprice",
				Usage:     "change the price of a listing",
				ArgsUsage: "<id> <price>",
				Action:    reprice,
			},
			{
				Name:      "withdraw",
				Usage:     "withdraw a listing",
				ArgsUsage: "<id>",
				Action:    listingAction(func(c *client.Client, ctx *cli.Context, id int64) (any, error) { return c.Withdraw(ctx.Context, id) }),
			},
			{
				Name:      "buy",
				Usage:     "buy a direct listing",
				ArgsUsage: "<id>",
				Action:    listingAction(func(c *client.Client, ctx *cli.Context, id int64) (any, error) { return c.Buy(ctx.Context, id) }),
			},
			{
				Name:      "sell-to-market",
				Usage:     "sell a listed asset to the marketplace at its listed price",
				ArgsUsage: "<id>",
				Action:    listingAction(func(c *client.Client, ctx *cli.Context, id int64) (any, error) { return c.SellToMarket(ctx.Context, id) }),
			},
			{
				Name:      "buy-from-inventory",
				Usage:     "buy an asset from market inventory",
				ArgsUsage: "<id>",
				Action:    listingAction(func(c *client.Client, ctx *cli.Context, id int64) (any, error) { return c.BuyFromInventory(ctx.Context, id) }),
			},
			{
				Name:  "events",
				Usage: "show archived events, or recent ones with --recent",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recent", Usage: "read the recent-events cache instead of the archive"},
					&cli.Int64Flag{Name: "asset"},
					&cli.StringFlag{Name: "address"},
					&cli.StringSliceFlag{Name: "type"},
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.StringFlag{Name: "cursor"},
				},
				Action: events,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		zap.L().With(zap.Error(err)).Fatal("Command failed")
	}
}

func newClient(ctx *cli.Context) (*client.Client, error) {
	cfg := client.Config{BaseURL: ctx.String("api"), PrivateKeyHex: ctx.String("key")}
	if raw := ctx.String("caller"); raw != "" {
		caller, err := address.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("--caller: %w", err)
		}
		cfg.Caller = caller
	}
	return client.New(cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argAddress(ctx *cli.Context, i int, name string) (address.Address, error) {
	raw := ctx.Args().Get(i)
	if raw == "" {
		return "", fmt.Errorf("missing %s", name)
	}
	return address.Parse(raw)
}

func argAmount(ctx *cli.Context, i int, name string) (decimal.Decimal, error) {
	raw := ctx.Args().Get(i)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("missing %s", name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func argID(ctx *cli.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("asset id must be a positive integer, got %q", ctx.Args().First())
	}
	return id, nil
}

func info(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	out, err := c.Info(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func stats(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	out, err := c.MarketStats(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func balance(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	owner := c.Caller()
	if ctx.NArg() > 0 {
		if owner, err = argAddress(ctx, 0, "address"); err != nil {
			return err
		}
	}
	bal, err := c.Balance(ctx.Context, owner)
	if err != nil {
		return err
	}
	fmt.Println(bal.String())
	return nil
}

func approveTokens(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	spender, err := argAddress(ctx, 0, "spender")
	if err != nil {
		return err
	}
	amount, err := argAmount(ctx, 1, "amount")
	if err != nil {
		return err
	}
	if err := c.ApproveTokens(ctx.Context, spender, amount); err != nil {
		return err
	}
	zap.S().Infof("Approved %s to spend %s", spender, amount)
	return nil
}

func transfer(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	to, err := argAddress(ctx, 0, "recipient")
	if err != nil {
		return err
	}
	amount, err := argAmount(ctx, 1, "amount")
	if err != nil {
		return err
	}
	remaining, err := c.TransferTokens(ctx.Context, to, amount)
	if err != nil {
		return err
	}
	zap.S().Infof("Transferred %s to %s, balance now %s", amount, to, remaining)
	return nil
}

func mint(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	to, err := argAddress(ctx, 0, "recipient")
	if err != nil {
		return err
	}
	id, err := c.MintAsset(ctx.Context, to, ctx.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func asset(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	id, err := argID(ctx)
	if err != nil {
		return err
	}
	out, err := c.Asset(ctx.Context, id)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func approveAsset(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	id, err := argID(ctx)
	if err != nil {
		return err
	}
	to := address.Zero
	if ctx.NArg() > 1 {
		if to, err = argAddress(ctx, 1, "approved address"); err != nil {
			return err
		}
	}
	return c.ApproveAsset(ctx.Context, id, to)
}

func onrampBuy(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	base, err := argAmount(ctx, 0, "base amount")
	if err != nil {
		return err
	}
	dep, err := c.OnrampBuy(ctx.Context, base)
	if err != nil {
		return err
	}
	return printJSON(dep)
}

func listings(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	f := client.ListingFilter{Limit: ctx.Int("limit"), Offset: ctx.Int("offset")}
	if raw := ctx.String("seller"); raw != "" {
		if f.Seller, err = address.Parse(raw); err != nil {
			return fmt.Errorf("--seller: %w", err)
		}
	}
	if ctx.IsSet("market-owned") {
		owned := ctx.Bool("market-owned")
		f.MarketOwned = &owned
	}
	out, err := c.Listings(ctx.Context, f)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func list(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	id, err := argID(ctx)
	if err != nil {
		return err
	}
	price, err := argAmount(ctx, 1, "price")
	if err != nil {
		return err
	}
	var recipients []address.Address
	for _, raw := range ctx.StringSlice("royalty") {
		r, err := address.Parse(raw)
		if err != nil {
			return fmt.Errorf("--royalty: %w", err)
		}
		recipients = append(recipients, r)
	}
	out, err := c.List(ctx.Context, id, recipients, ctx.Int64("shares"), price)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func reprice(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	id, err := argID(ctx)
	if err != nil {
		return err
	}
	price, err := argAmount(ctx, 1, "price")
	if err != nil {
		return err
	}
	out, err := c.Reprice(ctx.Context, id, price)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func listingAction(op func(c *client.Client, ctx *cli.Context, id int64) (any, error)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		id, err := argID(ctx)
		if err != nil {
			return err
		}
		out, err := op(c, ctx, id)
		if err != nil {
			return err
		}
		return printJSON(out)
	}
}

func events(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	if ctx.Bool("recent") {
		out, err := c.RecentEvents(ctx.Context, ctx.Int("limit"))
		if err != nil {
			return err
		}
		return printJSON(out)
	}

	q := client.HistoryQuery{AssetID: ctx.Int64("asset"), Limit: ctx.Int("limit"), Cursor: ctx.String("cursor")}
	if raw := ctx.String("address"); raw != "" {
		if q.Address, err = address.Parse(raw); err != nil {
			return fmt.Errorf("--address: %w", err)
		}
	}
	for _, t := range ctx.StringSlice("type") {
		q.Types = append(q.Types, marketplace.EventType(t))
	}
	out, err := c.EventHistory(ctx.Context, q)
	if err != nil {
		return err
	}
	return printJSON(out)
}
