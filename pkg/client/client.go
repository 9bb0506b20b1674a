// Package client is a typed HTTP client for the marketplace API.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/api"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/onramp"
	"github.com/leafsii/nft-marketplace/internal/registry"
)

// Client calls the marketplace API as a single account.
type Client struct {
	baseURL    string
	httpClient *http.Client
	caller     address.Address
	key        *secp256k1.PrivateKey
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Caller is sent as X-Caller-Address. Ignored when PrivateKeyHex is set.
	Caller address.Address
	// PrivateKeyHex signs every state-changing request.
	PrivateKeyHex string
	Timeout       time.Duration
}

// APIError is a non-2xx response carrying the API error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// New creates a marketplace client.
func New(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		caller:     cfg.Caller,
	}
	if cfg.PrivateKeyHex != "" {
		key, addr, err := address.FromPrivateKeyHex(cfg.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		c.key, c.caller = key, addr
	}
	return c, nil
}

// Caller is the account requests are made as.
func (c *Client) Caller() address.Address {
	return c.caller
}

// Info

func (c *Client) Info(ctx context.Context) (*api.InfoDTO, error) {
	var out api.InfoDTO
	return &out, c.get(ctx, "/v1/info", nil, &out)
}

func (c *Client) MarketStats(ctx context.Context) (*marketplace.Stats, error) {
	var out marketplace.Stats
	return &out, c.get(ctx, "/v1/market/stats", nil, &out)
}

// Tokens

func (c *Client) Balance(ctx context.Context, owner address.Address) (decimal.Decimal, error) {
	var out api.BalanceDTO
	if err := c.get(ctx, "/v1/tokens/balances/"+owner.String(), nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

func (c *Client) Allowance(ctx context.Context, owner, spender address.Address) (decimal.Decimal, error) {
	var out api.AllowanceDTO
	if err := c.get(ctx, "/v1/tokens/allowances/"+owner.String()+"/"+spender.String(), nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Allowance, nil
}

func (c *Client) ApproveTokens(ctx context.Context, spender address.Address, amount decimal.Decimal) error {
	return c.post(ctx, "/v1/tokens/approve", api.ApproveTokensRequest{Spender: spender.String(), Amount: amount.String()}, nil)
}

func (c *Client) TransferTokens(ctx context.Context, to address.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	var out api.BalanceDTO
	if err := c.post(ctx, "/v1/tokens/transfer", api.TransferTokensRequest{To: to.String(), Amount: amount.String()}, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

// Assets

func (c *Client) MintAsset(ctx context.Context, to address.Address, uri string) (int64, error) {
	var out api.MintAssetResponse
	if err := c.post(ctx, "/v1/assets/", api.MintAssetRequest{To: to.String(), URI: uri}, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) Asset(ctx context.Context, id int64) (*registry.Asset, error) {
	var out registry.Asset
	return &out, c.get(ctx, assetPath(id, ""), nil, &out)
}

func (c *Client) AssetsOf(ctx context.Context, owner address.Address) ([]registry.Asset, error) {
	var out []registry.Asset
	return out, c.get(ctx, "/v1/assets/owners/"+owner.String(), nil, &out)
}

// ApproveAsset approves to for id. The zero address clears the approval.
func (c *Client) ApproveAsset(ctx context.Context, id int64, to address.Address) error {
	req := api.ApproveAssetRequest{}
	if !to.IsZero() {
		req.To = to.String()
	}
	return c.post(ctx, assetPath(id, "approve"), req, nil)
}

func (c *Client) TransferAsset(ctx context.Context, id int64, from, to address.Address) error {
	return c.post(ctx, assetPath(id, "transfer"), api.TransferAssetRequest{From: from.String(), To: to.String()}, nil)
}

func (c *Client) SetOperator(ctx context.Context, operator address.Address, approved bool) error {
	return c.post(ctx, "/v1/assets/operators", api.SetOperatorRequest{Operator: operator.String(), Approved: approved}, nil)
}

// On-ramp

func (c *Client) OnrampBuy(ctx context.Context, base decimal.Decimal) (*onramp.Deposit, error) {
	var out onramp.Deposit
	return &out, c.post(ctx, "/v1/onramp/buy", api.OnrampBuyRequest{BaseAmount: base.String()}, &out)
}

func (c *Client) Deposits(ctx context.Context, buyer address.Address) ([]onramp.Deposit, error) {
	var out []onramp.Deposit
	return out, c.get(ctx, "/v1/onramp/deposits/"+buyer.String(), nil, &out)
}

// Listings

// ListingFilter narrows Listings. Zero values match everything.
type ListingFilter struct {
	Seller      address.Address
	MarketOwned *bool
	Limit       int
	Offset      int
}

func (c *Client) Listings(ctx context.Context, f ListingFilter) (*api.ListingsDTO, error) {
	q := url.Values{}
	if !f.Seller.IsZero() {
		q.Set("seller", f.Seller.String())
	}
	if f.MarketOwned != nil {
		q.Set("market_owned", strconv.FormatBool(*f.MarketOwned))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	var out api.ListingsDTO
	return &out, c.get(ctx, "/v1/listings/", q, &out)
}

func (c *Client) Listing(ctx context.Context, assetID int64) (*marketplace.Listing, error) {
	var out marketplace.Listing
	return &out, c.get(ctx, listingPath(assetID, ""), nil, &out)
}

func (c *Client) List(ctx context.Context, assetID int64, recipients []address.Address, shareCount int64, price decimal.Decimal) (*marketplace.Listing, error) {
	req := api.ListRequest{
		AssetID:           assetID,
		RoyaltyRecipients: make([]string, len(recipients)),
		RoyaltyShareCount: shareCount,
		Price:             price.String(),
	}
	for i, r := range recipients {
		req.RoyaltyRecipients[i] = r.String()
	}
	var out marketplace.Listing
	return &out, c.post(ctx, "/v1/listings/", req, &out)
}

func (c *Client) Reprice(ctx context.Context, assetID int64, price decimal.Decimal) (*marketplace.Listing, error) {
	var out marketplace.Listing
	return &out, c.post(ctx, listingPath(assetID, "price"), api.RepriceRequest{Price: price.String()}, &out)
}

func (c *Client) Withdraw(ctx context.Context, assetID int64) (*marketplace.Listing, error) {
	var out marketplace.Listing
	return &out, c.post(ctx, listingPath(assetID, "withdraw"), nil, &out)
}

func (c *Client) Buy(ctx context.Context, assetID int64) (*marketplace.Receipt, error) {
	return c.trade(ctx, assetID, "buy")
}

func (c *Client) SellToMarket(ctx context.Context, assetID int64) (*marketplace.Receipt, error) {
	return c.trade(ctx, assetID, "sell-to-market")
}

func (c *Client) BuyFromInventory(ctx context.Context, assetID int64) (*marketplace.Receipt, error) {
	return c.trade(ctx, assetID, "buy-from-inventory")
}

func (c *Client) trade(ctx context.Context, assetID int64, action string) (*marketplace.Receipt, error) {
	var out marketplace.Receipt
	return &out, c.post(ctx, listingPath(assetID, action), nil, &out)
}

// Events

func (c *Client) RecentEvents(ctx context.Context, limit int) ([]marketplace.Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out api.EventsDTO
	if err := c.get(ctx, "/v1/events/recent", q, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// HistoryQuery narrows EventHistory. Zero values match everything.
type HistoryQuery struct {
	AssetID int64
	Address address.Address
	Types   []marketplace.EventType
	Limit   int
	Cursor  string
}

func (c *Client) EventHistory(ctx context.Context, hq HistoryQuery) (*api.EventsDTO, error) {
	q := url.Values{}
	if hq.AssetID > 0 {
		q.Set("asset_id", strconv.FormatInt(hq.AssetID, 10))
	}
	if !hq.Address.IsZero() {
		q.Set("address", hq.Address.String())
	}
	if len(hq.Types) > 0 {
		types := make([]string, len(hq.Types))
		for i, t := range hq.Types {
			types[i] = strings.ToLower(string(t))
		}
		q.Set("types", strings.Join(types, ","))
	}
	if hq.Limit > 0 {
		q.Set("limit", strconv.Itoa(hq.Limit))
	}
	if hq.Cursor != "" {
		q.Set("cursor", hq.Cursor)
	}
	var out api.EventsDTO
	return &out, c.get(ctx, "/v1/events/history", q, &out)
}

func assetPath(id int64, action string) string {
	p := "/v1/assets/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func listingPath(id int64, action string) string {
	p := "/v1/listings/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dest any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.caller.IsZero() {
		req.Header.Set(api.HeaderCallerAddress, c.caller.String())
	}
	if c.key != nil {
		sig := address.Sign(c.key, address.RequestDigest(http.MethodPost, req.URL.Path, payload))
		req.Header.Set(api.HeaderCallerSignature, hex.EncodeToString(sig))
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope api.ErrorResponse
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Code != "" {
			apiErr.Code, apiErr.Message = envelope.Code, envelope.Message
		} else {
			apiErr.Code, apiErr.Message = http.StatusText(resp.StatusCode), strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
