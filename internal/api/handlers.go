package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
	"github.com/leafsii/nft-marketplace/internal/genesis"
	"github.com/leafsii/nft-marketplace/internal/ledger"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/onramp"
	"github.com/leafsii/nft-marketplace/internal/registry"
	"github.com/leafsii/nft-marketplace/internal/repository"
	"github.com/leafsii/nft-marketplace/internal/store"
	"github.com/leafsii/nft-marketplace/internal/ws"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxBodyBytes     = 1 << 20
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// EventHistory serves archived events.
type EventHistory interface {
	History(ctx context.Context, q repository.HistoryQuery) ([]marketplace.Event, string, error)
	Ping(ctx context.Context) error
}

// Services are the components the API exposes. Archive, WSHub and SSE are
// optional.
type Services struct {
	Deployment *genesis.Result
	Cache      *store.Cache
	Archive    EventHistory
	WSHub      *ws.Hub
	SSE        *ws.SSEHandler
}

type Handler struct {
	engine     *marketplace.Engine
	ledger     *ledger.Ledger
	registry   *registry.Registry
	onramp     *onramp.Exchange
	addresses  genesis.Addresses
	cache      *store.Cache
	archive    EventHistory
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	logger     *zap.SugaredLogger
	sf         *singleflight.Group // dedupes concurrent stats rebuilds
}

func NewHandler(svc Services, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := svc.Deployment
	return &Handler{
		engine:     d.Engine,
		ledger:     d.Ledger,
		registry:   d.Registry,
		onramp:     d.Onramp,
		addresses:  d.Addresses,
		cache:      svc.Cache,
		archive:    svc.Archive,
		wsHub:      svc.WSHub,
		sseHandler: svc.SSE,
		logger:     logger,
		sf:         &singleflight.Group{},
	}
}

// Deployment info
func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, InfoDTO{
		Addresses:  h.addresses,
		Token:      h.ledger.Metadata(),
		OnrampRate: h.onramp.Rate(),
	})
}

// Token endpoints
func (h *Handler) GetSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := h.ledger.TotalSupply(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SupplyDTO{TotalSupply: supply})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathAddress(w, r, "address")
	if !ok {
		return
	}
	balance, err := h.ledger.BalanceOf(r.Context(), addr)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BalanceDTO{Address: addr, Balance: balance})
}

func (h *Handler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.pathAddress(w, r, "owner")
	if !ok {
		return
	}
	spender, ok := h.pathAddress(w, r, "spender")
	if !ok {
		return
	}
	allowance, err := h.ledger.Allowance(r.Context(), owner, spender)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AllowanceDTO{Owner: owner, Spender: spender, Allowance: allowance})
}

func (h *Handler) ApproveTokens(w http.ResponseWriter, r *http.Request) {
	var req ApproveTokensRequest
	if !h.decode(w, r, &req) {
		return
	}
	spender, ok := h.parseAddress(w, "spender", req.Spender)
	if !ok {
		return
	}
	amount, err := calc.ParseTokenAmount(req.Amount, "approve")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	caller := CallerFrom(r.Context())
	if err := h.ledger.Approve(r.Context(), caller, spender, amount); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AllowanceDTO{Owner: caller, Spender: spender, Allowance: amount})
}

func (h *Handler) TransferTokens(w http.ResponseWriter, r *http.Request) {
	var req TransferTokensRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, ok := h.parseAddress(w, "to", req.To)
	if !ok {
		return
	}
	amount, err := calc.ParseTokenAmount(req.Amount, "transfer")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	caller := CallerFrom(r.Context())
	if err := h.ledger.Transfer(r.Context(), caller, to, amount); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	balance, err := h.ledger.BalanceOf(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BalanceDTO{Address: caller, Balance: balance})
}

// Asset endpoints
func (h *Handler) MintAsset(w http.ResponseWriter, r *http.Request) {
	var req MintAssetRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, ok := h.parseAddress(w, "to", req.To)
	if !ok {
		return
	}
	id, err := h.registry.Mint(r.Context(), CallerFrom(r.Context()), to, req.URI)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, MintAssetResponse{ID: id})
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathAssetID(w, r)
	if !ok {
		return
	}
	asset, err := h.registry.Asset(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

func (h *Handler) GetAssetsOf(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.pathAddress(w, r, "address")
	if !ok {
		return
	}
	assets, err := h.registry.AssetsOf(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if assets == nil {
		assets = []registry.Asset{}
	}
	h.writeJSON(w, http.StatusOK, assets)
}

func (h *Handler) ApproveAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathAssetID(w, r)
	if !ok {
		return
	}
	var req ApproveAssetRequest
	if !h.decode(w, r, &req) {
		return
	}
	to := address.Zero
	if req.To != "" {
		if to, ok = h.parseAddress(w, "to", req.To); !ok {
			return
		}
	}
	if err := h.registry.Approve(r.Context(), CallerFrom(r.Context()), to, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.respondAsset(w, r, id)
}

func (h *Handler) TransferAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathAssetID(w, r)
	if !ok {
		return
	}
	var req TransferAssetRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, ok := h.parseAddress(w, "from", req.From)
	if !ok {
		return
	}
	to, ok := h.parseAddress(w, "to", req.To)
	if !ok {
		return
	}
	if err := h.registry.TransferFrom(r.Context(), CallerFrom(r.Context()), from, to, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.respondAsset(w, r, id)
}

func (h *Handler) SetOperator(w http.ResponseWriter, r *http.Request) {
	var req SetOperatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	operator, ok := h.parseAddress(w, "operator", req.Operator)
	if !ok {
		return
	}
	if err := h.registry.SetApprovalForAll(r.Context(), CallerFrom(r.Context()), operator, req.Approved); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handler) respondAsset(w http.ResponseWriter, r *http.Request, id int64) {
	asset, err := h.registry.Asset(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

// On-ramp endpoints
func (h *Handler) OnrampBuy(w http.ResponseWriter, r *http.Request) {
	var req OnrampBuyRequest
	if !h.decode(w, r, &req) {
		return
	}
	base, err := calc.ParseTokenAmount(req.BaseAmount, "on-ramp")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dep, err := h.onramp.Buy(r.Context(), CallerFrom(r.Context()), base)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dep)
}

func (h *Handler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	buyer, ok := h.pathAddress(w, r, "address")
	if !ok {
		return
	}
	deposits, err := h.onramp.Deposits(r.Context(), buyer)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if deposits == nil {
		deposits = []onramp.Deposit{}
	}
	h.writeJSON(w, http.StatusOK, deposits)
}

// Listing endpoints
func (h *Handler) GetListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := marketplace.ListingFilter{Limit: defaultPageLimit}

	if raw := q.Get("seller"); raw != "" {
		seller, ok := h.parseAddress(w, "seller", raw)
		if !ok {
			return
		}
		filter.Seller = seller
	}
	if raw := q.Get("market_owned"); raw != "" {
		owned, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "market_owned must be a boolean")
			return
		}
		filter.MarketOwned = &owned
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxPageLimit {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	items, total, err := h.engine.Listings(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ListingsDTO{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathAssetID(w, r)
	if !ok {
		return
	}
	l, err := h.engine.Listing(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, l)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if !h.decode(w, r, &req) {
		return
	}
	recipients := make([]address.Address, 0, len(req.RoyaltyRecipients))
	for _, raw := range req.RoyaltyRecipients {
		addr, ok := h.parseAddress(w, "royalty_recipients", raw)
		if !ok {
			return
		}
		recipients = append(recipients, addr)
	}
	price, ok := h.parsePrice(w, req.Price)
	if !ok {
		return
	}

	l, err := h.engine.List(r.Context(), CallerFrom(r.Context()), req.AssetID, recipients, req.RoyaltyShareCount, price)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, l)
}

func (h *Handler) Reprice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathAssetID(w, r)
	if !ok {
		return
	}
	var req RepriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, ok := h.parsePrice(w, req.Price)
	if !ok {
		return
	}
	l, err := h.engine.Reprice(r.Context(), CallerFrom(r.Context()), id, price)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, l)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.listingOp(w, r, h.engine.Withdraw)
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.tradeOp(w, r, h.engine.Buy)
}

func (h *Handler) SellToMarket(w http.ResponseWriter, r *http.Request) {
	h.tradeOp(w, r, h.engine.SellToMarket)
}

func (h *Handler) BuyFromInventory(w http.ResponseWriter, r *http.Request) {
	h.tradeOp(w, r, h.engine.BuyFromMarketInventory)
}

func (h *Handler) listingOp(w http.ResponseWriter, r *http.Request, op func(context.Context, address.Address, int64) (*marketplace.Listing, error)) {
	id, ok := h.pathAssetID(w, r)
	if !ok {
		return
	}
	l, err := op(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, l)
}

func (h *Handler) tradeOp(w http.ResponseWriter, r *http.Request, op func(context.Context, address.Address, int64) (*marketplace.Receipt, error)) {
	id, ok := h.pathAssetID(w, r)
	if !ok {
		return
	}
	receipt, err := op(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// Market stats are cached until the next event invalidates them.
func (h *Handler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	result, err, _ := h.sf.Do("market-stats", func() (interface{}, error) {
		return h.marketStats(r.Context())
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result.(marketplace.Stats))
}

func (h *Handler) marketStats(ctx context.Context) (marketplace.Stats, error) {
	if h.cache != nil {
		stats, err := h.cache.GetMarketStats(ctx)
		if err == nil {
			return stats, nil
		}
		if !errors.Is(err, store.ErrCacheMiss) {
			h.logger.Warnw("Market stats cache read failed", "error", err)
		}
	}

	stats, err := h.engine.Stats(ctx)
	if err != nil {
		return marketplace.Stats{}, err
	}
	if h.cache != nil {
		if err := h.cache.SetMarketStats(ctx, stats); err != nil {
			h.logger.Warnw("Market stats cache write failed", "error", err)
		}
	}
	return stats, nil
}

func (h *Handler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "event cache is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.cache.RecentEvents(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "EVENTS_ERROR", err.Error())
		return
	}
	if events == nil {
		events = []marketplace.Event{}
	}
	h.writeJSON(w, http.StatusOK, EventsDTO{Items: events})
}

func (h *Handler) GetEventHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "event archive is not configured")
		return
	}

	q := r.URL.Query()
	query := repository.HistoryQuery{Cursor: q.Get("cursor")}
	if raw := q.Get("asset_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "asset_id must be a positive integer")
			return
		}
		query.AssetID = id
	}
	if raw := q.Get("address"); raw != "" {
		addr, ok := h.parseAddress(w, "address", raw)
		if !ok {
			return
		}
		query.Address = addr
	}
	if raw := q.Get("types"); raw != "" {
		types, err := parseEventTypes(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
			return
		}
		query.Types = types
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			query.Limit = n
		}
	}

	events, next, err := h.archive.History(r.Context(), query)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "HISTORY_ERROR", err.Error())
		return
	}
	if events == nil {
		events = []marketplace.Event{}
	}
	h.writeJSON(w, http.StatusOK, EventsDTO{Items: events, NextCursor: next})
}

func parseEventTypes(raw string) ([]marketplace.EventType, error) {
	var out []marketplace.EventType
	for _, part := range strings.Split(raw, ",") {
		want := strings.ToUpper(strings.TrimSpace(part))
		found := false
		for _, t := range marketplace.AllEventTypes {
			if string(t) == want {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown event type %q", part)
		}
	}
	return out, nil
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dto := ReadinessDTO{Status: "ok", Checks: map[string]string{}}
	if h.cache != nil {
		dto.Checks["cache"] = checkResult(h.cache.Ping(ctx))
		if h.cache.IsInMemoryMode() {
			dto.Checks["cache"] = "ok (in-memory)"
		}
	}
	if h.archive != nil {
		dto.Checks["archive"] = checkResult(h.archive.Ping(ctx))
	}

	status := http.StatusOK
	for _, v := range dto.Checks {
		if !strings.HasPrefix(v, "ok") {
			dto.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	h.writeJSON(w, status, dto)
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		h.writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "websocket hub is not running")
		return
	}
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if h.sseHandler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "event stream is not configured")
		return
	}
	h.sseHandler.HandleSSE(w, r)
}

// Request parsing helpers
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}

func (h *Handler) parseAddress(w http.ResponseWriter, field, raw string) (address.Address, bool) {
	addr, err := address.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", fmt.Sprintf("%s: %v", field, err))
		return "", false
	}
	return addr, true
}

func (h *Handler) pathAddress(w http.ResponseWriter, r *http.Request, param string) (address.Address, bool) {
	return h.parseAddress(w, param, chi.URLParam(r, param))
}

func (h *Handler) pathAssetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "INVALID_ASSET_ID", "asset id must be a positive integer")
		return 0, false
	}
	return id, true
}

// parsePrice only checks the syntax; range checks belong to the engine.
func (h *Handler) parsePrice(w http.ResponseWriter, raw string) (decimal.Decimal, bool) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_PRICE", fmt.Sprintf("malformed price %q", raw))
		return decimal.Zero, false
	}
	return price, true
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}
	writeErrorResponse(w, status, code, message)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("Request failed", "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeErrorResponse(w, status, code, err.Error())
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
