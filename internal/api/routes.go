package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouteOptions are the security settings applied to the router.
type RouteOptions struct {
	CORSOrigins       []string
	RateLimitRPM      int
	RequireSignatures bool
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func (h *Handler) Routes(m *Middleware, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(opts.CORSOrigins))
	r.Use(m.RateLimit(opts.RateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		// Live updates stay outside the timeout and compression wrappers.
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(15 * time.Second))

			r.Get("/info", h.GetInfo)

			r.Route("/tokens", func(r chi.Router) {
				r.Get("/supply", h.GetSupply)
				r.Get("/balances/{address}", h.GetBalance)
				r.Get("/allowances/{owner}/{spender}", h.GetAllowance)
				r.With(m.Authenticate(opts.RequireSignatures)).Post("/approve", h.ApproveTokens)
				r.With(m.Authenticate(opts.RequireSignatures)).Post("/transfer", h.TransferTokens)
			})

			r.Route("/assets", func(r chi.Router) {
				r.Get("/{id}", h.GetAsset)
				r.Get("/owners/{address}", h.GetAssetsOf)
				r.Group(func(r chi.Router) {
					r.Use(m.Authenticate(opts.RequireSignatures))
					r.Post("/", h.MintAsset)
					r.Post("/operators", h.SetOperator)
					r.Post("/{id}/approve", h.ApproveAsset)
					r.Post("/{id}/transfer", h.TransferAsset)
				})
			})

			r.Route("/onramp", func(r chi.Router) {
				r.Get("/deposits/{address}", h.GetDeposits)
				r.With(m.Authenticate(opts.RequireSignatures)).Post("/buy", h.OnrampBuy)
			})

			r.Route("/listings", func(r chi.Router) {
				r.Get("/", h.GetListings)
				r.Get("/{id}", h.GetListing)
				r.Group(func(r chi.Router) {
					r.Use(m.Authenticate(opts.RequireSignatures))
					r.Post("/", h.List)
					r.Post("/{id}/price", h.Reprice)
					r.Post("/{id}/withdraw", h.Withdraw)
					r.Post("/{id}/buy", h.Buy)
					r.Post("/{id}/sell-to-market", h.SellToMarket)
					r.Post("/{id}/buy-from-inventory", h.BuyFromInventory)
				})
			})

			r.Get("/market/stats", h.GetMarketStats)

			r.Route("/events", func(r chi.Router) {
				r.Get("/recent", h.GetRecentEvents)
				r.Get("/history", h.GetEventHistory)
			})
		})
	})

	return r
}
