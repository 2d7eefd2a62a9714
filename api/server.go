/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Actor:      X-Actor-ID header -> audit actor

ROUTE GROUPS:
  /api/transactions/*   Posting and lookup
  /api/cheques/*        Cheque clearing and cancellation
  /api/accounts/*       Periods, monthly balances, recalculation, audit
  /api/ledger-heads/*   Per-head balances
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. The actor header is trusted as given and
  only used for audit attribution.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/bookkeeper/cmd/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultOrigins is used when NewRouter receives no origins.
var DefaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))
	r.Use(Actor)

	r.Route("/api", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.PostTransaction)
			r.Get("/{id}", h.GetTransaction)
		})

		r.Route("/cheques", func(r chi.Router) {
			r.Post("/{id}/clear", h.ClearCheque)
			r.Post("/{id}/cancel", h.CancelCheque)
		})

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/period", h.GetOpenPeriod)
			r.Post("/periods/open", h.OpenPeriod)
			r.Post("/periods/close", h.ClosePeriod)
			r.Get("/balances", h.GetMonthlyBalances)
			r.Post("/recalculate", h.Recalculate)
			r.Get("/cheques/pending", h.ListPendingCheques)
			r.Get("/audit", h.GetAudit)
		})

		r.Get("/ledger-heads/{id}/balance", h.GetLedgerHeadBalance)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
