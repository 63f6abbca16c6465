/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     logrus access line (method, path, status, latency, request id)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the counter frontend

ROUTE GROUPS:
  /healthz                 Liveness
  /api/items/*             Catalog and per-item kardex
  /api/movements           Global movement history
  /api/withdrawals         Bulk withdrawal
  /api/customers/*         Directory, credit accounts, settlement
  /api/sales/*             Point of sale
  /api/layaways/*          Layaway checkout, installments, cancellation
  /api/scenarios/*         Demo data (resets the database)

ACTOR:
  Routes that write attributed ledger rows sit behind requireActor and
  read the acting user from X-Actor-ID / X-Actor-Name.

SECURITY NOTE:
  No authentication middleware. The actor header is trusted as given.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerActorID, headerActorName},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.With(requireActor).Post("/", h.CreateItem)
			r.Get("/expiring", h.ExpiringItems)
			r.Get("/{id}", h.GetItem)
			r.Patch("/{id}", h.UpdateItem)
			r.Delete("/{id}", h.DeactivateItem)
			r.Get("/{id}/movements", h.ItemHistory)
			r.With(requireActor).Post("/{id}/movements", h.RecordMovement)
		})

		r.Get("/movements", h.GlobalHistory)
		r.With(requireActor).Post("/withdrawals", h.BulkWithdrawal)

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Delete("/{id}", h.DeleteCustomer)
			r.Get("/{id}/credit", h.GetCredit)
			r.Post("/{id}/credit", h.Charge)
			r.With(requireActor).Post("/{id}/settle", h.Settle)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.With(requireActor).Post("/", h.CreateSale)
			r.Get("/stats", h.SalesStats)
			r.Get("/{id}", h.GetSale)
			r.Post("/{id}/cancel", h.CancelSale)
		})

		r.Route("/layaways", func(r chi.Router) {
			r.Get("/", h.ListLayaways)
			r.With(requireActor).Post("/", h.Checkout)
			r.Get("/{id}", h.GetLayaway)
			r.Get("/{id}/payments", h.ListPayments)
			r.With(requireActor).Post("/{id}/payments", h.AddPayment)
			r.Post("/{id}/cancel", h.CancelLayaway)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
