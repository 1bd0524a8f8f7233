/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /api/employees/*            Directory, balance, history
  /api/roles/*                Role entitlement rules
  /api/allocations/*          Monthly batch trigger and run history
  /api/conversion/*           Tiers and the request workflow
  /api/admin/*                Adjustments, transfers, reset

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/requests", h.ListEmployeeRequests)
		})

		// Role entitlement routes
		r.Route("/roles", func(r chi.Router) {
			r.Get("/", h.ListRoleRules)
			r.Put("/{id}", h.UpsertRoleRule)
		})

		// Allocation routes
		r.Route("/allocations", func(r chi.Router) {
			r.Post("/run", h.TriggerAllocation)
			r.Get("/runs", h.ListAllocationRuns)
		})

		// Conversion routes
		r.Route("/conversion", func(r chi.Router) {
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.ListConversionRules)
				r.Put("/{id}", h.UpsertConversionRule)
			})
			r.Route("/requests", func(r chi.Router) {
				r.Post("/", h.CreateConversionRequest)
				r.Get("/pending", h.ListPendingRequests)
				r.Get("/{id}", h.GetConversionRequest)
				r.Post("/{id}/approve", h.ApproveRequest)
				r.Post("/{id}/reject", h.RejectRequest)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/transfers", h.CreateTransfer)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
