/**
 * @description
 * HTTP router for the transfer-service: public health check, the owner-facing
 * /v1 API behind bearer authentication and the /internal provisioning API
 * behind the shared service key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: CORS for browser and mobile clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries the pieces of configuration the router needs.
type RouterConfig struct {
	Auth           *Authenticator
	InternalAPIKey string
	RateLimiter    RateLimiter
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Routes creates and returns the service router.
func Routes(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", HealthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Post("/quotes", h.QuoteHandler)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimiter, "transfers", cfg.Logger))
			r.Post("/transfers", h.CreateTransferHandler)
			r.Post("/purchases", h.CreatePurchaseHandler)
		})
		r.Get("/transfers", h.ListTransfersHandler)
		r.Get("/transfers/{id}", h.GetTransferHandler)
		r.Post("/purchases/{id}/refund", h.RefundPurchaseHandler)

		r.Get("/accounts", h.ListAccountsHandler)
		r.Get("/accounts/{number}", h.GetAccountHandler)
		r.Delete("/accounts/{number}", h.ArchiveAccountHandler)

		r.Post("/beneficiaries", h.CreateBeneficiaryHandler)
		r.Get("/beneficiaries", h.ListBeneficiariesHandler)
		r.Patch("/beneficiaries/{id}", h.RenameBeneficiaryHandler)
		r.Delete("/beneficiaries/{id}", h.ArchiveBeneficiaryHandler)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(cfg.InternalAPIKey))
		r.Post("/accounts", h.OpenAccountHandler)
		r.Post("/accounts/{number}/credit", h.CreditAccountHandler)
	})

	return r
}
