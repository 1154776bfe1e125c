package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"codetoflows.com/backend/internal/config"
	"codetoflows.com/backend/internal/permission"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: false,
		MaxAge:           int((12 * time.Hour).Seconds()),
	}))

	quotaPolicy := h.cfg.FlowchartPolicy == config.PolicyQuota

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)
		r.Get("/usage", h.Usage)
		r.Get("/credits/packs", h.CreditPacks)
		r.Post("/webhooks/stripe", h.StripeWebhook)

		if quotaPolicy {
			r.With(h.OptionalAuth).Post("/process", h.ProcessQuota)
		}

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			r.Get("/me", h.Me)
			r.Get("/credits/transactions", h.Transactions)
			r.Post("/create-checkout-session", h.CreateCheckoutSession)
			r.Post("/verify-session", h.VerifySession)

			// Metered generation
			r.Group(func(r chi.Router) {
				r.Use(h.RequireVerifiedEmail)
				if !quotaPolicy {
					r.Post("/process", h.Process)
				}
				r.Post("/er-process", h.ProcessER)
				r.Post("/architecture-process", h.ProcessArchitecture)
			})

			r.Route("/admin", func(r chi.Router) {
				canRead := h.RequirePermission(permission.ResourceUsers, permission.ActionRead)
				canWrite := h.RequirePermission(permission.ResourceUsers, permission.ActionWrite)

				r.With(canRead).Get("/users", h.AdminListUsers)
				r.With(canWrite).Post("/users/credits", h.AdminAdjustCredits)
				r.With(canWrite).Post("/users/ban", h.AdminSetStatus)
				r.With(canWrite).Post("/users/verify", h.AdminVerifyUser)
				r.With(canRead).Get("/logs", h.AdminLogs)
				r.With(h.RequirePermission(permission.ResourceAdmins, permission.ActionWrite)).Post("/admins", h.AdminPromote)
				r.With(h.RequirePermission(permission.ResourceAnalytics, permission.ActionRead)).Get("/analytics", h.AdminAnalytics)
				r.With(h.RequirePermission(permission.ResourcePayments, permission.ActionRead)).Get("/payments", h.AdminPayments)
			})
		})
	})

	return r
}
