// Package portal собирает HTTP API портала: маршруты, middleware и зависимости.
package portal

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/traders-portal/internal/http/handlers/access"
	"github.com/magabrotheeeer/traders-portal/internal/http/handlers/admin"
	"github.com/magabrotheeeer/traders-portal/internal/http/handlers/billing"
	"github.com/magabrotheeeer/traders-portal/internal/http/handlers/downloads"
	"github.com/magabrotheeeer/traders-portal/internal/http/handlers/health"
	"github.com/magabrotheeeer/traders-portal/internal/http/handlers/onboarding"
	"github.com/magabrotheeeer/traders-portal/internal/http/middlewarectx"
)

// Deps зависимости маршрутов.
type Deps struct {
	Tokens      middlewarectx.TokenParser
	Profiles    middlewarectx.ProfileLoader
	Limiter     *middlewarectx.UserRateLimiter
	DB          health.Pinger
	Access      access.Service
	Onboarding  onboarding.Service
	Downloads   downloads.Service
	Admin       admin.Service
	Billing     billing.Service
	Metrics     http.Handler
	WebhookKey  string
	WebhookSkew time.Duration
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(logger, d.DB).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Webhook подписан провайдером, JWT не нужен
		r.Post("/billing/webhook", billing.New(logger, d.Billing, d.WebhookKey, d.WebhookSkew).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(logger, d.Tokens))
			r.Use(middlewarectx.ProfileMiddleware(logger, d.Profiles))

			r.Get("/me/access", access.New(logger, d.Access).ServeHTTP)
			r.With(d.Limiter.Middleware(logger)).Post("/me/onboarding", onboarding.New(logger, d.Onboarding).ServeHTTP)

			dl := downloads.New(logger, d.Downloads)
			r.Get("/downloads", dl.List)
			r.Get("/downloads/{id}", dl.Status)
			r.With(d.Limiter.Middleware(logger)).Post("/downloads/{id}/attempt", dl.Attempt)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarectx.AdminOnly(logger))
				h := admin.New(logger, d.Admin)

				r.Get("/products", h.ListProducts)
				r.Post("/products", h.CreateProduct)
				r.Put("/products/{id}", h.UpdateProduct)
				r.Delete("/products/{id}", h.DeleteProduct)

				r.Get("/artifacts", h.ListArtifacts)
				r.Post("/artifacts", h.CreateArtifact)
				r.Put("/artifacts/{id}", h.UpdateArtifact)
				r.Patch("/artifacts/{id}/active", h.ToggleArtifact)
				r.Delete("/artifacts/{id}", h.DeleteArtifact)
				r.Get("/artifacts/{id}/downloads", h.ListDownloadUsage)
				r.Post("/artifacts/{id}/reset", h.ResetArtifactDownloads)
				r.Post("/artifacts/{id}/reset/{userID}", h.ResetUserDownloads)

				r.Get("/users", h.ListUsers)
				r.Get("/users/{userID}/assignments", h.ListAssignments)
				r.Post("/assignments", h.AssignProduct)
				r.Delete("/assignments/{id}", h.RemoveAssignment)
			})
		})
	})

	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
