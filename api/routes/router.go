package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/entitlements-backend/api/controllers"
	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

// Deps groups everything the HTTP surface needs. DB and Redis feed the
// readiness probe; a nil RateLimiter disables rate limiting.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	RateLimiter   middleware.RateLimiterStore
	Metrics       http.Handler
	HTTPMetrics   *metrics.HTTPMetrics
	Subscriptions subscriptions.Service
	Plans         controllers.PlanService
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	rateLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:   "api",
		Window: cfg.RateLimit.Window,
		Max:    cfg.RateLimit.Max,
	}, deps.RateLimiter, logg)
	auth := middleware.Auth(cfg.JWT, logg)
	adminOnly := middleware.RequireAdmin(logg)

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/{userId}", controllers.SubscriptionFetch(deps.Subscriptions, logg))
			r.Group(func(r chi.Router) {
				r.Use(auth)
				r.Post("/", controllers.SubscriptionCreate(deps.Subscriptions, logg))
				r.Put("/{userId}", controllers.SubscriptionUpdate(deps.Subscriptions, logg))
				r.Delete("/{userId}", controllers.SubscriptionCancel(deps.Subscriptions, logg))
			})
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", controllers.PlanList(deps.Plans, logg))
			r.Get("/{planId}", controllers.PlanFetch(deps.Plans, logg))
			r.Group(func(r chi.Router) {
				r.Use(auth, adminOnly)
				r.Get("/stats/overview", controllers.PlanStats(deps.Plans, logg))
				r.Post("/", controllers.PlanCreate(deps.Plans, logg))
				r.Put("/{planId}", controllers.PlanUpdate(deps.Plans, logg))
				r.Delete("/{planId}", controllers.PlanDeactivate(deps.Plans, logg))
				r.Patch("/{planId}/activate", controllers.PlanActivate(deps.Plans, logg))
			})
		})
	})

	return r
}
