package routes

import (
	"net/http"

	"github.com/oraculocultural/oraculo/internal/middleware"
	"github.com/oraculocultural/oraculo/internal/router"
)

// RegisterAPIRoutes registers the routes the frontend calls.
// Reads are rate limited per client IP; manual activation gets the strict
// limiter since each call can grant premium.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	api := r.Group(router.CORS(deps.AllowedOrigins), middleware.MaxBodySize())

	reads := api.Group(middleware.RateLimit(middleware.DefaultRateLimiterConfig()))
	reads.Get("/api/premium/{userId}", deps.EntitlementHandler.Get)
	reads.Get("/api/premium/{userId}/history", deps.EntitlementHandler.History)

	writes := api.Group(middleware.RateLimit(middleware.StrictRateLimiterConfig()))
	writes.Post("/api/premium/activate", deps.ActivationHandler.Activate)

	// Preflight for browser clients; CORS answers it before the handler runs.
	api.Handle(http.MethodOptions, "/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", deps.HealthHandler)
	r.Handle(http.MethodGet, "/metrics", deps.MetricsHandler)
}
