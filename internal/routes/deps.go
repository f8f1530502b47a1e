package routes

import (
	"net/http"

	"github.com/oraculocultural/oraculo/internal/handler/api"
	"github.com/oraculocultural/oraculo/internal/handler/webhook"
)

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	MercadoPagoHandler *webhook.MercadoPagoHandler
}

// APIDeps contains dependencies for the frontend-facing API
type APIDeps struct {
	ActivationHandler  *api.ActivationHandler
	EntitlementHandler *api.EntitlementHandler

	// AllowedOrigins are passed to CORS for browser clients.
	AllowedOrigins []string
}

// OpsDeps contains dependencies for operational endpoints
type OpsDeps struct {
	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
}
