package routes

import (
	"github.com/oraculocultural/oraculo/internal/middleware"
	"github.com/oraculocultural/oraculo/internal/router"
)

// RegisterWebhookRoutes registers all webhook routes.
// These routes handle incoming notifications from Mercado Pago.
//
// Note: Webhook routes do NOT have authentication middleware.
// The handler verifies the x-signature header when a secret is configured.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	hooks := r.Group(middleware.MaxBodySize(middleware.WebhookMaxBodySize))
	hooks.Post("/webhooks/mercadopago", deps.MercadoPagoHandler.HandleWebhook)
}
